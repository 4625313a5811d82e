package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	orchestration "github.com/koscakluka/ema-chat/core"
	"github.com/koscakluka/ema-chat/core/llms"
	"github.com/koscakluka/ema-chat/core/llms/llamastack"
)

var (
	ErrNoModels   = errors.New("no llm models available")
	ErrNoAgents   = errors.New("no agents available")
	ErrNotFound   = errors.New("not found")
	ErrEmptyReply = errors.New("no assistant reply")
)

// chatBackend opens response streams for one chat, either through an agent
// session or directly against a model.
type chatBackend interface {
	OpenStream(ctx context.Context, messages []llms.ChatMessage) (io.ReadCloser, error)
	Welcome() llms.Message
	AssistantName() string
}

type agentBackend struct {
	client    *llamastack.Client
	agent     llamastack.Agent
	sessionID string
}

func (b *agentBackend) OpenStream(ctx context.Context, messages []llms.ChatMessage) (io.ReadCloser, error) {
	return b.client.SendTurnStreaming(ctx, b.agent.AgentID, b.sessionID, messages)
}

func (b *agentBackend) Welcome() llms.Message {
	return orchestration.AgentWelcomeMessage(b.agent.DisplayName())
}

func (b *agentBackend) AssistantName() string {
	return b.agent.DisplayName()
}

type directBackend struct {
	client  *llamastack.Client
	modelID string
}

func (b *directBackend) OpenStream(ctx context.Context, messages []llms.ChatMessage) (io.ReadCloser, error) {
	return b.client.CompleteChatStreaming(ctx, b.modelID, messages)
}

func (b *directBackend) Welcome() llms.Message {
	return orchestration.DirectWelcomeMessage(b.modelID)
}

func (b *directBackend) AssistantName() string {
	return b.modelID
}

func connectBackend(ctx context.Context, client *llamastack.Client, cfg config) (chatBackend, error) {
	if cfg.Mode == modeDirect {
		models, err := client.ListModels(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list models: %w", err)
		}
		model, err := selectModel(llamastack.LLMModels(models), cfg.Model)
		if err != nil {
			return nil, err
		}
		return &directBackend{client: client, modelID: model.Identifier}, nil
	}

	agents, err := client.ListAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	agent, err := selectAgent(agents, cfg.Agent)
	if err != nil {
		return nil, err
	}
	session, err := client.CreateSession(ctx, agent.AgentID, "")
	if err != nil {
		return nil, fmt.Errorf("failed to create agent session: %w", err)
	}
	return &agentBackend{client: client, agent: agent, sessionID: session.SessionID}, nil
}

// selectModel picks the model by identifier or provider resource id, or the
// first one if want is empty.
func selectModel(models []llamastack.Model, want string) (llamastack.Model, error) {
	if len(models) == 0 {
		return llamastack.Model{}, ErrNoModels
	}
	if want == "" {
		return models[0], nil
	}

	for _, model := range models {
		if model.Identifier == want || model.ProviderResourceID == want {
			return model, nil
		}
	}
	return llamastack.Model{}, fmt.Errorf("model %q: %w", want, ErrNotFound)
}

// selectAgent picks the agent by id or display name, or the first one if want
// is empty.
func selectAgent(agents []llamastack.Agent, want string) (llamastack.Agent, error) {
	if len(agents) == 0 {
		return llamastack.Agent{}, ErrNoAgents
	}
	if want == "" {
		return agents[0], nil
	}

	for _, agent := range agents {
		if agent.AgentID == want || strings.EqualFold(agent.DisplayName(), want) {
			return agent, nil
		}
	}
	return llamastack.Agent{}, fmt.Errorf("agent %q: %w", want, ErrNotFound)
}

type chatSession struct {
	backend      chatBackend
	orchestrator *orchestration.Orchestrator
}

func newChatSession(backend chatBackend, opts ...orchestration.OrchestratorOption) (*chatSession, error) {
	opts = append([]orchestration.OrchestratorOption{orchestration.WithAssistantName(backend.AssistantName())}, opts...)
	s := &chatSession{
		backend:      backend,
		orchestrator: orchestration.NewOrchestrator(opts...),
	}

	welcome := backend.Welcome()
	if err := s.orchestrator.Reset(&welcome); err != nil {
		return nil, fmt.Errorf("failed to start chat: %w", err)
	}
	return s, nil
}

// Send adds the user message and assembles the reply. A request that fails
// before streaming starts still ends up as an error message in the
// transcript.
func (s *chatSession) Send(ctx context.Context, text string) error {
	if _, err := s.orchestrator.SendUserMessage(text); err != nil {
		return err
	}

	body, err := s.backend.OpenStream(ctx, s.orchestrator.ChatMessages())
	if err != nil {
		body = failedBody{err: err}
	}
	return s.orchestrator.Assemble(ctx, body)
}

func (s *chatSession) Snapshot() orchestration.Snapshot {
	return s.orchestrator.Snapshot()
}

func (s *chatSession) Busy() bool {
	return s.orchestrator.IsAssembling()
}

// LastReply returns the latest assistant message once it is finalized.
func (s *chatSession) LastReply() (llms.Message, error) {
	last, ok := s.orchestrator.Snapshot().Last()
	if !ok || last.Role != llms.MessageRoleAssistant || !last.Stage.IsTerminal() {
		return llms.Message{}, ErrEmptyReply
	}
	return last, nil
}

// failedBody fails on the first read so a request error goes through the same
// error finalization as a broken stream.
type failedBody struct {
	err error
}

func (b failedBody) Read([]byte) (int, error) { return 0, b.err }
func (b failedBody) Close() error             { return nil }
