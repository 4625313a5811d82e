package llamastack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/koscakluka/ema-chat/core/llms"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	modelsPath         = "/v1/models"
	agentsPath         = "/v1/agents"
	chatCompletionPath = "/v1/inference/chat-completion"
)

// Client talks to a Llama Stack server. Streaming methods only open the
// stream, assembling it is left to the caller.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

type ClientOption func(*Client)

// WithHTTPClient replaces the default instrumented HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = httpClient }
}

func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithSpanNameFormatter(func(operationName string, request *http.Request) string {
				return operationName + " " + request.URL.Path
			}),
		)},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type listResponse[T any] struct {
	Data []T `json:"data"`
}

func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	var models listResponse[Model]
	if err := c.getJSON(ctx, modelsPath, &models); err != nil {
		return nil, fmt.Errorf("failed to fetch models: %w", err)
	}
	return models.Data, nil
}

func (c *Client) ListAgents(ctx context.Context) ([]Agent, error) {
	var agents listResponse[Agent]
	if err := c.getJSON(ctx, agentsPath, &agents); err != nil {
		return nil, fmt.Errorf("failed to fetch agents: %w", err)
	}
	return agents.Data, nil
}

func (c *Client) CreateSession(ctx context.Context, agentID string, sessionName string) (*Session, error) {
	if sessionName == "" {
		sessionName = "Chat Session"
	}

	resp, err := c.post(ctx, agentsPath+"/"+url.PathEscape(agentID)+"/session", map[string]string{
		"session_name": sessionName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	defer resp.Body.Close()

	var session Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("failed to create session: error decoding response data: %w", err)
	}
	if session.SessionName == "" {
		session.SessionName = sessionName
	}
	return &session, nil
}

// SendTurnStreaming starts an agent turn. The session keeps the context on
// the server, so only the latest user message is sent.
func (c *Client) SendTurnStreaming(ctx context.Context, agentID, sessionID string, messages []llms.ChatMessage) (io.ReadCloser, error) {
	var latest *llms.ChatMessage
	for i := range messages {
		if messages[i].Role == llms.MessageRoleUser {
			latest = &messages[i]
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("failed to send streaming turn: no user message found")
	}

	path := agentsPath + "/" + url.PathEscape(agentID) + "/session/" + url.PathEscape(sessionID) + "/turn"
	resp, err := c.post(ctx, path, map[string]any{
		"messages": []llms.ChatMessage{{Role: llms.MessageRoleUser, Content: latest.Content}},
		"stream":   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to send streaming turn: %w", err)
	}
	return resp.Body, nil
}

// CompleteChatStreaming starts a direct chat completion with the whole
// conversation.
func (c *Client) CompleteChatStreaming(ctx context.Context, modelID string, messages []llms.ChatMessage) (io.ReadCloser, error) {
	formatted := make([]llms.ChatMessage, len(messages))
	for i, message := range messages {
		if message.Role == llms.MessageRoleAssistant && message.StopReason == "" {
			message.StopReason = llms.StopReasonEndOfMessage
		}
		formatted[i] = message
	}

	resp, err := c.post(ctx, chatCompletionPath, map[string]any{
		"messages": formatted,
		"model_id": modelID,
		"stream":   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch streaming chat completion: %w", err)
	}
	return resp.Body, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("error creating HTTP request: %w", err)
	}

	resp, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("error decoding response data: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body any) (*http.Response, error) {
	requestBodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("error marshalling JSON: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(requestBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("error creating HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(ctx, req)
}

// do sends the request and turns non-2xx responses into errors wrapping
// [llms.ErrTransport] with the response body as the message.
func (c *Client) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	_, span := tracer.Start(ctx, "llama stack request")
	defer span.End()
	span.SetAttributes(attribute.String("request.method", req.Method), attribute.String("request.url", req.URL.String()))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		err = fmt.Errorf("%w: error sending request: %w", llms.ErrTransport, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		message := resp.Status
		if errorBody, err := io.ReadAll(resp.Body); err == nil && len(bytes.TrimSpace(errorBody)) > 0 {
			message = strings.TrimSpace(string(errorBody))
		}
		err := fmt.Errorf("%w: non-OK HTTP status %d: %s", llms.ErrTransport, resp.StatusCode, message)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	return resp, nil
}
