package llamastack

import (
	"bytes"
	"encoding/json"
	"strings"
	"unicode"
)

const (
	LLMModelType       = "llm"
	EmbeddingModelType = "embedding"
)

type Model struct {
	Identifier         string `json:"identifier"`
	ModelType          string `json:"model_type"`
	ProviderID         string `json:"provider_id"`
	ProviderResourceID string `json:"provider_resource_id"`
}

// LLMModels filters out everything that can't be chatted with, e.g.
// embedding models.
func LLMModels(models []Model) []Model {
	var llmModels []Model
	for _, model := range models {
		if model.ModelType == LLMModelType {
			llmModels = append(llmModels, model)
		}
	}
	return llmModels
}

type Agent struct {
	AgentID     string      `json:"agent_id"`
	AgentConfig AgentConfig `json:"agent_config"`
	CreatedAt   string      `json:"created_at"`
}

type AgentConfig struct {
	Name         *string     `json:"name"`
	Instructions string      `json:"instructions"`
	Model        string      `json:"model"`
	Toolgroups   []Toolgroup `json:"toolgroups"`
}

// Toolgroup is either referenced by name only or by name with arguments.
type Toolgroup struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

func (t *Toolgroup) UnmarshalJSON(data []byte) error {
	if data = bytes.TrimSpace(data); len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &t.Name)
	}

	type toolgroup Toolgroup
	return json.Unmarshal(data, (*toolgroup)(t))
}

// DisplayName is the agent name if it has one, otherwise it is composed from
// the model and the agent's tool groups, e.g. "llama3.2:3b + Rag knowledge Search".
func (a Agent) DisplayName() string {
	if name := a.AgentConfig.Name; name != nil && *name != "" {
		return *name
	}

	displayName := a.AgentConfig.Model
	if len(a.AgentConfig.Toolgroups) > 0 {
		toolNames := make([]string, 0, len(a.AgentConfig.Toolgroups))
		for _, toolgroup := range a.AgentConfig.Toolgroups {
			toolNames = append(toolNames, toolgroupDisplayName(toolgroup.Name))
		}
		displayName += " + " + strings.Join(toolNames, " + ")
	}
	return displayName
}

func toolgroupDisplayName(name string) string {
	name = strings.Replace(name, "builtin::", "", 1)
	name = strings.Replace(name, "/", " ", 1)

	words := strings.Split(name, "_")
	for i, word := range words {
		if word == "" {
			continue
		}
		runes := []rune(word)
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}

type Session struct {
	SessionID   string `json:"session_id"`
	SessionName string `json:"session_name"`
	StartedAt   string `json:"started_at"`
}
