package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/opsforge/opsforge/agent-plane/pkg/models"
)

const (
	defaultOpenAIEndpoint = "https://api.openai.com/v1"
	defaultOpenAIModel    = "gpt-4o"
)

// OpenAIConfig configures the OpenAI chat completions adapter.
type OpenAIConfig struct {
	APIKey      string
	Model       string
	Endpoint    string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// OpenAI completes conversations via the chat completions API with
// function calling.
type OpenAI struct {
	cfg    OpenAIConfig
	client *http.Client
}

// NewOpenAI creates an OpenAI-backed oracle.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultOpenAIEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &OpenAI{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (o *OpenAI) Name() string { return "openai" }

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type openAITool struct {
	Type     string         `json:"type"`
	Function openAIFunction `json:"function"`
}

type openAIRequest struct {
	Model             string          `json:"model"`
	Messages          []openAIMessage `json:"messages"`
	MaxTokens         int             `json:"max_tokens,omitempty"`
	Temperature       float64         `json:"temperature,omitempty"`
	Tools             []openAITool    `json:"tools,omitempty"`
	ParallelToolCalls *bool           `json:"parallel_tool_calls,omitempty"`
}

type openAIResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				ID       string `json:"id"`
				Type     string `json:"type"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
}

// Complete sends the conversation to the chat completions API.
// Parallel tool calls are disabled so each turn yields one action.
func (o *OpenAI) Complete(ctx context.Context, req *Request) (*models.Completion, error) {
	if o.cfg.APIKey == "" {
		return nil, unavailable(o.Name(), 0, errors.New("api key not configured"))
	}

	wire := openAIRequest{
		Model:       o.cfg.Model,
		Messages:    openAIMessages(req.System, req.Messages),
		MaxTokens:   o.cfg.MaxTokens,
		Temperature: o.cfg.Temperature,
	}
	if len(req.Tools) > 0 {
		wire.Tools = make([]openAITool, 0, len(req.Tools))
		for _, t := range req.Tools {
			wire.Tools = append(wire.Tools, openAITool{
				Type: "function",
				Function: openAIFunction{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			})
		}
		serial := false
		wire.ParallelToolCalls = &serial
	}

	body, _ := json.Marshal(wire)

	url := o.cfg.Endpoint + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, unavailable(o.Name(), 0, fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)

	httpResp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, unavailable(o.Name(), 0, fmt.Errorf("request failed: %w", err))
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, unavailable(o.Name(), httpResp.StatusCode, errors.New(string(respBody)))
	}

	var resp openAIResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, unavailable(o.Name(), 0, fmt.Errorf("decode response: %w", err))
	}

	completion := &models.Completion{
		Usage: models.TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}
	if len(resp.Choices) == 0 {
		return completion, nil
	}

	choice := resp.Choices[0]
	completion.Content = choice.Message.Content
	for _, tc := range choice.Message.ToolCalls {
		call := models.ToolCall{ID: tc.ID, Name: tc.Function.Name}
		// Arguments arrive as a JSON string. A nil map marks arguments
		// the provider sent but we could not parse; the decision step
		// rejects those as malformed.
		var args map[string]any
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err == nil {
			if args == nil {
				args = map[string]any{}
			}
			call.Arguments = args
		}
		completion.ToolCalls = append(completion.ToolCalls, call)
	}
	return completion, nil
}

func openAIMessages(system string, in []models.Message) []openAIMessage {
	out := make([]openAIMessage, 0, len(in)+1)
	if system != "" {
		out = append(out, openAIMessage{Role: "system", Content: system})
	}
	for _, m := range in {
		role := "user"
		if m.Role == models.RoleAssistant {
			role = "assistant"
		}
		out = append(out, openAIMessage{Role: role, Content: m.Content})
	}
	return out
}
