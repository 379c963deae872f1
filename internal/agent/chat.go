// Package agent ships the executors bundled with the orchestrator. Each
// one implements gateway.Agent and is registered per agent type at
// startup.
package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/supertrack-ai/orchestrator/internal/gateway"
)

// chatClient is the slice of the OpenAI client the chat-backed agents
// use. Tests substitute a stub here.
type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// ChatConfig configures the OpenAI-compatible chat agents. BaseURL may
// point at any endpoint speaking the chat completions API.
type ChatConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int
}

// ChatAgent executes tasks as single-turn chat completions. It serves
// the query and investigation agent types.
type ChatAgent struct {
	logger *zap.Logger
	client chatClient
	config ChatConfig
}

// NewChatAgent creates a chat agent from the given config
func NewChatAgent(config ChatConfig, logger *zap.Logger) *ChatAgent {
	if config.Model == "" {
		config.Model = openai.GPT4oMini
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &ChatAgent{
		logger: logger.Named("chat-agent"),
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
	}
}

// Execute sends the task instruction as a user message and returns the
// model's reply. A "system" param becomes the system message; a "model"
// param overrides the configured model for this task.
func (a *ChatAgent) Execute(ctx context.Context, req gateway.Request) (*gateway.Result, error) {
	model := a.config.Model
	if m, ok := req.Params["model"].(string); ok && m != "" {
		model = m
	}

	var messages []openai.ChatCompletionMessage
	if system, ok := req.Params["system"].(string); ok && system != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Instruction,
	})

	a.logger.Debug("Requesting chat completion",
		zap.String("model", model),
		zap.String("agent_type", string(req.AgentType)))

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: a.config.Temperature,
		MaxTokens:   a.config.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion returned no choices")
	}

	choice := resp.Choices[0]
	return &gateway.Result{
		Success: true,
		Content: choice.Message.Content,
		Metadata: map[string]interface{}{
			"model":             resp.Model,
			"finish_reason":     string(choice.FinishReason),
			"prompt_tokens":     resp.Usage.PromptTokens,
			"completion_tokens": resp.Usage.CompletionTokens,
		},
	}, nil
}
