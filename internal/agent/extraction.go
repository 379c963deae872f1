package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/supertrack-ai/orchestrator/internal/gateway"
)

const extractionSystemPrompt = `You are a metadata extraction service. ` +
	`Extract the requested fields from the input and reply with a single JSON object. ` +
	`Use null for fields that cannot be determined. Reply with the JSON object only, no other text.`

// ExtractionAgent runs a metadata-extraction prompt over the chat client
// and parses the model's JSON reply into structured data. It serves the
// metadata_extraction agent type.
type ExtractionAgent struct {
	logger *zap.Logger
	client chatClient
	model  string
}

// NewExtractionAgent creates an extraction agent sharing the chat
// agent's client and model.
func NewExtractionAgent(chat *ChatAgent, logger *zap.Logger) *ExtractionAgent {
	return &ExtractionAgent{
		logger: logger.Named("extraction-agent"),
		client: chat.client,
		model:  chat.config.Model,
	}
}

// Execute extracts metadata from the task instruction. A "fields" param
// narrows the extraction to the named fields.
func (a *ExtractionAgent) Execute(ctx context.Context, req gateway.Request) (*gateway.Result, error) {
	var prompt strings.Builder
	prompt.WriteString(req.Instruction)
	if fields := stringSlice(req.Params["fields"]); len(fields) > 0 {
		prompt.WriteString("\n\nFields to extract: ")
		prompt.WriteString(strings.Join(fields, ", "))
	}

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: extractionSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt.String()},
		},
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("extraction completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("extraction completion returned no choices")
	}

	content := resp.Choices[0].Message.Content
	data, err := decodeJSONObject(content)
	if err != nil {
		a.logger.Warn("Extraction reply was not valid JSON",
			zap.String("task_id", metadataString(req, "task_id")),
			zap.Error(err))
		return nil, fmt.Errorf("failed to parse extraction reply: %w", err)
	}

	return &gateway.Result{
		Success: true,
		Content: content,
		Data:    data,
	}, nil
}

// decodeJSONObject parses a JSON object out of a model reply, tolerating
// markdown fences and surrounding prose.
func decodeJSONObject(content string) (map[string]interface{}, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return nil, errors.New("reply contains no JSON object")
	}

	var data map[string]interface{}
	if err := json.Unmarshal([]byte(content[start:end+1]), &data); err != nil {
		return nil, err
	}
	return data, nil
}

func stringSlice(v interface{}) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []interface{}:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func metadataString(req gateway.Request, key string) string {
	if v, ok := req.Metadata[key].(string); ok {
		return v
	}
	return ""
}
