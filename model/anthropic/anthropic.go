// Package anthropic implements core.StepProducer over the Anthropic Messages
// API.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/hupe1980/agentrelay/core"
)

// Options configure the Anthropic producer (fallback model id, temperature,
// max tokens, API key).
type Options struct {
	// Model is used when the agent definition does not bind one.
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Producer wraps the Anthropic Messages API behind core.StepProducer.
type Producer struct {
	client *anthropic.Client
	opts   Options
}

// NewProducer creates a producer using the official client.
func NewProducer(optFns ...func(o *Options)) *Producer {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)

	return &Producer{client: &client, opts: opts}
}

// NewProducerFromClient creates a producer from an existing client.
func NewProducerFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Producer {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Producer{client: client, opts: opts}
}

// NextStep implements core.StepProducer with a single non-streaming Messages
// call per turn.
func (p *Producer) NextStep(ctx context.Context, req core.StepRequest) (*core.StepResult, error) {
	modelID := p.opts.Model
	if req.Definition.Model != "" {
		modelID = anthropic.Model(req.Definition.Model)
	}
	temperature := p.opts.Temperature
	if req.Definition.Temperature > 0 {
		temperature = req.Definition.Temperature
	}

	params := anthropic.MessageNewParams{
		Model:       modelID,
		Messages:    p.buildMessages(req),
		MaxTokens:   p.opts.MaxTokens,
		Temperature: anthropic.Float(temperature),
	}
	if req.Instructions != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.Instructions}}
	}
	if len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools)
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic api error: %w", err)
	}

	result := &core.StepResult{
		Usage: core.TokenUsage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			result.Text += block.AsText().Text
		case "tool_use":
			toolBlock := block.AsToolUse()
			args := ""
			if toolBlock.Input != nil {
				if argsBytes, err := json.Marshal(toolBlock.Input); err == nil {
					args = string(argsBytes)
				}
			}
			result.ToolCalls = append(result.ToolCalls, core.ToolCall{
				ID:        toolBlock.ID,
				Name:      toolBlock.Name,
				Arguments: args,
			})
		}
	}
	result.Done = resp.StopReason == "end_turn" && len(result.ToolCalls) == 0

	return result, nil
}

// buildMessages converts the normalized history into Anthropic messages,
// keeping tool_use blocks on assistant turns paired with their tool_result
// blocks on the following user turn.
func (p *Producer) buildMessages(req core.StepRequest) []anthropic.MessageParam {
	var messages []anthropic.MessageParam

	var pendingResults []anthropic.ContentBlockParamUnion
	flushResults := func() {
		if len(pendingResults) > 0 {
			messages = append(messages, anthropic.NewUserMessage(pendingResults...))
			pendingResults = nil
		}
	}

	for _, m := range req.History {
		switch m.Role {
		case "system":
			continue // handled via params.System
		case "assistant":
			flushResults()
			var content []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				content = append(content, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var input any
				if tc.Arguments != "" {
					if err := json.Unmarshal([]byte(tc.Arguments), &input); err != nil {
						input = tc.Arguments
					}
				}
				content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(content) > 0 {
				messages = append(messages, anthropic.NewAssistantMessage(content...))
			}
		case "tool":
			pendingResults = append(pendingResults, anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false))
		default:
			flushResults()
			if m.Content != "" {
				messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
			}
		}
	}
	flushResults()

	if req.Input != "" && req.Turn == 0 {
		messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(req.Input)))
	}
	return messages
}

// buildTools converts normalized tool definitions to the Anthropic schema.
func buildTools(tools []core.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, tdef := range tools {
		inputSchema := anthropic.ToolInputSchemaParam{
			Type: constant.Object("object"),
		}
		if tdef.Parameters != nil {
			if properties, ok := tdef.Parameters["properties"]; ok {
				inputSchema.Properties = properties
			}
			switch required := tdef.Parameters["required"].(type) {
			case []string:
				inputSchema.Required = required
			case []any:
				for _, r := range required {
					if s, ok := r.(string); ok {
						inputSchema.Required = append(inputSchema.Required, s)
					}
				}
			}
		}
		out[i] = anthropic.ToolUnionParamOfTool(inputSchema, tdef.Name)
	}
	return out
}
