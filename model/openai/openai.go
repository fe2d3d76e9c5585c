// Package openai implements core.StepProducer over the OpenAI Chat
// Completions API (including function/tool calling). It adapts the normalized
// step request into the SDK's message format and back.
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"

	"github.com/hupe1980/agentrelay/core"
)

// Options configure the OpenAI producer. Fields mirror a subset of Chat
// Completion parameters intentionally kept minimal; extend via functional
// options without breaking callers.
type Options struct {
	// Model is used when the agent definition does not bind one.
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
}

// Producer wraps the OpenAI Chat Completions API behind core.StepProducer.
type Producer struct {
	client *openai.Client
	opts   Options
}

// NewProducer creates a producer using the official client with ambient
// credentials.
func NewProducer(optFns ...func(o *Options)) *Producer {
	client := openai.NewClient()
	return NewProducerFromClient(&client, optFns...)
}

// NewProducerFromClient creates a producer from an existing client.
func NewProducerFromClient(client *openai.Client, optFns ...func(o *Options)) *Producer {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Producer{client: client, opts: opts}
}

// NextStep implements core.StepProducer with a single non-streaming
// completion per turn.
func (p *Producer) NextStep(ctx context.Context, req core.StepRequest) (*core.StepResult, error) {
	params := p.buildParams(req)

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned")
	}

	ch0 := resp.Choices[0]
	result := &core.StepResult{
		Text: ch0.Message.Content,
		Done: ch0.FinishReason == "stop" && len(ch0.Message.ToolCalls) == 0,
		Usage: core.TokenUsage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}
	for _, tc := range ch0.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, core.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return result, nil
}

// buildParams assembles the request: system prompt, prior history with tool
// call/result pairing preserved, the current input, and tool definitions.
func (p *Producer) buildParams(req core.StepRequest) openai.ChatCompletionNewParams {
	var messages []openai.ChatCompletionMessageParamUnion
	if req.Instructions != "" {
		messages = append(messages, openai.SystemMessage(req.Instructions))
	}

	for _, m := range req.History {
		switch m.Role {
		case "system":
			messages = append(messages, openai.SystemMessage(m.Content))
		case "assistant":
			if len(m.ToolCalls) == 0 {
				messages = append(messages, openai.AssistantMessage(m.Content))
				continue
			}
			toolCalls := make([]openai.ChatCompletionMessageToolCallParam, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				toolCalls[i] = openai.ChatCompletionMessageToolCallParam{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				}
			}
			messages = append(
				messages,
				openai.ChatCompletionMessageParamUnion{OfAssistant: &openai.ChatCompletionAssistantMessageParam{
					Role:      "assistant",
					ToolCalls: toolCalls,
				}},
			)
		case "tool":
			messages = append(messages, openai.ToolMessage(m.Content, m.ToolCallID))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	if req.Input != "" && req.Turn == 0 {
		messages = append(messages, openai.UserMessage(req.Input))
	}

	modelID := req.Definition.Model
	if modelID == "" {
		modelID = p.opts.Model
	}
	temperature := p.opts.Temperature
	if req.Definition.Temperature > 0 {
		temperature = req.Definition.Temperature
	}

	params := openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               modelID,
		Temperature:         openai.Float(temperature),
		MaxCompletionTokens: openai.Int(p.opts.MaxCompletionTokens),
	}
	if len(req.Tools) == 0 {
		return params
	}

	tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
	for i, tdef := range req.Tools {
		tools[i] = openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        tdef.Name,
				Description: openai.String(tdef.Description),
				Parameters:  tdef.Parameters,
			},
		}
	}
	params.Tools = tools
	return params
}
