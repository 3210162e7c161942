package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
)

// AnthropicProvider streams turns from the Anthropic Messages API.
type AnthropicProvider struct {
	client    anthropic.Client
	model     string
	maxTokens int
}

func NewAnthropicProvider(apiKey, baseURL, model string, maxTokens int) *AnthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicProvider{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
	}
}

func (p *AnthropicProvider) Name() string {
	return "anthropic:" + p.model
}

func (p *AnthropicProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	params := p.params(req)
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		stream := p.client.Messages.NewStreaming(ctx, params)
		defer stream.Close()

		// The SDK folds each event into msg; a block is complete once its
		// stop event has been accumulated.
		var msg anthropic.Message
		for stream.Next() {
			event := stream.Current()
			if err := msg.Accumulate(event); err != nil {
				return fmt.Errorf("anthropic: %w", err)
			}

			var ev *Event
			switch e := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				if d, ok := e.Delta.AsAny().(anthropic.TextDelta); ok && d.Text != "" {
					ev = &Event{Type: EventTextDelta, Text: d.Text}
				}
			case anthropic.ContentBlockStopEvent:
				if call, ok := anthropicToolCall(msg.Content, e.Index); ok {
					ev = &Event{Type: EventToolCall, Tool: &call}
				}
			}
			if ev != nil {
				if err := emit(ctx, events, *ev); err != nil {
					return err
				}
			}
		}
		if err := stream.Err(); err != nil {
			return fmt.Errorf("anthropic: %w", err)
		}

		if msg.Usage.InputTokens > 0 || msg.Usage.OutputTokens > 0 {
			use := &Usage{InputTokens: int(msg.Usage.InputTokens), OutputTokens: int(msg.Usage.OutputTokens)}
			if err := emit(ctx, events, Event{Type: EventUsage, Use: use}); err != nil {
				return err
			}
		}
		return emit(ctx, events, Event{Type: EventDone})
	}), nil
}

func (p *AnthropicProvider) params(req Request) anthropic.MessageNewParams {
	system, messages := anthropicMessages(req.Messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(pick(req.Model, p.model)),
		MaxTokens: int64(pick(req.MaxOutputTokens, p.maxTokens)),
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(req.Tools) > 0 {
		params.Tools = anthropicTools(req.Tools)
		params.ToolChoice = anthropicToolChoice(req.ToolChoice.Mode)
	}
	return params
}

// anthropicToolCall returns the tool_use block at index, if that is what it is.
func anthropicToolCall(content []anthropic.ContentBlockUnion, index int64) (ToolCall, bool) {
	if index < 0 || int(index) >= len(content) {
		return ToolCall{}, false
	}
	block := content[index]
	if block.Type != "tool_use" {
		return ToolCall{}, false
	}
	args := block.Input
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	return ToolCall{ID: block.ID, Name: block.Name, Arguments: args}, true
}

// anthropicMessages splits out the system prompt, which the Messages API
// takes separately. Tool results travel in user turns.
func anthropicMessages(messages []Message) (string, []anthropic.MessageParam) {
	var system []string
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			if text := textOf(msg.Parts); text != "" {
				system = append(system, text)
			}
			continue
		}

		var blocks []anthropic.ContentBlockParamUnion
		for _, part := range msg.Parts {
			switch {
			case part.Type == PartText && part.Text != "":
				blocks = append(blocks, anthropic.NewTextBlock(part.Text))
			case part.Type == PartToolCall && part.ToolCall != nil && msg.Role == RoleAssistant:
				blocks = append(blocks, anthropic.NewToolUseBlock(part.ToolCall.ID, argsOrEmpty(part.ToolCall.Arguments), part.ToolCall.Name))
			case part.Type == PartToolResult && part.ToolResult != nil:
				r := part.ToolResult
				blocks = append(blocks, anthropic.NewToolResultBlock(r.ID, r.Content, r.IsError))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		if msg.Role == RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return strings.Join(system, "\n\n"), out
}

func anthropicTools(specs []ToolSpec) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(specs))
	for _, spec := range specs {
		tool := anthropic.ToolUnionParamOfTool(anthropic.ToolInputSchemaParam{
			Type:       constant.Object("object"),
			Properties: spec.Schema["properties"],
			Required:   requiredFields(spec.Schema),
		}, spec.Name)
		if spec.Description != "" {
			tool.OfTool.Description = anthropic.String(spec.Description)
		}
		out = append(out, tool)
	}
	return out
}

func anthropicToolChoice(mode ToolChoiceMode) anthropic.ToolChoiceUnionParam {
	switch mode {
	case ToolChoiceNone:
		none := anthropic.NewToolChoiceNoneParam()
		return anthropic.ToolChoiceUnionParam{OfNone: &none}
	case ToolChoiceRequired:
		return anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
	}
	return anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
}
