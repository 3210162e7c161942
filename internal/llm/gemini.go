package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiProvider streams turns from the Gemini API via the Gen AI SDK.
type GeminiProvider struct {
	config    genai.ClientConfig
	model     string
	maxTokens int
}

func NewGeminiProvider(apiKey, baseURL, model string, maxTokens int) *GeminiProvider {
	cfg := genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	if baseURL != "" {
		cfg.HTTPOptions.BaseURL = baseURL
	}
	return &GeminiProvider{config: cfg, model: model, maxTokens: maxTokens}
}

func (p *GeminiProvider) Name() string {
	return "gemini:" + p.model
}

func (p *GeminiProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	system, contents := geminiContents(req.Messages)
	if len(contents) == 0 {
		return nil, errors.New("gemini: request has no user content")
	}
	gen := p.generateConfig(req, system)
	model := pick(req.Model, p.model)

	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		cfg := p.config
		client, err := genai.NewClient(ctx, &cfg)
		if err != nil {
			return fmt.Errorf("gemini: create client: %w", err)
		}

		// Gemini may omit call IDs; synthesize stable ones so results can
		// be matched back.
		calls := 0
		var usage *genai.GenerateContentResponseUsageMetadata
		for resp, err := range client.Models.GenerateContentStream(ctx, model, contents, gen) {
			if err != nil {
				return fmt.Errorf("gemini: %w", err)
			}
			if resp.UsageMetadata != nil {
				usage = resp.UsageMetadata
			}
			if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
				continue
			}
			for _, part := range resp.Candidates[0].Content.Parts {
				var ev Event
				switch {
				case part.FunctionCall != nil:
					calls++
					ev = Event{Type: EventToolCall, Tool: geminiToolCall(part.FunctionCall, calls)}
				case part.Text != "" && !part.Thought:
					ev = Event{Type: EventTextDelta, Text: part.Text}
				default:
					continue
				}
				if err := emit(ctx, events, ev); err != nil {
					return err
				}
			}
		}

		if usage != nil && usage.TotalTokenCount > 0 {
			use := &Usage{InputTokens: int(usage.PromptTokenCount), OutputTokens: int(usage.CandidatesTokenCount)}
			if err := emit(ctx, events, Event{Type: EventUsage, Use: use}); err != nil {
				return err
			}
		}
		return emit(ctx, events, Event{Type: EventDone})
	}), nil
}

func (p *GeminiProvider) generateConfig(req Request, system string) *genai.GenerateContentConfig {
	gen := &genai.GenerateContentConfig{}
	if system != "" {
		gen.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if n := pick(req.MaxOutputTokens, p.maxTokens); n > 0 {
		gen.MaxOutputTokens = int32(n)
	}
	if len(req.Tools) == 0 {
		return gen
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
	for _, spec := range req.Tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:                 spec.Name,
			Description:          spec.Description,
			ParametersJsonSchema: spec.Schema,
		})
	}
	gen.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	gen.ToolConfig = geminiToolConfig(req.ToolChoice.Mode)
	return gen
}

func geminiToolCall(fc *genai.FunctionCall, n int) *ToolCall {
	id := fc.ID
	if id == "" {
		id = fmt.Sprintf("gemini-call-%d", n)
	}
	args, err := json.Marshal(fc.Args)
	if err != nil || fc.Args == nil {
		args = json.RawMessage("{}")
	}
	return &ToolCall{ID: id, Name: fc.Name, Arguments: args}
}

func geminiToolConfig(mode ToolChoiceMode) *genai.ToolConfig {
	m := genai.FunctionCallingConfigModeAuto
	switch mode {
	case ToolChoiceNone:
		m = genai.FunctionCallingConfigModeNone
	case ToolChoiceRequired:
		m = genai.FunctionCallingConfigModeAny
	}
	return &genai.ToolConfig{FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: m}}
}

// geminiContents maps the conversation onto user/model contents. Tool
// results become function responses in a user turn.
func geminiContents(messages []Message) (string, []*genai.Content) {
	var system []string
	contents := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			if text := textOf(msg.Parts); text != "" {
				system = append(system, text)
			}
			continue
		}

		role := genai.RoleUser
		if msg.Role == RoleAssistant {
			role = genai.RoleModel
		}
		content := &genai.Content{Role: role}
		for _, part := range msg.Parts {
			if gp := geminiPart(part, msg.Role); gp != nil {
				content.Parts = append(content.Parts, gp)
			}
		}
		if len(content.Parts) > 0 {
			contents = append(contents, content)
		}
	}
	return strings.Join(system, "\n\n"), contents
}

func geminiPart(part Part, role Role) *genai.Part {
	switch {
	case part.Type == PartText && part.Text != "" && role != RoleTool:
		return &genai.Part{Text: part.Text}
	case part.Type == PartToolCall && part.ToolCall != nil && role == RoleAssistant:
		return &genai.Part{FunctionCall: &genai.FunctionCall{
			ID:   part.ToolCall.ID,
			Name: part.ToolCall.Name,
			Args: argsMap(part.ToolCall.Arguments),
		}}
	case part.Type == PartToolResult && part.ToolResult != nil:
		r := part.ToolResult
		key := "output"
		if r.IsError {
			key = "error"
		}
		return &genai.Part{FunctionResponse: &genai.FunctionResponse{
			ID:       r.ID,
			Name:     r.Name,
			Response: map[string]any{key: r.Content},
		}}
	}
	return nil
}
