package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// Google serves Gemini models through the GenAI API.
type Google struct {
	pricing PricingFunc
}

func NewGoogle(pricing PricingFunc) *Google {
	return &Google{pricing: pricing}
}

func (p *Google) ID() string { return "google" }

func (p *Google) Execute(ctx context.Context, req Request) (*Response, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  req.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create google client: %w", err)
	}
	return runToolLoop(ctx, &googleBackend{client: client}, p.ID(), req, p.pricing)
}

type googleBackend struct {
	client *genai.Client
}

func (b *googleBackend) call(ctx context.Context, req Request, msgs []Message, tools []ToolDefinition, choice toolChoice) (*backendResult, error) {
	config := &genai.GenerateContentConfig{
		Tools:      googleFromTools(tools),
		ToolConfig: googleFromToolChoice(choice, len(tools)),
	}
	if req.Temperature != nil {
		config.Temperature = req.Temperature
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.SystemPrompt != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.SystemPrompt}},
		}
	}
	if req.ResponseFormat == "json" {
		config.ResponseMIMEType = "application/json"
	}

	result, err := b.client.Models.GenerateContent(ctx, req.Model, googleFromMessages(msgs), config)
	if err != nil {
		return nil, err
	}

	out := &backendResult{}
	if result.UsageMetadata != nil {
		out.promptTokens = int(result.UsageMetadata.PromptTokenCount)
		out.completionTokens = int(result.UsageMetadata.CandidatesTokenCount)
	}
	if len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return out, nil
	}
	for _, part := range result.Candidates[0].Content.Parts {
		if part.FunctionCall != nil {
			args, err := json.Marshal(part.FunctionCall.Args)
			if err != nil {
				args = []byte("{}")
			}
			out.toolCalls = append(out.toolCalls, MessageToolCall{
				ID:        part.FunctionCall.ID,
				Name:      part.FunctionCall.Name,
				Arguments: string(args),
			})
			continue
		}
		if part.Text != "" && !part.Thought {
			out.content += part.Text
		}
	}
	return out, nil
}

func googleFromToolChoice(choice toolChoice, toolCount int) *genai.ToolConfig {
	if toolCount == 0 {
		return nil
	}
	mode := genai.FunctionCallingConfigModeAuto
	var allowed []string
	if choice.mode == "tool" {
		mode = genai.FunctionCallingConfigModeAny
		allowed = []string{choice.name}
	}
	return &genai.ToolConfig{
		FunctionCallingConfig: &genai.FunctionCallingConfig{
			Mode:                 mode,
			AllowedFunctionNames: allowed,
		},
	}
}

// googleFromMessages converts conversation history to GenAI contents.
// System turns are carried in SystemInstruction instead; tool results become
// function response parts; same-role runs collapse into one content.
func googleFromMessages(messages []Message) []*genai.Content {
	var contents []*genai.Content
	var currentRole string
	var currentParts []*genai.Part

	flush := func() {
		if len(currentParts) > 0 {
			contents = append(contents, &genai.Content{Role: currentRole, Parts: currentParts})
		}
		currentParts = nil
	}

	for _, msg := range messages {
		if msg.Role == "system" {
			continue
		}
		role := "user"
		if msg.Role == "assistant" {
			role = "model"
		}
		if role != currentRole && currentRole != "" {
			flush()
		}
		currentRole = role

		if msg.Content != "" {
			if msg.Role == "tool" {
				response := map[string]any{"output": msg.Content}
				if msg.IsError {
					response = map[string]any{"error": msg.Content}
				}
				currentParts = append(currentParts, &genai.Part{
					FunctionResponse: &genai.FunctionResponse{
						ID:       msg.ToolCallID,
						Name:     msg.Name,
						Response: response,
					},
				})
			} else {
				currentParts = append(currentParts, &genai.Part{Text: msg.Content})
			}
		}
		for _, toolCall := range msg.ToolCalls {
			args := make(map[string]any)
			if err := json.Unmarshal([]byte(toolCall.Arguments), &args); err != nil {
				args = map[string]any{"invalid_json_stringified": toolCall.Arguments}
			}
			currentParts = append(currentParts, &genai.Part{
				FunctionCall: &genai.FunctionCall{
					ID:   toolCall.ID,
					Name: toolCall.Name,
					Args: args,
				},
			})
		}
	}
	flush()

	return contents
}

func googleFromTools(tools []ToolDefinition) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}
	declarations := make([]*genai.FunctionDeclaration, len(tools))
	for i, tool := range tools {
		declarations[i] = &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  googleFromSchema(tool.Parameters),
		}
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// googleFromSchema converts a JSON schema object into the GenAI schema type.
func googleFromSchema(schema map[string]any) *genai.Schema {
	if schema == nil {
		return nil
	}

	out := &genai.Schema{}
	if t, ok := schema["type"].(string); ok {
		// genai uses uppercase type names, JSON schema lowercase
		out.Type = genai.Type(strings.ToUpper(t))
	}
	if d, ok := schema["description"].(string); ok {
		out.Description = d
	}
	switch req := schema["required"].(type) {
	case []string:
		out.Required = req
	case []any:
		for _, r := range req {
			if s, ok := r.(string); ok {
				out.Required = append(out.Required, s)
			}
		}
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		out.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			if sub, ok := raw.(map[string]any); ok {
				out.Properties[name] = googleFromSchema(sub)
			}
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		out.Items = googleFromSchema(items)
	}
	return out
}
