package providers

import (
	"context"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// openaiChatClient is the slice of the go-openai client the adapter needs.
// Kept as an interface so the tool loop can be tested with a stub.
type openaiChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAICompatible serves every provider that speaks the OpenAI chat
// completions protocol: OpenAI itself, plus vendors like DeepSeek, xAI,
// Groq, Cerebras and local inference endpoints, differing only in BaseURL.
type OpenAICompatible struct {
	id      string
	baseURL string
	pricing PricingFunc

	// newClient is swapped in tests.
	newClient func(apiKey string) openaiChatClient
}

// NewOpenAICompatible builds an adapter for one OpenAI-protocol vendor.
// An empty baseURL targets api.openai.com.
func NewOpenAICompatible(id, baseURL string, pricing PricingFunc) *OpenAICompatible {
	p := &OpenAICompatible{id: id, baseURL: baseURL, pricing: pricing}
	p.newClient = func(apiKey string) openaiChatClient {
		config := openai.DefaultConfig(apiKey)
		if p.baseURL != "" {
			config.BaseURL = p.baseURL
		}
		return openai.NewClientWithConfig(config)
	}
	return p
}

func (p *OpenAICompatible) ID() string { return p.id }

// Execute runs the tool-calling loop against the vendor endpoint.
func (p *OpenAICompatible) Execute(ctx context.Context, req Request) (*Response, error) {
	backend := &openaiBackend{client: p.newClient(req.APIKey), mergeRoles: p.baseURL != "" && !strings.HasPrefix(req.Model, "gpt")}
	return runToolLoop(ctx, backend, p.id, req, p.pricing)
}

type openaiBackend struct {
	client openaiChatClient
	// openai-compatible endpoints may require alternating user vs assistant
	// messages, so consecutive same-role messages get merged.
	mergeRoles bool
}

func (b *openaiBackend) call(ctx context.Context, req Request, msgs []Message, tools []ToolDefinition, choice toolChoice) (*backendResult, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: openaiFromMessages(msgs, b.mergeRoles),
		Tools:    openaiFromTools(tools),
	}
	if req.Temperature != nil {
		chatReq.Temperature = *req.Temperature
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.ResponseFormat == "json" {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	if len(tools) > 0 {
		chatReq.ToolChoice = openaiFromToolChoice(choice)
	}

	resp, err := b.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return &backendResult{
			promptTokens:     resp.Usage.PromptTokens,
			completionTokens: resp.Usage.CompletionTokens,
		}, nil
	}

	msg := resp.Choices[0].Message
	result := &backendResult{
		content:          msg.Content,
		promptTokens:     resp.Usage.PromptTokens,
		completionTokens: resp.Usage.CompletionTokens,
	}
	for _, tc := range msg.ToolCalls {
		result.toolCalls = append(result.toolCalls, MessageToolCall{
			ID:        tc.ID,
			Name:      cleanToolName(tc.Function.Name),
			Arguments: tc.Function.Arguments,
		})
	}
	return result, nil
}

func openaiFromMessages(messages []Message, shouldMerge bool) []openai.ChatCompletionMessage {
	openaiMessages := make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		openaiMessages[i] = openai.ChatCompletionMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			ToolCalls:  openaiFromToolCalls(msg.ToolCalls),
			ToolCallID: msg.ToolCallID,
		}
	}

	if !shouldMerge {
		return openaiMessages
	}

	var merged []openai.ChatCompletionMessage
	for _, msg := range openaiMessages {
		if len(merged) == 0 {
			merged = append(merged, msg)
			continue
		}
		last := &merged[len(merged)-1]
		equivalent := last.Role == msg.Role ||
			(isUserLikeRole(last.Role) && isUserLikeRole(msg.Role))
		if equivalent && len(msg.ToolCalls) == 0 && msg.ToolCallID == "" {
			last.Content += "\n\n" + msg.Role + ": " + msg.Content
		} else {
			merged = append(merged, msg)
		}
	}
	return merged
}

func isUserLikeRole(s string) bool {
	return s == "user" || s == "system"
}

func openaiFromTools(tools []ToolDefinition) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		}
	}
	return result
}

func openaiFromToolChoice(choice toolChoice) any {
	if choice.mode == "tool" {
		return openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: choice.name},
		}
	}
	return "auto"
}

func openaiFromToolCalls(toolCalls []MessageToolCall) []openai.ToolCall {
	if len(toolCalls) == 0 {
		return nil
	}
	result := make([]openai.ToolCall, len(toolCalls))
	for i, tc := range toolCalls {
		result[i] = openai.ToolCall{
			Type: openai.ToolTypeFunction,
			ID:   tc.ID,
			Function: openai.FunctionCall{
				Name:      tc.Name,
				Arguments: tc.Arguments,
			},
		}
	}
	return result
}

// cleanToolName strips rarely-occurring bad prefixes some endpoints emit.
func cleanToolName(name string) string {
	for _, prefix := range []string{"tools.", "tool.", "functions.", "function."} {
		name = strings.TrimPrefix(name, prefix)
	}
	return name
}
