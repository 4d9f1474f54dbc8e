package providers

import (
	"context"
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicDefaultMaxTokens = 4096

// Anthropic serves Claude models through the Messages API.
type Anthropic struct {
	pricing PricingFunc
}

func NewAnthropic(pricing PricingFunc) *Anthropic {
	return &Anthropic{pricing: pricing}
}

func (p *Anthropic) ID() string { return "anthropic" }

func (p *Anthropic) Execute(ctx context.Context, req Request) (*Response, error) {
	client := anthropic.NewClient(option.WithAPIKey(req.APIKey))
	return runToolLoop(ctx, &anthropicBackend{client: &client}, p.ID(), req, p.pricing)
}

type anthropicBackend struct {
	client *anthropic.Client
}

func (b *anthropicBackend) call(ctx context.Context, req Request, msgs []Message, tools []ToolDefinition, choice toolChoice) (*backendResult, error) {
	maxTokens := int64(anthropicDefaultMaxTokens)
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: maxTokens,
		Messages:  anthropicFromMessages(msgs),
		Tools:     anthropicFromTools(tools),
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Opt(float64(*req.Temperature))
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}

	if len(tools) > 0 {
		switch choice.mode {
		case "tool":
			params.ToolChoice = anthropic.ToolChoiceUnionParam{
				OfTool: &anthropic.ToolChoiceToolParam{Name: choice.name},
			}
		default:
			params.ToolChoice = anthropic.ToolChoiceUnionParam{
				OfAuto: &anthropic.ToolChoiceAutoParam{},
			}
		}
	}

	message, err := b.client.Messages.New(ctx, params)
	if err != nil {
		return nil, err
	}

	result := &backendResult{
		promptTokens:     int(message.Usage.InputTokens),
		completionTokens: int(message.Usage.OutputTokens),
	}
	for _, block := range message.Content {
		switch block.AsAny().(type) {
		case anthropic.TextBlock:
			result.content += block.Text
		case anthropic.ToolUseBlock:
			result.toolCalls = append(result.toolCalls, MessageToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: string(block.Input),
			})
		}
	}
	return result, nil
}

// anthropicFromMessages converts to the Messages API shape. The system turn
// is handled separately via the System param; tool results become user-role
// tool_result blocks; consecutive same-role messages are merged since the
// API rejects them.
func anthropicFromMessages(messages []Message) []anthropic.MessageParam {
	var converted []anthropic.MessageParam
	for _, msg := range messages {
		if msg.Role == "system" {
			continue
		}

		var blocks []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			if msg.Role == "tool" {
				result := anthropic.NewToolResultBlock(msg.ToolCallID)
				result.OfToolResult.Content = []anthropic.ToolResultBlockParamContentUnion{
					{OfText: &anthropic.TextBlockParam{Text: msg.Content}},
				}
				result.OfToolResult.IsError = anthropic.Bool(msg.IsError)
				blocks = append(blocks, result)
			} else {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
		}
		for _, toolCall := range msg.ToolCalls {
			args := make(map[string]any)
			if err := json.Unmarshal([]byte(toolCall.Arguments), &args); err != nil {
				// the API requires valid json; wrap whatever we got
				args = map[string]any{"invalid_json_stringified": toolCall.Arguments}
			}
			blocks = append(blocks, anthropic.NewToolUseBlock(toolCall.ID, args, toolCall.Name))
		}
		if len(blocks) == 0 {
			continue
		}

		role := anthropic.MessageParamRoleUser
		if msg.Role == "assistant" {
			role = anthropic.MessageParamRoleAssistant
		}
		converted = append(converted, anthropic.MessageParam{Role: role, Content: blocks})
	}

	var merged []anthropic.MessageParam
	for _, msg := range converted {
		if len(merged) > 0 && merged[len(merged)-1].Role == msg.Role {
			last := &merged[len(merged)-1]
			last.Content = append(last.Content, msg.Content...)
			continue
		}
		merged = append(merged, msg)
	}
	return merged
}

func anthropicFromTools(tools []ToolDefinition) []anthropic.ToolUnionParam {
	var result []anthropic.ToolUnionParam
	for _, tool := range tools {
		properties := tool.Parameters["properties"]
		var required []string
		if req, ok := tool.Parameters["required"].([]string); ok {
			required = req
		} else if raw, ok := tool.Parameters["required"].([]any); ok {
			for _, r := range raw {
				if s, ok := r.(string); ok {
					required = append(required, s)
				}
			}
		}
		result = append(result, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.Opt(tool.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: properties,
					Required:   required,
				},
			},
		})
	}
	return result
}
