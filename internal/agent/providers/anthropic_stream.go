package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/wayfarer-ai/wayfarer/internal/agent"
	"github.com/wayfarer-ai/wayfarer/internal/transport"
	"github.com/wayfarer-ai/wayfarer/pkg/models"
)

// anthropicMessagesURL and anthropicAPIVersion target the Messages API
// directly; completeViaTransport builds and decodes the wire format itself
// instead of going through the vendor SDK's built-in streaming client, so
// the SSE event decoding in processWireStream has byte-exact control over
// event types (content_block_start/delta/stop, message_delta, message_stop).
const anthropicMessagesURL = "https://api.anthropic.com/v1/messages"
const anthropicAPIVersion = "2023-06-01"

// Wire-format structs mirror the Anthropic Messages API body directly. They
// are deliberately separate from the vendor SDK's MessageNewParams/
// ContentBlockParamUnion types: those are built for the SDK's own HTTP
// client, and this path drives internal/transport instead, so the request
// body is constructed and marshaled here rather than through the SDK.
type anthropicWireTextBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicWireImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type anthropicWireContentBlock struct {
	Type      string                    `json:"type"`
	Text      string                    `json:"text,omitempty"`
	Source    *anthropicWireImageSource `json:"source,omitempty"`
	ID        string                    `json:"id,omitempty"`
	Name      string                    `json:"name,omitempty"`
	Input     json.RawMessage           `json:"input,omitempty"`
	ToolUseID string                    `json:"tool_use_id,omitempty"`
	Content   string                    `json:"content,omitempty"`
	IsError   bool                      `json:"is_error,omitempty"`
}

type anthropicWireMessage struct {
	Role    string                      `json:"role"`
	Content []anthropicWireContentBlock `json:"content"`
}

type anthropicWireTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type anthropicWireThinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

type anthropicWireRequest struct {
	Model     string                   `json:"model"`
	System    []anthropicWireTextBlock `json:"system,omitempty"`
	Messages  []anthropicWireMessage   `json:"messages"`
	Tools     []anthropicWireTool      `json:"tools,omitempty"`
	MaxTokens int                      `json:"max_tokens"`
	Stream    bool                     `json:"stream"`
	Thinking  *anthropicWireThinking   `json:"thinking,omitempty"`
}

// completeViaTransport drives the non-beta Messages API over
// internal/transport. The beta (computer-use) path keeps using the vendor
// SDK's own streaming client in createBetaStream/processBetaStream — a
// narrower, tool-specific surface that doesn't need bit-exact SSE control.
func (p *AnthropicProvider) completeViaTransport(ctx context.Context, req *agent.CompletionRequest, chunks chan<- *agent.CompletionChunk) {
	model := p.getModel(req.Model)

	wireReq, err := p.buildWireRequest(req, model)
	if err != nil {
		chunks <- &agent.CompletionChunk{Error: fmt.Errorf("anthropic: failed to build request: %w", err)}
		return
	}
	body, err := json.Marshal(wireReq)
	if err != nil {
		chunks <- &agent.CompletionChunk{Error: fmt.Errorf("anthropic: failed to marshal request: %w", err)}
		return
	}

	headers := map[string]string{
		"content-type":      "application/json",
		"accept":            "text/event-stream",
		"x-api-key":         p.apiKey,
		"anthropic-version": anthropicAPIVersion,
	}

	url := p.messagesURL
	if url == "" {
		url = anthropicMessagesURL
	}

	client := &transport.Client{}
	pr, pw := io.Pipe()
	parseDone := make(chan error, 1)

	go func() {
		parseDone <- p.processWireStream(pr, chunks, model)
	}()

	retryErr := p.base.Retry(ctx, p.isRetryableTransportError, func() error {
		_, reqErr := client.Request(ctx, "POST", url, headers, body, func(line []byte) {
			pw.Write(append(line, '\n'))
		})
		return reqErr
	})

	pw.Close()
	<-parseDone

	if retryErr != nil {
		chunks <- &agent.CompletionChunk{Error: p.wrapError(retryErr, model)}
	}
}

func (p *AnthropicProvider) isRetryableTransportError(err error) bool {
	if statusErr, ok := err.(*transport.HttpStatusError); ok {
		return statusErr.Retryable()
	}
	if _, ok := err.(*transport.TransportError); ok {
		return true
	}
	return p.isRetryableError(err)
}

func (p *AnthropicProvider) buildWireRequest(req *agent.CompletionRequest, model string) (*anthropicWireRequest, error) {
	messages, err := p.buildWireMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	wireReq := &anthropicWireRequest{
		Model:     model,
		Messages:  messages,
		MaxTokens: p.getMaxTokens(req.MaxTokens),
		Stream:    true,
	}

	if req.System != "" {
		wireReq.System = []anthropicWireTextBlock{{Type: "text", Text: req.System}}
	}

	if len(req.Tools) > 0 {
		tools := make([]anthropicWireTool, 0, len(req.Tools))
		for _, tool := range req.Tools {
			schema := tool.Schema()
			if len(schema) == 0 {
				schema = json.RawMessage(`{"type":"object","properties":{}}`)
			}
			tools = append(tools, anthropicWireTool{
				Name:        tool.Name(),
				Description: tool.Description(),
				InputSchema: schema,
			})
		}
		wireReq.Tools = tools
	}

	if req.EnableThinking {
		budget := req.ThinkingBudgetTokens
		if budget < 1024 {
			budget = 10000
		}
		wireReq.Thinking = &anthropicWireThinking{Type: "enabled", BudgetTokens: budget}
	}

	return wireReq, nil
}

func (p *AnthropicProvider) buildWireMessages(messages []agent.CompletionMessage) ([]anthropicWireMessage, error) {
	result := make([]anthropicWireMessage, 0, len(messages))

	for _, msg := range messages {
		if msg.Role == "system" {
			continue
		}

		var content []anthropicWireContentBlock

		if msg.Content != "" {
			content = append(content, anthropicWireContentBlock{Type: "text", Text: msg.Content})
		}

		for _, att := range msg.Attachments {
			if block := wireImageBlockFromAttachment(att); block != nil {
				content = append(content, *block)
			}
		}

		for _, tr := range msg.ToolResults {
			content = append(content, anthropicWireContentBlock{
				Type:      "tool_result",
				ToolUseID: tr.ToolCallID,
				Content:   tr.Content,
				IsError:   tr.IsError,
			})
		}

		for _, tc := range msg.ToolCalls {
			input := tc.Input
			if len(input) == 0 {
				input = json.RawMessage(`{}`)
			}
			content = append(content, anthropicWireContentBlock{
				Type:  "tool_use",
				ID:    tc.ID,
				Name:  tc.Name,
				Input: input,
			})
		}

		if len(content) == 0 {
			continue
		}

		role := "user"
		if msg.Role == "assistant" {
			role = "assistant"
		}
		result = append(result, anthropicWireMessage{Role: role, Content: content})
	}

	return result, nil
}

func wireImageBlockFromAttachment(att models.Attachment) *anthropicWireContentBlock {
	if att.Type != "image" && !strings.HasPrefix(att.MimeType, "image/") {
		return nil
	}
	if mediaType, data, ok := parseDataURL(att.URL); ok {
		return &anthropicWireContentBlock{
			Type: "image",
			Source: &anthropicWireImageSource{
				Type:      "base64",
				MediaType: mediaType,
				Data:      data,
			},
		}
	}
	if att.URL != "" {
		return &anthropicWireContentBlock{
			Type:   "image",
			Source: &anthropicWireImageSource{Type: "url", URL: att.URL},
		}
	}
	return nil
}

// anthropicStreamEnvelope is the single shape every Messages API SSE event
// decodes into; unused fields for a given event.Type are simply left zero.
type anthropicStreamEnvelope struct {
	Type    string `json:"type"`
	Message struct {
		Usage struct {
			InputTokens int `json:"input_tokens"`
		} `json:"usage"`
	} `json:"message"`
	Index        int `json:"index"`
	ContentBlock struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		Thinking    string `json:"thinking"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`
	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// processWireStream reads r with the package's own ParseSSEStream utility
// (already exercised by anthropic_test.go, previously unused by Complete
// itself) and converts each named event into CompletionChunks, mirroring
// processStream's event handling but driven off plain JSON instead of the
// SDK's typed event unions.
func (p *AnthropicProvider) processWireStream(r io.Reader, chunks chan<- *agent.CompletionChunk, model string) error {
	var currentToolCall *models.ToolCall
	var toolInput strings.Builder
	inThinkingBlock := false
	var inputTokens, outputTokens int
	var stopReason agent.StopReason

	err := ParseSSEStream(r, func(eventType, data string) error {
		if strings.TrimSpace(data) == "" {
			return nil
		}
		var env anthropicStreamEnvelope
		if err := json.Unmarshal([]byte(data), &env); err != nil {
			return nil
		}
		kind := env.Type
		if kind == "" {
			kind = eventType
		}

		switch kind {
		case "message_start":
			if env.Message.Usage.InputTokens > 0 {
				inputTokens = env.Message.Usage.InputTokens
			}

		case "content_block_start":
			switch env.ContentBlock.Type {
			case "thinking":
				inThinkingBlock = true
				chunks <- &agent.CompletionChunk{ThinkingStart: true}
			case "tool_use":
				currentToolCall = &models.ToolCall{ID: env.ContentBlock.ID, Name: env.ContentBlock.Name}
				toolInput.Reset()
			}

		case "content_block_delta":
			switch env.Delta.Type {
			case "text_delta":
				if env.Delta.Text != "" {
					chunks <- &agent.CompletionChunk{Text: env.Delta.Text}
				}
			case "thinking_delta":
				if env.Delta.Thinking != "" {
					chunks <- &agent.CompletionChunk{Thinking: env.Delta.Thinking}
				}
			case "input_json_delta":
				toolInput.WriteString(env.Delta.PartialJSON)
			case "signature_delta":
				// extended-thinking signature, not model-visible; ignored.
			}

		case "content_block_stop":
			if inThinkingBlock {
				chunks <- &agent.CompletionChunk{ThinkingEnd: true}
				inThinkingBlock = false
			} else if currentToolCall != nil {
				raw := toolInput.String()
				if raw == "" {
					raw = "{}"
				}
				// Pass the accumulated string through as-is, valid or not:
				// the loop is what classifies malformed argument JSON and
				// synthesizes the failed tool-result, not the provider.
				currentToolCall.Input = json.RawMessage(raw)
				chunks <- &agent.CompletionChunk{ToolCall: currentToolCall}
				currentToolCall = nil
			}

		case "message_delta":
			if env.Usage.OutputTokens > 0 {
				outputTokens = env.Usage.OutputTokens
			}
			stopReason = normalizeAnthropicStopReason(env.Delta.StopReason)

		case "message_stop":
			chunks <- &agent.CompletionChunk{
				Done:         true,
				InputTokens:  inputTokens,
				OutputTokens: outputTokens,
				StopReason:   stopReason,
			}

		case "error":
			chunks <- &agent.CompletionChunk{
				Error:      p.wrapError(fmt.Errorf("anthropic stream error: %s", env.Error.Message), model),
				StopReason: agent.StopReasonError,
			}
		}
		return nil
	})
	if err != nil && err != io.EOF {
		return err
	}
	return nil
}

func normalizeAnthropicStopReason(raw string) agent.StopReason {
	switch raw {
	case "end_turn", "stop_sequence":
		return agent.StopReasonStop
	case "max_tokens":
		return agent.StopReasonLength
	case "tool_use":
		return agent.StopReasonToolCalls
	default:
		return agent.StopReasonStop
	}
}
