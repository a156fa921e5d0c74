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
	openai "github.com/sashabaranov/go-openai"
)

// openaiChatCompletionsURL is the Chat Completions endpoint completeViaTransport
// posts to. completeViaTransport drives internal/transport directly instead
// of openai.Client.CreateChatCompletionStream so the SSE decoding gets the
// same bit-exact control the Anthropic adapter has (see anthropic_stream.go).
const openaiChatCompletionsURL = "https://api.openai.com/v1/chat/completions"

// completeViaTransport builds the request with the existing SDK request/
// message/tool types (reused because json.Marshal over their plain,
// documented struct tags is exactly what CreateChatCompletionStream itself
// does internally) and streams the response over internal/transport.
func (p *OpenAIProvider) completeViaTransport(ctx context.Context, req *agent.CompletionRequest, chunks chan<- *agent.CompletionChunk) {
	messages, err := p.convertToOpenAIMessages(req.Messages, req.System)
	if err != nil {
		chunks <- &agent.CompletionChunk{Error: fmt.Errorf("failed to convert messages: %w", err)}
		return
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   true,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = p.convertToOpenAITools(req.Tools)
	}

	body, err := json.Marshal(chatReq)
	if err != nil {
		chunks <- &agent.CompletionChunk{Error: fmt.Errorf("failed to marshal request: %w", err)}
		return
	}

	headers := map[string]string{
		"content-type":  "application/json",
		"accept":        "text/event-stream",
		"authorization": "Bearer " + p.apiKey,
	}

	url := p.chatCompletionsURL
	if url == "" {
		url = openaiChatCompletionsURL
	}

	client := &transport.Client{}
	pr, pw := io.Pipe()
	parseDone := make(chan error, 1)

	go func() {
		parseDone <- p.processWireStream(pr, chunks)
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
		chunks <- &agent.CompletionChunk{Error: p.wrapError(retryErr, req.Model)}
	}
}

func (p *OpenAIProvider) isRetryableTransportError(err error) bool {
	if statusErr, ok := err.(*transport.HttpStatusError); ok {
		return statusErr.Retryable()
	}
	if _, ok := err.(*transport.TransportError); ok {
		return true
	}
	return p.isRetryableError(err)
}

// openaiStreamChunk is a minimal decode target for one Chat Completions SSE
// data payload — independent of the SDK's own response type, since this
// path only ever unmarshals into it, never marshals it.
type openaiStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    *int `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// processWireStream decodes Chat Completions SSE data lines (terminated by
// the literal "[DONE]") using the package's shared ParseSSEStream parser,
// tracking in-progress tool calls by index the same way the old
// SDK-stream-based processStream did.
func (p *OpenAIProvider) processWireStream(r io.Reader, chunks chan<- *agent.CompletionChunk) error {
	toolCalls := make(map[int]*models.ToolCall)
	var inputTokens, outputTokens int
	var stopReason agent.StopReason

	flushToolCalls := func() {
		for _, tc := range toolCalls {
			if tc.ID != "" && tc.Name != "" {
				chunks <- &agent.CompletionChunk{ToolCall: tc}
			}
		}
		toolCalls = make(map[int]*models.ToolCall)
	}

	err := ParseSSEStream(r, func(_, data string) error {
		data = strings.TrimSpace(data)
		if data == "" {
			return nil
		}
		if data == "[DONE]" {
			flushToolCalls()
			chunks <- &agent.CompletionChunk{
				Done:         true,
				InputTokens:  inputTokens,
				OutputTokens: outputTokens,
				StopReason:   stopReason,
			}
			return nil
		}

		var chunk openaiStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return nil
		}

		if chunk.Usage != nil {
			inputTokens = chunk.Usage.PromptTokens
			outputTokens = chunk.Usage.CompletionTokens
		}

		if len(chunk.Choices) == 0 {
			return nil
		}
		choice := chunk.Choices[0]

		if choice.Delta.Content != "" {
			chunks <- &agent.CompletionChunk{Text: choice.Delta.Content}
		}

		for _, tc := range choice.Delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if toolCalls[index] == nil {
				toolCalls[index] = &models.ToolCall{}
			}
			if tc.ID != "" {
				toolCalls[index].ID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[index].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				current := ""
				if toolCalls[index].Input != nil {
					current = string(toolCalls[index].Input)
				}
				toolCalls[index].Input = json.RawMessage(current + tc.Function.Arguments)
			}
		}

		if choice.FinishReason != "" {
			stopReason = normalizeOpenAIStopReason(choice.FinishReason)
		}
		if choice.FinishReason == "tool_calls" {
			flushToolCalls()
		}

		return nil
	})
	if err != nil && err != io.EOF {
		return err
	}
	return nil
}

func normalizeOpenAIStopReason(raw string) agent.StopReason {
	switch raw {
	case "stop":
		return agent.StopReasonStop
	case "length":
		return agent.StopReasonLength
	case "tool_calls", "function_call":
		return agent.StopReasonToolCalls
	case "content_filter":
		return agent.StopReasonError
	default:
		return agent.StopReasonStop
	}
}
