package providers

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/wayfarer-ai/wayfarer/internal/agent"
)

func newOpenAIProviderForTest(t *testing.T, serverURL string) *OpenAIProvider {
	t.Helper()
	return &OpenAIProvider{
		apiKey:             "test-key",
		maxRetries:         0,
		retryDelay:         time.Millisecond,
		base:               NewBaseProvider("openai", 0, time.Millisecond),
		chatCompletionsURL: serverURL,
	}
}

func TestOpenAICompleteViaTransportTextStream(t *testing.T) {
	server := httptest.NewServer(newSSEHandler(t, strings.Join([]string{
		`data: {"choices":[{"delta":{"content":"Hello, "},"finish_reason":null}]}`,
		``,
		`data: {"choices":[{"delta":{"content":"world!"},"finish_reason":null}]}`,
		``,
		`data: {"choices":[{"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":7,"completion_tokens":2}}`,
		``,
		`data: [DONE]`,
		``,
	}, "\n")))
	defer server.Close()

	provider := newOpenAIProviderForTest(t, server.URL)

	req := &agent.CompletionRequest{
		Model:    "gpt-4o",
		Messages: []agent.CompletionMessage{{Role: "user", Content: "hi"}},
	}

	chunks, err := provider.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	var text strings.Builder
	var done bool
	var inputTokens, outputTokens int
	var stopReason agent.StopReason
	for chunk := range chunks {
		if chunk.Error != nil {
			t.Fatalf("unexpected chunk error: %v", chunk.Error)
		}
		text.WriteString(chunk.Text)
		if chunk.Done {
			done = true
			inputTokens = chunk.InputTokens
			outputTokens = chunk.OutputTokens
			stopReason = chunk.StopReason
		}
	}

	if text.String() != "Hello, world!" {
		t.Errorf("text = %q, want %q", text.String(), "Hello, world!")
	}
	if !done {
		t.Error("expected a Done chunk")
	}
	if inputTokens != 7 || outputTokens != 2 {
		t.Errorf("tokens = (%d, %d), want (7, 2)", inputTokens, outputTokens)
	}
	if stopReason != agent.StopReasonStop {
		t.Errorf("stopReason = %q, want %q", stopReason, agent.StopReasonStop)
	}
}

func TestOpenAICompleteViaTransportToolCall(t *testing.T) {
	server := httptest.NewServer(newSSEHandler(t, strings.Join([]string{
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"get_weather","arguments":""}}]},"finish_reason":null}]}`,
		``,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"city\":"}}]},"finish_reason":null}]}`,
		``,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"SF\"}"}}]},"finish_reason":"tool_calls"}]}`,
		``,
		`data: [DONE]`,
		``,
	}, "\n")))
	defer server.Close()

	provider := newOpenAIProviderForTest(t, server.URL)

	req := &agent.CompletionRequest{
		Model:    "gpt-4o",
		Messages: []agent.CompletionMessage{{Role: "user", Content: "weather in SF?"}},
		Tools: []agent.Tool{&mockTool{
			name:        "get_weather",
			description: "Gets the weather",
			schema:      []byte(`{"type":"object","properties":{"city":{"type":"string"}}}`),
		}},
	}

	chunks, err := provider.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	var sawToolCall bool
	var stopReason agent.StopReason
	for chunk := range chunks {
		if chunk.Error != nil {
			t.Fatalf("unexpected chunk error: %v", chunk.Error)
		}
		if chunk.ToolCall != nil {
			sawToolCall = true
			if chunk.ToolCall.ID != "call_1" || chunk.ToolCall.Name != "get_weather" {
				t.Errorf("unexpected tool call: %+v", chunk.ToolCall)
			}
			if string(chunk.ToolCall.Input) != `{"city":"SF"}` {
				t.Errorf("tool input = %s, want %s", chunk.ToolCall.Input, `{"city":"SF"}`)
			}
		}
		if chunk.Done {
			stopReason = chunk.StopReason
		}
	}

	if !sawToolCall {
		t.Error("expected a tool call chunk")
	}
	if stopReason != agent.StopReasonToolCalls {
		t.Errorf("stopReason = %q, want %q", stopReason, agent.StopReasonToolCalls)
	}
}

func TestOpenAICompleteViaTransportEmptyAPIKey(t *testing.T) {
	provider := &OpenAIProvider{}

	_, err := provider.Complete(context.Background(), &agent.CompletionRequest{
		Model:    "gpt-4o",
		Messages: []agent.CompletionMessage{{Role: "user", Content: "hi"}},
	})
	if err == nil {
		t.Error("expected an error when apiKey is empty")
	}
}
