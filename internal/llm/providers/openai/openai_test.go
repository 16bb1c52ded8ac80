package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loopsmith/loopsmith/internal/llm"
)

func TestChatParsesToolCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "m-large", req["model"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"choices": [{
				"index": 0,
				"finish_reason": "tool_calls",
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{
						"id": "call_1",
						"type": "function",
						"function": {"name": "read_file", "arguments": "{\"path\":\"main.go\"}"}
					}]
				}
			}],
			"usage": {"prompt_tokens": 11, "completion_tokens": 5, "total_tokens": 16}
		}`))
	}))
	defer server.Close()

	p := NewProvider("main", server.URL, "test-key", time.Second)
	resp, err := p.Chat(context.Background(), llm.ChatRequest{Model: "m-large"})
	require.NoError(t, err)
	require.Equal(t, "tool_calls", resp.FinishReason)
	require.Len(t, resp.Message.ToolCalls, 1)
	require.Equal(t, "call_1", resp.Message.ToolCalls[0].ID)
	require.Equal(t, "read_file", resp.Message.ToolCalls[0].Name)
	require.JSONEq(t, `{"path":"main.go"}`, string(resp.Message.ToolCalls[0].Arguments))
	require.Equal(t, 16, resp.Usage.TotalTokens)
}

func TestChatMarksServerErrorsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	p := NewProvider("main", server.URL, "", time.Second)
	_, err := p.Chat(context.Background(), llm.ChatRequest{Model: "m"})
	require.Error(t, err)

	var transient *llm.TransientError
	require.True(t, errors.As(err, &transient), "5xx should be retryable")
}

func TestChatKeepsClientErrorsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer server.Close()

	p := NewProvider("main", server.URL, "", time.Second)
	_, err := p.Chat(context.Background(), llm.ChatRequest{Model: "m"})
	require.Error(t, err)

	var transient *llm.TransientError
	require.False(t, errors.As(err, &transient), "4xx should not be retryable")
}

func TestChatRequiresModel(t *testing.T) {
	p := NewProvider("main", "http://localhost:0", "", time.Second)
	_, err := p.Chat(context.Background(), llm.ChatRequest{})
	require.Error(t, err)
}
