package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentmesh/llm"
	"github.com/BaSui01/agentmesh/types"
)

func newTestProvider(baseURL string) *Provider {
	return New(Config{
		Name:    "backend",
		BaseURL: baseURL,
		APIKey:  "test-key",
		Models:  []string{"test-model"},
	}, nil)
}

func chatReq(content string) *llm.ChatRequest {
	return &llm.ChatRequest{
		Model:    "test-model",
		Messages: []types.Message{types.UserMessage(content)},
	}
}

func TestCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var payload chatPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "test-model", payload.Model)
		assert.False(t, payload.Stream)
		require.Len(t, payload.Messages, 1)
		assert.Equal(t, "user", payload.Messages[0].Role)

		json.NewEncoder(w).Encode(chatResponse{
			ID:    "cmpl-1",
			Model: "test-model",
			Choices: []chatChoice{{
				Message:      chatMessage{Role: "assistant", Content: "hello back"},
				FinishReason: "stop",
			}},
			Usage: &chatUsage{PromptTokens: 3, CompletionTokens: 4, TotalTokens: 7},
		})
	}))
	defer srv.Close()

	p := newTestProvider(srv.URL + "/v1")
	resp, err := p.Completion(context.Background(), chatReq("hello"))
	require.NoError(t, err)

	assert.Equal(t, "cmpl-1", resp.ID)
	assert.Equal(t, "backend", resp.Provider)
	assert.Equal(t, "hello back", resp.Content)
	assert.Equal(t, 7, resp.Usage.TotalTokens)
}

func TestCompletionDefaultsToFirstConfiguredModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload chatPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "test-model", payload.Model)
		json.NewEncoder(w).Encode(chatResponse{
			Choices: []chatChoice{{Message: chatMessage{Content: "ok"}}},
		})
	}))
	defer srv.Close()

	p := newTestProvider(srv.URL)
	_, err := p.Completion(context.Background(), &llm.ChatRequest{
		Messages: []types.Message{types.UserMessage("hi")},
	})
	require.NoError(t, err)
}

func TestCompletionBackendErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := newTestProvider(srv.URL)
	_, err := p.Completion(context.Background(), chatReq("hi"))
	require.Error(t, err)
	assert.Equal(t, types.ErrUpstreamError, types.GetErrorCode(err))
	assert.Contains(t, err.Error(), "503")
	assert.True(t, types.IsRetryable(err))
}

func TestCompletionUnreachableBackend(t *testing.T) {
	p := newTestProvider("http://127.0.0.1:1")
	_, err := p.Completion(context.Background(), chatReq("hi"))
	require.Error(t, err)
	assert.Equal(t, types.ErrUpstreamError, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
}

func TestCompletionNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(chatResponse{})
	}))
	defer srv.Close()

	p := newTestProvider(srv.URL)
	_, err := p.Completion(context.Background(), chatReq("hi"))
	require.Error(t, err)
	assert.Equal(t, types.ErrUpstreamError, types.GetErrorCode(err))
}

func streamBody(lines ...string) string {
	out := ""
	for _, l := range lines {
		out += l + "\n\n"
	}
	return out
}

func deltaLine(content string) string {
	b, _ := json.Marshal(chatResponse{Choices: []chatChoice{{Delta: chatMessage{Content: content}}}})
	return "data: " + string(b)
}

func TestStream(t *testing.T) {
	finish, _ := json.Marshal(chatResponse{
		Choices: []chatChoice{{FinishReason: "stop"}},
		Usage:   &chatUsage{PromptTokens: 2, CompletionTokens: 3, TotalTokens: 5},
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload chatPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.True(t, payload.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, streamBody(
			deltaLine("Hel"),
			deltaLine("lo"),
			": keep-alive comment",
			"data: not json at all",
			"data: "+string(finish),
			"data: [DONE]",
			deltaLine("after done, never seen"),
		))
	}))
	defer srv.Close()

	p := newTestProvider(srv.URL)
	ch, err := p.Stream(context.Background(), chatReq("hi"))
	require.NoError(t, err)

	var chunks []llm.StreamChunk
	for c := range ch {
		require.NoError(t, c.Err)
		chunks = append(chunks, c)
	}

	require.Len(t, chunks, 3, "two deltas plus the finish chunk; junk lines dropped")
	assert.Equal(t, "Hel", chunks[0].Content)
	assert.Equal(t, "lo", chunks[1].Content)
	assert.Equal(t, "stop", chunks[2].FinishReason)
	require.NotNil(t, chunks[2].Usage)
	assert.Equal(t, 5, chunks[2].Usage.TotalTokens)
}

func TestStreamBackendErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := newTestProvider(srv.URL)
	_, err := p.Stream(context.Background(), chatReq("hi"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.False(t, types.IsRetryable(err))
}

func TestHealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models", r.URL.Path)
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	p := newTestProvider(srv.URL)
	status, err := p.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Healthy)
	assert.GreaterOrEqual(t, status.Latency.Nanoseconds(), int64(0))
}

func TestHealthCheckUnreachable(t *testing.T) {
	p := newTestProvider("http://127.0.0.1:1")
	status, err := p.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.False(t, status.Healthy)
}

func TestHasCredentials(t *testing.T) {
	keyed := New(Config{BaseURL: "https://api.example.com/v1", APIKey: "k"}, nil)
	assert.True(t, keyed.HasCredentials())

	keyless := New(Config{BaseURL: "https://api.example.com/v1"}, nil)
	assert.False(t, keyless.HasCredentials())

	local := New(Config{BaseURL: "http://localhost:11434/v1"}, nil)
	assert.True(t, local.HasCredentials(), "loopback runtimes need no key")
}
