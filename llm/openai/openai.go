// Package openai implements llm.Provider against any OpenAI-compatible chat
// completion endpoint. Most local runtimes (Ollama, LM Studio, vLLM) and the
// major cloud APIs speak this dialect.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/llm"
	"github.com/BaSui01/agentmesh/types"
)

// Config configures one OpenAI-compatible backend.
type Config struct {
	Name    string   `yaml:"name"`
	BaseURL string   `yaml:"base_url"`
	APIKey  string   `yaml:"api_key"`
	Models  []string `yaml:"models"`
}

// Provider is an OpenAI-compatible chat backend.
type Provider struct {
	config     Config
	httpClient *http.Client
	logger     *zap.Logger
}

// New creates a Provider. The HTTP client carries no global timeout; chat
// calls are bounded by their context.
func New(config Config, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		config:     config,
		httpClient: &http.Client{},
		logger:     logger.With(zap.String("component", "openai_provider"), zap.String("provider", config.Name)),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatPayload struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float32       `json:"temperature,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	FinishReason string      `json:"finish_reason"`
	Message      chatMessage `json:"message"`
	Delta        chatMessage `json:"delta"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   *chatUsage   `json:"usage"`
}

func (p *Provider) payload(req *llm.ChatRequest, stream bool) chatPayload {
	model := req.Model
	if model == "" && len(p.config.Models) > 0 {
		model = p.config.Models[0]
	}
	messages := make([]chatMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = chatMessage{Role: string(m.Role), Content: m.Content}
	}
	return chatPayload{
		Model:       model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	}
}

func (p *Provider) post(ctx context.Context, payload chatPayload) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "encode request").WithCause(err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(p.config.BaseURL, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "build request").WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, types.NewError(types.ErrUpstreamError, "backend unreachable").
			WithCause(err).WithRetryable(true)
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		resp.Body.Close()
		return nil, types.NewError(types.ErrUpstreamError,
			fmt.Sprintf("backend returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))).
			WithHTTPStatus(resp.StatusCode).
			WithRetryable(resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests)
	}
	return resp, nil
}

// Completion implements llm.Provider.
func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	payload := p.payload(req, false)
	resp, err := p.post(ctx, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, types.NewError(types.ErrUpstreamError, "malformed backend response").WithCause(err)
	}
	if len(parsed.Choices) == 0 {
		return nil, types.NewError(types.ErrUpstreamError, "backend returned no choices")
	}

	out := &llm.ChatResponse{
		ID:        parsed.ID,
		Provider:  p.config.Name,
		Model:     parsed.Model,
		Content:   parsed.Choices[0].Message.Content,
		CreatedAt: time.Now(),
	}
	if parsed.Usage != nil {
		out.Usage = llm.ChatUsage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		}
	}
	return out, nil
}

// Stream implements llm.Provider over the backend's SSE stream.
func (p *Provider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	payload := p.payload(req, true)
	resp, err := p.post(ctx, payload)
	if err != nil {
		return nil, err
	}

	out := make(chan llm.StreamChunk, 16)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line, ok := strings.CutPrefix(strings.TrimSpace(scanner.Text()), "data:")
			if !ok {
				continue
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if line == "[DONE]" {
				return
			}

			var parsed chatResponse
			if err := json.Unmarshal([]byte(line), &parsed); err != nil {
				p.logger.Debug("dropping malformed stream line", zap.String("line", line))
				continue
			}
			chunk := llm.StreamChunk{}
			if len(parsed.Choices) > 0 {
				chunk.Content = parsed.Choices[0].Delta.Content
				chunk.FinishReason = parsed.Choices[0].FinishReason
			}
			if parsed.Usage != nil {
				chunk.Usage = &llm.ChatUsage{
					PromptTokens:     parsed.Usage.PromptTokens,
					CompletionTokens: parsed.Usage.CompletionTokens,
					TotalTokens:      parsed.Usage.TotalTokens,
				}
			}
			if chunk.Content == "" && chunk.FinishReason == "" && chunk.Usage == nil {
				continue
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			out <- llm.StreamChunk{Err: types.NewError(types.ErrUpstreamError, "stream read failed").WithCause(err)}
		}
	}()
	return out, nil
}

// HealthCheck implements llm.Provider with a lightweight GET /models probe.
func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		strings.TrimRight(p.config.BaseURL, "/")+"/models", nil)
	if err != nil {
		return nil, err
	}
	if p.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}

	start := time.Now()
	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return &llm.HealthStatus{Healthy: false}, nil
	}
	resp.Body.Close()
	return &llm.HealthStatus{
		Healthy: resp.StatusCode < 500,
		Latency: time.Since(start),
	}, nil
}

// Name implements llm.Provider.
func (p *Provider) Name() string { return p.config.Name }

// Models implements llm.Provider.
func (p *Provider) Models() []string { return p.config.Models }

// HasCredentials implements llm.Provider. Local runtimes serve without an
// API key, so a loopback base URL counts as credentialed.
func (p *Provider) HasCredentials() bool {
	if p.config.APIKey != "" {
		return true
	}
	return strings.Contains(p.config.BaseURL, "localhost") ||
		strings.Contains(p.config.BaseURL, "127.0.0.1")
}
