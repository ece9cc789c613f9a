package peer

import (
	"context"
	"time"

	"github.com/BaSui01/agentmesh/llm"
	"github.com/BaSui01/agentmesh/mesh/wire"
	"github.com/BaSui01/agentmesh/types"
)

// Provider adapts one remote peer into an llm.Provider, so upper layers
// (delegation in particular) can target peers and local backends uniformly.
type Provider struct {
	client *Client
	peerID string
}

// AsProvider wraps a registered peer. The peer does not need to be online;
// calls simply fail with peer-offline semantics until it is.
func (c *Client) AsProvider(peerID string) *Provider {
	return &Provider{client: c, peerID: peerID}
}

// Completion implements llm.Provider via POST /chat on the peer.
func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	result := p.client.SendMessage(ctx, p.peerID, wire.ChatRequest{
		Messages:    req.Messages,
		Model:       req.Model,
		Temperature: req.Temperature,
	})
	if !result.Success {
		return nil, types.NewError(types.ErrPeerOffline, result.Error).WithRetryable(true)
	}

	resp := &llm.ChatResponse{
		Provider:  p.Name(),
		Model:     req.Model,
		Content:   result.Content,
		CreatedAt: time.Now(),
	}
	if result.Metadata != nil {
		resp.Model = result.Metadata.Model
		resp.Usage = llm.ChatUsage{
			TotalTokens: result.Metadata.Tokens,
			Cost:        result.Metadata.Cost,
		}
	}
	return resp, nil
}

// Stream implements llm.Provider via the peer's SSE endpoint.
func (p *Provider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	stream := p.client.SendMessageStreaming(ctx, p.peerID, wire.ChatRequest{
		Messages:    req.Messages,
		Model:       req.Model,
		Temperature: req.Temperature,
	})

	out := make(chan llm.StreamChunk, 16)
	go func() {
		defer close(out)
		defer stream.Cancel()
		for {
			frame, ok := stream.Recv(ctx)
			if !ok {
				return
			}
			var chunk llm.StreamChunk
			switch frame.Type {
			case wire.FrameChunk:
				chunk.Content = frame.Content
			case wire.FrameComplete:
				chunk.FinishReason = "stop"
				if frame.Metadata != nil {
					chunk.Usage = &llm.ChatUsage{
						TotalTokens: frame.Metadata.Tokens,
						Cost:        frame.Metadata.Cost,
					}
				}
			case wire.FrameError:
				chunk.Err = types.NewError(types.ErrPeerOffline, frame.Error)
			default:
				continue
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// HealthCheck implements llm.Provider from the cached peer status after a
// fresh probe.
func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	p.client.CheckHealth(ctx, p.peerID)
	rp, ok := p.client.GetPeer(p.peerID)
	if !ok {
		return nil, types.NewError(types.ErrPeerNotFound, "unknown peer "+p.peerID)
	}
	return &llm.HealthStatus{
		Healthy: rp.Status == StatusOnline,
		Latency: time.Duration(rp.LatencyMs) * time.Millisecond,
	}, nil
}

// Name implements llm.Provider.
func (p *Provider) Name() string { return "peer:" + p.peerID }

// Models implements llm.Provider from the peer's cached info.
func (p *Provider) Models() []string {
	rp, ok := p.client.GetPeer(p.peerID)
	if !ok {
		return nil
	}
	return rp.AvailableModels
}

// HasCredentials implements llm.Provider: a registered peer is reachable by
// construction, with or without an API key.
func (p *Provider) HasCredentials() bool {
	_, ok := p.client.GetPeer(p.peerID)
	return ok
}
