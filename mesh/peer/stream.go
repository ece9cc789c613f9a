package peer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/internal/channel"
	"github.com/BaSui01/agentmesh/mesh/wire"
)

// sseDecoder reassembles newline-delimited `data:` lines from arbitrarily
// sized transport reads. A read can split a line anywhere, so the trailing
// partial line is buffered across feeds and only complete lines are parsed.
type sseDecoder struct {
	buf []byte
}

// feed appends one transport read and returns the payloads of every complete
// `data:` line it now holds. Non-data lines (comments, blank keep-alives) are
// dropped.
func (d *sseDecoder) feed(p []byte) []string {
	d.buf = append(d.buf, p...)

	var payloads []string
	for {
		idx := bytes.IndexByte(d.buf, '\n')
		if idx < 0 {
			return payloads
		}
		line := strings.TrimRight(string(d.buf[:idx]), "\r")
		d.buf = d.buf[idx+1:]

		if rest, ok := strings.CutPrefix(line, "data:"); ok {
			payloads = append(payloads, strings.TrimSpace(rest))
		}
	}
}

// SendMessageStreaming posts to /chat/stream on the peer and decodes the SSE
// response into a lazy frame stream. The caller may stop consuming at any
// point with Cancel, which releases the underlying connection. Transport
// failures surface as a single error frame; this method never raises.
func (c *Client) SendMessageStreaming(ctx context.Context, id string, req wire.ChatRequest) *channel.Stream[wire.StreamFrame] {
	ctx, cancelCtx := context.WithTimeout(ctx, c.config.ChatTimeout)
	stream := channel.New[wire.StreamFrame](16, cancelCtx)

	go c.runStream(ctx, cancelCtx, id, req, stream)
	return stream
}

func (c *Client) runStream(ctx context.Context, cancelCtx context.CancelFunc, id string, req wire.ChatRequest, stream *channel.Stream[wire.StreamFrame]) {
	defer cancelCtx()
	defer stream.Close()

	fail := func(format string, args ...any) {
		_ = stream.Send(ctx, wire.StreamFrame{Type: wire.FrameError, Error: fmt.Sprintf(format, args...)})
	}

	p, ok := c.GetPeer(id)
	if !ok {
		fail("unknown peer %q", id)
		return
	}

	body, err := json.Marshal(req)
	if err != nil {
		fail("encode request: %v", err)
		return
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/chat/stream", bytes.NewReader(body))
	if err != nil {
		fail("build request: %v", err)
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	setPeerAuth(httpReq, &p)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		fail("stream request to %s failed: %v", id, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		fail("peer returned status %d: %s", resp.StatusCode, truncate(string(raw), 200))
		return
	}

	decoder := &sseDecoder{}
	buf := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			for _, payload := range decoder.feed(buf[:n]) {
				if payload == wire.DoneSentinel {
					return
				}
				var frame wire.StreamFrame
				if err := json.Unmarshal([]byte(payload), &frame); err != nil {
					c.logger.Warn("dropping malformed stream frame",
						zap.String("peer_id", id), zap.Error(err))
					continue
				}
				if err := stream.Send(ctx, frame); err != nil {
					// Consumer canceled or deadline passed; the deferred
					// cancel releases the connection.
					return
				}
				if frame.Type == wire.FrameError {
					return
				}
			}
		}
		if readErr != nil {
			if readErr != io.EOF {
				fail("stream read from %s failed: %v", id, readErr)
			}
			return
		}
	}
}
