package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// httpInvoker speaks the streamable HTTP transport: the request is POSTed as
// JSON and the response body is read as a stream of newline-delimited JSON
// objects. Intermediate objects are progress chunks; the last object is the
// result envelope. Servers that reply with a single JSON object are handled
// identically.
type httpInvoker struct {
	client *http.Client
}

func newHTTPInvoker() *httpInvoker {
	// Timeouts come from the per-call context; the client itself must not
	// impose a second deadline.
	return &httpInvoker{client: &http.Client{}}
}

func (h *httpInvoker) invoke(ctx context.Context, srv Server, req request) (*envelope, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode tool request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build tool request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, context.DeadlineExceeded
		}
		return nil, fmt.Errorf("tool server %s: %w", srv.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("tool server %s: unexpected status %d", srv.Name, resp.StatusCode)
	}

	var last []byte
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		last = append(last[:0], line...)
	}
	if err := sc.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, context.DeadlineExceeded
		}
		return nil, fmt.Errorf("read tool response: %w", err)
	}
	if len(last) == 0 {
		return nil, fmt.Errorf("%w: empty response body", errMalformed)
	}
	return decodeEnvelope(last)
}
