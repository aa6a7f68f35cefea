package forward

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"modelgate/internal/shared/metrics"
	"modelgate/internal/shared/models"
)

// ErrAllBackendsFailed means every candidate errored, timed out, or
// answered with a non-2xx status.
var ErrAllBackendsFailed = errors.New("all backends failed")

// Headers consumed by the hop in front of us; never forwarded upstream.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Result is the response of the first candidate that answered 2xx.
type Result struct {
	Backend    string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Forwarder replays a request against an ordered candidate list until one
// backend answers with a 2xx. Failover is stateless per request: each
// candidate is tried at most once, in the given order, with its own
// timeout. No state is carried between requests.
type Forwarder struct {
	client  *http.Client
	timeout time.Duration
}

func New(timeout time.Duration) *Forwarder {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Forwarder{client: &http.Client{}, timeout: timeout}
}

// Forward iterates the candidates in order and returns the first 2xx
// response. Non-2xx responses and transport errors both mean
// this-candidate-failed; the loop moves on without retrying.
func (f *Forwarder) Forward(ctx context.Context, method, path, rawQuery string, header http.Header, body []byte, candidates []models.Backend) (*Result, error) {
	m := metrics.Global()

	for _, backend := range candidates {
		res, err := f.attempt(ctx, method, path, rawQuery, header, body, backend)
		if err != nil {
			m.ForwardAttempts.WithLabelValues(backend.Name, "error").Inc()
			log.Warn().Err(err).Str("backend", backend.Name).Str("path", path).Msg("backend attempt failed")
			continue
		}
		if res.StatusCode >= 200 && res.StatusCode < 300 {
			m.ForwardAttempts.WithLabelValues(backend.Name, "ok").Inc()
			return res, nil
		}
		m.ForwardAttempts.WithLabelValues(backend.Name, "upstream_error").Inc()
		log.Warn().Int("status", res.StatusCode).Str("backend", backend.Name).Str("path", path).Msg("backend answered non-2xx, trying next")
	}

	return nil, ErrAllBackendsFailed
}

func (f *Forwarder) attempt(ctx context.Context, method, path, rawQuery string, header http.Header, body []byte, backend models.Backend) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	target := strings.TrimSuffix(backend.BaseURL, "/") + path
	if rawQuery != "" {
		target += "?" + rawQuery
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", backend.Name, err)
	}

	req.Header = header.Clone()
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	for _, h := range hopHeaders {
		req.Header.Del(h)
	}
	// The client sets Content-Length from the body reader.
	req.Header.Del("Content-Length")
	// The gateway credential is replaced with the backend's own; a backend
	// without one receives the inbound header untouched.
	if backend.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+backend.APIKey)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("forward to %s: %w", backend.Name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response from %s: %w", backend.Name, err)
	}

	return &Result{
		Backend:    backend.Name,
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       respBody,
	}, nil
}
