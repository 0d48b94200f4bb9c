package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"github.com/klauspost/compress/gzip"
	"github.com/zoobzio/chainz"
)

// BatchIDHeader carries the batch ID so collectors can drop retried duplicates.
const BatchIDHeader = "X-Batch-ID"

// HTTPPayload is the JSON document posted for each batch.
type HTTPPayload struct {
	Resource map[string]string `json:"resource,omitempty"`
	BatchID  string            `json:"batch_id"`
	Spans    []chainz.Span     `json:"spans"`
}

// HTTP posts batches as JSON to a collector URL.
type HTTP struct {
	client *resty.Client
	url    string
	gzip   bool
}

// HTTPOption customizes an HTTP sink.
type HTTPOption func(*HTTP)

// WithHTTPClient sends requests through hc.
func WithHTTPClient(hc *http.Client) HTTPOption {
	return func(h *HTTP) {
		if hc.Transport != nil {
			h.client.SetTransport(hc.Transport)
		}
		h.client.SetTimeout(hc.Timeout)
	}
}

// WithHeader adds a header to every request, e.g. an API key.
func WithHeader(key, value string) HTTPOption {
	return func(h *HTTP) {
		h.client.SetHeader(key, value)
	}
}

// WithTimeout bounds each request. The exporter's per-attempt context still
// applies.
func WithTimeout(d time.Duration) HTTPOption {
	return func(h *HTTP) {
		h.client.SetTimeout(d)
	}
}

// WithGzip compresses request bodies.
func WithGzip() HTTPOption {
	return func(h *HTTP) {
		h.gzip = true
	}
}

// NewHTTP creates a sink posting to url.
func NewHTTP(url string, opts ...HTTPOption) *HTTP {
	h := &HTTP{
		client: resty.New().
			SetHeader("Content-Type", "application/json").
			SetHeader("User-Agent", "chainz-exporter"),
		url: url,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Submit posts the batch. Client errors other than 408 and 429 are permanent
// and are not retried by the exporter.
func (h *HTTP) Submit(ctx context.Context, batch chainz.Batch) error {
	payload := HTTPPayload{
		Resource: batch.Resource,
		BatchID:  batch.ID,
		Spans:    batch.Spans,
	}

	req := h.client.R().
		SetContext(ctx).
		SetHeader(BatchIDHeader, batch.ID)
	if h.gzip {
		body, err := gzipJSON(payload)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to encode batch: %w", err))
		}
		req.SetHeader("Content-Encoding", "gzip").SetBody(body)
	} else {
		req.SetBody(payload)
	}

	resp, err := req.Post(h.url)
	if err != nil {
		return fmt.Errorf("failed to post batch: %w", err)
	}

	if !resp.IsError() {
		return nil
	}

	err = fmt.Errorf("collector rejected batch: %s", resp.Status())
	switch code := resp.StatusCode(); {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return err
	case code >= 400 && code < 500:
		return backoff.Permanent(err)
	default:
		return err
	}
}

func gzipJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if err := json.NewEncoder(zw).Encode(v); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
