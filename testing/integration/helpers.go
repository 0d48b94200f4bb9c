// Package integration exercises chainz across real HTTP hops.
package integration

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/zoobzio/chainz"
	"github.com/zoobzio/chainz/sinks"
)

// Hop is one traced service in a test chain. Each hop has its own tracer and
// sink, the way separate processes would.
//
//nolint:govet // Field alignment optimized for test helper readability
type Hop struct {
	Name   string
	Server *httptest.Server
	Tracer *chainz.Tracer
	Sink   *sinks.Memory
	next   *Hop
	client *http.Client
}

// NewHop starts a hop that answers /work and, when next is set, calls
// next's /work first.
func NewHop(t *testing.T, name string, next *Hop) *Hop {
	t.Helper()

	sink := sinks.NewMemory()
	cfg := chainz.DefaultExporterConfig()
	cfg.Resource = map[string]string{"service.name": name}
	cfg.BatchTimeout = 10 * time.Millisecond
	exp, err := chainz.NewExporter(cfg, sink)
	if err != nil {
		t.Fatalf("failed to create exporter for %s: %v", name, err)
	}

	h := &Hop{
		Name:   name,
		Tracer: chainz.New(exp),
		Sink:   sink,
		next:   next,
	}
	h.client = chainz.NewClient(h.Tracer, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/work", h.work)
	h.Server = httptest.NewServer(chainz.Middleware(h.Tracer)(mux))

	t.Cleanup(func() {
		h.Server.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = h.Tracer.Shutdown(ctx)
	})
	return h
}

func (h *Hop) work(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.Tracer.StartSpan(r.Context(), h.Name+" operation", chainz.KindInternal)
	defer span.Finish()

	if h.next == nil {
		fmt.Fprint(w, h.Name)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.next.Server.URL+"/work", nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	resp, err := h.client.Do(req)
	if err != nil {
		span.RecordError(err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		http.Error(w, string(body), http.StatusBadGateway)
		return
	}
	fmt.Fprintf(w, "%s>%s", h.Name, body)
}

// Shutdown drains the hop's exporter.
func (h *Hop) Shutdown(t *testing.T) {
	t.Helper()
	if err := h.Tracer.Shutdown(context.Background()); err != nil {
		t.Fatalf("failed to shut down %s: %v", h.Name, err)
	}
}

// Fetch performs a GET with the given headers and returns the body of a 200.
func Fetch(url string, header http.Header) (string, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}
	return string(body), nil
}

// AllSpans gathers the spans of every hop.
func AllSpans(hops ...*Hop) []chainz.Span {
	var out []chainz.Span
	for _, h := range hops {
		out = append(out, h.Sink.Spans()...)
	}
	return out
}

// SpanTree indexes spans by ID for parent lookups.
type SpanTree map[chainz.SpanID]chainz.Span

// NewSpanTree builds a tree from spans.
func NewSpanTree(spans []chainz.Span) SpanTree {
	tree := make(SpanTree, len(spans))
	for _, s := range spans {
		tree[s.SpanID] = s
	}
	return tree
}

// Roots returns spans without a parent.
func (tr SpanTree) Roots() []chainz.Span {
	var roots []chainz.Span
	for _, s := range tr {
		if !s.HasParent() {
			roots = append(roots, s)
		}
	}
	return roots
}

// Orphans returns child spans whose parent is missing.
func (tr SpanTree) Orphans() []chainz.Span {
	var orphans []chainz.Span
	for _, s := range tr {
		if s.HasParent() {
			if _, ok := tr[s.ParentID]; !ok {
				orphans = append(orphans, s)
			}
		}
	}
	return orphans
}

// Depth returns the number of ancestors of s.
func (tr SpanTree) Depth(s chainz.Span) int {
	depth := 0
	for s.HasParent() {
		parent, ok := tr[s.ParentID]
		if !ok {
			break
		}
		s = parent
		depth++
	}
	return depth
}
