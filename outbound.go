package chainz

import (
	"context"
	"net/http"
)

// CallOutbound wraps one downstream call: a client span named target is
// started as a child of ctx's current span, its context is injected into c,
// and call runs with the client span current. The span is finished whatever
// call returns, and call's error is returned unchanged.
func (t *Tracer) CallOutbound(ctx context.Context, target string, c Carrier, call func(context.Context) error) error {
	ctx, span := t.StartSpan(ctx, target, KindClient)
	defer span.Finish()

	Inject(span.Context(), c)

	err := call(ctx)
	span.RecordError(err)
	return err
}

// Transport is an http.RoundTripper that opens a client span per request and
// propagates it downstream.
type Transport struct {
	Base   http.RoundTripper
	Tracer *Tracer
}

// NewTransport wraps base, or http.DefaultTransport when base is nil.
func NewTransport(t *Tracer, base http.RoundTripper) *Transport {
	return &Transport{Base: base, Tracer: t}
}

// NewClient returns an http.Client whose requests are traced.
func NewClient(t *Tracer, base http.RoundTripper) *http.Client {
	return &http.Client{Transport: NewTransport(t, base)}
}

// RoundTrip implements http.RoundTripper. The caller's request is not
// modified; headers are injected into a clone.
func (tr *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := tr.Base
	if base == nil {
		base = http.DefaultTransport
	}

	var resp *http.Response
	err := tr.Tracer.CallOutbound(req.Context(), req.Method+" "+req.URL.Host, nil, func(ctx context.Context) error {
		span := SpanFromContext(ctx)
		span.SetTag(AttrHTTPMethod, req.Method)
		span.SetTag(AttrHTTPURL, req.URL.String())
		span.SetTag(AttrPeerName, req.URL.Hostname())

		out := req.Clone(ctx)
		Inject(span.Context(), HeaderCarrier(out.Header))

		var err error
		resp, err = base.RoundTrip(out)
		if err != nil {
			return err
		}
		span.SetIntTag(AttrHTTPStatus, int64(resp.StatusCode))
		if resp.StatusCode >= http.StatusInternalServerError {
			span.SetStatus(StatusError, resp.Status)
		}
		return nil
	})
	return resp, err
}
