// Package ginware adapts chainz request tracing to gin.
package ginware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zoobzio/chainz"
)

// Middleware opens a server span per request, named after the matched route
// pattern. Requests that match no route use the raw path.
func Middleware(t *chainz.Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		_ = t.ServeInbound(c.Request.Context(), route, chainz.HeaderCarrier(c.Request.Header), func(ctx context.Context) error {
			span := chainz.SpanFromContext(ctx)
			span.SetTag(chainz.AttrHTTPMethod, c.Request.Method)
			span.SetTag(chainz.AttrHTTPTarget, c.Request.URL.RequestURI())

			c.Request = c.Request.WithContext(ctx)
			c.Next()

			status := c.Writer.Status()
			span.SetIntTag(chainz.AttrHTTPStatus, int64(status))
			if status >= http.StatusInternalServerError {
				span.SetStatus(chainz.StatusError, http.StatusText(status))
			}
			if len(c.Errors) > 0 {
				return c.Errors.Last()
			}
			return nil
		})
	}
}

// Span returns the server span of the request handled by c.
func Span(c *gin.Context) *chainz.ActiveSpan {
	return chainz.SpanFromContext(c.Request.Context())
}
