package main

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/zoobzio/chainz"
	"github.com/zoobzio/chainz/ginware"
	"go.uber.org/zap"
)

// service is one hop in the chain: it answers its routes and, when a
// downstream hop is configured, calls it first.
type service struct {
	tracer     *chainz.Tracer
	client     *http.Client
	logger     *zap.Logger
	downstream string
	peer       string
}

func newService(tracer *chainz.Tracer, logger *zap.Logger, downstream, peer string) *service {
	return &service{
		tracer:     tracer,
		client:     chainz.NewClient(tracer, nil),
		logger:     logger,
		downstream: downstream,
		peer:       peer,
	}
}

func (s *service) routes(gatherer prometheus.Gatherer) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	traced := r.Group("/", ginware.Middleware(s.tracer))
	traced.GET("/go-chain", func(c *gin.Context) {
		s.chain(c, "/go-chain", "", gin.H{"Hello": "world"})
	})
	traced.GET("/node-chain", func(c *gin.Context) {
		s.chain(c, "/node-chain", "/node-chain", gin.H{"otel": "go"})
	})
	return r
}

func (s *service) chain(c *gin.Context, route, downstreamPath string, reply gin.H) {
	ctx := c.Request.Context()
	s.logger.Info("incoming request", zap.String("route", route))

	s.operation(ctx, route)

	if s.downstream != "" {
		if err := s.callDownstream(ctx, route, s.downstream+downstreamPath); err != nil {
			s.logger.Warn("downstream call failed", zap.String("route", route), zap.Error(err))
			_ = c.Error(err)
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
	}

	c.JSON(http.StatusOK, reply)
}

// operation records the local work of a hop as a parent and child span.
func (s *service) operation(ctx context.Context, route string) {
	ctx, op := s.tracer.StartSpan(ctx, route+" operation", chainz.KindInternal)
	defer op.Finish()

	_, sub := s.tracer.StartSpan(ctx, route+" sub-operation", chainz.KindInternal)
	sub.Finish()
}

func (s *service) callDownstream(ctx context.Context, route, url string) error {
	ctx, span := s.tracer.StartSpan(ctx, route+" to downstream", chainz.KindInternal)
	defer span.Finish()
	if s.peer != "" {
		span.SetTag("peer.service", s.peer)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to build downstream request: %w", err)
	}

	s.logger.Debug("sending downstream request", zap.String("url", url))
	resp, err := s.client.Do(req)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("downstream request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to read downstream response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		err := fmt.Errorf("downstream answered %s", resp.Status)
		span.RecordError(err)
		return err
	}

	s.logger.Debug("downstream response received", zap.ByteString("body", body))
	return nil
}
