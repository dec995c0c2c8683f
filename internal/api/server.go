// Package api is the HTTP presentation layer: a gin router over the
// submission engine, the session registry, the store's read side, and the
// catalog snapshot.
//
// Handlers never mutate drafts directly; every operation locks the owning
// session and goes through an engine call, so the state machine's guards hold
// regardless of what the client sends, in which order, or how concurrently.
// Non-2xx responses all carry the same JSON envelope ([ErrorResponse]).
package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vdrs/dykscribe/internal/catalog"
	"github.com/vdrs/dykscribe/internal/health"
	"github.com/vdrs/dykscribe/internal/observe"
	"github.com/vdrs/dykscribe/internal/submission"
	"github.com/vdrs/dykscribe/internal/validate"
	"github.com/vdrs/dykscribe/pkg/provider/embeddings"
)

// Limits are the transport-level upload caps, applied via
// http.MaxBytesReader before a request body is read. Zero values fall back to
// the validation bounds; the validator's own limits always apply afterwards.
type Limits struct {
	MaxAudioBytes  int64
	MaxManualBytes int64
}

// withDefaults fills zero caps from the validation bounds.
func (l Limits) withDefaults() Limits {
	if l.MaxAudioBytes <= 0 {
		l.MaxAudioBytes = validate.MaxAudioBytes
	}
	if l.MaxManualBytes <= 0 {
		l.MaxManualBytes = validate.MaxManualBytes
	}
	return l
}

// Option configures a [Server].
type Option func(*Server)

// WithMetrics attaches metric instruments for HTTP middleware and the session
// gauge.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithEmbedder enables mode=similar on the search endpoint. Without one,
// similarity searches answer 501.
func WithEmbedder(p embeddings.Provider) Option {
	return func(s *Server) {
		s.embedder = p
	}
}

// WithLimits sets the transport upload caps.
func WithLimits(l Limits) Option {
	return func(s *Server) {
		s.limits = l
	}
}

// WithRegistry injects an externally created session registry, letting the
// caller wire the engine's transition hook to [Registry.Dispatch] before the
// server exists. Without it the server creates its own registry, which then
// cannot receive transitions.
func WithRegistry(r *Registry) Option {
	return func(s *Server) {
		s.sessions = r
	}
}

// WithSessionTTL sets the idle eviction window for the server-created
// registry. Ignored when [WithRegistry] is used.
func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Server) {
		s.sessionTTL = ttl
	}
}

// WithHealthCheckers appends readiness checks beyond the built-in database
// ping.
func WithHealthCheckers(checkers ...health.Checker) Option {
	return func(s *Server) {
		s.checkers = append(s.checkers, checkers...)
	}
}

// Server is the assembled HTTP surface. Construct with [NewServer], mount via
// [Server.Router], and release the registry janitor with [Server.Close].
type Server struct {
	engine   *submission.Engine
	store    submission.Store
	catalog  func() *catalog.Catalog
	embedder embeddings.Provider
	sessions *Registry
	metrics  *observe.Metrics
	limits   Limits
	checkers []health.Checker

	sessionTTL time.Duration
	ownsReg    bool
	router     *gin.Engine
}

// NewServer assembles the HTTP layer. snapshot must return the current
// catalog; a refresher-backed accessor keeps dropdowns and identity checks
// current without restarting the server.
func NewServer(engine *submission.Engine, store submission.Store, snapshot func() *catalog.Catalog, opts ...Option) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("api: engine must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("api: store must not be nil")
	}
	if snapshot == nil {
		return nil, fmt.Errorf("api: catalog snapshot accessor must not be nil")
	}

	s := &Server{
		engine:  engine,
		store:   store,
		catalog: snapshot,
	}
	for _, o := range opts {
		o(s)
	}
	s.limits = s.limits.withDefaults()

	if s.sessions == nil {
		s.sessions = NewRegistry(s.sessionTTL, s.metrics)
		s.ownsReg = true
	}

	s.router = s.buildRouter()
	return s, nil
}

// Router returns the gin engine with all routes registered. It implements
// http.Handler and plugs straight into an http.Server.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Sessions returns the session registry, exposed for wiring the engine's
// transition hook and for tests.
func (s *Server) Sessions() *Registry {
	return s.sessions
}

// Close stops the session registry's janitor if the server created it.
func (s *Server) Close() error {
	if s.ownsReg {
		s.sessions.Stop()
	}
	return nil
}

// buildRouter registers middleware and the route table.
func (s *Server) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(observe.Middleware(s.metrics), gin.Recovery())

	checkers := append([]health.Checker{{Name: "database", Check: s.store.Ping}}, s.checkers...)
	health.New(checkers...).Register(r)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	{
		v1.GET("/catalog", s.getCatalog)

		v1.POST("/sessions", s.createSession)
		v1.GET("/sessions/:id", s.getSession)
		v1.DELETE("/sessions/:id", s.deleteSession)
		v1.PATCH("/sessions/:id/draft", s.patchDraft)
		v1.POST("/sessions/:id/audio", s.uploadAudio)
		v1.DELETE("/sessions/:id/audio", s.removeAudio)
		v1.POST("/sessions/:id/manual", s.uploadManual)
		v1.DELETE("/sessions/:id/manual", s.removeManual)
		v1.POST("/sessions/:id/process", s.processDraft)
		v1.POST("/sessions/:id/persist", s.persistDraft)
		v1.GET("/sessions/:id/events", s.streamEvents)
		v1.GET("/sessions/:id/package", s.downloadPackage)

		v1.GET("/submissions", s.listSubmissions)
		v1.GET("/submissions/search", s.searchSubmissions)
		v1.GET("/submissions/:id", s.getSubmission)
	}

	return r
}
