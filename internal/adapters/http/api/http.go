// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/okian/soccer-tracker/internal/adapters/http/swagger"
	"github.com/okian/soccer-tracker/internal/domain/model"
	"github.com/okian/soccer-tracker/pkg/logger"
)

const requestTimeout = 30 * time.Second

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	ListPlayers(ctx context.Context) ([]model.Player, error)
	GetPlayer(ctx context.Context, id string) (model.Player, error)
	CreatePlayer(ctx context.Context, f model.PlayerFields) (model.Player, error)
	UpdatePlayer(ctx context.Context, id string, f model.PlayerFields) (model.Player, error)
	DeletePlayer(ctx context.Context, id string) error

	ListStats(ctx context.Context, playerID string) ([]model.StatRecord, error)
	StatTrend(ctx context.Context, playerID string) ([]model.StatRecord, error)
	// CreateStat writes once per non-empty idempotency key.
	CreateStat(ctx context.Context, key, playerID string, raw map[string]any) (model.StatRecord, error)
	CreateStats(ctx context.Context, playerID string, raws []map[string]any) ([]model.StatRecord, error)
	UpdateStat(ctx context.Context, playerID, statID string, raw map[string]any) (model.StatRecord, error)
	DeleteStat(ctx context.Context, playerID, statID string) error

	Analytics(ctx context.Context, playerID string, wait bool) (model.View, error)
	RefreshAnalytics(ctx context.Context, playerID string) (model.View, error)
	Insights(ctx context.Context, maxAge, topN int) (model.Insights, error)
}

// StreamSession is a private analytics scope owned by one websocket.
type StreamSession interface {
	Select(ctx context.Context, playerID string) error
	Subscribe() (<-chan model.View, func())
	Close()
}

// StreamOpener creates a StreamSession per connection.
type StreamOpener func() (StreamSession, error)

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler    *HealthHandler
	statsHandler     *StatsHandler
	playersHandler   *PlayersHandler
	recordsHandler   *RecordsHandler
	analyticsHandler *AnalyticsHandler
	streamHandler    *StreamHandler

	streams     StreamOpener
	corsOrigins []string
	logger      logger.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithCORSOrigins sets the browser origins allowed to call the API.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) {
		s.corsOrigins = origins
	}
}

// WithStreams enables the websocket view stream.
func WithStreams(open StreamOpener) Option {
	return func(s *Server) {
		s.streams = open
	}
}

func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...Option) *Server {
	s := &Server{
		healthHandler:    NewHealthHandler(),
		statsHandler:     NewStatsHandler(statsProvider),
		playersHandler:   NewPlayersHandler(deps),
		recordsHandler:   NewRecordsHandler(deps),
		analyticsHandler: NewAnalyticsHandler(deps),
		logger:           logger.Get().Named("api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.streams != nil {
		s.streamHandler = NewStreamHandler(s.streams, s.corsOrigins, s.logger.Named("stream"))
	}
	return s
}

// Routes builds the router with every endpoint and middleware attached.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	if len(s.corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.corsOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "Idempotency-Key", "If-None-Match"},
			ExposedHeaders: []string{"ETag"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	r.Get("/metrics", MetricsMiddleware(s.healthHandler.HandleHealth, "metrics"))
	r.Get("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	swagger.Register(r)
	r.Method(http.MethodGet, "/insights", timed(s.analyticsHandler.HandleInsights, "insights"))

	r.Route("/players", func(r chi.Router) {
		r.Method(http.MethodGet, "/", timed(s.playersHandler.HandleList, "players"))
		r.Method(http.MethodPost, "/", timed(s.playersHandler.HandleCreate, "players"))

		r.Route("/{playerID}", func(r chi.Router) {
			r.Method(http.MethodGet, "/", timed(s.playersHandler.HandleGet, "player"))
			r.Method(http.MethodPut, "/", timed(s.playersHandler.HandleUpdate, "player"))
			r.Method(http.MethodDelete, "/", timed(s.playersHandler.HandleDelete, "player"))

			r.Method(http.MethodGet, "/stats", timed(s.recordsHandler.HandleList, "stats_list"))
			r.Method(http.MethodPost, "/stats", timed(s.recordsHandler.HandleCreate, "stats_create"))
			r.Method(http.MethodPost, "/stats/batch", timed(s.recordsHandler.HandleBatch, "stats_batch"))
			r.Method(http.MethodGet, "/stats/trend", timed(s.recordsHandler.HandleTrend, "stats_trend"))
			r.Method(http.MethodPut, "/stats/{statID}", timed(s.recordsHandler.HandleUpdate, "stats_update"))
			r.Method(http.MethodDelete, "/stats/{statID}", timed(s.recordsHandler.HandleDelete, "stats_delete"))

			r.Method(http.MethodGet, "/analytics", timed(s.analyticsHandler.HandleGet, "analytics"))
			r.Method(http.MethodPost, "/analytics/refresh", timed(s.analyticsHandler.HandleRefresh, "analytics_refresh"))
			// The stream outlives any request timeout.
			if s.streamHandler != nil {
				r.Get("/analytics/stream", s.streamHandler.HandleStream)
			}
		})
	})
	return r
}

// timed bounds a handler by the request timeout and records its metrics.
func timed(h http.HandlerFunc, endpoint string) http.Handler {
	return middleware.Timeout(requestTimeout)(MetricsMiddleware(h, endpoint))
}

// loggingMiddleware logs each request at debug level.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug(r.Context(), "http request",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", ww.Status()),
			logger.Int("bytes", ww.BytesWritten()),
			logger.Duration("duration", time.Since(start)),
			logger.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, ErrorResponse{Code: code, Message: msg})
}

// writeFailure classifies err and writes the matching error response.
func writeFailure(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	writeError(w, status, code, err)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return err
	}
	return nil
}
