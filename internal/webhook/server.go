package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// Server receives GitHub webhook deliveries, verifies their signatures, and
// dispatches verified events to the configured handler.
type Server struct {
	config  Config
	handler EventHandler
	logger  *slog.Logger
	server  *http.Server

	events map[string]struct{}
}

// New creates a webhook server. The handler receives only deliveries whose
// signature verified and whose event name is in config.Events.
func New(config Config, handler EventHandler, logger *slog.Logger) *Server {
	if config.MaxBodySize == 0 {
		config.MaxBodySize = DefaultMaxBodySize
	}

	var events map[string]struct{}
	if len(config.Events) > 0 {
		events = make(map[string]struct{}, len(config.Events))
		for _, e := range config.Events {
			events[e] = struct{}{}
		}
	}

	return &Server{
		config:  config,
		handler: handler,
		logger:  logger,
		events:  events,
	}
}

// Start runs the webhook HTTP server until ctx is cancelled (blocking).
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("webhook server starting", "listen", s.config.Listen, "events", s.config.Events)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("webhook server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("webhook server error: %w", err)
	}
}

// setupRoutes configures the HTTP router.
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Post("/", s.handleDelivery)

	return r
}

// loggingMiddleware logs HTTP requests (excludes payload content).
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("webhook request",
			"method", r.Method,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// handleDelivery handles an incoming webhook POST.
func (s *Server) handleDelivery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limitedReader := io.LimitReader(r.Body, s.config.MaxBodySize+1)
	body, err := io.ReadAll(limitedReader)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to read request body")
		return
	}
	if int64(len(body)) > s.config.MaxBodySize {
		s.respondError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	deliveryID := r.Header.Get(HeaderDelivery)
	if deliveryID == "" {
		deliveryID = uuid.NewString()
	}

	// Verify over the exact received bytes, before any parsing. Responses
	// for missing, malformed, and mismatched signatures are identical.
	signature := r.Header.Get(HeaderSignature)
	if err := Verify(body, signature, s.config.Secret); err != nil {
		s.logger.Warn("webhook delivery rejected",
			"delivery_id", deliveryID,
			"error", err,
		)
		s.respondError(w, http.StatusForbidden, "forbidden")
		return
	}

	event := r.Header.Get(HeaderEvent)
	if event == "" {
		s.respondError(w, http.StatusBadRequest, "missing event header")
		return
	}

	if s.events != nil {
		if _, ok := s.events[event]; !ok {
			s.respondJSON(w, http.StatusOK, InfoResponse{Info: "not listening to this event"})
			return
		}
	}

	if err := s.handler.HandleEvent(ctx, Delivery{
		ID:      deliveryID,
		Event:   event,
		Payload: json.RawMessage(body),
	}); err != nil {
		s.logger.Error("webhook delivery handling failed",
			"delivery_id", deliveryID,
			"event", event,
			"error", err,
		)
		s.respondError(w, http.StatusBadRequest, "could not process delivery")
		return
	}

	s.logger.Info("webhook delivery dispatched",
		"delivery_id", deliveryID,
		"event", event,
	)
	s.respondJSON(w, http.StatusAccepted, AcceptedResponse{DeliveryID: deliveryID})
}

// respondJSON sends a JSON response.
func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends a JSON error response.
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{Error: message})
}
