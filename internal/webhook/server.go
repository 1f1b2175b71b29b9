package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	logx "dealbot/pkg/logx"
)

const maxBody = 1 << 20

// EventHandler processes one deal notification synchronously.
type EventHandler interface {
	OnObjectEvent(ctx context.Context, dealID string) error
}

// Recorder counts webhook events by result.
type Recorder interface {
	IncrementWebhook(result string)
}

// Handler wires the CRM webhook and health endpoints.
type Handler struct {
	events  EventHandler
	log     logx.Logger
	metrics Recorder
}

func New(events EventHandler, log logx.Logger, metrics Recorder) *Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Handler{events: events, log: log, metrics: metrics}
}

// Register mounts the webhook endpoint on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/hubspot/webhook", h.HandleHubSpot)
}

// Router builds the full HTTP surface. metricsHandler may be nil.
func Router(h *Handler, metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	health := func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
	r.Get("/", health)
	r.Head("/", health)
	r.Get("/healthz", health)
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}
	h.Register(r)
	return r
}

// HandleHubSpot handles POST /hubspot/webhook.
//
// It always answers 200 {"ok":true}; a non-2xx makes HubSpot redeliver the
// whole batch, which would only repeat the failure.
func (h *Handler) HandleHubSpot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := h.log.With(logx.String("delivery", uuid.NewString()))

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		log.Warn("webhook body read failed", logx.Err(err))
		writeOK(w)
		return
	}
	events, err := ParseEvents(body)
	if err != nil {
		log.Warn("webhook payload skipped", logx.Err(err), logx.Int("bytes", len(body)))
		writeOK(w)
		return
	}
	log.Debug("webhook received", logx.Int("events", len(events)))

	for _, ev := range events {
		if ev.ObjectID == "" {
			log.Warn("webhook event without object id", logx.String("object_type", ev.ObjectType))
			h.record("rejected")
			continue
		}
		if err := h.events.OnObjectEvent(ctx, ev.ObjectID); err != nil {
			log.Warn("webhook event failed", logx.DealID(ev.ObjectID), logx.Err(err))
			h.record("rejected")
			continue
		}
		h.record("accepted")
	}
	writeOK(w)
}

func (h *Handler) record(result string) {
	if h.metrics != nil {
		h.metrics.IncrementWebhook(result)
	}
}

func writeOK(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Server is the HTTP listener lifecycle.
type Server struct {
	srv *http.Server
	log logx.Logger
}

func NewServer(addr string, handler http.Handler, readHeaderTimeout time.Duration, log logx.Logger) *Server {
	if readHeaderTimeout <= 0 {
		readHeaderTimeout = 10 * time.Second
	}
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: readHeaderTimeout,
		},
		log: log,
	}
}

// Listen binds the address so callers know the port is taken before serving.
func (s *Server) Listen() (net.Listener, error) {
	return net.Listen("tcp", s.srv.Addr)
}

// Serve blocks until ctx is done, then shuts the server down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http listening", logx.String("addr", ln.Addr().String()))
		errCh <- s.srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(sctx); err != nil {
		s.log.Warn("http shutdown failed", logx.Err(err))
	}
	<-errCh
	return nil
}
