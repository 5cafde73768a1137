package control

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"flight-price-alerts/internal/model"
	"flight-price-alerts/internal/scheduler"
)

// commandTimeout bounds how long a request waits for the current cycle to finish.
const commandTimeout = 2 * time.Minute

// Server exposes the operator commands over HTTP.
type Server struct {
	sched  Scheduler
	routes RouteLister
	mux    *http.ServeMux
	logger zerolog.Logger
}

// NewServer creates the control API.
func NewServer(sched Scheduler, routes RouteLister, logger zerolog.Logger) *Server {
	s := &Server{
		sched:  sched,
		routes: routes,
		mux:    http.NewServeMux(),
		logger: logger.With().Str("component", "control_http").Logger(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /v1/state", s.handleState)
	s.mux.HandleFunc("GET /v1/routes", s.handleRoutes)
	s.mux.HandleFunc("POST /v1/stop", s.handleCommand(scheduler.Stop))
	s.mux.HandleFunc("POST /v1/recheck", s.handleCommand(scheduler.Recheck))
	s.mux.HandleFunc("PUT /v1/routes/{id}/threshold", s.handleThreshold)
}

// Handler returns the HTTP handler for this server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("control api listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

type routeView struct {
	ID          string `json:"id"`
	Origin      string `json:"origin"`
	Destination string `json:"destination"`
	Date        string `json:"date"`
	Currency    string `json:"currency"`
	Threshold   string `json:"threshold"`
	Recipient   string `json:"recipient"`
}

func viewRoute(r model.Route) routeView {
	return routeView{
		ID:          r.ID,
		Origin:      r.Origin,
		Destination: r.Destination,
		Date:        r.Date(),
		Currency:    r.Currency,
		Threshold:   r.Threshold.String(),
		Recipient:   r.Recipient,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"state": s.sched.State().String()})
}

func (s *Server) handleRoutes(w http.ResponseWriter, _ *http.Request) {
	routes := s.routes.Routes()
	out := make([]routeView, 0, len(routes))
	for _, r := range routes {
		out = append(out, viewRoute(r))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCommand(build func() scheduler.Command) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cmd := build()
		if err := s.submit(r.Context(), cmd); err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "ok", "command": cmd.Kind.String()})
	}
}

func (s *Server) handleThreshold(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Threshold decimal.Decimal `json:"threshold"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body: " + err.Error()})
		return
	}

	id := r.PathValue("id")
	if err := s.submit(r.Context(), scheduler.SetThreshold(id, body.Threshold)); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "threshold": body.Threshold.String()})
}

func (s *Server) submit(ctx context.Context, cmd scheduler.Command) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	return s.sched.Submit(ctx, cmd)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrUnknownRoute):
		status = http.StatusNotFound
	case errors.Is(err, model.ErrInvalidThreshold):
		status = http.StatusBadRequest
	case errors.Is(err, scheduler.ErrStopped):
		status = http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	default:
		s.logger.Error().Err(err).Msg("control command failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
