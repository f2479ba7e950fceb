package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/MrEthical07/portalauth"
	promexport "github.com/MrEthical07/portalauth/metrics/export/prometheus"
)

const shutdownTimeout = 10 * time.Second

type sessionView struct {
	ID          string         `json:"id"`
	Email       string         `json:"email,omitempty"`
	DisplayName string         `json:"display_name,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	ExpiresAt   *time.Time     `json:"expires_at,omitempty"`
}

type stateView struct {
	State   string       `json:"state"`
	Header  string       `json:"header"`
	Session *sessionView `json:"session,omitempty"`
}

type errorView struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func viewOf(state portalauth.SessionState, sess *portalauth.Session) stateView {
	v := stateView{State: state.String(), Header: headerLine(sess)}
	if sess != nil {
		v.Session = &sessionView{
			ID:          sess.ID,
			Email:       sess.Email,
			DisplayName: sess.DisplayName,
			Metadata:    sess.Metadata,
		}
		if !sess.ExpiresAt.IsZero() {
			at := sess.ExpiresAt.UTC()
			v.Session.ExpiresAt = &at
		}
	}
	return v
}

// statusFor maps an auth failure onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, portalauth.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, portalauth.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, portalauth.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, portalauth.ErrConfirmationPending):
		return http.StatusForbidden
	default:
		return http.StatusBadGateway
	}
}

type server struct {
	engine *portalauth.Engine
	logger *slog.Logger
}

// newRouter exposes the engine's session state over HTTP.
func newRouter(engine *portalauth.Engine, logger *slog.Logger) http.Handler {
	s := &server{engine: engine, logger: logger}
	exporter := promexport.NewPrometheusExporter(engine)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.healthz)
	r.Get("/session", s.session)
	r.Post("/signin", s.signIn)
	r.Post("/signout", s.signOut)
	r.Method(http.MethodGet, "/metrics", exporter.Handler())
	return r
}

func (s *server) healthz(w http.ResponseWriter, _ *http.Request) {
	if s.engine.State() == portalauth.StateUninitialized {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "initializing"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "gateway": s.engine.GatewayName()})
}

func (s *server) session(w http.ResponseWriter, _ *http.Request) {
	state, sess, _ := s.engine.Store().Snapshot()
	writeJSON(w, http.StatusOK, viewOf(state, sess))
}

func (s *server) signIn(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, errorView{Error: "bad_request", Message: "body must be a JSON object with email and password"})
		return
	}

	sess, err := s.engine.SignIn(r.Context(), in.Email, in.Password)
	switch {
	case err == nil:
	case errors.Is(err, portalauth.ErrSuperseded):
		if sess == nil {
			writeJSON(w, http.StatusConflict, errorView{Error: "superseded", Message: err.Error()})
			return
		}
	default:
		ae := portalauth.AsAuthError(err)
		writeJSON(w, statusFor(err), errorView{Error: ae.Kind.String(), Code: ae.Code, Message: failureMessage(err)})
		return
	}
	writeJSON(w, http.StatusOK, viewOf(portalauth.StateAuthenticated, sess))
}

func (s *server) signOut(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.SignOut(r.Context()); err != nil {
		s.logger.Warn("portalctl: provider did not confirm sign-out", slog.Any("error", err))
	}
	state, sess, _ := s.engine.Store().Snapshot()
	writeJSON(w, http.StatusOK, viewOf(state, sess))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func newServeCmd(s *settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve session state, sign-in and metrics over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr, _ := cmd.Flags().GetString("addr")

			rt, err := s.open(cmd, true)
			if err != nil {
				return err
			}
			defer rt.Close()

			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", addr, err)
			}
			return serve(cmd.Context(), ln, newRouter(rt.engine, rt.logger), rt.logger)
		},
	}
	cmd.Flags().String("addr", "127.0.0.1:8089", "listen address")
	return cmd
}

// serve runs srv on ln until ctx is done, then shuts it down gracefully.
func serve(ctx context.Context, ln net.Listener, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("portalctl: serving", slog.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info("portalctl: server stopped")
	return nil
}
