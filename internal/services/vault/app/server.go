// Package app composes the covault server: the HTTP auth surface and the
// WebSocket protocol surface over the shared state store and hub.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/covaulthq/covault/internal/platform/errors"
	"github.com/covaulthq/covault/internal/protocol"
	"github.com/covaulthq/covault/internal/services/auth"
	"github.com/covaulthq/covault/internal/services/vault/handler"
	"github.com/covaulthq/covault/internal/services/vault/hub"
	"github.com/covaulthq/covault/internal/services/vault/state"
)

// Config holds the serving surfaces and connection limits.
type Config struct {
	HTTPAddr           string        `env:"COVAULT_HTTP_ADDR"            envDefault:":8080"`
	WSAddr             string        `env:"COVAULT_WS_ADDR"              envDefault:":8081"`
	QueueSize          int           `env:"COVAULT_WS_QUEUE_SIZE"        envDefault:"64"`
	IdleTimeout        time.Duration `env:"COVAULT_WS_IDLE_TIMEOUT"      envDefault:"90s"`
	MaxFramesPerSecond int           `env:"COVAULT_WS_MAX_FRAMES_PER_SEC" envDefault:"20"`
	Verbose            bool
}

func (cfg Config) withDefaults() Config {
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}
	if cfg.WSAddr == "" {
		cfg.WSAddr = ":8081"
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 90 * time.Second
	}
	if cfg.MaxFramesPerSecond <= 0 {
		cfg.MaxFramesPerSecond = 20
	}
	return cfg
}

// Directory adapts the state store to the auth gateway's user resolution.
type Directory struct {
	Store *state.Store
}

// ResolveOrCreateUser implements auth.Directory.
func (d Directory) ResolveOrCreateUser(ctx context.Context, email string) (auth.User, error) {
	u, err := d.Store.ResolveOrCreateUser(ctx, email)
	if err != nil {
		return auth.User{}, err
	}
	return auth.User{ID: u.ID, Email: u.Email, OrgID: u.OrgID}, nil
}

// Server wires the auth gateway, state store, hub, and request handler behind
// the two listening surfaces.
type Server struct {
	cfg     Config
	gateway *auth.Gateway
	store   *state.Store
	hub     *hub.Hub
	handler *handler.Handler
}

// New builds the server around an already-loaded state store.
func New(cfg Config, gateway *auth.Gateway, store *state.Store) *Server {
	h := hub.New()
	return &Server{
		cfg:     cfg.withDefaults(),
		gateway: gateway,
		store:   store,
		hub:     h,
		handler: handler.New(store, h, nil),
	}
}

// Run serves both surfaces until the context is canceled or a listener fails.
func Run(ctx context.Context, cfg Config, gateway *auth.Gateway, store *state.Store) error {
	s := New(cfg, gateway, store)

	httpSrv := &http.Server{Addr: s.cfg.HTTPAddr, Handler: s.AuthHandler()}
	wsSrv := &http.Server{Addr: s.cfg.WSAddr, Handler: s.WSHandler()}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("app: auth surface listening on %s", s.cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		log.Printf("app: protocol surface listening on %s", s.cfg.WSAddr)
		if err := wsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve ws: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
		_ = wsSrv.Shutdown(shutdownCtx)
		return nil
	})
	return g.Wait()
}

// AuthHandler serves the HTTP auth surface.
func (s *Server) AuthHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/up", handleUp)
	mux.HandleFunc("/auth/request-code", s.handleRequestCode)
	mux.HandleFunc("/auth/verify-code", s.handleVerifyCode)
	mux.HandleFunc("/auth/logout", s.handleLogout)
	return mux
}

func handleUp(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func (s *Server) handleRequestCode(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req protocol.RequestCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeHTTPError(w, apperrors.Wrap(apperrors.CodeProtocolMalformed, "invalid request body", err))
		return
	}
	if err := s.gateway.RequestCode(r.Context(), req.Email); err != nil {
		writeHTTPError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.AckResult{Status: "ok"})
}

func (s *Server) handleVerifyCode(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req protocol.VerifyCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeHTTPError(w, apperrors.Wrap(apperrors.CodeProtocolMalformed, "invalid request body", err))
		return
	}
	session, err := s.gateway.VerifyCode(r.Context(), req.Email, req.Code)
	if err != nil {
		writeHTTPError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.VerifyCodeResponse{
		Token:     session.Token,
		UserID:    session.UserID,
		OrgID:     session.OrgID,
		ExpiresAt: session.ExpiresAt.Unix(),
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	token := bearerToken(r)
	if token == "" {
		writeHTTPError(w, apperrors.New(apperrors.CodeUnauthenticated, "bearer token is required"))
		return
	}
	s.gateway.Logout(r.Context(), token)
	writeJSON(w, http.StatusOK, protocol.AckResult{Status: "ok"})
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if scheme, token, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("app: write response: %v", err)
	}
}

func writeHTTPError(w http.ResponseWriter, err error) {
	code := apperrors.GetCode(err)
	message := err.Error()
	if code == apperrors.CodeUnknown || code == apperrors.CodeInternal {
		log.Printf("app: internal error: %v", err)
		code = apperrors.CodeInternal
		message = "internal server error"
	}
	writeJSON(w, code.HTTPStatus(), protocol.ErrorPayload{
		Category: string(code.WireCategory()),
		Code:     string(code),
		Message:  message,
		Details:  apperrors.GetMetadata(err),
	})
}
