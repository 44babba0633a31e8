package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"opsagent/internal/auth"
	"opsagent/internal/llm"
	"opsagent/internal/processing"
	"opsagent/internal/tenants"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const maxRequestBodySize = 1 << 20

// TenantDirectory resolves and registers tenants.
type TenantDirectory interface {
	ForPhone(ctx context.Context, phone string) (*tenants.Tenant, error)
	ForEmail(ctx context.Context, email string) (*tenants.Tenant, error)
	Register(ctx context.Context, email string, tok *oauth2.Token) (*tenants.Tenant, error)
}

// PhoneLinker binds WhatsApp numbers to accounts.
type PhoneLinker interface {
	LinkPhone(ctx context.Context, email, phone string) error
}

// Gateway is the inbound side of the messaging transport.
type Gateway interface {
	ValidateRequest(url string, params map[string]string, signature string) bool
	DownloadMedia(ctx context.Context, url string) ([]byte, string, error)
}

// Authenticator runs the Google login flow.
type Authenticator interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	FetchEmail(ctx context.Context, tok *oauth2.Token) (string, error)
}

// Deps are the collaborators of the webhook server. OAuth and Accounts may be
// nil, which disables onboarding.
type Deps struct {
	Tenants    TenantDirectory
	Accounts   PhoneLinker
	Gateway    Gateway
	Analyzer   llm.Analyzer
	Dispatcher *processing.Dispatcher
	OAuth      Authenticator
	Sessions   *auth.Sessions

	// ValidateSignature rejects webhook calls without a valid
	// X-Twilio-Signature. PublicURL is the externally visible base URL
	// Twilio signs against.
	ValidateSignature bool
	PublicURL         string

	// DashboardURL is the dashboard's external base URL. When empty the
	// index links to DashboardAddr's port on the host the request came in on.
	DashboardURL  string
	DashboardAddr string
}

// Server handles the WhatsApp webhook and owner onboarding.
type Server struct {
	deps Deps
}

func New(deps Deps) *Server {
	if deps.Sessions == nil {
		deps.Sessions = auth.NewSessions(auth.DefaultSessionTTL)
	}
	return &Server{deps: deps}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger)

	r.Get("/", s.handleIndex)
	r.Get("/healthz", handleHealth)
	r.Get("/login", s.handleLogin)
	r.Get("/callback", s.handleCallback)
	r.Post("/link", s.handleLink)
	r.Post("/whatsapp", s.handleWhatsApp)

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// RequestLogger logs one line per request at debug level.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Str("request_id", middleware.GetReqID(r.Context())).
			Dur("took", time.Since(start)).
			Msg("HTTP request")
	})
}

// Serve runs handler on addr until ctx is cancelled, then shuts down
// gracefully.
func Serve(ctx context.Context, name, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("component", name).Str("addr", addr).Msg("Listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info().Str("component", name).Msg("Shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("%s server: %w", name, err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
