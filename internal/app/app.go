package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"opsagent/internal/auth"
	"opsagent/internal/config"
	"opsagent/internal/dashboard"
	"opsagent/internal/gateway"
	"opsagent/internal/llm"
	"opsagent/internal/munim"
	"opsagent/internal/notifications"
	"opsagent/internal/processing"
	"opsagent/internal/resolution"
	"opsagent/internal/server"
	"opsagent/internal/store"
	"opsagent/internal/tenants"

	"github.com/rs/zerolog/log"
)

// App holds the clients shared by every component of one process.
type App struct {
	Settings   config.Settings
	Resilience config.ResilienceConfig
	Store      *store.Store
	OAuth      *auth.OAuth
	Gateway    *gateway.Client
	Notifier   *notifications.Service
	Tenants    *tenants.Manager
}

// New opens the account database and builds the shared clients.
func New(settings config.Settings) (*App, error) {
	log.Debug().Msg("Initializing clients")

	db, err := store.Open(settings.Database)
	if err != nil {
		return nil, err
	}

	oauth, err := InitializeOAuth(settings.Google)
	if err != nil {
		db.Close()
		return nil, err
	}

	gw := gateway.NewClient(settings.Twilio.AccountSID, settings.Twilio.AuthToken, settings.Twilio.From)
	if settings.TwilioConfigured() {
		log.Info().Str("from", gw.From()).Msg("Twilio client connected")
	} else {
		log.Warn().Msg("TWILIO_SID/TWILIO_AUTH not set; alerts run in simulation mode")
	}

	notifier := notifications.NewService(
		gw,
		resolution.WhatsAppAddress(settings.Twilio.OwnerNumber),
		InitializeNotificationClient(settings.Ntfy),
		config.DefaultResilienceConfig.Notify,
	)

	a := &App{
		Settings:   settings,
		Resilience: config.DefaultResilienceConfig,
		Store:      db,
		OAuth:      oauth,
		Gateway:    gw,
		Notifier:   notifier,
		Tenants:    tenants.NewManager(db, oauth, settings),
	}
	log.Debug().Msg("Clients initialized successfully")
	return a, nil
}

// Close logs delivery counters and closes the account database.
func (a *App) Close() error {
	m := a.Notifier.Metrics()
	log.Info().
		Int64("alerts_sent", m.Sent).
		Int64("alerts_simulated", m.Simulated).
		Int64("alerts_failed", m.Failed).
		Int64("ntfy_sent", m.MirrorSent).
		Int64("ntfy_failed", m.MirrorFailed).
		Int64("twilio_calls", a.Gateway.GetAPICallCount()).
		Msg("Shutting down")
	return a.Store.Close()
}

// InitializeOAuth loads the OAuth client file. A missing file disables login
// rather than failing, so the memory backend and service accounts still work.
func InitializeOAuth(g config.GoogleSettings) (*auth.OAuth, error) {
	if g.ClientSecretsFile == "" {
		return nil, nil
	}
	if _, err := os.Stat(g.ClientSecretsFile); errors.Is(err, os.ErrNotExist) {
		log.Warn().Str("file", g.ClientSecretsFile).Msg("OAuth client file not found; Google login disabled")
		return nil, nil
	}
	return auth.LoadOAuth(g.ClientSecretsFile, g.RedirectURL)
}

// InitializeNotificationClient creates the ntfy mirror client.
func InitializeNotificationClient(n config.NtfySettings) *notifications.Client {
	log.Debug().
		Bool("enabled", n.Enabled).
		Str("base_url", n.URL).
		Str("topic", n.Topic).
		Msg("Initializing notification client")

	rc := config.DefaultResilienceConfig.Notify
	rc.Name = "ntfy mirror"
	client := notifications.NewClient(n.URL, n.Topic, n.Priority, n.Enabled, rc)

	if n.Enabled {
		log.Info().Str("topic", n.Topic).Msg("Notifications enabled")
	} else {
		log.Debug().Msg("Notifications disabled")
	}
	return client
}

// WebhookServer builds the inbound message server.
func (a *App) WebhookServer(ctx context.Context) (*server.Server, error) {
	analyzer, err := llm.NewGemini(ctx, a.Settings.Gemini.APIKey, a.Settings.Gemini.Model, a.Resilience.LLMRequest)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}

	deps := server.Deps{
		Tenants:           a.Tenants,
		Accounts:          a.Store,
		Gateway:           a.Gateway,
		Analyzer:          analyzer,
		Dispatcher:        processing.NewDispatcher(a.Settings.Munim.FuzzyThreshold),
		ValidateSignature: a.Settings.Twilio.ValidateSignature,
		PublicURL:         a.Settings.Server.PublicURL,
		DashboardURL:      a.Settings.Dashboard.PublicURL,
		DashboardAddr:     a.Settings.Dashboard.ListenAddr,
	}
	// A nil *auth.OAuth must stay a nil interface.
	if a.OAuth != nil {
		deps.OAuth = a.OAuth
	}
	return server.New(deps), nil
}

func (a *App) Monitor() *munim.Monitor {
	return munim.NewMonitor(a.Tenants, a.Notifier, a.Settings.Munim, a.Resilience)
}

func (a *App) Dashboard() *dashboard.Dashboard {
	return dashboard.New(a.Tenants, a.Store, a.Settings, a.Resilience)
}
