package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings is the full runtime configuration shared by the webhook server,
// the monitor, and the dashboard.
type Settings struct {
	Twilio    TwilioSettings    `yaml:"twilio"`
	Gemini    GeminiSettings    `yaml:"gemini"`
	Google    GoogleSettings    `yaml:"google"`
	Server    ServerSettings    `yaml:"server"`
	Munim     MunimSettings     `yaml:"munim"`
	Ntfy      NtfySettings      `yaml:"ntfy"`
	Dashboard DashboardSettings `yaml:"dashboard"`
	Database  string            `yaml:"database"`
	LogFile   string            `yaml:"log_file"`
}

type TwilioSettings struct {
	AccountSID        string `yaml:"account_sid"`
	AuthToken         string `yaml:"auth_token"`
	From              string `yaml:"from"`
	OwnerNumber       string `yaml:"owner_number"`
	ValidateSignature bool   `yaml:"validate_signature"`
}

type GeminiSettings struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

type GoogleSettings struct {
	ClientSecretsFile string `yaml:"client_secrets_file"`
	RedirectURL       string `yaml:"redirect_url"`
	TokenFile         string `yaml:"token_file"`
	CredentialsFile   string `yaml:"credentials_file"`
	SpreadsheetID     string `yaml:"spreadsheet_id"`
	SpreadsheetName   string `yaml:"spreadsheet_name"`
	// Backend is "google" or "memory".
	Backend string `yaml:"backend"`
}

type ServerSettings struct {
	ListenAddr string `yaml:"listen_addr"`
	PublicURL  string `yaml:"public_url"`
}

type MunimSettings struct {
	Interval          time.Duration `yaml:"interval"`
	LowStockThreshold int           `yaml:"low_stock_threshold"`
	KhataAlertAmount  float64       `yaml:"khata_alert_amount"`
	FuzzyThreshold    int           `yaml:"fuzzy_threshold"`
}

type NtfySettings struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`
	Topic    string `yaml:"topic"`
	Priority string `yaml:"priority"`
}

type DashboardSettings struct {
	ListenAddr      string        `yaml:"listen_addr"`
	PublicURL       string        `yaml:"public_url"`
	Refresh         time.Duration `yaml:"refresh"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	PasswordHash    string        `yaml:"password_hash"`
	RecentSalesRows int           `yaml:"recent_sales_rows"`
}

// Defaults returns the settings used when neither a config file nor the
// environment provides a value.
func Defaults() Settings {
	return Settings{
		Twilio: TwilioSettings{
			From: "whatsapp:+14155238886",
		},
		Gemini: GeminiSettings{
			Model: "gemini-flash-latest",
		},
		Google: GoogleSettings{
			ClientSecretsFile: "client_secret.json",
			RedirectURL:       "http://localhost:8000/callback",
			TokenFile:         "token.json",
			SpreadsheetName:   "OpsAgent_DB_v1",
			Backend:           "google",
		},
		Server: ServerSettings{
			ListenAddr: "127.0.0.1:8000",
		},
		Munim: MunimSettings{
			Interval:          60 * time.Second,
			LowStockThreshold: 10,
			KhataAlertAmount:  500,
			FuzzyThreshold:    80,
		},
		Ntfy: NtfySettings{
			URL:   "https://ntfy.sh",
			Topic: "opsagent-munim",
		},
		Dashboard: DashboardSettings{
			ListenAddr:      "127.0.0.1:8501",
			Refresh:         5 * time.Second,
			CacheTTL:        2 * time.Second,
			RecentSalesRows: 20,
		},
		Database: "opsagent.db",
	}
}

// Load builds Settings from defaults, the optional YAML file at path, and
// environment variables, in that order of precedence (env wins).
func Load(path string) (Settings, error) {
	s := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Settings{}, fmt.Errorf("reading config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &s); err != nil {
				return Settings{}, fmt.Errorf("parsing config file %s: %w", path, err)
			}
		}
	}

	if err := applyEnv(&s, os.Getenv); err != nil {
		return Settings{}, err
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate rejects settings the components cannot run with.
func (s Settings) Validate() error {
	if s.Munim.Interval <= 0 {
		return fmt.Errorf("munim interval must be positive, got %s", s.Munim.Interval)
	}
	if s.Munim.FuzzyThreshold < 0 || s.Munim.FuzzyThreshold > 100 {
		return fmt.Errorf("fuzzy threshold must be within 0..100, got %d", s.Munim.FuzzyThreshold)
	}
	switch s.Google.Backend {
	case "google", "memory":
	default:
		return fmt.Errorf("unknown sheets backend %q", s.Google.Backend)
	}
	return nil
}

// TwilioConfigured reports whether outbound WhatsApp messages can be sent.
func (s Settings) TwilioConfigured() bool {
	return s.Twilio.AccountSID != "" && s.Twilio.AuthToken != ""
}

func applyEnv(s *Settings, getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	boolean := func(key string, dst *bool) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				keep(fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	integer := func(key string, dst *int) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				keep(fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				keep(fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				keep(fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("TWILIO_SID", &s.Twilio.AccountSID)
	str("TWILIO_AUTH", &s.Twilio.AuthToken)
	str("TWILIO_FROM", &s.Twilio.From)
	str("TWILIO_TO_NUMBER", &s.Twilio.OwnerNumber)
	boolean("TWILIO_VALIDATE_SIGNATURE", &s.Twilio.ValidateSignature)

	str("GOOGLE_API_KEY", &s.Gemini.APIKey)
	str("GEMINI_MODEL", &s.Gemini.Model)

	str("GOOGLE_CLIENT_SECRETS", &s.Google.ClientSecretsFile)
	str("OAUTH_REDIRECT_URL", &s.Google.RedirectURL)
	str("TOKEN_FILE", &s.Google.TokenFile)
	str("GOOGLE_CREDENTIALS_FILE", &s.Google.CredentialsFile)
	str("SPREADSHEET_ID", &s.Google.SpreadsheetID)
	str("SPREADSHEET_NAME", &s.Google.SpreadsheetName)
	str("SHEETS_BACKEND", &s.Google.Backend)

	str("LISTEN_ADDR", &s.Server.ListenAddr)
	str("PUBLIC_URL", &s.Server.PublicURL)

	duration("MUNIM_INTERVAL", &s.Munim.Interval)
	integer("LOW_STOCK_THRESHOLD", &s.Munim.LowStockThreshold)
	float("KHATA_ALERT_AMOUNT", &s.Munim.KhataAlertAmount)
	integer("FUZZY_THRESHOLD", &s.Munim.FuzzyThreshold)

	boolean("NTFY_ENABLED", &s.Ntfy.Enabled)
	str("NTFY_URL", &s.Ntfy.URL)
	str("NTFY_TOPIC", &s.Ntfy.Topic)
	str("NTFY_PRIORITY", &s.Ntfy.Priority)

	str("DASHBOARD_ADDR", &s.Dashboard.ListenAddr)
	str("DASHBOARD_URL", &s.Dashboard.PublicURL)
	duration("DASHBOARD_REFRESH", &s.Dashboard.Refresh)
	duration("DASHBOARD_CACHE_TTL", &s.Dashboard.CacheTTL)
	str("DASHBOARD_PASSWORD_HASH", &s.Dashboard.PasswordHash)

	str("DATABASE_PATH", &s.Database)
	str("LOG_FILE", &s.LogFile)

	return firstErr
}
