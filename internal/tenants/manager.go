package tenants

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"opsagent/internal/auth"
	"opsagent/internal/config"
	"opsagent/internal/resolution"
	"opsagent/internal/sheets"
	"opsagent/internal/store"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"
)

// ErrNoTenant means neither a linked account nor a default spreadsheet is
// available for the request.
var ErrNoTenant = errors.New("no tenant: login on the website first")

// Tenant is one shop owner's account bound to its open spreadsheet.
type Tenant struct {
	Email string
	Phone string
	Sheet sheets.Spreadsheet
}

// Accounts is the part of the account database the manager needs.
type Accounts interface {
	SaveUser(ctx context.Context, email, credsJSON string) error
	SaveSheetID(ctx context.Context, email, sheetID string) error
	GetUserByPhone(ctx context.Context, phone string) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	ListUsers(ctx context.Context) ([]store.User, error)
}

// Source describes where a tenant's spreadsheet lives and how to reach it.
type Source struct {
	TokenSource     oauth2.TokenSource
	CredentialsFile string
	SpreadsheetID   string
	SpreadsheetName string
}

type openFunc func(ctx context.Context, src Source) (sheets.Spreadsheet, error)

// Manager resolves tenants and keeps their spreadsheets open between calls.
type Manager struct {
	accounts Accounts
	oauth    *auth.OAuth
	google   config.GoogleSettings
	owner    string
	open     openFunc

	mu      sync.Mutex
	def     *Tenant
	byEmail map[string]*Tenant
}

// NewManager wires the account database and OAuth config. Either may be nil:
// without accounts only the default tenant exists, and without OAuth stored
// user credentials cannot be used.
func NewManager(accounts Accounts, oauth *auth.OAuth, settings config.Settings) *Manager {
	return &Manager{
		accounts: accounts,
		oauth:    oauth,
		google:   settings.Google,
		owner:    settings.Twilio.OwnerNumber,
		open:     openGoogle,
		byEmail:  make(map[string]*Tenant),
	}
}

// Default returns the single-shop tenant: the in-memory demo workbook, the
// spreadsheet behind token.json, or a service account's spreadsheet.
func (m *Manager) Default(ctx context.Context) (*Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.def != nil {
		return m.def, nil
	}

	sheet, err := m.openDefault(ctx)
	if err != nil {
		return nil, err
	}
	m.def = &Tenant{Email: m.accountFor(ctx, sheet.ID()), Phone: m.owner, Sheet: sheet}
	log.Info().Str("spreadsheet", sheet.URL()).Str("email", m.def.Email).Msg("Default tenant ready")
	return m.def, nil
}

// accountFor returns the email of the account that owns sheetID, or "" when
// the spreadsheet belongs to no registered account.
func (m *Manager) accountFor(ctx context.Context, sheetID string) string {
	if m.accounts == nil || sheetID == "" {
		return ""
	}
	users, err := m.accounts.ListUsers(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to list accounts")
		return ""
	}
	for _, u := range users {
		if u.SheetID == sheetID {
			return u.Email
		}
	}
	return ""
}

func (m *Manager) openDefault(ctx context.Context) (sheets.Spreadsheet, error) {
	if m.google.Backend == "memory" {
		log.Warn().Msg("Using in-memory spreadsheet; data is lost on exit")
		return sheets.NewMemoryWithSchema("demo"), nil
	}

	src := Source{SpreadsheetID: m.google.SpreadsheetID, SpreadsheetName: m.google.SpreadsheetName}

	if m.oauth != nil && m.google.TokenFile != "" {
		tok, err := auth.LoadTokenFile(m.google.TokenFile)
		switch {
		case err == nil:
			path := m.google.TokenFile
			ts, err := m.oauth.TokenSource(context.WithoutCancel(ctx), tok, func(t *oauth2.Token) error {
				return auth.SaveTokenFile(path, t)
			})
			if err != nil {
				return nil, err
			}
			src.TokenSource = ts
			return m.open(ctx, src)
		case !errors.Is(err, os.ErrNotExist):
			log.Warn().Err(err).Str("file", m.google.TokenFile).Msg("Ignoring unreadable token file")
		}
	}

	if m.google.CredentialsFile != "" {
		src.CredentialsFile = m.google.CredentialsFile
		return m.open(ctx, src)
	}
	return nil, ErrNoTenant
}

// ForPhone finds the tenant linked to a WhatsApp sender. Unlinked numbers
// fall back to the default tenant.
func (m *Manager) ForPhone(ctx context.Context, phone string) (*Tenant, error) {
	if m.accounts != nil {
		user, err := m.accounts.GetUserByPhone(ctx, phone)
		switch {
		case err == nil:
			return m.forUser(ctx, user)
		case !errors.Is(err, store.ErrNotFound):
			return nil, err
		}
	}

	def, err := m.Default(ctx)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("phone", resolution.NormalizePhone(phone)).Msg("Sender not linked; using default tenant")
	return def, nil
}

// ForEmail returns the tenant for a dashboard selection; an empty email
// selects the default tenant.
func (m *Manager) ForEmail(ctx context.Context, email string) (*Tenant, error) {
	if email == "" || m.accounts == nil {
		return m.Default(ctx)
	}
	user, err := m.accounts.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNoTenant, email)
		}
		return nil, err
	}
	return m.forUser(ctx, user)
}

// All returns every tenant the monitor should check. Accounts that cannot be
// opened are logged and skipped.
func (m *Manager) All(ctx context.Context) []*Tenant {
	var tenants []*Tenant
	seen := make(map[string]bool)

	if m.accounts != nil {
		users, err := m.accounts.ListUsers(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to list accounts")
		}
		for _, u := range users {
			if u.CredsJSON == "" {
				continue
			}
			t, err := m.forUser(ctx, u)
			if err != nil {
				log.Warn().Err(err).Str("email", u.Email).Msg("Failed to open tenant; skipping")
				continue
			}
			seen[t.Sheet.ID()] = true
			tenants = append(tenants, t)
		}
	}

	def, err := m.Default(ctx)
	switch {
	case err == nil && !seen[def.Sheet.ID()]:
		tenants = append(tenants, def)
	case err != nil && !errors.Is(err, ErrNoTenant):
		log.Warn().Err(err).Msg("Failed to open default tenant")
	}

	log.Debug().Int("tenants", len(tenants)).Msg("Loaded tenants")
	return tenants
}

// Register stores a freshly authorized account, opens (or creates) its
// spreadsheet, and writes token.json so the default tenant follows the
// latest login.
func (m *Manager) Register(ctx context.Context, email string, tok *oauth2.Token) (*Tenant, error) {
	if m.accounts == nil {
		return nil, errors.New("account database not configured")
	}
	creds, err := auth.EncodeToken(tok)
	if err != nil {
		return nil, err
	}
	if err := m.accounts.SaveUser(ctx, email, creds); err != nil {
		return nil, err
	}
	if m.google.TokenFile != "" {
		if err := auth.SaveTokenFile(m.google.TokenFile, tok); err != nil {
			log.Warn().Err(err).Msg("Failed to write token file")
		}
	}

	m.mu.Lock()
	delete(m.byEmail, email)
	// the memory backend holds the only copy of its rows
	if m.google.Backend != "memory" {
		m.def = nil
	}
	m.mu.Unlock()

	user, err := m.accounts.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	t, err := m.forUser(ctx, user)
	if err != nil {
		return nil, err
	}
	log.Info().Str("email", email).Str("spreadsheet", t.Sheet.URL()).Msg("Registered tenant")
	return t, nil
}

func (m *Manager) forUser(ctx context.Context, user store.User) (*Tenant, error) {
	m.mu.Lock()
	if t, ok := m.byEmail[user.Email]; ok {
		m.mu.Unlock()
		c := *t
		c.Phone = user.PhoneNumber
		return &c, nil
	}
	m.mu.Unlock()

	if m.oauth == nil {
		return nil, errors.New("oauth client not configured")
	}
	if user.CredsJSON == "" {
		return nil, fmt.Errorf("%w: %s has no stored credentials", ErrNoTenant, user.Email)
	}
	tok, err := auth.DecodeToken(user.CredsJSON)
	if err != nil {
		return nil, err
	}

	email := user.Email
	persist := func(t *oauth2.Token) error {
		creds, err := auth.EncodeToken(t)
		if err != nil {
			return err
		}
		return m.accounts.SaveUser(context.Background(), email, creds)
	}
	ts, err := m.oauth.TokenSource(context.WithoutCancel(ctx), tok, persist)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", email, err)
	}

	sheet, err := m.open(ctx, Source{
		TokenSource:     ts,
		SpreadsheetID:   user.SheetID,
		SpreadsheetName: m.google.SpreadsheetName,
	})
	if err != nil {
		return nil, fmt.Errorf("opening spreadsheet for %s: %w", email, err)
	}
	if user.SheetID != sheet.ID() {
		if err := m.accounts.SaveSheetID(ctx, email, sheet.ID()); err != nil {
			log.Warn().Err(err).Str("email", email).Msg("Failed to save spreadsheet id")
		}
	}

	t := &Tenant{Email: email, Phone: user.PhoneNumber, Sheet: sheet}
	m.mu.Lock()
	m.byEmail[email] = t
	m.mu.Unlock()
	return t, nil
}

func openGoogle(ctx context.Context, src Source) (sheets.Spreadsheet, error) {
	var opts []option.ClientOption
	switch {
	case src.TokenSource != nil:
		opts = append(opts, option.WithTokenSource(src.TokenSource))
	case src.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(src.CredentialsFile))
	default:
		return nil, ErrNoTenant
	}

	// Cached tenants outlive the request that opened them.
	client, err := sheets.NewClient(context.WithoutCancel(ctx), opts...)
	if err != nil {
		return nil, err
	}
	if src.SpreadsheetID != "" {
		return sheets.OpenByID(ctx, client, src.SpreadsheetID)
	}
	return sheets.OpenOrCreate(ctx, client, src.SpreadsheetName)
}
