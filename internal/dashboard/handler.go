package dashboard

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"opsagent/internal/auth"
	"opsagent/internal/config"
	"opsagent/internal/retry"
	"opsagent/internal/sheets"
	"opsagent/internal/store"
	"opsagent/internal/tenants"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

const sessionCookie = "opsagent_dashboard"

// TenantLookup selects the tenant a dashboard request is for.
type TenantLookup interface {
	ForEmail(ctx context.Context, email string) (*tenants.Tenant, error)
}

// AccountLookup provides per-account dashboard password hashes.
type AccountLookup interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
}

// Dashboard renders a read-only view of a tenant's spreadsheet.
type Dashboard struct {
	tenants  TenantLookup
	accounts AccountLookup
	sessions *auth.Sessions
	cache    *snapshotCache

	refresh      time.Duration
	passwordHash string
	recentRows   int
	lowStock     int
	readRetry    retry.Config
}

// New builds the dashboard. accounts may be nil, in which case only the
// configured password hash guards it.
func New(lookup TenantLookup, accounts AccountLookup, settings config.Settings, rc config.ResilienceConfig) *Dashboard {
	readRetry := rc.SheetRead
	readRetry.Retryable = func(err error) bool { return !errors.Is(err, sheets.ErrTabNotFound) }

	return &Dashboard{
		tenants:      lookup,
		accounts:     accounts,
		sessions:     auth.NewSessions(auth.DefaultSessionTTL),
		cache:        newSnapshotCache(settings.Dashboard.CacheTTL),
		refresh:      settings.Dashboard.Refresh,
		passwordHash: settings.Dashboard.PasswordHash,
		recentRows:   settings.Dashboard.RecentSalesRows,
		lowStock:     settings.Munim.LowStockThreshold,
		readRetry:    readRetry,
	}
}

func (d *Dashboard) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/dashboard", http.StatusFound)
	})
	r.Get("/dashboard/login", d.handleLoginForm)
	r.Post("/dashboard/login", d.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(d.requireLogin)
		r.Get("/dashboard", d.handlePage)
		r.Post("/dashboard/sync", d.handleSync)
		r.Get("/dashboard/export.xlsx", d.handleExport)
	})
	return r
}

type pageData struct {
	Email          string
	Error          string
	Updated        string
	RefreshSeconds int
	Empty          bool
	Metrics        Metrics
	Bars           []Bar
	Sales          []sheets.Sale
}

func (d *Dashboard) handlePage(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	page := pageData{
		Email:          email,
		RefreshSeconds: max(int(d.refresh.Seconds()), 1),
		Empty:          true,
	}

	snap, err := d.load(r.Context(), email)
	if err != nil {
		log.Warn().Err(err).Str("email", email).Msg("Dashboard sync error")
		page.Error = "Sync Error: " + err.Error()
	} else {
		page.Empty = snap.Empty()
		page.Metrics = ComputeMetrics(snap, d.lowStock)
		page.Bars = InventoryBars(snap.Inventory, d.lowStock)
		page.Sales = RecentSales(snap.Sales, d.recentRows)
		page.Updated = snap.LoadedAt.Format("15:04:05")
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTemplate.Execute(w, page); err != nil {
		log.Error().Err(err).Msg("Failed to render dashboard")
	}
}

func (d *Dashboard) handleSync(w http.ResponseWriter, r *http.Request) {
	d.cache.clear()
	log.Debug().Msg("Dashboard cache cleared")
	http.Redirect(w, r, dashboardURL(r.URL.Query().Get("email")), http.StatusSeeOther)
}

func (d *Dashboard) handleExport(w http.ResponseWriter, r *http.Request) {
	t, err := d.tenants.ForEmail(r.Context(), r.URL.Query().Get("email"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="opsagent-%s.xlsx"`, time.Now().Format(sheets.DateLayout)))
	if err := WriteWorkbook(r.Context(), t.Sheet, w); err != nil {
		log.Error().Err(err).Msg("Export failed")
		http.Error(w, "export failed", http.StatusBadGateway)
	}
}

// load returns the tenant snapshot, served from cache within the TTL.
func (d *Dashboard) load(ctx context.Context, email string) (Snapshot, error) {
	if snap, ok := d.cache.get(email); ok {
		return snap, nil
	}

	t, err := d.tenants.ForEmail(ctx, email)
	if err != nil {
		return Snapshot{}, err
	}

	var snap Snapshot
	inv, err := d.read(ctx, t.Sheet, sheets.TabInventory, true)
	if err != nil {
		return Snapshot{}, err
	}
	snap.Inventory = sheets.ParseInventory(inv)

	sales, err := d.read(ctx, t.Sheet, sheets.TabSales, true)
	if err != nil {
		return Snapshot{}, err
	}
	snap.Sales = sheets.ParseSales(sales)

	khata, err := d.read(ctx, t.Sheet, sheets.TabKhata, false)
	if err != nil {
		return Snapshot{}, err
	}
	snap.Khata = sheets.ParseKhata(khata)

	staff, err := d.read(ctx, t.Sheet, sheets.TabStaff, false)
	if err != nil {
		return Snapshot{}, err
	}
	snap.Staff = sheets.ParseStaff(staff)

	snap.LoadedAt = time.Now()
	d.cache.set(email, snap)
	return snap, nil
}

func (d *Dashboard) read(ctx context.Context, sheet sheets.Spreadsheet, tab string, required bool) ([][]interface{}, error) {
	data, err := retry.WithRetry(ctx, d.readRetry, func(ctx context.Context) ([][]interface{}, error) {
		return sheet.ReadTab(ctx, tab)
	})
	if !required && errors.Is(err, sheets.ErrTabNotFound) {
		return nil, nil
	}
	return data, err
}

// --- Login ---

// requiredHash returns the bcrypt hash guarding email's dashboard, or "" when
// it is open. An empty email stands for the default tenant, which is guarded
// by the account that owns its spreadsheet.
func (d *Dashboard) requiredHash(ctx context.Context, email string) string {
	if d.accounts == nil {
		return d.passwordHash
	}
	if email == "" {
		if t, err := d.tenants.ForEmail(ctx, ""); err == nil {
			email = t.Email
		}
	}
	if email != "" {
		if u, err := d.accounts.GetUserByEmail(ctx, email); err == nil && u.PasswordHash != "" {
			return u.PasswordHash
		}
	}
	return d.passwordHash
}

func (d *Dashboard) requireLogin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		email := r.URL.Query().Get("email")
		if d.requiredHash(r.Context(), email) == "" {
			next.ServeHTTP(w, r)
			return
		}
		if c, err := r.Cookie(sessionCookie); err == nil {
			if who, ok := d.sessions.Lookup(c.Value); ok && who == email {
				next.ServeHTTP(w, r)
				return
			}
		}
		http.Redirect(w, r, "/dashboard/login?email="+url.QueryEscape(email), http.StatusFound)
	})
}

type loginData struct {
	Email string
	Error string
}

func (d *Dashboard) handleLoginForm(w http.ResponseWriter, r *http.Request) {
	renderLogin(w, http.StatusOK, loginData{Email: r.URL.Query().Get("email")})
}

func (d *Dashboard) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form body", http.StatusBadRequest)
		return
	}
	email := r.PostForm.Get("email")
	hash := d.requiredHash(r.Context(), email)
	if hash != "" && !auth.CheckPasswordHash(r.PostForm.Get("password"), hash) {
		log.Warn().Str("email", email).Msg("Dashboard login failed")
		renderLogin(w, http.StatusUnauthorized, loginData{Email: email, Error: "Wrong password."})
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    d.sessions.Create(email),
		Path:     "/dashboard",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, dashboardURL(email), http.StatusSeeOther)
}

func renderLogin(w http.ResponseWriter, status int, data loginData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := loginTemplate.Execute(w, data); err != nil {
		log.Error().Err(err).Msg("Failed to render login")
	}
}

func dashboardURL(email string) string {
	if email == "" {
		return "/dashboard"
	}
	return "/dashboard?email=" + url.QueryEscape(email)
}
