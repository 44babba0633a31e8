package server

import (
	"html/template"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"opsagent/internal/auth"

	"github.com/rs/zerolog/log"
)

const (
	stateCookie   = "opsagent_oauth_state"
	sessionCookie = "opsagent_session"
)

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>OpsAgent</title></head>
<body>
<h1>OpsAgent</h1>
{{if .Error}}<p style="color:#b00">{{.Error}}</p>{{end}}
{{if .Email}}
<p>Connected as <b>{{.Email}}</b>.</p>
{{if .SheetURL}}<p>Your database: <a href="{{.SheetURL}}">{{.SheetURL}}</a></p>{{end}}
{{if .Phone}}<p>WhatsApp number: {{.Phone}}</p>{{end}}
<form method="post" action="/link">
  <label>WhatsApp number <input name="phone" placeholder="+91 98765 43210"></label>
  <button type="submit">Link number</button>
</form>
{{if .DashboardURL}}<p><a href="{{.DashboardURL}}">Open dashboard</a></p>{{end}}
{{else if .LoginEnabled}}
<p><a href="/login">Login with Google</a> to connect your shop spreadsheet.</p>
{{else}}
<p>Google login is not configured.</p>
{{end}}
</body>
</html>
`))

type indexPage struct {
	Email        string
	Phone        string
	SheetURL     string
	Error        string
	DashboardURL string
	LoginEnabled bool
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	page := indexPage{LoginEnabled: s.deps.OAuth != nil}
	if email, ok := s.sessionEmail(r); ok {
		page.Email = email
		page.DashboardURL = s.dashboardLink(r, email)
		if t, err := s.deps.Tenants.ForEmail(r.Context(), email); err == nil {
			page.Phone = t.Phone
			page.SheetURL = t.Sheet.URL()
		}
	}
	renderIndex(w, http.StatusOK, page)
}

// dashboardLink points at the dashboard server, which listens separately
// from the webhook. It returns "" when no address is known.
func (s *Server) dashboardLink(r *http.Request, email string) string {
	base := strings.TrimRight(s.deps.DashboardURL, "/")
	if base == "" {
		_, port, err := net.SplitHostPort(s.deps.DashboardAddr)
		if err != nil || port == "" {
			return ""
		}
		host := r.Host
		if h, _, err := net.SplitHostPort(r.Host); err == nil {
			host = h
		}
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		base = scheme + "://" + net.JoinHostPort(host, port)
	}
	return base + "/dashboard?email=" + url.QueryEscape(email)
}

func renderIndex(w http.ResponseWriter, status int, page indexPage) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := indexTemplate.Execute(w, page); err != nil {
		log.Error().Err(err).Msg("Failed to render index")
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.deps.OAuth == nil {
		http.Error(w, "google login not configured", http.StatusServiceUnavailable)
		return
	}
	state := auth.NewState()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   int((10 * time.Minute).Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, s.deps.OAuth.AuthCodeURL(state), http.StatusFound)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	if s.deps.OAuth == nil {
		http.Error(w, "google login not configured", http.StatusServiceUnavailable)
		return
	}
	ctx := r.Context()

	c, err := r.Cookie(stateCookie)
	if err != nil || c.Value == "" || c.Value != r.URL.Query().Get("state") {
		renderIndex(w, http.StatusBadRequest, indexPage{Error: "Login Error: state mismatch, please try again.", LoginEnabled: true})
		return
	}
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Path: "/", MaxAge: -1})

	if e := r.URL.Query().Get("error"); e != "" {
		renderIndex(w, http.StatusBadRequest, indexPage{Error: "Login Error: " + e, LoginEnabled: true})
		return
	}

	tok, err := s.deps.OAuth.Exchange(ctx, r.URL.Query().Get("code"))
	if err != nil {
		log.Error().Err(err).Msg("OAuth code exchange failed")
		renderIndex(w, http.StatusBadRequest, indexPage{Error: "Login Error: " + err.Error(), LoginEnabled: true})
		return
	}
	email, err := s.deps.OAuth.FetchEmail(ctx, tok)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read account email")
		renderIndex(w, http.StatusBadGateway, indexPage{Error: "Login Error: " + err.Error(), LoginEnabled: true})
		return
	}

	tenant, err := s.deps.Tenants.Register(ctx, email, tok)
	if err != nil {
		log.Error().Err(err).Str("email", email).Msg("Failed to register tenant")
		renderIndex(w, http.StatusBadGateway, indexPage{Email: email, Error: "Could not open your spreadsheet: " + err.Error()})
		return
	}

	s.startSession(w, email)
	log.Info().Str("email", email).Str("spreadsheet", tenant.Sheet.URL()).Msg("Owner logged in")
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) handleLink(w http.ResponseWriter, r *http.Request) {
	email, ok := s.sessionEmail(r)
	if !ok {
		http.Error(w, "login first", http.StatusUnauthorized)
		return
	}
	if s.deps.Accounts == nil {
		http.Error(w, "account database not configured", http.StatusServiceUnavailable)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form body", http.StatusBadRequest)
		return
	}

	phone := strings.TrimSpace(r.PostForm.Get("phone"))
	if phone == "" {
		renderIndex(w, http.StatusBadRequest, indexPage{Email: email, Error: "Phone number is required."})
		return
	}
	if err := s.deps.Accounts.LinkPhone(r.Context(), email, phone); err != nil {
		log.Error().Err(err).Str("email", email).Msg("Failed to link phone")
		renderIndex(w, http.StatusInternalServerError, indexPage{Email: email, Error: "Could not link number."})
		return
	}
	log.Info().Str("email", email).Msg("Linked WhatsApp number")
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) startSession(w http.ResponseWriter, email string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    s.deps.Sessions.Create(email),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) sessionEmail(r *http.Request) (string, bool) {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return "", false
	}
	return s.deps.Sessions.Lookup(c.Value)
}
