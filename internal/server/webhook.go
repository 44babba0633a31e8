package server

import (
	"net/http"
	"strconv"
	"strings"

	"opsagent/internal/gateway"
	"opsagent/internal/llm"
	"opsagent/internal/resolution"

	"github.com/rs/zerolog/log"
)

// Replies sent when a message cannot be processed.
const (
	ReplyLoginFirst    = "Boss, please login on the website first."
	ReplyNotUnderstood = "Samajh nahi aaya, please try again."
	ReplySheetFailed   = "Sheet update fail ho gaya."
)

// inbound is the subset of the Twilio webhook form OpsAgent reads.
type inbound struct {
	From      string
	Body      string
	NumMedia  int
	MediaURL  string
	MediaType string
}

func parseInbound(r *http.Request) inbound {
	n, _ := strconv.Atoi(r.PostForm.Get("NumMedia"))
	return inbound{
		From:      r.PostForm.Get("From"),
		Body:      strings.TrimSpace(r.PostForm.Get("Body")),
		NumMedia:  n,
		MediaURL:  r.PostForm.Get("MediaUrl0"),
		MediaType: r.PostForm.Get("MediaContentType0"),
	}
}

func (s *Server) handleWhatsApp(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form body", http.StatusBadRequest)
		return
	}

	if s.deps.ValidateSignature && !s.validSignature(r) {
		log.Warn().Str("from", r.PostForm.Get("From")).Msg("Rejected webhook with invalid signature")
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	msg := parseInbound(r)
	ctx := r.Context()
	if msg.From == "" {
		// status callbacks carry no sender
		writeTwiML(w, "")
		return
	}
	log.Info().
		Str("from", resolution.NormalizePhone(msg.From)).
		Str("body", msg.Body).
		Int("media", msg.NumMedia).
		Msg("New message")

	tenant, err := s.deps.Tenants.ForPhone(ctx, msg.From)
	if err != nil {
		log.Error().Err(err).Msg("No spreadsheet for sender; login required")
		writeTwiML(w, ReplyLoginFirst)
		return
	}

	in := llm.Message{Text: msg.Body}
	if msg.NumMedia > 0 && msg.MediaURL != "" {
		data, contentType, err := s.deps.Gateway.DownloadMedia(ctx, msg.MediaURL)
		if err != nil {
			log.Warn().Err(err).Str("url", msg.MediaURL).Msg("Failed to download media; continuing with text")
		} else {
			in.Media = data
			in.MediaType = msg.MediaType
			if in.MediaType == "" {
				in.MediaType = contentType
			}
		}
	}

	if in.Text == "" && !in.HasMedia() {
		writeTwiML(w, ReplyNotUnderstood)
		return
	}

	intent, err := s.deps.Analyzer.Analyze(ctx, in)
	if err != nil {
		log.Error().Err(err).Msg("Model failed to return a valid intent")
		writeTwiML(w, ReplyNotUnderstood)
		return
	}
	log.Debug().Interface("intent", intent).Msg("Parsed intent")

	res, err := s.deps.Dispatcher.Dispatch(ctx, tenant.Sheet, intent)
	if err != nil {
		log.Error().Err(err).Str("action", string(intent.Action)).Strs("rows", res.Rows).Msg("Sheet update failed")
		writeTwiML(w, ReplySheetFailed)
		return
	}

	log.Debug().Str("action", string(res.Action)).Str("reply", res.Reply).Msg("Replying")
	writeTwiML(w, res.Reply)
}

// validSignature checks X-Twilio-Signature against the URL Twilio called.
func (s *Server) validSignature(r *http.Request) bool {
	params := make(map[string]string, len(r.PostForm))
	for k, v := range r.PostForm {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	return s.deps.Gateway.ValidateRequest(s.requestURL(r), params, r.Header.Get("X-Twilio-Signature"))
}

func (s *Server) requestURL(r *http.Request) string {
	if s.deps.PublicURL != "" {
		return strings.TrimRight(s.deps.PublicURL, "/") + r.URL.RequestURI()
	}
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

// writeTwiML replies with body; an empty body acknowledges without a message.
func writeTwiML(w http.ResponseWriter, body string) {
	render := gateway.MessageResponse
	if body == "" {
		render = func(string) (string, error) { return gateway.EmptyResponse() }
	}
	doc, err := render(body)
	if err != nil {
		log.Error().Err(err).Msg("Failed to render TwiML")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Write([]byte(doc))
}
