package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/twilio/twilio-go"
	twclient "github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// DefaultFrom is the Twilio WhatsApp sandbox sender.
const DefaultFrom = "whatsapp:+14155238886"

// maxMediaBytes bounds inbound attachments.
const maxMediaBytes = 10 << 20

var (
	ErrNotConfigured     = errors.New("messaging gateway credentials not configured")
	ErrUntrustedMediaURL = errors.New("media URL is not a Twilio https URL")
)

// Client talks to Twilio: outbound WhatsApp messages, inbound media and
// webhook signature checks.
type Client struct {
	accountSID string
	authToken  string
	from       string
	rest       *twilio.RestClient
	validator  twclient.RequestValidator
	client     *http.Client
	// trustMedia decides which URLs may receive the account credentials.
	trustMedia func(*url.URL) bool

	apiCallCount int64
	apiCallMutex sync.Mutex
}

// NewClient creates a gateway client. Empty credentials yield a client whose
// Configured method reports false.
func NewClient(accountSID, authToken, from string) *Client {
	if from == "" {
		from = DefaultFrom
	}
	c := &Client{
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		validator:  twclient.NewRequestValidator(authToken),
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		trustMedia: IsTwilioMediaURL,
	}
	if c.Configured() {
		c.rest = twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: accountSID,
			Password: authToken,
		})
	}
	return c
}

// Configured reports whether credentials are present.
func (c *Client) Configured() bool {
	return c.accountSID != "" && c.authToken != ""
}

// From returns the sender address.
func (c *Client) From() string {
	return c.from
}

// IncrementAPICall safely increments the API call counter
func (c *Client) IncrementAPICall() {
	c.apiCallMutex.Lock()
	c.apiCallCount++
	c.apiCallMutex.Unlock()
}

// GetAPICallCount returns the current API call count
func (c *Client) GetAPICallCount() int64 {
	c.apiCallMutex.Lock()
	defer c.apiCallMutex.Unlock()
	return c.apiCallCount
}

// SendMessage sends body to the WhatsApp address to and returns the message SID.
func (c *Client) SendMessage(ctx context.Context, to, body string) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	params := &openapi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(c.from)
	params.SetBody(body)

	c.IncrementAPICall()

	resp, err := c.rest.Api.CreateMessage(params)
	if err != nil {
		return "", fmt.Errorf("failed to send message: %w", err)
	}

	sid := ""
	if resp.Sid != nil {
		sid = *resp.Sid
	}
	log.Debug().
		Str("to", to).
		Str("sid", sid).
		Msg("Sent WhatsApp message")
	return sid, nil
}

// IsTwilioMediaURL reports whether u is an https URL on a twilio.com host.
func IsTwilioMediaURL(u *url.URL) bool {
	host := strings.ToLower(u.Hostname())
	return u.Scheme == "https" && (host == "twilio.com" || strings.HasSuffix(host, ".twilio.com"))
}

// DownloadMedia fetches an inbound attachment. Twilio media URLs require the
// account credentials as basic auth, so only Twilio hosts are fetched at all.
// Redirects to the storage backend drop the Authorization header.
func (c *Client) DownloadMedia(ctx context.Context, mediaURL string) ([]byte, string, error) {
	u, err := url.Parse(mediaURL)
	if err != nil {
		return nil, "", fmt.Errorf("invalid media URL: %w", err)
	}
	if !c.trustMedia(u) {
		return nil, "", fmt.Errorf("%w: %s", ErrUntrustedMediaURL, u.Redacted())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	if c.Configured() {
		req.SetBasicAuth(c.accountSID, c.authToken)
	}

	c.IncrementAPICall()

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, "", fmt.Errorf("media request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read media: %w", err)
	}
	if len(data) > maxMediaBytes {
		return nil, "", fmt.Errorf("media larger than %d bytes", maxMediaBytes)
	}

	log.Debug().
		Str("content_type", resp.Header.Get("Content-Type")).
		Int("bytes", len(data)).
		Msg("Downloaded media")
	return data, resp.Header.Get("Content-Type"), nil
}

// ValidateRequest checks the X-Twilio-Signature of a webhook call made to
// url with the given form parameters.
func (c *Client) ValidateRequest(callURL string, params map[string]string, signature string) bool {
	if c.authToken == "" || signature == "" {
		return false
	}
	return c.validator.Validate(callURL, params, signature)
}
