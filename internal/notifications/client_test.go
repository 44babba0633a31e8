package notifications

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opsagent/internal/retry"
)

func TestSendNotificationPostsToTopic(t *testing.T) {
	var (
		gotPath, gotTitle, gotPriority, gotBody string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotTitle = r.Header.Get("Title")
		gotPriority = r.Header.Get("Priority")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "shop-alerts", "high", true, retry.Config{})
	require.NoError(t, c.SendNotification(context.Background(), "Low stock", "Maggi: 4 left"))

	assert.Equal(t, "/shop-alerts", gotPath)
	assert.Equal(t, "Low stock", gotTitle)
	assert.Equal(t, "high", gotPriority)
	assert.Equal(t, "Maggi: 4 left", gotBody)
	sent, failed, retries := c.GetMetrics()
	assert.Equal(t, int64(1), sent)
	assert.Equal(t, int64(0), failed)
	assert.Equal(t, int64(0), retries)
}

func TestSendNotificationRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "t", "", true, retry.Config{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond})
	require.NoError(t, c.SendNotification(context.Background(), "", "hello"))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	_, _, retries := c.GetMetrics()
	assert.Equal(t, int64(2), retries)
}

func TestSendNotificationDoesNotRetryAuthErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "t", "", true, retry.Config{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})
	err := c.SendNotification(context.Background(), "", "hello")
	var notifErr *NotificationError
	require.True(t, errors.As(err, &notifErr))
	assert.Equal(t, "auth", notifErr.Type)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "t", "", true, retry.Config{})
	now := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)
	c.breaker.now = func() time.Time { return now }

	for i := 0; i < breakerThreshold; i++ {
		require.Error(t, c.SendNotification(context.Background(), "", "x"))
	}
	err := c.SendNotification(context.Background(), "", "x")
	var notifErr *NotificationError
	require.True(t, errors.As(err, &notifErr))
	assert.Equal(t, "circuit_open", notifErr.Type)
	assert.Equal(t, int32(breakerThreshold), atomic.LoadInt32(&calls))

	now = now.Add(breakerCooldown + time.Second)
	require.Error(t, c.SendNotification(context.Background(), "", "x"))
	assert.Equal(t, int32(breakerThreshold+1), atomic.LoadInt32(&calls), "half-open lets one attempt through")
}

func TestDisabledClientIsNoop(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "t", "", false, retry.Config{})
	assert.NoError(t, c.SendNotification(context.Background(), "", "x"))

	var nilClient *Client
	assert.False(t, nilClient.Enabled())
}

type fakeSender struct {
	mu         sync.Mutex
	configured bool
	fail       error
	sent       []string
	to         []string
}

func (f *fakeSender) Configured() bool { return f.configured }

func (f *fakeSender) SendMessage(ctx context.Context, to, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return "", f.fail
	}
	f.to = append(f.to, to)
	f.sent = append(f.sent, body)
	return "SM1", nil
}

func TestServiceSendsToDefaultRecipient(t *testing.T) {
	sender := &fakeSender{configured: true}
	s := NewService(sender, "whatsapp:+919000000000", nil, retry.Config{Name: "test"})

	alert := LowStockAlert("Maggi", 4, &SupplierInfo{Name: "Nestle Distributor", Phone: "+911234567890"})
	require.NoError(t, s.Notify(context.Background(), "", alert))

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "whatsapp:+919000000000", sender.to[0])
	assert.Contains(t, sender.sent[0], "Stockout Prediction Alert")
	assert.Contains(t, sender.sent[0], "Current Stock: 4")
	assert.Contains(t, sender.sent[0], "Nestle Distributor (+911234567890)")
	assert.Equal(t, Metrics{Sent: 1}, s.Metrics())
}

func TestServiceSimulatesWithoutGateway(t *testing.T) {
	s := NewService(&fakeSender{configured: false}, "whatsapp:+919000000000", nil, retry.Config{})
	require.NoError(t, s.Notify(context.Background(), "", StaffAbsentAlert("Shyam", "Evening")))

	s = NewService(nil, "", nil, retry.Config{})
	require.NoError(t, s.Notify(context.Background(), "", CashFlowAlert("Ramesh", decimal.NewFromInt(750))))
	assert.Equal(t, Metrics{Simulated: 1}, s.Metrics())
}

func TestServiceReportsFailuresAndMirrors(t *testing.T) {
	var mirrored int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&mirrored, 1)
	}))
	defer srv.Close()

	mirror := NewClient(srv.URL, "t", "", true, retry.Config{})
	sender := &fakeSender{configured: true, fail: errors.New("21608 unverified number")}
	s := NewService(sender, "whatsapp:+919000000000", mirror, retry.Config{Name: "test"})

	err := s.Notify(context.Background(), "", CashFlowAlert("Ramesh", decimal.NewFromInt(750)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "21608")
	assert.Equal(t, int32(1), atomic.LoadInt32(&mirrored))
	assert.Equal(t, int64(1), s.Metrics().Failed)
	assert.Equal(t, int64(1), s.Metrics().MirrorSent)
}

func TestServiceCircuitOpens(t *testing.T) {
	sender := &fakeSender{configured: true, fail: errors.New("down")}
	s := NewService(sender, "whatsapp:+919000000000", nil, retry.Config{})
	for i := 0; i < breakerThreshold; i++ {
		require.Error(t, s.Notify(context.Background(), "", Alert{Title: "t"}))
	}
	assert.True(t, errors.Is(s.Notify(context.Background(), "", Alert{Title: "t"}), ErrCircuitOpen))
}

func TestAlertTexts(t *testing.T) {
	assert.Contains(t, StaffAbsentAlert("Shyam", "").Text(), "today's shift")
	cash := CashFlowAlert("Ramesh", decimal.RequireFromString("750.5")).Text()
	assert.Contains(t, cash, "₹750.50")
	assert.Contains(t, cash, "*Ramesh*")
	low := LowStockAlert("Maggi", 2, nil).Text()
	assert.NotContains(t, low, "Supplier")
}
