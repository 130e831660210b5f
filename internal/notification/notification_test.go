package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jhon-Oliver2025/1Crypten/internal/metrics"
	"github.com/Jhon-Oliver2025/1Crypten/internal/model"
)

type mapSettings map[string]string

func (m mapSettings) GetSetting(_ context.Context, key string) (string, error) {
	return m[key], nil
}

type recorder struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (r *recorder) Send(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.texts = append(r.texts, text)
	return nil
}

type telegramCall struct {
	path string
	body map[string]interface{}
}

func newTelegramServer(t *testing.T, status int) (*httptest.Server, *[]telegramCall) {
	t.Helper()
	var calls []telegramCall
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		calls = append(calls, telegramCall{path: r.URL.Path, body: body})
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestTelegram_SendsHTMLMessage(t *testing.T) {
	srv, calls := newTelegramServer(t, http.StatusOK)
	tg := NewTelegramNotifier(TelegramConfig{
		Settings: mapSettings{"telegram_token": "abc", "telegram_chat_id": "42"},
		APIBase:  srv.URL,
	})

	require.NoError(t, tg.Send(context.Background(), "<b>hi</b>"))
	require.Len(t, *calls, 1)
	c := (*calls)[0]
	assert.Equal(t, "/botabc/sendMessage", c.path)
	assert.Equal(t, "42", c.body["chat_id"])
	assert.Equal(t, "<b>hi</b>", c.body["text"])
	assert.Equal(t, "HTML", c.body["parse_mode"])
}

func TestTelegram_RereadsSettings(t *testing.T) {
	srv, calls := newTelegramServer(t, http.StatusOK)
	settings := mapSettings{}
	tg := NewTelegramNotifier(TelegramConfig{Settings: settings, APIBase: srv.URL})

	assert.ErrorIs(t, tg.Send(context.Background(), "x"), ErrNotConfigured)

	settings["telegram_token"] = "tok"
	settings["telegram_chat_id"] = "7"
	require.NoError(t, tg.Send(context.Background(), "x"))
	assert.Len(t, *calls, 1)
}

func TestTelegram_Non200IsError(t *testing.T) {
	srv, _ := newTelegramServer(t, http.StatusBadRequest)
	tg := NewTelegramNotifier(TelegramConfig{
		Settings: mapSettings{"telegram_token": "abc", "telegram_chat_id": "42"},
		APIBase:  srv.URL,
	})
	err := tg.Send(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestTelegram_NetworkErrorRedactsToken(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	tg := NewTelegramNotifier(TelegramConfig{
		Settings: mapSettings{"telegram_token": "secret-token", "telegram_chat_id": "42"},
		APIBase:  base,
		Timeout:  time.Second,
	})
	err := tg.Send(context.Background(), "x")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret-token")
}

func TestWebhook_Send(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wh := NewWebhookNotifier(mapSettings{"webhook_url": srv.URL}, "webhook_url")
	require.NoError(t, wh.Send(context.Background(), "hello"))
	assert.Equal(t, "hello", got["text"])
	assert.NotEmpty(t, got["ts"])

	unset := NewWebhookNotifier(mapSettings{}, "webhook_url")
	assert.ErrorIs(t, unset.Send(context.Background(), "hello"), ErrNotConfigured)
}

func TestMulti(t *testing.T) {
	ctx := context.Background()
	ok := &recorder{}
	unconfigured := &recorder{err: ErrNotConfigured}
	broken := &recorder{err: errors.New("boom")}

	assert.NoError(t, Multi{ok, unconfigured}.Send(ctx, "a"))
	assert.ErrorIs(t, Multi{unconfigured}.Send(ctx, "a"), ErrNotConfigured)
	assert.ErrorContains(t, Multi{ok, broken}.Send(ctx, "a"), "boom")
	assert.Len(t, ok.texts, 2)
}

func newTestGateway(n Notifier) (*Gateway, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	g := NewGateway(GatewayConfig{
		Notifier:   n,
		QualityMin: 90,
		Location:   time.UTC,
		Metrics:    metrics.NewMetrics(reg),
	})
	g.now = func() time.Time { return time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC) }
	return g, reg
}

func TestGateway_SendSignalGatesOnQuality(t *testing.T) {
	rec := &recorder{}
	g, _ := newTestGateway(rec)
	target := 104.0

	assert.False(t, g.SendSignal(context.Background(), "BTCUSDT", model.Long, 100, 85, "1h", &target))
	assert.Empty(t, rec.texts)

	assert.True(t, g.SendSignal(context.Background(), "BTCUSDT", model.Long, 100, 90, "1h", &target))
	require.Len(t, rec.texts, 1)
}

func TestGateway_FailuresReportFalse(t *testing.T) {
	g, _ := newTestGateway(&recorder{err: errors.New("down")})
	assert.False(t, g.Send(context.Background(), "x"))
	assert.False(t, g.TestConnection(context.Background()))

	g, _ = newTestGateway(&recorder{err: ErrNotConfigured})
	assert.False(t, g.TestConnection(context.Background()))
}

func TestGateway_NotifySignalUsesStoredTarget(t *testing.T) {
	rec := &recorder{}
	g, _ := newTestGateway(rec)
	ok := g.NotifySignal(context.Background(), model.Signal{
		Symbol: "ETHUSDT", Type: model.Short, EntryPrice: 100, TargetPrice: 96,
		QualityScore: 100, EntryTimeframe: "1h",
	})
	require.True(t, ok)
	require.Len(t, rec.texts, 1)
	assert.Contains(t, rec.texts[0], "🎯 Target: $96.00000000 (+4.0%)")
	assert.Contains(t, rec.texts[0], "🔴 SHORT (1h)")
}

func TestFormatSignal(t *testing.T) {
	at := time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC)
	target := 104.0
	msg := FormatSignal("BTCUSDT", model.Long, 100, 100, "1h", &target, at)

	lines := strings.Split(msg, "\n")
	assert.Equal(t, []string{
		"<b>BTCUSDT</b>",
		"🟢 LONG (1h)",
		"💎 Premium Signal",
		"💰 Entry: $100.00000000",
		"🎯 Target: $104.00000000 (+4.0%)",
		"📊 Score: 100",
		"🕒 05/03/2024 14:30",
	}, lines)
}

func TestFormatSignal_DefaultTarget(t *testing.T) {
	at := time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC)
	long := FormatSignal("BTCUSDT", model.Long, 100, 95, "", nil, at)
	assert.Contains(t, long, "$109.20000000 (+9.2%)")

	short := FormatSignal("BTCUSDT", model.Short, 100, 95, "", nil, at)
	assert.Contains(t, short, "$90.80000000 (+9.2%)")
}
