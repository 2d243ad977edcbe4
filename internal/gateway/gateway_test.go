// ABOUTME: Shared fixtures for gateway tests plus health, readiness and shutdown tests
// ABOUTME: Runs the real handler over httptest with an in-memory SQLite store and a canned generator

package gateway

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/handoff-gateway/internal/answer"
	"github.com/2389/handoff-gateway/internal/config"
	"github.com/2389/handoff-gateway/internal/registry"
	"github.com/2389/handoff-gateway/internal/store"
)

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConfig creates a minimal config for testing.
func testConfig() *config.Config {
	return &config.Config{
		Server:     config.ServerConfig{ReadLimit: 64 << 10},
		Database:   config.DatabaseConfig{Path: ":memory:"},
		Escalation: config.EscalationConfig{Threshold: 5},
		Metrics:    config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

type testGateway struct {
	gw    *Gateway
	srv   *httptest.Server
	store *store.SQLiteStore
}

// newTestGateway starts a gateway whose bot always answers reply.
func newTestGateway(t *testing.T, cfg *config.Config, reply string) *testGateway {
	t.Helper()

	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)

	gen := answer.GeneratorFunc(func(ctx context.Context, conversationID int64, question string) (answer.Answer, error) {
		return answer.Answer{Text: reply, Usage: answer.Usage{PromptTokens: 10, CompletionTokens: 2, TotalTokens: 12}}, nil
	})

	gw, err := NewWithOptions(cfg, Options{Store: st, Generator: gen}, testLogger())
	require.NoError(t, err)

	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = gw.Shutdown(ctx)
	})

	return &testGateway{gw: gw, srv: srv, store: st}
}

func (tg *testGateway) waitOnline(t *testing.T, kind registry.Kind, id int64) {
	t.Helper()
	require.Eventually(t, func() bool {
		return tg.gw.Registry().IsOnline(kind, id)
	}, 2*time.Second, 5*time.Millisecond, "%s %d never registered", kind, id)
}

func (tg *testGateway) get(t *testing.T, path, token string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, tg.srv.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func (tg *testGateway) post(t *testing.T, path, token, body string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, tg.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(out)
}

func TestHealth(t *testing.T) {
	tg := newTestGateway(t, testConfig(), "Hello")

	resp, body := tg.get(t, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", body)
}

func TestReady_ReportsConnectedChannels(t *testing.T) {
	tg := newTestGateway(t, testConfig(), "Hello")

	dial(t, tg.srv, "/ws/agent/7", "")
	tg.waitOnline(t, registry.KindAgent, 7)

	resp, body := tg.get(t, "/health/ready", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ready (0 users, 1 agents)", body)
}

func TestShutdown_ClosesChannelsAndFailsReadiness(t *testing.T) {
	tg := newTestGateway(t, testConfig(), "Hello")

	conn := dial(t, tg.srv, "/ws/user/42", "")
	tg.waitOnline(t, registry.KindUser, 42)

	// the client must be reading to complete the close handshake
	readErr := make(chan error, 1)
	go func() {
		_, _, err := conn.Read(context.Background())
		readErr <- err
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tg.gw.Shutdown(ctx))

	assert.Zero(t, tg.gw.Registry().Count(registry.KindUser))
	select {
	case err := <-readErr:
		assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
	case <-time.After(5 * time.Second):
		t.Fatal("client never observed the close")
	}

	rec := httptest.NewRecorder()
	tg.gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	tg := newTestGateway(t, testConfig(), "Hello")

	resp, body := tg.get(t, "/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "handoff_escalations_total")
}

func TestMetricsEndpoint_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Enabled = false
	tg := newTestGateway(t, cfg, "Hello")

	resp, _ := tg.get(t, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestResolveTailscaleStateDir(t *testing.T) {
	dir, err := resolveTailscaleStateDir("/srv/ts")
	require.NoError(t, err)
	assert.Equal(t, "/srv/ts", dir)

	t.Setenv("HOME", "/home/tester")
	dir, err = resolveTailscaleStateDir("")
	require.NoError(t, err)
	assert.Equal(t, "/home/tester/.local/share/handoff-gateway/tailscale", dir)
}

func TestResolveTailscaleAuthKey(t *testing.T) {
	t.Setenv("TS_AUTHKEY", "")
	_, err := resolveTailscaleAuthKey("")
	assert.Error(t, err)

	t.Setenv("TS_AUTHKEY", "tskey-env")
	key, err := resolveTailscaleAuthKey("")
	require.NoError(t, err)
	assert.Equal(t, "tskey-env", key)

	key, err = resolveTailscaleAuthKey("tskey-config")
	require.NoError(t, err)
	assert.Equal(t, "tskey-config", key)
}
