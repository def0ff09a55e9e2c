package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kingrea/reactive-counter/internal/config"
	"github.com/kingrea/reactive-counter/internal/metrics"
	"github.com/kingrea/reactive-counter/internal/session"
)

type fakeController struct {
	mu     sync.Mutex
	calls  []string
	locked bool
}

func (f *fakeController) ID() string { return "session-1" }

func (f *fakeController) record(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.locked {
		return session.ErrLockedOut
	}
	f.calls = append(f.calls, name)
	if name == CommandStop {
		f.locked = true
	}
	return nil
}

func (f *fakeController) Increase() error { return f.record(CommandIncrease) }
func (f *fakeController) Decrease() error { return f.record(CommandDecrease) }
func (f *fakeController) Stop() error     { return f.record(CommandStop) }

func (f *fakeController) LockedOut() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.locked
}

func (f *fakeController) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func testSettings() Settings {
	return Settings{
		Enabled:       true,
		Host:          "127.0.0.1",
		Port:          0,
		MaxBodyBytes:  256,
		RatePerSecond: 1000,
		Burst:         100,
		Timeout:       time.Second,
		IdleTimeout:   time.Second,
	}
}

func startServer(t *testing.T, settings Settings, control Controller, opts ...Option) *Server {
	t.Helper()
	srv := NewServer(settings, control, opts...)
	t.Cleanup(func() {
		_ = srv.Shutdown(context.Background())
	})
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("start server: %v", err)
	}
	return srv
}

func postCommand(t *testing.T, base string, payload any) *http.Response {
	t.Helper()
	buf, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal command: %v", err)
	}
	resp, err := http.Post(base+"/commands", "application/json", bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("post command: %v", err)
	}
	resp.Body.Close()
	return resp
}

func TestSettingsFromConfigHonorsEnv(t *testing.T) {
	t.Setenv("COUNTER_BRIDGE_PORT", "9001")
	t.Setenv("COUNTER_BRIDGE_HOST", "0.0.0.0")
	t.Setenv("COUNTER_BRIDGE_ENABLED", "true")
	cfg := &config.Config{}
	settings := SettingsFromConfig(cfg)
	if settings.Port != 9001 {
		t.Fatalf("expected port 9001, got %d", settings.Port)
	}
	if settings.Host != "0.0.0.0" {
		t.Fatalf("expected host override, got %s", settings.Host)
	}
	if !settings.Enabled {
		t.Fatalf("expected enabled=true from env override")
	}
	if settings.RatePerSecond != DefaultRatePerSecond || settings.Burst != DefaultBurst {
		t.Fatalf("expected default limiter settings, got %v/%d", settings.RatePerSecond, settings.Burst)
	}
}

func TestSettingsDisabledByDefault(t *testing.T) {
	settings := SettingsFromConfig(nil)
	if settings.Enabled {
		t.Fatalf("bridge must be opt-in")
	}
	if settings.Port != DefaultPort || settings.Host != DefaultHost {
		t.Fatalf("expected default address, got %s", settings.Address())
	}
	srv := NewServer(settings, &fakeController{})
	if err := srv.Start(context.Background()); err == nil {
		t.Fatalf("expected disabled server to refuse to start")
	}
}

func TestCommandValidate(t *testing.T) {
	cmd := CommandRequest{Command: "  Increase "}
	cmd.Normalize()
	if err := cmd.Validate(); err != nil {
		t.Fatalf("expected valid command, got %v", err)
	}
	if cmd.Command != CommandIncrease {
		t.Fatalf("expected normalized command, got %q", cmd.Command)
	}
	cmd.Version = 99
	if err := cmd.Validate(); err == nil {
		t.Fatalf("expected version error")
	}
	if err := (CommandRequest{Version: 1, Command: "reset"}).Validate(); err == nil {
		t.Fatalf("expected unknown command error")
	}
}

func TestServerAppliesCommands(t *testing.T) {
	t.Parallel()
	control := &fakeController{}
	srv := startServer(t, testSettings(), control)
	base := srv.URL()

	for _, name := range []string{CommandDecrease, CommandIncrease, CommandStop} {
		resp := postCommand(t, base, CommandRequest{Version: CommandSchemaVersion, Command: name})
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("%s: expected 202, got %d", name, resp.StatusCode)
		}
	}
	if got := strings.Join(control.snapshot(), ","); got != "decrease,increase,stop" {
		t.Fatalf("unexpected calls %s", got)
	}

	resp := postCommand(t, base, CommandRequest{Command: CommandIncrease})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 after lockout, got %d", resp.StatusCode)
	}
	resp = postCommand(t, base, CommandRequest{Command: CommandStop})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for stop after lockout, got %d", resp.StatusCode)
	}

	health, err := http.Get(base + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer health.Body.Close()
	var payload healthResponse
	if err := json.NewDecoder(health.Body).Decode(&payload); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if !payload.LockedOut || payload.SessionID != "session-1" || payload.Status != "ready" {
		t.Fatalf("unexpected health payload %+v", payload)
	}
}

func TestServerRejectsBadRequests(t *testing.T) {
	t.Parallel()
	srv := startServer(t, testSettings(), &fakeController{})
	base := srv.URL()

	resp, err := http.Get(base + "/commands")
	if err != nil {
		t.Fatalf("get commands: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}

	resp, err = http.Post(base+"/commands", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid JSON, got %d", resp.StatusCode)
	}

	if resp := postCommand(t, base, map[string]any{"version": 1, "command": "reset"}); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown command, got %d", resp.StatusCode)
	}

	tooLarge := map[string]any{"version": 1, "command": "increase", "command_id": strings.Repeat("a", 512)}
	if resp := postCommand(t, base, tooLarge); resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", resp.StatusCode)
	}
}

func TestServerDeduplicatesCommandIDs(t *testing.T) {
	t.Parallel()
	control := &fakeController{}
	srv := startServer(t, testSettings(), control)
	base := srv.URL()

	cmd := CommandRequest{Command: CommandDecrease, CommandID: "retry-1"}
	if resp := postCommand(t, base, cmd); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	if resp := postCommand(t, base, cmd); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for duplicate, got %d", resp.StatusCode)
	}
	if calls := control.snapshot(); len(calls) != 1 {
		t.Fatalf("duplicate must not be applied twice, got %v", calls)
	}
}

func TestServerRateLimitsCommands(t *testing.T) {
	t.Parallel()
	settings := testSettings()
	settings.RatePerSecond = 0.001
	settings.Burst = 2
	srv := startServer(t, settings, &fakeController{})
	base := srv.URL()

	for i := 0; i < 2; i++ {
		if resp := postCommand(t, base, CommandRequest{Command: CommandIncrease}); resp.StatusCode != http.StatusAccepted {
			t.Fatalf("request %d: expected 202, got %d", i, resp.StatusCode)
		}
	}
	resp := postCommand(t, base, CommandRequest{Command: CommandIncrease})
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
}

func TestShutdownReportsStopped(t *testing.T) {
	srv := startServer(t, testSettings(), &fakeController{})
	if status, _ := srv.status(); status != "ready" {
		t.Fatalf("expected ready, got %s", status)
	}
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if status, _ := srv.status(); status != "stopped" {
		t.Fatalf("expected stopped, got %s", status)
	}
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
}

func TestServerExposesMetrics(t *testing.T) {
	t.Parallel()
	m := metrics.New()
	m.Published(4)
	srv := startServer(t, testSettings(), &fakeController{}, WithMetricsHandler(m.Handler()))

	resp, err := http.Get(srv.URL() + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(string(body), "counter_published_total 1") {
		t.Fatalf("expected published counter in exposition:\n%s", body)
	}
}
