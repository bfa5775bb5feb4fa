package gateway

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"secretary/internal/adapter"
	"secretary/internal/config"
	"secretary/internal/model"
	"secretary/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.DataDir = t.TempDir()
	return cfg
}

// startGateway runs Start in the background and waits for the running state.
func startGateway(t *testing.T, gw *Gateway) chan error {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- gw.Start(context.Background()) }()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if status := gw.GetStatus(); status["running"].(bool) {
			return errCh
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("gateway never reached running state")
	return errCh
}

func stopGateway(t *testing.T, gw *Gateway, errCh chan error) {
	t.Helper()
	gw.Stop()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Start returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
}

func waitForTotal(t *testing.T, store *storage.Store, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		stats, err := store.GetStats(context.Background())
		if err == nil && stats.TotalMessages >= want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("never saw %d stored messages", want)
}

func inbound(id string, ch model.ChannelType) model.NormalizedMessage {
	return model.NormalizedMessage{
		ID:        id,
		Channel:   ch,
		ChannelID: "c1",
		SenderID:  "s1",
		Text:      "hello",
		Timestamp: time.Now(),
	}
}

func TestGateway_RoutesMessagesToStorage(t *testing.T) {
	cfg := testConfig(t)
	cfg.Channels["telegram"] = config.ChannelConfig{Enabled: true}
	gw := New(cfg, testLogger())

	mock := adapter.NewMock(adapter.MockConfig{Channel: model.ChannelTelegram, Logger: testLogger()})
	gw.AddAdapter(mock)

	errCh := startGateway(t, gw)

	mock.Inject(inbound("g1", model.ChannelTelegram))
	mock.Inject(inbound("g2", model.ChannelTelegram))
	waitForTotal(t, gw.Store(), 2)

	stopGateway(t, gw, errCh)
}

func TestGateway_AdapterFailureIsIsolated(t *testing.T) {
	cfg := testConfig(t)
	cfg.Channels["telegram"] = config.ChannelConfig{Enabled: true}
	cfg.Channels["slack"] = config.ChannelConfig{Enabled: true}
	gw := New(cfg, testLogger())

	// Adapter A dies after two messages; B must keep flowing.
	flaky := adapter.NewMock(adapter.MockConfig{
		Channel: model.ChannelTelegram, FailListenAfter: 2, Logger: testLogger(),
	})
	steady := adapter.NewMock(adapter.MockConfig{Channel: model.ChannelSlack, Logger: testLogger()})
	gw.AddAdapter(flaky)
	gw.AddAdapter(steady)

	errCh := startGateway(t, gw)

	flaky.Inject(inbound("f1", model.ChannelTelegram))
	flaky.Inject(inbound("f2", model.ChannelTelegram))
	flaky.Inject(inbound("f3", model.ChannelTelegram)) // beyond the failure point
	waitForTotal(t, gw.Store(), 2)

	for i := 0; i < 3; i++ {
		steady.Inject(inbound("s"+string(rune('0'+i)), model.ChannelSlack))
	}
	waitForTotal(t, gw.Store(), 5)

	stats, err := gw.Store().GetStats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.ByChannel["slack"] != 3 || stats.ByChannel["telegram"] != 2 {
		t.Fatalf("unexpected per-channel counts: %v", stats.ByChannel)
	}

	stopGateway(t, gw, errCh)
}

func TestGateway_DisabledChannelNotConnected(t *testing.T) {
	cfg := testConfig(t)
	// telegram stays at the default enabled=false
	gw := New(cfg, testLogger())

	mock := adapter.NewMock(adapter.MockConfig{Channel: model.ChannelTelegram, Logger: testLogger()})
	gw.AddAdapter(mock)

	errCh := startGateway(t, gw)

	if mock.IsConnected() {
		t.Fatal("disabled channel must not be connected")
	}
	status := gw.GetStatus()
	if status["tasks_count"].(int) != 0 {
		t.Fatalf("expected no listen tasks, got %v", status["tasks_count"])
	}

	stopGateway(t, gw, errCh)
}

func TestGateway_StartWithAllChannelsDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Channels["telegram"] = config.ChannelConfig{Enabled: false, Token: "t"}
	gw := New(cfg, testLogger())
	for _, a := range AdaptersFromConfig(cfg, testLogger()) {
		gw.AddAdapter(a)
	}

	errCh := startGateway(t, gw)

	status := gw.GetStatus()
	if status["adapters_count"].(int) != 0 {
		t.Fatalf("expected adapters_count 0, got %v", status["adapters_count"])
	}
	if status["tasks_count"].(int) != 0 {
		t.Fatalf("expected no listen tasks, got %v", status["tasks_count"])
	}

	stopGateway(t, gw, errCh)
}

func TestAdaptersFromConfig_DisabledYieldsNone(t *testing.T) {
	cfg := testConfig(t)
	cfg.Channels["telegram"] = config.ChannelConfig{Enabled: false, Token: "t"}

	if got := AdaptersFromConfig(cfg, testLogger()); len(got) != 0 {
		t.Fatalf("expected no adapters, got %d", len(got))
	}
}

func TestAdaptersFromConfig_SkipsUnconfigured(t *testing.T) {
	cfg := testConfig(t)
	cfg.Channels["telegram"] = config.ChannelConfig{Enabled: true} // no token
	cfg.Channels["kakao"] = config.ChannelConfig{Enabled: true, BridgeURL: "ws://127.0.0.1:1/ws"}

	got := AdaptersFromConfig(cfg, testLogger())
	if len(got) != 1 {
		t.Fatalf("expected only the kakao adapter, got %d", len(got))
	}
	if got[0].ChannelType() != model.ChannelKakao {
		t.Fatalf("unexpected adapter %q", got[0].ChannelType())
	}
}

func TestGateway_StatusShape(t *testing.T) {
	cfg := testConfig(t)
	cfg.Channels["telegram"] = config.ChannelConfig{Enabled: true}
	gw := New(cfg, testLogger())
	gw.AddAdapter(adapter.NewMock(adapter.MockConfig{Channel: model.ChannelTelegram, Logger: testLogger()}))

	// Stopped shape first.
	status := gw.GetStatus()
	if status["running"].(bool) {
		t.Fatal("fresh gateway should not be running")
	}
	if status["start_time"] != nil {
		t.Fatalf("stopped gateway has no start time, got %v", status["start_time"])
	}
	if status["adapters_count"].(int) != 1 {
		t.Fatalf("expected 1 registered adapter, got %v", status["adapters_count"])
	}

	errCh := startGateway(t, gw)

	status = gw.GetStatus()
	if !status["running"].(bool) || status["start_time"] == nil {
		t.Fatalf("running status incomplete: %v", status)
	}
	if status["tasks_count"].(int) != 1 {
		t.Fatalf("expected 1 listen task, got %v", status["tasks_count"])
	}
	adapters := status["adapters"].(map[string]any)
	tg := adapters["telegram"].(map[string]any)
	if !tg["connected"].(bool) {
		t.Fatal("adapter status should report connected")
	}

	stopGateway(t, gw, errCh)

	status = gw.GetStatus()
	if status["running"].(bool) {
		t.Fatal("gateway should report stopped")
	}
}

func TestGateway_PIDLifecycle(t *testing.T) {
	cfg := testConfig(t)
	gw := New(cfg, testLogger())

	errCh := startGateway(t, gw)
	if pid := ReadPID(cfg.DataDir); pid != os.Getpid() {
		t.Fatalf("expected own pid in marker, got %d", pid)
	}

	stopGateway(t, gw, errCh)
	if pid := ReadPID(cfg.DataDir); pid != 0 {
		t.Fatalf("pid marker should be removed on stop, got %d", pid)
	}
}

func TestGateway_StopIdempotent(t *testing.T) {
	gw := New(testConfig(t), testLogger())

	// Stop before start is a no-op.
	gw.Stop()

	errCh := startGateway(t, gw)
	stopGateway(t, gw, errCh)
	gw.Stop()
	gw.Stop()
}

func TestGateway_AddAdapterWhileRunning(t *testing.T) {
	cfg := testConfig(t)
	cfg.Channels["slack"] = config.ChannelConfig{Enabled: true}
	gw := New(cfg, testLogger())

	errCh := startGateway(t, gw)

	late := adapter.NewMock(adapter.MockConfig{Channel: model.ChannelSlack, Logger: testLogger()})
	gw.AddAdapter(late)
	if !late.IsConnected() {
		t.Fatal("late adapter should be connected immediately")
	}

	late.Inject(inbound("late1", model.ChannelSlack))
	waitForTotal(t, gw.Store(), 1)

	stopGateway(t, gw, errCh)
}

func TestGateway_AddAdapterReplacesSameChannel(t *testing.T) {
	gw := New(testConfig(t), testLogger())

	first := adapter.NewMock(adapter.MockConfig{Channel: model.ChannelTelegram, Logger: testLogger()})
	second := adapter.NewMock(adapter.MockConfig{Channel: model.ChannelTelegram, Logger: testLogger()})
	gw.AddAdapter(first)
	gw.AddAdapter(second)

	if got := gw.GetStatus()["adapters_count"].(int); got != 1 {
		t.Fatalf("same-channel registration should replace, got %d adapters", got)
	}
}
