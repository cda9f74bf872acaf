package main

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/sweeney/cell-monitor/internal/cell"
	"github.com/sweeney/cell-monitor/internal/gpio"
	"github.com/sweeney/cell-monitor/internal/mqtt"
	"github.com/sweeney/cell-monitor/internal/status"
	"github.com/sweeney/cell-monitor/internal/voltage"
)

// testConfig uses a window of 1 so the moving average passes samples through.
func testConfig() cell.Config {
	cfg := cell.DefaultConfig()
	cfg.AverageWindow = 1
	cfg.RecentCutoffCycles = 10
	return cfg
}

// settleCycles is the number of consecutive matching cycles before a new
// tentative value is committed, counting the cycle that sets it pending.
func settleCycles(cfg cell.Config) int {
	return cfg.SettleTime + 3
}

// fakeClock returns a now func that advances step per call.
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	t := start
	return func() time.Time {
		t = t.Add(step)
		return t
	}
}

func noWait(time.Duration) {}

func newLoopFixture(samples []int) (*voltage.FakeSource, *gpio.FakeOutputs, *mqtt.FakePublisher, *status.Tracker, chan os.Signal) {
	src := voltage.NewFakeSource(samples)
	outs := gpio.NewFakeOutputs()
	pub := mqtt.NewFakePublisher()
	tracker := status.NewTracker(time.Now(), status.Config{CellID: "0", Cell: testConfig()})
	sig := make(chan os.Signal, 1)
	return src, outs, pub, tracker, sig
}

func TestRunLoopPublishesNormalEvent(t *testing.T) {
	cfg := testConfig()
	src, outs, pub, tracker, sig := newLoopFixture([]int{3200})

	err := runLoop(src, outs, pub, pub, tracker, cfg, 0, time.Now, noWait, sig, settleCycles(cfg))
	if err != nil {
		t.Fatalf("runLoop: %v", err)
	}

	if len(pub.Events) != 1 {
		t.Fatalf("expected 1 event, got %d: %+v", len(pub.Events), pub.Events)
	}
	if pub.Events[0].Type != cell.EventNormal {
		t.Errorf("expected NORMAL event, got %v", pub.Events[0].Type)
	}
	if pub.Events[0].Millivolts != 3200 {
		t.Errorf("expected 3200 mV in event, got %d", pub.Events[0].Millivolts)
	}

	snap := tracker.Snapshot()
	if snap.State != cell.StateNormal {
		t.Errorf("tracker state: got %v, want NORMAL", snap.State)
	}
	if !snap.Settled {
		t.Error("expected Settled=true after commit")
	}
	if !snap.RecentCutoff {
		t.Error("expected RecentCutoff=true right after power-up settle")
	}
}

func TestRunLoopNoEventBeforeSettle(t *testing.T) {
	cfg := testConfig()
	src, outs, pub, tracker, sig := newLoopFixture([]int{3200})

	runLoop(src, outs, pub, pub, tracker, cfg, 0, time.Now, noWait, sig, settleCycles(cfg)-1)

	if len(pub.Events) != 0 {
		t.Errorf("expected no events before settle, got %+v", pub.Events)
	}
	if tracker.Snapshot().Settled {
		t.Error("expected Settled=false before commit")
	}
}

func TestRunLoopLVCOpensLoop(t *testing.T) {
	cfg := testConfig()
	src, outs, pub, tracker, sig := newLoopFixture([]int{2800})

	runLoop(src, outs, pub, pub, tracker, cfg, 0, time.Now, noWait, sig, settleCycles(cfg))

	if len(pub.Events) != 1 || pub.Events[0].Type != cell.EventLVC {
		t.Fatalf("expected single LVC event, got %+v", pub.Events)
	}

	// The commit cycle must end with the loop relay open.
	if outs.Relay {
		t.Error("expected loop relay open after LVC commit")
	}
	found := false
	for _, entry := range outs.Trace {
		if entry == "relay=open" {
			found = true
		}
	}
	if !found {
		t.Error("expected relay=open in output trace")
	}

	snap := tracker.Snapshot()
	if snap.State != cell.StateLVC {
		t.Errorf("tracker state: got %v, want LVC", snap.State)
	}
	if snap.Counts.LVC != 1 {
		t.Errorf("Counts.LVC: got %d, want 1", snap.Counts.LVC)
	}
}

func TestRunLoopSurvivesReadErrors(t *testing.T) {
	cfg := testConfig()
	src, outs, pub, tracker, sig := newLoopFixture([]int{3200})
	src.ReadError = errors.New("i2c timeout")

	err := runLoop(src, outs, pub, pub, tracker, cfg, 0, time.Now, noWait, sig, 10)
	if err != nil {
		t.Fatalf("runLoop should not fail on read errors: %v", err)
	}

	if len(pub.Events) != 0 {
		t.Errorf("expected no events with failing source, got %+v", pub.Events)
	}
	if tracker.Snapshot().Settled {
		t.Error("expected no settle with failing source")
	}
}

func TestRunLoopSurvivesPublishErrors(t *testing.T) {
	cfg := testConfig()
	src, outs, pub, tracker, sig := newLoopFixture([]int{3200})
	pub.PublishError = errors.New("broker gone")

	err := runLoop(src, outs, pub, pub, tracker, cfg, 0, time.Now, noWait, sig, settleCycles(cfg))
	if err != nil {
		t.Fatalf("runLoop should not fail on publish errors: %v", err)
	}

	// The decision still lands in the tracker even though publishing failed.
	if tracker.Snapshot().State != cell.StateNormal {
		t.Error("expected tracker updated despite publish error")
	}
}

func TestRunLoopShutdownEvent(t *testing.T) {
	cfg := testConfig()
	src, outs, pub, tracker, sig := newLoopFixture([]int{3200})
	sig <- syscall.SIGTERM

	err := runLoop(src, outs, pub, pub, tracker, cfg, 0, time.Now, noWait, sig, 100)
	if err != nil {
		t.Fatalf("runLoop: %v", err)
	}

	if len(pub.SystemEvents) != 1 {
		t.Fatalf("expected 1 system event, got %d", len(pub.SystemEvents))
	}
	ev := pub.SystemEvents[0]
	if ev.Event != "SHUTDOWN" {
		t.Errorf("Event: got %q, want SHUTDOWN", ev.Event)
	}
	if ev.Reason != "SIGTERM" {
		t.Errorf("Reason: got %q, want SIGTERM", ev.Reason)
	}
	if !ev.Retained {
		t.Error("expected shutdown event retained")
	}
	if !strings.Contains(string(ev.RawPayload), `"SHUTDOWN"`) {
		t.Errorf("expected full status payload, got %s", ev.RawPayload)
	}
}

func TestRunLoopHeartbeat(t *testing.T) {
	cfg := testConfig()
	src, outs, pub, tracker, sig := newLoopFixture([]int{3200})

	// One second per cycle; a 3 s heartbeat fires on the 4th cycle.
	now := fakeClock(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC), time.Second)

	runLoop(src, outs, pub, pub, tracker, cfg, 3*time.Second, now, noWait, sig, 10)

	var heartbeats int
	for _, ev := range pub.SystemEvents {
		if ev.Event == "HEARTBEAT" {
			heartbeats++
			if !strings.Contains(string(ev.RawPayload), `"HEARTBEAT"`) {
				t.Errorf("expected status payload in heartbeat, got %s", ev.RawPayload)
			}
		}
	}
	if heartbeats < 2 {
		t.Errorf("expected at least 2 heartbeats over 10 cycles, got %d", heartbeats)
	}
}

func TestRunLoopHeartbeatDisabled(t *testing.T) {
	cfg := testConfig()
	src, outs, pub, tracker, sig := newLoopFixture([]int{3200})

	runLoop(src, outs, pub, pub, tracker, cfg, 0, time.Now, noWait, sig, 10)

	for _, ev := range pub.SystemEvents {
		if ev.Event == "HEARTBEAT" {
			t.Fatal("expected no heartbeats with heartbeat=0")
		}
	}
}

func TestRunCalibration(t *testing.T) {
	src := voltage.NewFakeSource([]int{3100})
	outs := gpio.NewFakeOutputs()
	cal := voltage.Calibration{MeteredMillivolts: 3300, ReportedMillivolts: 3200}
	var buf bytes.Buffer
	sig := make(chan os.Signal, 1)

	err := runCalibration(src, cal, outs, &buf, noWait, sig, 2)
	if err != nil {
		t.Fatalf("runCalibration: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	want := "raw=3100 mV calibrated=3196 mV"
	if lines[0] != want {
		t.Errorf("line: got %q, want %q", lines[0], want)
	}

	// LED blinks once per sample.
	var ledOn int
	for _, entry := range outs.Trace {
		if entry == "led=on" {
			ledOn++
		}
	}
	if ledOn != 2 {
		t.Errorf("expected 2 LED blinks, got %d", ledOn)
	}
}

func TestRunCalibrationReadError(t *testing.T) {
	src := voltage.NewFakeSource(nil)
	src.ReadError = errors.New("i2c timeout")
	outs := gpio.NewFakeOutputs()
	var buf bytes.Buffer
	sig := make(chan os.Signal, 1)

	runCalibration(src, voltage.DefaultCalibration(), outs, &buf, noWait, sig, 1)

	if !strings.Contains(buf.String(), "read error") {
		t.Errorf("expected read error line, got %q", buf.String())
	}
}

func TestArgsCellConfig(t *testing.T) {
	args := Args{
		LVCEngage:      2800,
		LVCDisengage:   2850,
		HVCEngage:      3650,
		HVCDisengage:   3600,
		ShuntEngage:    3550,
		ShuntDisengage: 3500,
		AverageWindow:  7,
		NominalMV:      3300,
		SettleTime:     5,
		RecencyCycles:  900,
	}

	cfg := args.cellConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.LVCEngage != 2800 || cfg.HVCEngage != 3650 {
		t.Errorf("threshold mapping wrong: %+v", cfg)
	}
	if cfg.AverageWindow != 7 || cfg.NominalMillivolts != 3300 {
		t.Errorf("averaging mapping wrong: %+v", cfg)
	}
	if cfg.SettleTime != 5 || cfg.RecentCutoffCycles != 900 {
		t.Errorf("timing mapping wrong: %+v", cfg)
	}
}

func TestReadNetworkInfo(t *testing.T) {
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkType, "wifi")
	t.Setenv(envNetworkIP, "192.168.1.42")
	t.Setenv(envNetworkWifiSSID, "MyNet")

	info := readNetworkInfo()
	if info == nil {
		t.Fatal("expected network info")
	}
	if info.Status != "connected" || info.Type != "wifi" {
		t.Errorf("unexpected info: %+v", info)
	}
	if info.IP != "192.168.1.42" || info.SSID != "MyNet" {
		t.Errorf("unexpected info: %+v", info)
	}
}

func TestReadNetworkInfoAbsent(t *testing.T) {
	t.Setenv(envNetworkStatus, "")

	if info := readNetworkInfo(); info != nil {
		t.Errorf("expected nil without pi-helper env, got %+v", info)
	}
}

func TestResolveWSBroker(t *testing.T) {
	tests := []struct {
		ws     string
		broker string
		want   string
	}{
		{"off", "tcp://192.168.1.200:1883", ""},
		{"ws://example:9001", "tcp://192.168.1.200:1883", "ws://example:9001"},
		{"=broker", "tcp://192.168.1.200:1883", "ws://192.168.1.200:9001"},
		{"=broker", "tcp://broker.local:1883", "ws://broker.local:9001"},
	}

	for _, tt := range tests {
		if got := resolveWSBroker(tt.ws, tt.broker); got != tt.want {
			t.Errorf("resolveWSBroker(%q, %q): got %q, want %q", tt.ws, tt.broker, got, tt.want)
		}
	}
}
