package status

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/cell-monitor/internal/cell"
)

func testDecision() cell.Decision {
	return cell.Decision{
		Millivolts:   3312,
		State:        cell.StateNormal,
		Shunting:     false,
		RecentCutoff: true,
	}
}

func TestNewTracker(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := Config{CellID: "3", Cell: cell.DefaultConfig(), Broker: "tcp://localhost:1883", HTTPPort: ":80"}
	tr := NewTracker(start, cfg)

	snap := tr.Snapshot()
	if !snap.StartTime.Equal(start) {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, start)
	}
	if snap.Config.CellID != "3" {
		t.Errorf("Config.CellID: got %q, want %q", snap.Config.CellID, "3")
	}
	if snap.Config.HTTPPort != ":80" {
		t.Errorf("Config.HTTPPort: got %q, want %q", snap.Config.HTTPPort, ":80")
	}
	if snap.State != cell.StateInvalid {
		t.Errorf("expected INVALID state initially, got %v", snap.State)
	}
	if snap.Settled {
		t.Error("expected Settled=false initially")
	}
	if snap.MQTTConnected {
		t.Error("expected MQTTConnected=false initially")
	}
}

func TestUpdateAndSnapshot(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	tr.Update(testDecision(), 42, cell.EventCounts{Normal: 3, LVC: 1})

	snap := tr.Snapshot()
	if snap.State != cell.StateNormal {
		t.Errorf("State: got %v, want NORMAL", snap.State)
	}
	if snap.Millivolts != 3312 {
		t.Errorf("Millivolts: got %d, want 3312", snap.Millivolts)
	}
	if !snap.RecentCutoff {
		t.Error("expected RecentCutoff=true")
	}
	if snap.CutoffAge != 42 {
		t.Errorf("CutoffAge: got %d, want 42", snap.CutoffAge)
	}
	if !snap.Settled {
		t.Error("expected Settled=true after a NORMAL decision")
	}
	if snap.Counts.Normal != 3 {
		t.Errorf("Counts.Normal: got %d, want 3", snap.Counts.Normal)
	}
	if snap.Counts.LVC != 1 {
		t.Errorf("Counts.LVC: got %d, want 1", snap.Counts.LVC)
	}
}

func TestSetMQTTConnected(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	tr.SetMQTTConnected(true)
	if !tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=true")
	}

	tr.SetMQTTConnected(false)
	if tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=false")
	}
}

func TestSetNetwork(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	if tr.Snapshot().Network != nil {
		t.Error("expected nil Network initially")
	}

	net := &NetworkInfo{Type: "wifi", IP: "192.168.1.42", Status: "connected"}
	tr.SetNetwork(net)

	snap := tr.Snapshot()
	if snap.Network == nil {
		t.Fatal("expected non-nil Network")
	}
	if snap.Network.IP != "192.168.1.42" {
		t.Errorf("Network.IP: got %q, want %q", snap.Network.IP, "192.168.1.42")
	}
}

func TestSnapshotUptime(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		StartTime: start,
		Now:       start.Add(15 * time.Minute),
	}

	if snap.Uptime() != 15*time.Minute {
		t.Errorf("Uptime: got %v, want 15m", snap.Uptime())
	}
}

func TestSnapshotNowIsSet(t *testing.T) {
	tr := NewTracker(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), Config{})

	before := time.Now()
	snap := tr.Snapshot()
	after := time.Now()

	if snap.Now.Before(before) || snap.Now.After(after) {
		t.Errorf("Now (%v) not between %v and %v", snap.Now, before, after)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.Update(testDecision(), 0, cell.EventCounts{Normal: 1})

	snap1 := tr.Snapshot()

	lvc := cell.Decision{Millivolts: 2850, State: cell.StateLVC}
	tr.Update(lvc, 0, cell.EventCounts{Normal: 1, LVC: 1})

	// snap1 should still reflect old state
	if snap1.State != cell.StateNormal {
		t.Error("snapshot should be a copy; State was modified")
	}
	if snap1.Millivolts != 3312 {
		t.Error("snapshot should be a copy; Millivolts was modified")
	}
}

func TestFormatJSON(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		State:         cell.StateNormal,
		Shunting:      true,
		Millivolts:    3505,
		RecentCutoff:  false,
		CutoffAge:     -1,
		Settled:       true,
		Counts:        cell.EventCounts{Normal: 5, LVC: 2, HVC: 1, ShuntOn: 4, ShuntOff: 3},
		StartTime:     start,
		Now:           start.Add(15 * time.Minute),
		MQTTConnected: true,
		Config: Config{
			CellID:      "3",
			Cell:        cell.DefaultConfig(),
			HeartbeatMs: 900000,
			Broker:      "tcp://localhost:1883",
			HTTPPort:    ":80",
		},
	}

	data := FormatJSON(snap)

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.Status.State != "NORMAL" {
		t.Errorf("State: got %q, want NORMAL", parsed.Status.State)
	}
	if !parsed.Status.Shunting {
		t.Error("expected Shunting=true")
	}
	if parsed.Status.Millivolts != 3505 {
		t.Errorf("Millivolts: got %d, want 3505", parsed.Status.Millivolts)
	}
	if parsed.Status.CutoffAgeCycles != -1 {
		t.Errorf("CutoffAgeCycles: got %d, want -1", parsed.Status.CutoffAgeCycles)
	}
	if !parsed.Status.Ready {
		t.Error("expected Ready=true")
	}
	if parsed.Status.UptimeSeconds != 900 {
		t.Errorf("UptimeSeconds: got %d, want 900", parsed.Status.UptimeSeconds)
	}
	if !parsed.Status.MQTT.Connected {
		t.Error("expected MQTT.Connected=true")
	}
	if parsed.Status.Counts.Normal != 5 {
		t.Errorf("Counts.Normal: got %d, want 5", parsed.Status.Counts.Normal)
	}
	if parsed.Status.Counts.ShuntOn != 4 {
		t.Errorf("Counts.ShuntOn: got %d, want 4", parsed.Status.Counts.ShuntOn)
	}
	if parsed.Status.Config.LVCEngage != 2900 {
		t.Errorf("Config.LVCEngage: got %d, want 2900", parsed.Status.Config.LVCEngage)
	}
	if parsed.Status.Config.HVCEngage != 3600 {
		t.Errorf("Config.HVCEngage: got %d, want 3600", parsed.Status.Config.HVCEngage)
	}
	// Event and Reason should be omitted
	if parsed.Status.Event != "" {
		t.Errorf("expected empty Event for web format, got %q", parsed.Status.Event)
	}
	if parsed.Status.Reason != "" {
		t.Errorf("expected empty Reason for web format, got %q", parsed.Status.Reason)
	}
}

func TestFormatJSONInvalidState(t *testing.T) {
	snap := Snapshot{
		StartTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Now:       time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
	}

	data := FormatJSON(snap)

	var parsed StatusJSON
	json.Unmarshal(data, &parsed)

	if parsed.Status.State != "INVALID" {
		t.Errorf("State: got %q, want INVALID", parsed.Status.State)
	}
	if parsed.Status.Ready {
		t.Error("expected Ready=false before first settle")
	}
}

func TestFormatStatusEvent(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		State:         cell.StateNormal,
		Millivolts:    3300,
		Settled:       true,
		Counts:        cell.EventCounts{Normal: 3},
		StartTime:     start,
		Now:           start.Add(15 * time.Minute),
		MQTTConnected: true,
		Config:        Config{Broker: "tcp://localhost:1883"},
	}

	data := FormatStatusEvent(snap, "HEARTBEAT", "")

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.Status.Event != "HEARTBEAT" {
		t.Errorf("Event: got %q, want HEARTBEAT", parsed.Status.Event)
	}
	if parsed.Status.Reason != "" {
		t.Errorf("Reason: got %q, want empty", parsed.Status.Reason)
	}
	if parsed.Status.State != "NORMAL" {
		t.Errorf("State: got %q, want NORMAL", parsed.Status.State)
	}
	if parsed.Status.UptimeSeconds != 900 {
		t.Errorf("UptimeSeconds: got %d, want 900", parsed.Status.UptimeSeconds)
	}
}

func TestFormatStatusEventShutdown(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		State:     cell.StateLVC,
		Settled:   true,
		StartTime: start,
		Now:       start.Add(30 * time.Minute),
		Config:    Config{Broker: "tcp://localhost:1883"},
	}

	data := FormatStatusEvent(snap, "SHUTDOWN", "SIGTERM")

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.Status.Event != "SHUTDOWN" {
		t.Errorf("Event: got %q, want SHUTDOWN", parsed.Status.Event)
	}
	if parsed.Status.Reason != "SIGTERM" {
		t.Errorf("Reason: got %q, want SIGTERM", parsed.Status.Reason)
	}
	if parsed.Status.State != "LVC" {
		t.Errorf("State: got %q, want LVC", parsed.Status.State)
	}
}

func TestFormatStatusEventOmitsReasonWhenEmpty(t *testing.T) {
	snap := Snapshot{
		StartTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Now:       time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
	}

	data := FormatStatusEvent(snap, "STARTUP", "")

	// Verify "reason" is not in the raw JSON output
	var raw map[string]interface{}
	json.Unmarshal(data, &raw)
	status := raw["status"].(map[string]interface{})
	if _, exists := status["reason"]; exists {
		t.Error("reason should be omitted when empty")
	}
	if status["event"] != "STARTUP" {
		t.Errorf("event: got %v, want STARTUP", status["event"])
	}
}

func TestFormatJSONWithNetwork(t *testing.T) {
	snap := Snapshot{
		State:     cell.StateNormal,
		Settled:   true,
		StartTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Now:       time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC),
		Network:   &NetworkInfo{Type: "wifi", IP: "192.168.1.42", Status: "connected", SSID: "MyNet"},
		Config:    Config{Broker: "tcp://localhost:1883"},
	}

	data := FormatJSON(snap)

	var parsed StatusJSON
	json.Unmarshal(data, &parsed)

	if parsed.Status.Network == nil {
		t.Fatal("expected Network in JSON")
	}
	if parsed.Status.Network.IP != "192.168.1.42" {
		t.Errorf("Network.IP: got %q, want 192.168.1.42", parsed.Status.Network.IP)
	}
	if parsed.Status.Network.SSID != "MyNet" {
		t.Errorf("Network.SSID: got %q, want MyNet", parsed.Status.Network.SSID)
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	var wg sync.WaitGroup

	// Writer
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			tr.Update(testDecision(), i, cell.EventCounts{Normal: i})
			tr.SetMQTTConnected(i%2 == 0)
			tr.SetNetwork(&NetworkInfo{IP: "1.2.3.4"})
		}
	}()

	// Reader
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			snap := tr.Snapshot()
			_ = snap.Uptime()
		}
	}()

	wg.Wait()
}
