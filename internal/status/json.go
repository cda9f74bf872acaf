package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event           string       `json:"event,omitempty"`
	Reason          string       `json:"reason,omitempty"`
	State           string       `json:"state"`
	Shunting        bool         `json:"shunting"`
	Millivolts      int          `json:"millivolts"`
	RecentCutoff    bool         `json:"recent_cutoff"`
	CutoffAgeCycles int          `json:"cutoff_age_cycles"`
	Ready           bool         `json:"ready"`
	UptimeSeconds   int64        `json:"uptime_seconds"`
	StartTime       string       `json:"start_time"`
	Timestamp       string       `json:"timestamp"`
	MQTT            MQTTStatus   `json:"mqtt"`
	Counts          CountsJSON   `json:"event_counts"`
	Network         *NetworkJSON `json:"network,omitempty"`
	Config          ConfigJSON   `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	Normal   int `json:"normal"`
	LVC      int `json:"lvc"`
	HVC      int `json:"hvc"`
	ShuntOn  int `json:"shunt_on"`
	ShuntOff int `json:"shunt_off"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	CellID             string `json:"cell_id"`
	LVCEngage          int    `json:"lvc_engage_mv"`
	LVCDisengage       int    `json:"lvc_disengage_mv"`
	HVCEngage          int    `json:"hvc_engage_mv"`
	HVCDisengage       int    `json:"hvc_disengage_mv"`
	ShuntEngage        int    `json:"shunt_engage_mv"`
	ShuntDisengage     int    `json:"shunt_disengage_mv"`
	AverageWindow      int    `json:"average_window"`
	SettleTime         int    `json:"settle_time"`
	RecentCutoffCycles int    `json:"recent_cutoff_cycles"`
	HeartbeatMs        int64  `json:"heartbeat_ms"`
	Broker             string `json:"broker"`
	HTTPPort           string `json:"http_port"`
	WSBroker           string `json:"ws_broker,omitempty"`
}

func buildInner(snap Snapshot) StatusInner {
	return StatusInner{
		State:           snap.State.String(),
		Shunting:        snap.Shunting,
		Millivolts:      snap.Millivolts,
		RecentCutoff:    snap.RecentCutoff,
		CutoffAgeCycles: snap.CutoffAge,
		Ready:           snap.Settled,
		UptimeSeconds:   int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:       snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:       snap.Now.UTC().Format(time.RFC3339),
		MQTT:            MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Normal:   snap.Counts.Normal,
			LVC:      snap.Counts.LVC,
			HVC:      snap.Counts.HVC,
			ShuntOn:  snap.Counts.ShuntOn,
			ShuntOff: snap.Counts.ShuntOff,
		},
		Config: ConfigJSON{
			CellID:             snap.Config.CellID,
			LVCEngage:          snap.Config.Cell.LVCEngage,
			LVCDisengage:       snap.Config.Cell.LVCDisengage,
			HVCEngage:          snap.Config.Cell.HVCEngage,
			HVCDisengage:       snap.Config.Cell.HVCDisengage,
			ShuntEngage:        snap.Config.Cell.ShuntEngage,
			ShuntDisengage:     snap.Config.Cell.ShuntDisengage,
			AverageWindow:      snap.Config.Cell.AverageWindow,
			SettleTime:         snap.Config.Cell.SettleTime,
			RecentCutoffCycles: snap.Config.Cell.RecentCutoffCycles,
			HeartbeatMs:        snap.Config.HeartbeatMs,
			Broker:             snap.Config.Broker,
			HTTPPort:           snap.Config.HTTPPort,
			WSBroker:           snap.Config.WSBroker,
		},
	}
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
