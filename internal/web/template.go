package web

import (
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/sweeney/cell-monitor/internal/mqtt"
	"github.com/sweeney/cell-monitor/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"volts": func(mv int) string {
		return fmt.Sprintf("%.3f V", float64(mv)/1000)
	},
	"stateClass": func(s string) string {
		return strings.ToLower(s)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Cell Monitor</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.normal { color: green; font-weight: bold; }
.lvc { color: red; font-weight: bold; }
.hvc { color: red; font-weight: bold; }
.invalid { color: orange; }
.shunting { color: #b58900; font-weight: bold; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>Cell Monitor #{{.Config.CellID}}{{if .Config.WSBroker}}<span id="live-dot" class="live-dot pending" title="connecting"></span>{{end}}</h1>

<h2>Cell</h2>
<table>
<tr><th>State</th><td id="cell-state" class="{{stateClass .State.String}}">{{.State.String}}</td></tr>
<tr><th>Voltage</th><td id="cell-mv">{{volts .Millivolts}} ({{.Millivolts}} mV)</td></tr>
<tr><th>Shunting</th><td id="cell-shunt"{{if .Shunting}} class="shunting"{{end}}>{{if .Shunting}}yes{{else}}no{{end}}</td></tr>
<tr><th>Recent cutoff</th><td>{{if .RecentCutoff}}yes ({{.CutoffAge}} cycles ago){{else}}no{{end}}</td></tr>
<tr><th>Settled</th><td>{{if .Settled}}yes{{else}}no{{end}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Event Counts</h2>
<table>
<tr><th>NORMAL</th><td>{{.Counts.Normal}}</td></tr>
<tr><th>LVC</th><td>{{.Counts.LVC}}</td></tr>
<tr><th>HVC</th><td>{{.Counts.HVC}}</td></tr>
<tr><th>SHUNT ON</th><td>{{.Counts.ShuntOn}}</td></tr>
<tr><th>SHUNT OFF</th><td>{{.Counts.ShuntOff}}</td></tr>
</table>

<h2>Thresholds</h2>
<table>
<tr><th>LVC engage / disengage</th><td>{{.Config.Cell.LVCEngage}} / {{.Config.Cell.LVCDisengage}} mV</td></tr>
<tr><th>HVC engage / disengage</th><td>{{.Config.Cell.HVCEngage}} / {{.Config.Cell.HVCDisengage}} mV</td></tr>
<tr><th>Shunt engage / disengage</th><td>{{.Config.Cell.ShuntEngage}} / {{.Config.Cell.ShuntDisengage}} mV</td></tr>
<tr><th>Average window</th><td>{{.Config.Cell.AverageWindow}} samples</td></tr>
<tr><th>Settle time</th><td>{{.Config.Cell.SettleTime}} cycles</td></tr>
<tr><th>Recency window</th><td>{{.Config.Cell.RecentCutoffCycles}} cycles</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPPort}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
{{if .Config.WSBroker}}
<script src="https://unpkg.com/mqtt@5/dist/mqtt.min.js"></script>
<script>
(function() {
  var broker = "{{.Config.WSBroker}}";
  var topic = {{.EventTopic}};
  var dot = document.getElementById("live-dot");
  var stateEl = document.getElementById("cell-state");
  var mvEl = document.getElementById("cell-mv");
  var shuntEl = document.getElementById("cell-shunt");

  function setState(state) {
    stateEl.textContent = state;
    stateEl.className = state.toLowerCase();
  }

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  var client = mqtt.connect(broker, { reconnectPeriod: 5000 });

  client.on("connect", function() {
    setDot("ok", "live");
    client.subscribe(topic);
  });

  client.on("reconnect", function() {
    setDot("pending", "reconnecting");
  });

  client.on("offline", function() {
    setDot("err", "offline");
  });

  client.on("error", function() {
    setDot("err", "error");
  });

  client.on("message", function(t, payload) {
    try {
      var msg = JSON.parse(payload.toString());
      if (msg.cell) {
        setState(msg.cell.state);
        mvEl.textContent = (msg.cell.millivolts / 1000).toFixed(3) + " V (" + msg.cell.millivolts + " mV)";
        shuntEl.textContent = msg.cell.shunting ? "yes" : "no";
        shuntEl.className = msg.cell.shunting ? "shunting" : "";
      }
    } catch (e) {}
  });
})();
</script>
{{end}}
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime     time.Duration
		EventTopic string
	}{
		Snapshot:   snap,
		Uptime:     snap.Uptime(),
		EventTopic: mqtt.EventTopic(snap.Config.CellID),
	}
	indexTmpl.Execute(w, data)
}
