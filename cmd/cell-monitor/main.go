// Command cell-monitor reads the cell voltage from an INA219 over I²C and
// drives the module's loop relay, shunt and status LED, publishing state
// changes to MQTT.
package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/sweeney/cell-monitor/internal/cell"
	"github.com/sweeney/cell-monitor/internal/gpio"
	"github.com/sweeney/cell-monitor/internal/mqtt"
	"github.com/sweeney/cell-monitor/internal/sequencer"
	"github.com/sweeney/cell-monitor/internal/status"
	"github.com/sweeney/cell-monitor/internal/voltage"
	"github.com/sweeney/cell-monitor/internal/web"
)

// version is set at build time with -ldflags.
var version = "<not set>"

type Args struct {
	CellID string `arg:"--cell-id,env:CELL_ID" default:"0" help:"cell identifier used in MQTT topics"`

	LVCEngage      int `arg:"--lvc-engage" default:"2900" help:"enter LVC at or below this voltage (mV)"`
	LVCDisengage   int `arg:"--lvc-disengage" default:"2950" help:"leave LVC above this voltage (mV)"`
	HVCEngage      int `arg:"--hvc-engage" default:"3600" help:"enter HVC at or above this voltage (mV)"`
	HVCDisengage   int `arg:"--hvc-disengage" default:"3550" help:"leave HVC below this voltage (mV)"`
	ShuntEngage    int `arg:"--shunt-engage" default:"3500" help:"start shunting above this voltage (mV)"`
	ShuntDisengage int `arg:"--shunt-disengage" default:"3450" help:"stop shunting below this voltage (mV)"`
	AverageWindow  int `arg:"--average-window" default:"5" help:"moving average window (samples)"`
	NominalMV      int `arg:"--nominal-mv" default:"3200" help:"averaging buffer pre-fill (mV)"`
	SettleTime     int `arg:"--settle-time" default:"3" help:"debounce settle time (cycles)"`
	RecencyCycles  int `arg:"--recency-cycles" default:"1800" help:"recent-cutoff window (cycles)"`

	MeteredMV  int `arg:"--metered-mv" default:"3200" help:"volt-meter reading taken during calibration (mV)"`
	ReportedMV int `arg:"--reported-mv" default:"3200" help:"uncalibrated reading at the same moment (mV)"`

	PinLED   int    `arg:"--pin-led" default:"17" help:"BCM pin for the status LED"`
	PinShunt int    `arg:"--pin-shunt" default:"27" help:"BCM pin for the shunt switch"`
	PinRelay int    `arg:"--pin-relay" default:"22" help:"BCM pin for the loop relay"`
	I2CBus   string `arg:"--i2c-bus" default:"" help:"I²C bus name (empty = first available)"`
	I2CAddr  int    `arg:"--i2c-addr" default:"64" help:"INA219 address"`

	Broker    string        `arg:"--broker" default:"tcp://192.168.1.200:1883" help:"MQTT broker address"`
	Heartbeat time.Duration `arg:"--heartbeat" default:"15m" help:"heartbeat interval (0 to disable)"`
	HTTPAddr  string        `arg:"--http" default:":80" help:"HTTP status address (empty to disable)"`
	WSBroker  string        `arg:"--ws-broker" default:"=broker" help:"MQTT websocket URL for live UI (=broker derives from --broker, off disables)"`

	Calibrate  bool   `arg:"--calibrate" help:"print readings for volt-meter calibration instead of running"`
	SerialPort string `arg:"--serial" default:"" help:"serial port for calibration output (empty = stdout)"`
	LogLevel   string `arg:"--log-level" default:"info" help:"debug, info, warn or error"`
}

func (Args) Version() string {
	return "cell-monitor " + version
}

func (a Args) cellConfig() cell.Config {
	return cell.Config{
		LVCEngage:          a.LVCEngage,
		LVCDisengage:       a.LVCDisengage,
		HVCEngage:          a.HVCEngage,
		HVCDisengage:       a.HVCDisengage,
		ShuntEngage:        a.ShuntEngage,
		ShuntDisengage:     a.ShuntDisengage,
		AverageWindow:      a.AverageWindow,
		NominalMillivolts:  a.NominalMV,
		SettleTime:         a.SettleTime,
		RecentCutoffCycles: a.RecencyCycles,
	}
}

func (a Args) calibration() voltage.Calibration {
	return voltage.Calibration{
		MeteredMillivolts:  a.MeteredMV,
		ReportedMillivolts: a.ReportedMV,
	}
}

func main() {
	var args Args
	arg.MustParse(&args)

	level, err := logrus.ParseLevel(args.LogLevel)
	if err != nil {
		logrus.Fatalf("invalid log level %q: %v", args.LogLevel, err)
	}
	logrus.SetLevel(level)

	cfg := args.cellConfig()
	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("config: %v", err)
	}
	cal := args.calibration()
	if err := cal.Validate(); err != nil {
		logrus.Fatalf("calibration: %v", err)
	}

	if err := run(args, cfg, cal); err != nil {
		logrus.Fatalf("fatal: %v", err)
	}
}

func run(args Args, cfg cell.Config, cal voltage.Calibration) error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("init periph host: %w", err)
	}
	bus, err := i2creg.Open(args.I2CBus)
	if err != nil {
		return fmt.Errorf("open i2c bus: %w", err)
	}
	defer bus.Close()

	raw, err := voltage.NewINA219Source(bus, uint16(args.I2CAddr))
	if err != nil {
		return fmt.Errorf("init ina219: %w", err)
	}
	src := &voltage.CalibratedSource{Source: raw, Cal: cal}

	outs, err := gpio.NewRealOutputs(args.PinLED, args.PinShunt, args.PinRelay)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer outs.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if args.Calibrate {
		out, err := openCalibrationOutput(args.SerialPort)
		if err != nil {
			return fmt.Errorf("open calibration output: %w", err)
		}
		defer out.Close()
		logrus.Info("calibration mode: sampling every 2s, Ctrl-C to stop")
		return runCalibration(raw, cal, outs, out, nil, sigCh, 0)
	}

	publisher := mqtt.NewRealPublisher(args.Broker, args.CellID)
	defer publisher.Close()

	tracker := status.NewTracker(time.Now(), status.Config{
		CellID:      args.CellID,
		Cell:        cfg,
		HeartbeatMs: args.Heartbeat.Milliseconds(),
		Broker:      args.Broker,
		HTTPPort:    args.HTTPAddr,
		WSBroker:    resolveWSBroker(args.WSBroker, args.Broker),
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		logrus.Warnf("publish startup event: %v", err)
	} else {
		logrus.Info("published startup event")
	}

	// Start HTTP status server
	if args.HTTPAddr != "" {
		srv := web.New(args.HTTPAddr, tracker)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logrus.Errorf("http server: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		logrus.Infof("http status server listening on %s", args.HTTPAddr)
	}

	logrus.Infof("started: cell=%s broker=%s window=%d settle=%d heartbeat=%v",
		args.CellID, args.Broker, cfg.AverageWindow, cfg.SettleTime, args.Heartbeat)

	return runLoop(src, outs, publisher, publisher, tracker, cfg, args.Heartbeat, time.Now, nil, sigCh, 0)
}

// runLoop is the measurement cycle. Unlike a ticker-driven poll loop, the
// cycle is self-paced: the output sequence for each state consumes the
// cycle's wall-clock budget, so one iteration takes roughly 1.1 s.
// maxCycles > 0 bounds the number of iterations for tests.
func runLoop(src voltage.Source, outs gpio.Outputs, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, cfg cell.Config, heartbeat time.Duration, now func() time.Time, wait func(time.Duration), sig <-chan os.Signal, maxCycles int) error {
	if wait == nil {
		wait = time.Sleep
	}
	classifier := cell.NewClassifier(cfg)
	seq := sequencer.New(outs, wait)
	lastHeartbeat := now()
	cycles := 0

	for {
		select {
		case s := <-sig:
			logrus.Infof("received %v, shutting down", s)
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			event := mqtt.SystemEvent{
				Timestamp: now(),
				Event:     "SHUTDOWN",
				Reason:    signalName,
				Retained:  true,
			}
			if tracker != nil {
				if mqttStatus != nil {
					tracker.SetMQTTConnected(mqttStatus.IsConnected())
				}
				snap := tracker.Snapshot()
				event.RawPayload = status.FormatStatusEvent(snap, "SHUTDOWN", signalName)
			}
			if err := publisher.PublishSystem(event); err != nil {
				logrus.Warnf("publish shutdown event: %v", err)
			} else {
				logrus.Info("published shutdown event")
			}
			return nil

		default:
		}

		if maxCycles > 0 && cycles >= maxCycles {
			return nil
		}
		cycles++

		if err := seq.PrepareMeasurement(); err != nil {
			logrus.Warnf("prepare outputs: %v", err)
		}

		mv, err := src.ReadMillivolts()
		if err != nil {
			logrus.Warnf("voltage read: %v", err)
			wait(time.Second)
			continue
		}

		t := now()
		d := classifier.Process(mv)
		if logrus.IsLevelEnabled(logrus.DebugLevel) {
			pending, age := classifier.Pending()
			shuntPending, shuntAge := classifier.ShuntPending()
			cutoffAge, _ := classifier.CutoffAge()
			logrus.Debugf("cycle: mv=%d state=%s pending=%s/%d shunting=%v shunt_pending=%v/%d cutoff_age=%d",
				d.Millivolts, d.State, pending, age, d.Shunting, shuntPending, shuntAge, cutoffAge)
		}
		if d.Inconsistent {
			logrus.Warnf("inconsistent classification at %d mV, holding %s", d.Millivolts, d.State)
		}

		for _, event := range d.Events(t) {
			logrus.Infof("event: %s (state=%s shunting=%v mv=%d)", event.Type, event.State, event.Shunting, event.Millivolts)
			if err := publisher.Publish(event); err != nil {
				logrus.Warnf("publish: %v", err)
				// Don't crash on publish failure
			}
		}

		// Update status tracker for HTTP consumers
		if tracker != nil {
			age, recent := classifier.CutoffAge()
			if !recent {
				age = -1
			}
			tracker.Update(d, age, classifier.Counts())
			if mqttStatus != nil {
				tracker.SetMQTTConnected(mqttStatus.IsConnected())
			}
		}

		if heartbeat > 0 && t.Sub(lastHeartbeat) >= heartbeat {
			lastHeartbeat = t
			counts := classifier.Counts()
			logrus.Infof("heartbeat: state=%s mv=%d normal=%d lvc=%d hvc=%d shunt_on=%d shunt_off=%d",
				d.State, d.Millivolts, counts.Normal, counts.LVC, counts.HVC, counts.ShuntOn, counts.ShuntOff)

			hbEvent := mqtt.SystemEvent{
				Timestamp: t,
				Event:     "HEARTBEAT",
			}
			if tracker != nil {
				// Refresh network info for heartbeat
				if net := readNetworkInfo(); net != nil {
					tracker.SetNetwork(net)
				}
				snap := tracker.Snapshot()
				hbEvent.RawPayload = status.FormatStatusEvent(snap, "HEARTBEAT", "")
			}
			if err := publisher.PublishSystem(hbEvent); err != nil {
				logrus.Warnf("heartbeat publish: %v", err)
			}
		}

		if err := seq.Run(d); err != nil {
			logrus.Warnf("output sequence: %v", err)
		}
	}
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}

// resolveWSBroker converts the --ws-broker flag value into a concrete URL.
// "=broker" derives ws://host:9001 from the TCP broker address; empty disables.
func resolveWSBroker(ws, broker string) string {
	if ws == "off" {
		return ""
	}
	if ws != "=broker" {
		return ws
	}
	u, err := url.Parse(broker)
	if err != nil {
		logrus.Warnf("ws-broker: cannot parse --broker %q: %v", broker, err)
		return ""
	}
	u.Scheme = "ws"
	u.Host = u.Hostname() + ":9001"
	return u.String()
}
