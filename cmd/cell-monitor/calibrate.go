package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tarm/serial"

	"github.com/sweeney/cell-monitor/internal/gpio"
	"github.com/sweeney/cell-monitor/internal/voltage"
)

// calibrationInterval paces the readings so an operator can note the volt
// meter value between lines.
const calibrationInterval = 2 * time.Second

// openCalibrationOutput returns the writer for calibration lines: a serial
// port when one is named, stdout otherwise. Serial output matches the bench
// setup where the module has no network and a USB adapter is the only link.
func openCalibrationOutput(port string) (io.WriteCloser, error) {
	if port == "" {
		return nopCloser{os.Stdout}, nil
	}
	s, err := serial.OpenPort(&serial.Config{Name: port, Baud: 115200})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", port, err)
	}
	return s, nil
}

// runCalibration prints uncalibrated and calibrated readings until a signal
// arrives, blinking the LED at each sample so the operator sees the module
// is alive. The source must be the raw one: the printed pair is what feeds
// the --metered-mv / --reported-mv flags. maxSamples > 0 bounds the number
// of readings for tests.
func runCalibration(src voltage.Source, cal voltage.Calibration, outs gpio.Outputs, out io.Writer, wait func(time.Duration), sig <-chan os.Signal, maxSamples int) error {
	if wait == nil {
		wait = time.Sleep
	}
	samples := 0

	for {
		select {
		case <-sig:
			return nil
		default:
		}

		if maxSamples > 0 && samples >= maxSamples {
			return nil
		}
		samples++

		if err := outs.SetLED(true); err != nil {
			logrus.Warnf("set LED: %v", err)
		}
		wait(20 * time.Millisecond)
		if err := outs.SetLED(false); err != nil {
			logrus.Warnf("set LED: %v", err)
		}

		raw, err := src.ReadMillivolts()
		if err != nil {
			fmt.Fprintf(out, "read error: %v\n", err)
		} else {
			fmt.Fprintf(out, "raw=%d mV calibrated=%d mV\n", raw, cal.Apply(raw))
		}

		wait(calibrationInterval)
	}
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
