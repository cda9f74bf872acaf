package voltage

import (
	"fmt"

	"periph.io/x/conn/v3/i2c"
)

// INA219 register map.
const (
	regConfig      = 0x00
	regBusVoltage  = 0x02
	regCalibration = 0x05
)

// DefaultINA219Addr is the chip's address with both address pins grounded.
const DefaultINA219Addr = 0x40

// Configuration for a 16 V bus range: PGA /8, 12-bit 32-sample averaging on
// both ADCs, continuous shunt+bus conversion. The 32-sample averaging keeps
// single-conversion noise out of the reading before the classifier's own
// moving average is applied.
const (
	ina219Config   = 0x0<<13 | 0x3<<11 | 0x0D<<7 | 0x0D<<3 | 0x7
	ina219CalValue = 4096
)

// INA219Source reads the cell voltage from an INA219 monitor's bus-voltage
// register. The bus-voltage LSB is a fixed 4 mV; the value sits in bits 15:3.
type INA219Source struct {
	dev i2c.Dev
}

// NewINA219Source configures the chip on the given bus and address.
func NewINA219Source(bus i2c.Bus, addr uint16) (*INA219Source, error) {
	s := &INA219Source{dev: i2c.Dev{Bus: bus, Addr: addr}}

	if err := s.writeRegister(regCalibration, ina219CalValue); err != nil {
		return nil, fmt.Errorf("write calibration register: %w", err)
	}
	if err := s.writeRegister(regConfig, ina219Config); err != nil {
		return nil, fmt.Errorf("write config register: %w", err)
	}
	return s, nil
}

// ReadMillivolts returns the bus voltage in millivolts.
func (s *INA219Source) ReadMillivolts() (int, error) {
	raw, err := s.readRegister(regBusVoltage)
	if err != nil {
		return 0, fmt.Errorf("read bus voltage: %w", err)
	}
	return busVoltageMillivolts(raw), nil
}

// Close is a no-op; the I²C bus is owned and closed by the caller.
func (s *INA219Source) Close() error {
	return nil
}

func (s *INA219Source) writeRegister(reg byte, value uint16) error {
	return s.dev.Tx([]byte{reg, byte(value >> 8), byte(value)}, nil)
}

func (s *INA219Source) readRegister(reg byte) (uint16, error) {
	var buf [2]byte
	if err := s.dev.Tx([]byte{reg}, buf[:]); err != nil {
		return 0, err
	}
	return uint16(buf[0])<<8 | uint16(buf[1]), nil
}

// busVoltageMillivolts converts a raw bus-voltage register value to mV.
func busVoltageMillivolts(raw uint16) int {
	return int(raw>>3) * 4
}
