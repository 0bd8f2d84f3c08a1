package protocol

import (
	"encoding/json"
	"fmt"
)

// Frame types devices put in the envelope. The firmware published sensor
// and status payloads on separate topics; over the websocket the type field
// takes the topic's place.
const (
	FrameSensor = "sensor"
	FrameStatus = "status"
)

// MaxPorts is the number of relay outputs per controller board.
const MaxPorts = 2

// SensorFrame is the periodic telemetry report.
type SensorFrame struct {
	Type           string  `json:"type"`
	SolarVoltage   float64 `json:"solarVoltage"`
	SolarCurrent   float64 `json:"solarCurrent"`
	BatteryVoltage float64 `json:"batteryVoltage"`
	ChargeStatus   int     `json:"chargeStatus"`
	Relay1State    bool    `json:"relay1State"`
	Relay2State    bool    `json:"relay2State"`
	Timestamp      int64   `json:"timestamp"`
}

// StatusFrame is the immediate report a device sends after applying a relay
// command.
type StatusFrame struct {
	Type      string `json:"type"`
	Relay1    bool   `json:"relay1"`
	Relay2    bool   `json:"relay2"`
	Timestamp int64  `json:"timestamp"`
}

// SensorReading is the electrical portion of a sensor frame.
type SensorReading struct {
	SolarVoltage   float64
	SolarCurrent   float64
	BatteryVoltage float64
	ChargeStatus   int
}

// Report is a parsed device frame normalized for the rest of the gateway.
// Relays is indexed by port-1. Sensor is nil for status frames.
type Report struct {
	Kind   string
	Relays [MaxPorts]bool
	Sensor *SensorReading
}

type envelope struct {
	Type string `json:"type"`
}

// ParseReport decodes a raw device frame by its type field.
func ParseReport(raw []byte) (*Report, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("protocol: malformed frame: %w", err)
	}

	switch env.Type {
	case FrameSensor:
		var frame SensorFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			return nil, fmt.Errorf("protocol: malformed sensor frame: %w", err)
		}
		return &Report{
			Kind:   FrameSensor,
			Relays: [MaxPorts]bool{frame.Relay1State, frame.Relay2State},
			Sensor: &SensorReading{
				SolarVoltage:   frame.SolarVoltage,
				SolarCurrent:   frame.SolarCurrent,
				BatteryVoltage: frame.BatteryVoltage,
				ChargeStatus:   frame.ChargeStatus,
			},
		}, nil
	case FrameStatus:
		var frame StatusFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			return nil, fmt.Errorf("protocol: malformed status frame: %w", err)
		}
		return &Report{
			Kind:   FrameStatus,
			Relays: [MaxPorts]bool{frame.Relay1, frame.Relay2},
		}, nil
	default:
		return nil, fmt.Errorf("protocol: unknown frame type %q", env.Type)
	}
}

// RelayCommand formats the control string the firmware understands, e.g.
// relay1_on or relay2_off.
func RelayCommand(port int, on bool) (string, error) {
	if port < 1 || port > MaxPorts {
		return "", fmt.Errorf("protocol: port %d out of range", port)
	}
	state := "off"
	if on {
		state = "on"
	}
	return fmt.Sprintf("relay%d_%s", port, state), nil
}
