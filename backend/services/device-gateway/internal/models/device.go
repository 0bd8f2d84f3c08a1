package models

import "time"

// Device is a registered charge controller. SecretHash is the bcrypt hash
// of the device key presented on connect.
type Device struct {
	ID         string     `json:"id"`
	StationID  string     `json:"station_id"`
	SecretHash string     `json:"-"`
	Ports      int        `json:"ports"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// SensorReport is one persisted sensor frame. ReportedAt is server receive
// time; device timestamps count milliseconds since boot and are not wall
// clock.
type SensorReport struct {
	DeviceID       string    `json:"device_id"`
	SolarVoltage   float64   `json:"solar_voltage"`
	SolarCurrent   float64   `json:"solar_current"`
	BatteryVoltage float64   `json:"battery_voltage"`
	ChargeStatus   int       `json:"charge_status"`
	Relay1On       bool      `json:"relay1_on"`
	Relay2On       bool      `json:"relay2_on"`
	ReportedAt     time.Time `json:"reported_at"`
}
