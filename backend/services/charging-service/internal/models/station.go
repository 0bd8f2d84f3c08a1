package models

import "time"

// Station is a physical installation hosting one or more devices.
type Station struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Location  string    `db:"location" json:"location"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// StationPort is one catalogued outlet, the unit the aggregator reports on.
type StationPort struct {
	StationID  string    `db:"station_id" json:"station_id"`
	DeviceID   string    `db:"device_id" json:"device_id"`
	PortNumber int       `db:"port_number" json:"port_number"`
	Premium    bool      `db:"premium" json:"premium"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Key returns the port's aggregation key.
func (p StationPort) Key() PortKey {
	return PortKey{DeviceID: p.DeviceID, PortNumber: p.PortNumber}
}
