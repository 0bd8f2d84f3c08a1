package models

import "time"

// ChargingSession represents one user's occupation of a port.
type ChargingSession struct {
	ID         string     `db:"id" json:"id"`
	UserID     int64      `db:"user_id" json:"user_id"`
	DeviceID   string     `db:"device_id" json:"device_id"`
	PortNumber int        `db:"port_number" json:"port_number"`
	Status     string     `db:"status" json:"status"`
	StartTime  time.Time  `db:"start_time" json:"start_time"`
	EndTime    *time.Time `db:"end_time" json:"end_time"`
	EnergyMah  float64    `db:"energy_mah" json:"energy_mah"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}

// Port returns the session's port key.
func (s *ChargingSession) Port() PortKey {
	return PortKey{DeviceID: s.DeviceID, PortNumber: s.PortNumber}
}
