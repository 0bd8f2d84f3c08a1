package models

import (
	"fmt"
	"time"
)

// PortState is the display state derived from merged upstream views.
type PortState string

const (
	PortAvailable       PortState = "available"
	PortOwnedByCaller   PortState = "owned_by_caller"
	PortOccupiedByOther PortState = "occupied_by_other"
	PortOffline         PortState = "offline"
	PortUnknown         PortState = "unknown"
)

// PortKey identifies one physical outlet on a device.
type PortKey struct {
	DeviceID   string `json:"device_id"`
	PortNumber int    `json:"port_number"`
}

func (k PortKey) String() string {
	return fmt.Sprintf("%s:%d", k.DeviceID, k.PortNumber)
}

// PortView is the merged, caller-specific view of one port.
type PortView struct {
	Key           PortKey    `json:"key"`
	State         PortState  `json:"state"`
	SessionID     string     `json:"session_id,omitempty"`
	SessionStart  *time.Time `json:"session_start,omitempty"`
	CurrentMah    float64    `json:"current_mah"`
	TotalMahToday float64    `json:"total_mah_today"`
	Stale         bool       `json:"stale"`
	CheckedAt     time.Time  `json:"checked_at"`
}

// DeviceStatusRow is one port's slice of the device status feed.
type DeviceStatusRow struct {
	Key          PortKey   `json:"key"`
	Online       bool      `json:"online"`
	RelayOn      bool      `json:"relay_on"`
	LastReportAt time.Time `json:"last_report_at"`
}

// ConsumptionRow is one port's slice of the consumption feed.
type ConsumptionRow struct {
	Key           PortKey   `json:"key"`
	CurrentMah    float64   `json:"current_mah"`
	TotalMahToday float64   `json:"total_mah_today"`
	UpdatedAt     time.Time `json:"updated_at"`
}
