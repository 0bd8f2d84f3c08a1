package energy

import (
	"sort"
	"sync"
	"time"

	"solarcharge/backend/services/device-gateway/internal/protocol"
)

// PortEnergy is one port's consumption snapshot. CurrentMah is the
// instantaneous draw estimate in mA, TotalMahToday the integral since UTC
// midnight.
type PortEnergy struct {
	DeviceID      string
	Port          int
	CurrentMah    float64
	TotalMahToday float64
	UpdatedAt     time.Time
}

type portAccum struct {
	currentMah float64
	totalMah   float64
	updatedAt  time.Time
}

type deviceAccum struct {
	lastAt time.Time
	day    time.Time
	ports  [protocol.MaxPorts]portAccum
}

// Accumulator integrates the board's solar current into per-port energy.
// The sensor measures the single solar input, so the reading is split evenly
// across the ports whose relay is on. Each interval is charged at the rate
// of the sample that closes it; with the firmware's 5-10s report cadence the
// sampling error is one interval at worst.
type Accumulator struct {
	mu      sync.Mutex
	devices map[string]*deviceAccum
	now     func() time.Time
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{
		devices: make(map[string]*deviceAccum),
		now:     time.Now,
	}
}

// Apply folds in one sensor sample. at is server receive time. Totals reset
// at UTC midnight; an interval spanning the boundary only counts the part
// after it.
func (a *Accumulator) Apply(deviceID string, relays [protocol.MaxPorts]bool, solarCurrent float64, at time.Time) {
	at = at.UTC()
	day := midnight(at)

	a.mu.Lock()
	defer a.mu.Unlock()

	d, ok := a.devices[deviceID]
	if !ok {
		d = &deviceAccum{day: day}
		a.devices[deviceID] = d
	}

	prev := d.lastAt
	d.lastAt = at

	if !d.day.Equal(day) {
		for i := range d.ports {
			d.ports[i].totalMah = 0
		}
		d.day = day
	}

	dt := time.Duration(0)
	if !prev.IsZero() && at.After(prev) {
		dt = at.Sub(prev)
		if prev.Before(day) {
			dt = at.Sub(day)
		}
	}

	active := 0
	for _, on := range relays {
		if on {
			active++
		}
	}
	share := 0.0
	if active > 0 && solarCurrent > 0 {
		share = solarCurrent / float64(active)
	}

	for i := range d.ports {
		p := &d.ports[i]
		if relays[i] {
			p.currentMah = share * 1000
			if dt > 0 {
				p.totalMah += share * 1000 * dt.Hours()
			}
		} else {
			p.currentMah = 0
		}
		p.updatedAt = at
	}
}

// Rows returns a consumption snapshot for every tracked port, ordered by
// device then port. Ports whose stored day is behind today report zero.
func (a *Accumulator) Rows() []PortEnergy {
	today := midnight(a.now().UTC())

	a.mu.Lock()
	defer a.mu.Unlock()

	rows := make([]PortEnergy, 0, len(a.devices)*protocol.MaxPorts)
	for deviceID, d := range a.devices {
		if !d.day.Equal(today) {
			for i := range d.ports {
				d.ports[i].totalMah = 0
			}
			d.day = today
		}
		for i := range d.ports {
			p := d.ports[i]
			rows = append(rows, PortEnergy{
				DeviceID:      deviceID,
				Port:          i + 1,
				CurrentMah:    p.currentMah,
				TotalMahToday: p.totalMah,
				UpdatedAt:     p.updatedAt,
			})
		}
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].DeviceID != rows[j].DeviceID {
			return rows[i].DeviceID < rows[j].DeviceID
		}
		return rows[i].Port < rows[j].Port
	})
	return rows
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
