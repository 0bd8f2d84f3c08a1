package ingest

import (
	"context"
	"time"

	"go.uber.org/zap"

	"solarcharge/backend/services/device-gateway/internal/energy"
	"solarcharge/backend/services/device-gateway/internal/hub"
	"solarcharge/backend/services/device-gateway/internal/models"
	"solarcharge/backend/services/device-gateway/internal/protocol"
	"solarcharge/backend/services/device-gateway/internal/state"
)

// CommandObserver is notified of every observed relay state so pending
// commands can complete.
type CommandObserver interface {
	Observe(deviceID string, relays [protocol.MaxPorts]bool)
}

// ReportLog persists sensor frames.
type ReportLog interface {
	Insert(ctx context.Context, report models.SensorReport) error
}

// DeviceTracker stamps device liveness in the registry.
type DeviceTracker interface {
	UpdateLastSeen(ctx context.Context, id string, at time.Time) error
}

// Deps collects the processor's collaborators.
type Deps struct {
	State    *state.Store
	Energy   *energy.Accumulator
	Commands CommandObserver
	Hub      *hub.Hub
	Reports  ReportLog
	Devices  DeviceTracker
	Logger   *zap.Logger
}

// Processor folds device frames into runtime state, per-port energy, pending
// commands and the change feed. Frame handling is tolerant: a failed log
// write never rejects the report.
type Processor struct {
	state    *state.Store
	energy   *energy.Accumulator
	commands CommandObserver
	hub      *hub.Hub
	reports  ReportLog
	devices  DeviceTracker
	logger   *zap.Logger
	now      func() time.Time
}

// NewProcessor builds the processor.
func NewProcessor(deps Deps) *Processor {
	return &Processor{
		state:    deps.State,
		energy:   deps.Energy,
		commands: deps.Commands,
		hub:      deps.Hub,
		reports:  deps.Reports,
		devices:  deps.Devices,
		logger:   deps.Logger.With(zap.String("component", "ingest")),
		now:      time.Now,
	}
}

// Connected marks the device's socket attached and wakes feed consumers.
func (p *Processor) Connected(deviceID string) {
	p.state.SetConnected(deviceID, true)
	p.hub.Publish(hub.Event{Type: hub.EventOnline, DeviceID: deviceID})
}

// Disconnected marks the device's socket gone.
func (p *Processor) Disconnected(deviceID string) {
	p.state.SetConnected(deviceID, false)
	p.hub.Publish(hub.Event{Type: hub.EventOffline, DeviceID: deviceID})
}

// Process handles one raw frame from a device.
func (p *Processor) Process(ctx context.Context, deviceID string, raw []byte) error {
	report, err := protocol.ParseReport(raw)
	if err != nil {
		return err
	}

	at := p.now().UTC()
	changed := p.state.Apply(deviceID, report)
	p.commands.Observe(deviceID, report.Relays)

	if report.Sensor != nil {
		p.energy.Apply(deviceID, report.Relays, report.Sensor.SolarCurrent, at)

		if err := p.reports.Insert(ctx, models.SensorReport{
			DeviceID:       deviceID,
			SolarVoltage:   report.Sensor.SolarVoltage,
			SolarCurrent:   report.Sensor.SolarCurrent,
			BatteryVoltage: report.Sensor.BatteryVoltage,
			ChargeStatus:   report.Sensor.ChargeStatus,
			Relay1On:       report.Relays[0],
			Relay2On:       report.Relays[1],
			ReportedAt:     at,
		}); err != nil {
			p.logger.Warn("failed to store sensor report",
				zap.String("device_id", deviceID), zap.Error(err))
		}
		if err := p.devices.UpdateLastSeen(ctx, deviceID, at); err != nil {
			p.logger.Warn("failed to stamp device liveness",
				zap.String("device_id", deviceID), zap.Error(err))
		}
	}

	for _, port := range changed {
		p.hub.Publish(hub.Event{Type: hub.EventRelay, DeviceID: deviceID, Port: port})
	}
	return nil
}
