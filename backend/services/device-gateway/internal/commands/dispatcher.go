package commands

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"solarcharge/backend/services/device-gateway/internal/protocol"
)

// Dispatch failures surfaced to the control endpoint.
var (
	ErrDeviceOffline = errors.New("commands: device offline")
	ErrTimeout       = errors.New("commands: no confirmation from device")
)

// Sender delivers a raw control string to a connected device.
type Sender interface {
	Send(deviceID string, payload []byte) error
}

// StateReader answers current relay state for the idempotent fast path and
// offline rejection.
type StateReader interface {
	Relay(deviceID string, port int) (on, online, known bool)
}

type pendingKey struct {
	deviceID string
	port     int
	on       bool
}

type pendingCommand struct {
	payload  []byte
	attempts int
	timer    *time.Timer
	waiters  []chan error
}

// Dispatcher sends relay commands and completes them when a device report
// confirms the new state. The firmware does not correlate replies to
// commands; confirmation is the next frame showing the relay where we asked
// it to be, so pending entries are keyed by the desired state.
type Dispatcher struct {
	sender      Sender
	state       StateReader
	timeout     time.Duration
	maxAttempts int
	logger      *zap.Logger

	mu      sync.Mutex
	pending map[pendingKey]*pendingCommand
}

// NewDispatcher builds a dispatcher. timeout bounds one attempt.
func NewDispatcher(sender Sender, state StateReader, timeout time.Duration, maxAttempts int, logger *zap.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 2
	}
	return &Dispatcher{
		sender:      sender,
		state:       state,
		timeout:     timeout,
		maxAttempts: maxAttempts,
		logger:      logger.With(zap.String("component", "commands")),
		pending:     make(map[pendingKey]*pendingCommand),
	}
}

// Execute drives one relay to the requested state and blocks until a device
// report confirms it, the attempts run out, or ctx ends. A relay already in
// the requested state succeeds without touching the device.
func (d *Dispatcher) Execute(ctx context.Context, deviceID string, port int, on bool) error {
	command, err := protocol.RelayCommand(port, on)
	if err != nil {
		return err
	}

	current, online, known := d.state.Relay(deviceID, port)
	if !known || !online {
		return ErrDeviceOffline
	}
	if current == on {
		return nil
	}

	key := pendingKey{deviceID: deviceID, port: port, on: on}
	done := make(chan error, 1)

	d.mu.Lock()
	cmd, exists := d.pending[key]
	if exists {
		cmd.waiters = append(cmd.waiters, done)
		d.mu.Unlock()
	} else {
		cmd = &pendingCommand{
			payload:  []byte(command),
			attempts: 1,
			waiters:  []chan error{done},
		}
		d.pending[key] = cmd
		cmd.timer = time.AfterFunc(d.timeout, func() { d.handleTimeout(key) })
		d.mu.Unlock()

		if err := d.sender.Send(deviceID, cmd.payload); err != nil {
			d.logger.Warn("command send failed",
				zap.String("device_id", deviceID), zap.Int("port", port), zap.Error(err))
			d.complete(key, ErrDeviceOffline)
			return <-done
		}
		d.logger.Info("command sent",
			zap.String("device_id", deviceID), zap.Int("port", port), zap.Bool("on", on))
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Observe folds in a device report: every pending command whose desired
// state the report shows completes successfully.
func (d *Dispatcher) Observe(deviceID string, relays [protocol.MaxPorts]bool) {
	for i := 0; i < protocol.MaxPorts; i++ {
		key := pendingKey{deviceID: deviceID, port: i + 1, on: relays[i]}
		d.complete(key, nil)
	}
}

func (d *Dispatcher) handleTimeout(key pendingKey) {
	d.mu.Lock()
	cmd, ok := d.pending[key]
	if !ok {
		d.mu.Unlock()
		return
	}

	// A report may have landed between the last resend and now.
	if current, online, known := d.state.Relay(key.deviceID, key.port); known && online && current == key.on {
		d.mu.Unlock()
		d.complete(key, nil)
		return
	}

	if cmd.attempts >= d.maxAttempts {
		d.mu.Unlock()
		d.logger.Warn("command unconfirmed after retries",
			zap.String("device_id", key.deviceID), zap.Int("port", key.port),
			zap.Bool("on", key.on), zap.Int("attempts", cmd.attempts))
		d.complete(key, ErrTimeout)
		return
	}

	cmd.attempts++
	attempt := cmd.attempts
	payload := cmd.payload
	cmd.timer = time.AfterFunc(d.timeout, func() { d.handleTimeout(key) })
	d.mu.Unlock()

	if err := d.sender.Send(key.deviceID, payload); err != nil {
		d.logger.Warn("command resend failed",
			zap.String("device_id", key.deviceID), zap.Int("port", key.port), zap.Error(err))
		d.complete(key, ErrDeviceOffline)
		return
	}
	d.logger.Info("command retried",
		zap.String("device_id", key.deviceID), zap.Int("port", key.port),
		zap.Bool("on", key.on), zap.Int("attempt", attempt))
}

func (d *Dispatcher) complete(key pendingKey, err error) {
	d.mu.Lock()
	cmd, ok := d.pending[key]
	if ok {
		delete(d.pending, key)
	}
	d.mu.Unlock()
	if !ok {
		return
	}

	if cmd.timer != nil {
		cmd.timer.Stop()
	}
	for _, waiter := range cmd.waiters {
		select {
		case waiter <- err:
		default:
		}
	}
}
