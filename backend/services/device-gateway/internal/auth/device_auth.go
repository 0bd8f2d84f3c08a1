package auth

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"

	"solarcharge/backend/services/device-gateway/internal/models"
)

// ErrUnauthorized covers unknown devices and bad keys alike, so a caller
// cannot probe which device IDs exist.
var ErrUnauthorized = errors.New("auth: unknown device or bad key")

// Hasher hashes and verifies device keys.
type Hasher interface {
	Hash(secret string) (string, error)
	Compare(hash, secret string) error
}

// BcryptHasher implements Hasher using bcrypt.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher returns a bcrypt-backed key hasher.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

// Hash converts a plain device key into a hash.
func (h *BcryptHasher) Hash(secret string) (string, error) {
	if secret == "" {
		return "", errors.New("auth: empty key")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), h.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Compare checks if the provided key matches the stored hash.
func (h *BcryptHasher) Compare(hash, secret string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))
}

// DeviceStore resolves registered devices. Get returns (nil, nil) for an
// unknown ID.
type DeviceStore interface {
	Get(ctx context.Context, id string) (*models.Device, error)
}

// Authenticator verifies the device key presented at connect time.
type Authenticator struct {
	devices DeviceStore
	hasher  Hasher
}

// NewAuthenticator builds an authenticator.
func NewAuthenticator(devices DeviceStore, hasher Hasher) *Authenticator {
	return &Authenticator{devices: devices, hasher: hasher}
}

// Authenticate resolves the device and checks its key.
func (a *Authenticator) Authenticate(ctx context.Context, deviceID, secret string) (*models.Device, error) {
	if deviceID == "" || secret == "" {
		return nil, ErrUnauthorized
	}
	device, err := a.devices.Get(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if device == nil {
		return nil, ErrUnauthorized
	}
	if err := a.hasher.Compare(device.SecretHash, secret); err != nil {
		return nil, ErrUnauthorized
	}
	return device, nil
}
