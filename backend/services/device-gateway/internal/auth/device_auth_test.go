package auth

import (
	"context"
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"solarcharge/backend/services/device-gateway/internal/models"
)

type fakeDeviceStore struct {
	devices map[string]*models.Device
	err     error
}

func (f *fakeDeviceStore) Get(_ context.Context, id string) (*models.Device, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.devices[id], nil
}

func TestAuthenticate(t *testing.T) {
	hasher := NewBcryptHasher(bcrypt.MinCost)
	hash, err := hasher.Hash("solar-key-42")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	store := &fakeDeviceStore{devices: map[string]*models.Device{
		"esp32-001": {ID: "esp32-001", StationID: "station-01", SecretHash: hash, Ports: 2},
	}}
	a := NewAuthenticator(store, hasher)

	device, err := a.Authenticate(context.Background(), "esp32-001", "solar-key-42")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if device.StationID != "station-01" {
		t.Fatalf("station = %q, want station-01", device.StationID)
	}

	if _, err := a.Authenticate(context.Background(), "esp32-001", "wrong"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("bad key err = %v, want ErrUnauthorized", err)
	}
	if _, err := a.Authenticate(context.Background(), "ghost", "solar-key-42"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("unknown device err = %v, want ErrUnauthorized", err)
	}
	if _, err := a.Authenticate(context.Background(), "", ""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("empty credentials err = %v, want ErrUnauthorized", err)
	}
}

func TestAuthenticatePropagatesStoreError(t *testing.T) {
	storeErr := errors.New("db down")
	a := NewAuthenticator(&fakeDeviceStore{err: storeErr}, NewBcryptHasher(bcrypt.MinCost))

	if _, err := a.Authenticate(context.Background(), "esp32-001", "key"); !errors.Is(err, storeErr) {
		t.Fatalf("err = %v, want store error", err)
	}
}

func TestHasherRejectsEmptyKey(t *testing.T) {
	if _, err := NewBcryptHasher(bcrypt.MinCost).Hash(""); err == nil {
		t.Fatal("expected error for empty key")
	}
}
