package ble

import (
	"errors"
	"sync"
	"testing"
)

// mockAdapter simulates a BLE peripheral adapter.
type mockAdapter struct {
	mu sync.Mutex

	enableErr error
	startErr  error

	services     []Service
	adv          AdvertisementOptions
	advertising  bool
	starts       int
	disconnected []string

	connectCb func(peer string, connected bool)
	pairingCb func(peer string, ok bool)
}

func (a *mockAdapter) Enable() error { return a.enableErr }

func (a *mockAdapter) AddService(svc Service) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.services = append(a.services, svc)
	return nil
}

func (a *mockAdapter) ConfigureAdvertisement(opts AdvertisementOptions) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.adv = opts
	return nil
}

func (a *mockAdapter) StartAdvertising() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.startErr != nil {
		return a.startErr
	}
	a.starts++
	a.advertising = true
	return nil
}

func (a *mockAdapter) StopAdvertising() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.advertising = false
	return nil
}

func (a *mockAdapter) SetConnectHandler(cb func(peer string, connected bool)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connectCb = cb
}

func (a *mockAdapter) SetPairingHandler(cb func(peer string, ok bool)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pairingCb = cb
}

func (a *mockAdapter) Disconnect(peer string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.disconnected = append(a.disconnected, peer)
	return nil
}

// SimulateConnect triggers the connect callback.
func (a *mockAdapter) SimulateConnect(peer string, connected bool) {
	a.mu.Lock()
	cb := a.connectCb
	a.mu.Unlock()
	if cb != nil {
		cb(peer, connected)
	}
}

// SimulatePairing triggers the pairing callback.
func (a *mockAdapter) SimulatePairing(peer string, ok bool) {
	a.mu.Lock()
	cb := a.pairingCb
	a.mu.Unlock()
	if cb != nil {
		cb(peer, ok)
	}
}

var errMockRadio = errors.New("mock: controller not powered")

func TestMockAdapterImplementsInterface(t *testing.T) {
	var _ Adapter = (*mockAdapter)(nil)
	var _ PairingReporter = (*mockAdapter)(nil)
}
