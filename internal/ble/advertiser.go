package ble

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// AdvertiserOptions configures the enrollment peripheral.
type AdvertiserOptions struct {
	DeviceName   string
	Manufacturer string
	Model        string
	Interval     time.Duration
}

// DefaultAdvertiserOptions returns sensible defaults.
func DefaultAdvertiserOptions() AdvertiserOptions {
	return AdvertiserOptions{
		DeviceName:   DefaultDeviceName,
		Manufacturer: DefaultManufacturer,
		Model:        DefaultModel,
		Interval:     DefaultInterval,
	}
}

// Advertiser runs the BLE peripheral: it registers the GATT database,
// advertises, and forwards connection events to the registered callbacks.
// Callbacks run on the adapter's goroutine and must not block.
type Advertiser struct {
	adapter Adapter
	opts    AdvertiserOptions

	mu          sync.Mutex
	ready       bool
	advertising bool
	connected   map[string]bool

	onConnected    func(peer string)
	onDisconnected func(peer string)
	onPairing      func(peer string, ok bool)
}

// NewAdvertiser creates an Advertiser on adapter. Empty option fields are
// filled with defaults.
func NewAdvertiser(adapter Adapter, opts AdvertiserOptions) *Advertiser {
	def := DefaultAdvertiserOptions()
	if opts.DeviceName == "" {
		opts.DeviceName = def.DeviceName
	}
	if opts.Manufacturer == "" {
		opts.Manufacturer = def.Manufacturer
	}
	if opts.Model == "" {
		opts.Model = def.Model
	}
	if opts.Interval <= 0 {
		opts.Interval = def.Interval
	}
	return &Advertiser{
		adapter:   adapter,
		opts:      opts,
		connected: make(map[string]bool),
	}
}

// OnConnected registers the callback fired when a central connects.
func (a *Advertiser) OnConnected(cb func(peer string)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onConnected = cb
}

// OnDisconnected registers the callback fired when a central drops.
func (a *Advertiser) OnDisconnected(cb func(peer string)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onDisconnected = cb
}

// OnPairing registers the callback fired when the stack reports a pairing
// outcome. It is only invoked by adapters implementing PairingReporter.
func (a *Advertiser) OnPairing(cb func(peer string, ok bool)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onPairing = cb
}

// Setup enables the radio and registers the GATT services and callbacks.
// A radio that cannot be enabled yields ErrRadioUnavailable.
func (a *Advertiser) Setup() error {
	if err := a.adapter.Enable(); err != nil {
		return fmt.Errorf("%w: enable adapter: %w", ErrRadioUnavailable, err)
	}

	for _, svc := range Services(a.opts) {
		if err := a.adapter.AddService(svc); err != nil {
			return fmt.Errorf("ble: add service %s: %w", svc.UUID, err)
		}
	}

	if err := a.adapter.ConfigureAdvertisement(Advertisement(a.opts)); err != nil {
		return fmt.Errorf("ble: configure advertisement: %w", err)
	}

	a.adapter.SetConnectHandler(a.handleConnect)
	if pr, ok := a.adapter.(PairingReporter); ok {
		pr.SetPairingHandler(a.handlePairing)
	}

	a.mu.Lock()
	a.ready = true
	a.mu.Unlock()

	slog.Info("[BLE] peripheral ready", "name", a.opts.DeviceName)
	return nil
}

// StartAdvertising begins broadcasting the enrollment service. It fails with
// ErrRadioUnavailable when Setup has not succeeded or the stack refuses.
// Calling it while already advertising is a no-op.
func (a *Advertiser) StartAdvertising() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.ready {
		return fmt.Errorf("%w: peripheral not set up", ErrRadioUnavailable)
	}
	if a.advertising {
		return nil
	}
	if err := a.adapter.StartAdvertising(); err != nil {
		return fmt.Errorf("%w: start advertising: %w", ErrRadioUnavailable, err)
	}
	a.advertising = true
	slog.Info("[BLE] advertising", "name", a.opts.DeviceName)
	return nil
}

// StopAdvertising stops broadcasting. Stopping while idle is not an error.
func (a *Advertiser) StopAdvertising() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.advertising {
		return nil
	}
	a.advertising = false
	if err := a.adapter.StopAdvertising(); err != nil {
		return fmt.Errorf("ble: stop advertising: %w", err)
	}
	slog.Debug("[BLE] advertising stopped")
	return nil
}

// Advertising reports whether the peripheral is currently advertising.
func (a *Advertiser) Advertising() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.advertising
}

// Disconnect drops peer if it is connected.
func (a *Advertiser) Disconnect(peer string) error {
	a.mu.Lock()
	connected := a.connected[peer]
	a.mu.Unlock()
	if !connected {
		return nil
	}
	return a.adapter.Disconnect(peer)
}

func (a *Advertiser) handleConnect(peer string, connected bool) {
	a.mu.Lock()
	var cb func(string)
	if connected {
		a.connected[peer] = true
		// Controllers stop legacy connectable advertising once a central
		// connects.
		a.advertising = false
		cb = a.onConnected
	} else {
		delete(a.connected, peer)
		cb = a.onDisconnected
	}
	a.mu.Unlock()

	slog.Info("[BLE] connection changed", "peer", peer, "connected", connected)
	if cb != nil {
		cb(peer)
	}
}

func (a *Advertiser) handlePairing(peer string, ok bool) {
	a.mu.Lock()
	cb := a.onPairing
	a.mu.Unlock()

	slog.Info("[BLE] pairing finished", "peer", peer, "success", ok)
	if cb != nil {
		cb(peer, ok)
	}
}
