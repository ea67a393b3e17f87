package ble

import (
	"fmt"
	"log/slog"
	"sync"

	"tinygo.org/x/bluetooth"
)

// TinyGoAdapter wraps tinygo-org/bluetooth in the peripheral role. On Linux
// it talks to BlueZ over D-Bus; pairing and bonding are handled by
// bluetoothd and its default agent, which is why it does not implement
// PairingReporter.
type TinyGoAdapter struct {
	adapter *bluetooth.Adapter
	adv     *bluetooth.Advertisement

	// mu protects the peers map.
	mu    sync.Mutex
	peers map[string]bluetooth.Device // keyed by address string
}

// NewTinyGoAdapter creates a peripheral adapter on the default controller.
func NewTinyGoAdapter() *TinyGoAdapter {
	return &TinyGoAdapter{
		adapter: bluetooth.DefaultAdapter,
		peers:   make(map[string]bluetooth.Device),
	}
}

func (a *TinyGoAdapter) Enable() error {
	return a.adapter.Enable()
}

func (a *TinyGoAdapter) AddService(svc Service) error {
	uuid, err := bluetooth.ParseUUID(svc.UUID)
	if err != nil {
		return fmt.Errorf("ble: parse service UUID: %w", err)
	}

	chars := make([]bluetooth.CharacteristicConfig, 0, len(svc.Characteristics))
	for _, c := range svc.Characteristics {
		charUUID, err := bluetooth.ParseUUID(c.UUID)
		if err != nil {
			return fmt.Errorf("ble: parse characteristic UUID: %w", err)
		}
		var flags bluetooth.CharacteristicPermissions
		if c.Read {
			flags |= bluetooth.CharacteristicReadPermission
		}
		if c.Notify {
			flags |= bluetooth.CharacteristicNotifyPermission
		}
		chars = append(chars, bluetooth.CharacteristicConfig{
			UUID:  charUUID,
			Value: c.Value,
			Flags: flags,
		})
	}

	return a.adapter.AddService(&bluetooth.Service{
		UUID:            uuid,
		Characteristics: chars,
	})
}

func (a *TinyGoAdapter) ConfigureAdvertisement(opts AdvertisementOptions) error {
	uuids := make([]bluetooth.UUID, 0, len(opts.ServiceUUIDs))
	for _, s := range opts.ServiceUUIDs {
		uuid, err := bluetooth.ParseUUID(s)
		if err != nil {
			return fmt.Errorf("ble: parse advertised UUID: %w", err)
		}
		uuids = append(uuids, uuid)
	}

	advOpts := bluetooth.AdvertisementOptions{
		LocalName:    opts.LocalName,
		ServiceUUIDs: uuids,
		Interval:     bluetooth.NewDuration(opts.Interval),
	}
	if len(opts.ManufacturerData) > 0 {
		advOpts.ManufacturerData = []bluetooth.ManufacturerDataElement{
			{CompanyID: opts.ManufacturerID, Data: opts.ManufacturerData},
		}
	}

	a.adv = a.adapter.DefaultAdvertisement()
	return a.adv.Configure(advOpts)
}

func (a *TinyGoAdapter) StartAdvertising() error {
	if a.adv == nil {
		return fmt.Errorf("ble: advertisement not configured")
	}
	return a.adv.Start()
}

func (a *TinyGoAdapter) StopAdvertising() error {
	if a.adv == nil {
		return nil
	}
	return a.adv.Stop()
}

func (a *TinyGoAdapter) SetConnectHandler(handler func(peer string, connected bool)) {
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		peer := device.Address.String()
		a.mu.Lock()
		if connected {
			a.peers[peer] = device
		} else {
			delete(a.peers, peer)
		}
		a.mu.Unlock()
		handler(peer, connected)
	})
}

func (a *TinyGoAdapter) Disconnect(peer string) error {
	a.mu.Lock()
	device, ok := a.peers[peer]
	a.mu.Unlock()
	if !ok {
		slog.Debug("[BLE] disconnect for unknown peer", "peer", peer)
		return nil
	}
	if err := device.Disconnect(); err != nil {
		return fmt.Errorf("ble: disconnect %s: %w", peer, err)
	}
	return nil
}

// Compile-time check that TinyGoAdapter implements Adapter.
var _ Adapter = (*TinyGoAdapter)(nil)
