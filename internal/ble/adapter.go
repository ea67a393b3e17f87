// Package ble provides the BLE peripheral side of IRK enrollment: it serves
// a small GATT database, advertises an enrollment-capable service and reports
// centrals connecting and disconnecting so the enrollment engine can follow
// the pairing.
package ble

import (
	"errors"
	"time"
)

// ErrRadioUnavailable is returned when the BLE stack is not initialized or
// refuses to advertise.
var ErrRadioUnavailable = errors.New("ble: radio unavailable")

// Bluetooth SIG assigned UUIDs used by the enrollment GATT database.
const (
	DeviceInformationServiceUUID = "0000180a-0000-1000-8000-00805f9b34fb"
	ManufacturerNameCharUUID     = "00002a29-0000-1000-8000-00805f9b34fb"
	ModelNumberCharUUID          = "00002a24-0000-1000-8000-00805f9b34fb"
	HeartRateServiceUUID         = "0000180d-0000-1000-8000-00805f9b34fb"
	HeartRateMeasurementCharUUID = "00002a37-0000-1000-8000-00805f9b34fb"
)

// Characteristic describes a GATT characteristic served by the peripheral.
type Characteristic struct {
	UUID   string
	Value  []byte
	Read   bool
	Notify bool
}

// Service describes a primary GATT service.
type Service struct {
	UUID            string
	Characteristics []Characteristic
}

// AdvertisementOptions configures the advertising payload and timing.
type AdvertisementOptions struct {
	LocalName        string
	ServiceUUIDs     []string
	ManufacturerID   uint16
	ManufacturerData []byte
	Interval         time.Duration
}

// Adapter abstracts the BLE hardware adapter in the peripheral role.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// AddService registers a GATT service. Must be called after Enable.
	AddService(svc Service) error
	// ConfigureAdvertisement sets the advertising payload.
	ConfigureAdvertisement(opts AdvertisementOptions) error
	// StartAdvertising begins broadcasting the configured payload.
	StartAdvertising() error
	// StopAdvertising stops broadcasting. Stopping while idle is not an error.
	StopAdvertising() error
	// SetConnectHandler registers the callback for centrals connecting and
	// disconnecting. peer is the address string reported by the stack.
	SetConnectHandler(handler func(peer string, connected bool))
	// Disconnect drops the connection to peer.
	Disconnect(peer string) error
}

// PairingReporter is implemented by adapters whose stack reports the outcome
// of a pairing attempt.
type PairingReporter interface {
	SetPairingHandler(handler func(peer string, ok bool))
}
