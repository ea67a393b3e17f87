package ble

import "time"

// Identity strings served from the Device Information service.
const (
	DefaultDeviceName   = "IRK Collector"
	DefaultManufacturer = "irk-enroll"
	DefaultModel        = "IRK Collector"
)

// Advertising payload constants. 0xFFFF is the company ID reserved for
// development; the Heart Rate service UUID makes iOS list the device in its
// Bluetooth settings so the user can pair with it.
const (
	DevelopmentCompanyID = 0xFFFF
	DefaultInterval      = 30 * time.Millisecond
)

var (
	manufacturerPayload = []byte{0x01, 0x02}
	// flags 0x06 (sensor contact supported and detected), 64 bpm
	heartRateMeasurement = []byte{0x06, 0x40}
)

// Services returns the GATT database served during enrollment.
func Services(opts AdvertiserOptions) []Service {
	return []Service{
		{
			UUID: DeviceInformationServiceUUID,
			Characteristics: []Characteristic{
				{UUID: ManufacturerNameCharUUID, Value: []byte(opts.Manufacturer), Read: true},
				{UUID: ModelNumberCharUUID, Value: []byte(opts.Model), Read: true},
			},
		},
		{
			UUID: HeartRateServiceUUID,
			Characteristics: []Characteristic{
				{UUID: HeartRateMeasurementCharUUID, Value: heartRateMeasurement, Read: true, Notify: true},
			},
		},
	}
}

// Advertisement returns the advertising payload for opts.
func Advertisement(opts AdvertiserOptions) AdvertisementOptions {
	return AdvertisementOptions{
		LocalName:        opts.DeviceName,
		ServiceUUIDs:     []string{HeartRateServiceUUID},
		ManufacturerID:   DevelopmentCompanyID,
		ManufacturerData: manufacturerPayload,
		Interval:         opts.Interval,
	}
}
