// Package model defines the core data structures for kcbridge.
package model

import (
	"errors"
	"time"
)

// DeviceType classifies the form factor a device advertises.
type DeviceType string

const (
	DeviceTypePhone   DeviceType = "phone"
	DeviceTypeTablet  DeviceType = "tablet"
	DeviceTypeDesktop DeviceType = "desktop"
	DeviceTypeLaptop  DeviceType = "laptop"
	DeviceTypeTV      DeviceType = "tv"
	DeviceTypeUnknown DeviceType = "unknown"
)

// ParseDeviceType maps a daemon-reported type string onto the known set.
// Unrecognized strings map to DeviceTypeUnknown.
func ParseDeviceType(s string) DeviceType {
	switch DeviceType(s) {
	case DeviceTypePhone, DeviceTypeTablet, DeviceTypeDesktop, DeviceTypeLaptop, DeviceTypeTV:
		return DeviceType(s)
	default:
		return DeviceTypeUnknown
	}
}

// Device is one entry in the device registry: identity plus the
// last-observed reachability and pairing status reported by the daemon.
// The registry owns the only mutable copy; everything consumers see is a
// snapshot clone.
type Device struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Type      DeviceType `json:"type"`
	Reachable bool       `json:"reachable"`
	Paired    bool       `json:"paired"`
	Trusted   bool       `json:"trusted,omitempty"`
	LastSeen  int64      `json:"last_seen"`

	// Telemetry reported by device sub-interfaces; nil until first report.
	Battery      *BatteryState      `json:"battery,omitempty"`
	Connectivity *ConnectivityState `json:"connectivity,omitempty"`
}

// BatteryState is the last battery report from a device.
type BatteryState struct {
	Charge     int   `json:"charge"` // percent, 0-100
	Charging   bool  `json:"charging"`
	ReportedAt int64 `json:"reported_at"`
}

// ConnectivityState is the last cellular connectivity report from a device.
type ConnectivityState struct {
	NetworkType    string `json:"network_type"`
	SignalStrength int    `json:"signal_strength"` // 0-4, -1 when unknown
	ReportedAt     int64  `json:"reported_at"`
}

// Validation errors.
var (
	ErrEmptyDeviceID = errors.New("device id cannot be empty")
)

// Validate checks that the device carries the required identity.
func (d *Device) Validate() error {
	if d.ID == "" {
		return ErrEmptyDeviceID
	}
	return nil
}

// LastSeenTime returns the last-seen timestamp as a time.Time.
func (d *Device) LastSeenTime() time.Time {
	return time.Unix(d.LastSeen, 0)
}

// Clone creates a deep copy of the device.
func (d *Device) Clone() *Device {
	clone := *d
	if d.Battery != nil {
		b := *d.Battery
		clone.Battery = &b
	}
	if d.Connectivity != nil {
		c := *d.Connectivity
		clone.Connectivity = &c
	}
	return &clone
}
