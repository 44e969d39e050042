package types

import "fmt"

// Device describes one remote archive endpoint.
type Device struct {
	ID                   int64
	AETitle              string // remote application entity
	CallingAETitle       string // local application entity used towards this device; empty uses the configured one
	Address              string
	QueryRetrievePort    int
	StorePort            int
	QueryRetrieveEnabled bool
	StoreEnabled         bool
	Description          string
	Institution          string
	Default              bool
}

// DeviceKey is the de-duplication key of a device.
type DeviceKey struct {
	AETitle           string
	Address           string
	QueryRetrievePort int
}

// Key returns the (AE title, address, query/retrieve port) identity.
func (d Device) Key() DeviceKey {
	return DeviceKey{AETitle: d.AETitle, Address: d.Address, QueryRetrievePort: d.QueryRetrievePort}
}

// SameAs reports whether both descriptors address the same archive.
func (d Device) SameAs(other Device) bool {
	return d.Key() == other.Key()
}

// HasService reports whether at least one network service is enabled.
func (d Device) HasService() bool {
	return d.QueryRetrieveEnabled || d.StoreEnabled
}

func (d Device) String() string {
	return fmt.Sprintf("%s@%s:%d", d.AETitle, d.Address, d.QueryRetrievePort)
}
