package interfaces

import (
	"context"

	"github.com/caio-sobreiro/dicomnode/types"
)

// DeviceFilter selects devices by enabled service and default flag.
// Zero value matches every device.
type DeviceFilter struct {
	QueryRetrieve bool
	Store         bool
	DefaultOnly   bool
}

// Matches reports whether d passes the filter.
func (f DeviceFilter) Matches(d types.Device) bool {
	if f.QueryRetrieve && !d.QueryRetrieveEnabled {
		return false
	}
	if f.Store && !d.StoreEnabled {
		return false
	}
	if f.DefaultOnly && !d.Default {
		return false
	}
	return true
}

// DeviceStore persists device descriptors. A device is unique by
// (AE title, address, query/retrieve port).
type DeviceStore interface {
	Add(ctx context.Context, device types.Device) (types.Device, error)
	Update(ctx context.Context, device types.Device) error
	Delete(ctx context.Context, id int64) error
	Get(ctx context.Context, id int64) (types.Device, error)
	List(ctx context.Context, filter DeviceFilter) ([]types.Device, error)
}

// ObjectSink is the local catalog: it is told about every object the
// retrieve engine persisted.
type ObjectSink interface {
	ImportObject(ctx context.Context, obj types.StoredObject) error
}

// SpaceReclaimer frees disk space in the local catalog, usually by
// deleting the oldest studies.
type SpaceReclaimer interface {
	ReclaimSpace(ctx context.Context, bytesNeeded uint64) error
}
