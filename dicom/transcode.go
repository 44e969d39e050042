package dicom

import (
	"fmt"

	"github.com/caio-sobreiro/dicomnode/types"
)

// CanTranscode reports whether a data set encoded in from can be
// re-encoded in to by Transcode.
func CanTranscode(from, to string) bool {
	if from == to {
		return true
	}
	return from == types.ExplicitVRLittleEndian && to == types.ImplicitVRLittleEndian
}

// Transcode re-encodes a raw data set from one transfer syntax into
// another. Only explicit to implicit little endian is supported; both
// share the byte order, so binary values are carried over untouched.
func Transcode(data []byte, from, to string) ([]byte, error) {
	if from == to {
		return data, nil
	}
	if !CanTranscode(from, to) {
		return nil, fmt.Errorf("%w: cannot transcode %s to %s", ErrUnsupportedTransferSyntax, from, to)
	}

	ds, err := parseWith(data, explicitLittle)
	if err != nil {
		return nil, err
	}
	dropGroupLengths(ds)
	return encodeWith(ds, implicitLittle), nil
}

// dropGroupLengths removes (gggg,0000) elements, whose values no longer
// hold once header sizes change.
func dropGroupLengths(ds *Dataset) {
	for tag, elem := range ds.Elements {
		if tag.Element == 0x0000 {
			delete(ds.Elements, tag)
			continue
		}
		if items, ok := elem.Value.([]*Dataset); ok {
			for _, item := range items {
				dropGroupLengths(item)
			}
		}
	}
}
