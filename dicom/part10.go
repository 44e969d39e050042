package dicom

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	preambleLength = 128
	part10Prefix   = "DICM"
)

// ImplementationClassUID identifies files written by this module.
const ImplementationClassUID = "1.2.826.0.1.3680043.10.1403.1"

// ImplementationVersionName is written into the file meta information.
const ImplementationVersionName = "DICOMNODE_1"

// MetaInfo is the File Meta Information (group 0x0002) of a Part 10 file.
type MetaInfo struct {
	MediaStorageSOPClassUID    string
	MediaStorageSOPInstanceUID string
	TransferSyntaxUID          string
	ImplementationClassUID     string
	SourceApplicationEntity    string
}

// File is a decoded Part 10 file: its meta information and the raw data
// set bytes, still encoded in TransferSyntaxUID.
type File struct {
	Meta    MetaInfo
	Dataset []byte
}

// HasPart10Header checks if the data starts with a DICOM Part 10 header.
//
// Returns true if the data contains the 128-byte preamble followed by "DICM".
func HasPart10Header(data []byte) bool {
	if len(data) < preambleLength+4 {
		return false
	}
	return string(data[preambleLength:preambleLength+4]) == part10Prefix
}

// ReadPart10 decodes a Part 10 file.
//
// The SOP class and instance are taken from the meta information and, if
// missing there, from the data set itself. A file that lacks a transfer
// syntax, a SOP class or a SOP instance is malformed.
func ReadPart10(data []byte) (*File, error) {
	if len(data) < preambleLength+4 {
		return nil, fmt.Errorf("%w: data too short to be DICOM Part 10 (got %d bytes)", ErrMalformed, len(data))
	}
	if !HasPart10Header(data) {
		return nil, fmt.Errorf("%w: missing DICM prefix at offset 128", ErrMalformed)
	}

	offset := preambleLength + 4
	var meta MetaInfo
	for offset+8 <= len(data) {
		group := binary.LittleEndian.Uint16(data[offset:])
		if group != 0x0002 {
			break
		}
		element := binary.LittleEndian.Uint16(data[offset+2:])
		vr := string(data[offset+4 : offset+6])

		var length int
		if isLongVR(vr) {
			if offset+12 > len(data) {
				return nil, fmt.Errorf("%w: truncated file meta element (0002,%04x)", ErrMalformed, element)
			}
			length = int(binary.LittleEndian.Uint32(data[offset+8:]))
			offset += 12
		} else {
			length = int(binary.LittleEndian.Uint16(data[offset+6:]))
			offset += 8
		}
		if length < 0 || offset+length > len(data) {
			return nil, fmt.Errorf("%w: file meta element (0002,%04x) exceeds data", ErrMalformed, element)
		}

		value := strings.TrimRight(string(data[offset:offset+length]), "\x00 ")
		switch element {
		case TagMediaStorageSOPClassUID.Element:
			meta.MediaStorageSOPClassUID = value
		case TagMediaStorageSOPInstanceUID.Element:
			meta.MediaStorageSOPInstanceUID = value
		case TagTransferSyntaxUID.Element:
			meta.TransferSyntaxUID = value
		case TagImplementationClassUID.Element:
			meta.ImplementationClassUID = value
		case TagSourceApplicationEntity.Element:
			meta.SourceApplicationEntity = value
		}
		offset += length
	}

	if meta.TransferSyntaxUID == "" {
		return nil, fmt.Errorf("%w: file meta information has no transfer syntax", ErrMalformed)
	}

	f := &File{Meta: meta, Dataset: data[offset:]}
	if meta.MediaStorageSOPClassUID == "" || meta.MediaStorageSOPInstanceUID == "" {
		ds, err := f.Parse()
		if err != nil {
			return nil, err
		}
		if f.Meta.MediaStorageSOPClassUID == "" {
			f.Meta.MediaStorageSOPClassUID = ds.GetString(TagSOPClassUID)
		}
		if f.Meta.MediaStorageSOPInstanceUID == "" {
			f.Meta.MediaStorageSOPInstanceUID = ds.GetString(TagSOPInstanceUID)
		}
	}
	if f.Meta.MediaStorageSOPClassUID == "" || f.Meta.MediaStorageSOPInstanceUID == "" {
		return nil, fmt.Errorf("%w: no SOP class or SOP instance UID", ErrMalformed)
	}

	return f, nil
}

// ReadPart10File reads and decodes a Part 10 file from disk.
func ReadPart10File(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := ReadPart10(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes the data set of the file.
func (f *File) Parse() (*Dataset, error) {
	return ParseDatasetWithTransferSyntax(f.Dataset, f.Meta.TransferSyntaxUID)
}

// StripPart10Header removes the DICOM Part 10 preamble and File Meta Information
// to extract just the dataset, ready to be sent in a C-STORE.
func StripPart10Header(data []byte) ([]byte, error) {
	f, err := ReadPart10(data)
	if err != nil {
		return nil, err
	}
	if len(f.Dataset) == 0 {
		return nil, fmt.Errorf("%w: no data set after file meta information", ErrMalformed)
	}
	return f.Dataset, nil
}

// WritePart10 writes a preamble, the file meta information and the raw
// data set to w.
func WritePart10(w io.Writer, meta MetaInfo, dataset []byte) error {
	if meta.ImplementationClassUID == "" {
		meta.ImplementationClassUID = ImplementationClassUID
	}

	group := NewDataset()
	group.AddElement(TagFileMetaVersion, VR_OB, []byte{0x00, 0x01})
	group.AddElement(TagMediaStorageSOPClassUID, VR_UI, meta.MediaStorageSOPClassUID)
	group.AddElement(TagMediaStorageSOPInstanceUID, VR_UI, meta.MediaStorageSOPInstanceUID)
	group.AddElement(TagTransferSyntaxUID, VR_UI, meta.TransferSyntaxUID)
	group.AddElement(TagImplementationClassUID, VR_UI, meta.ImplementationClassUID)
	group.AddElement(TagImplementationVersionName, VR_SH, ImplementationVersionName)
	if meta.SourceApplicationEntity != "" {
		group.AddElement(TagSourceApplicationEntity, VR_AE, meta.SourceApplicationEntity)
	}
	body := group.EncodeDataset()

	header := make([]byte, preambleLength, preambleLength+16+len(body))
	header = append(header, part10Prefix...)
	header = appendElement(header, &Element{
		Tag:   TagFileMetaGroupLength,
		VR:    VR_UL,
		Value: uint32(len(body)),
	}, explicitLittle)
	header = append(header, body...)

	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(dataset)
	return err
}
