package dicom

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/caio-sobreiro/dicomnode/types"
)

func sampleDataset(t *testing.T, ts string) []byte {
	t.Helper()
	ds := NewDataset()
	ds.AddElement(TagSOPClassUID, VR_UI, types.CTImageStorage)
	ds.AddElement(TagSOPInstanceUID, VR_UI, "1.2.3.4.5")
	ds.AddElement(TagPatientName, VR_PN, "DOE^JOHN")
	ds.AddElement(TagRows, VR_US, uint16(2))
	data, err := EncodeDatasetWithTransferSyntax(ds, ts)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	return data
}

func writeSample(t *testing.T, meta MetaInfo, dataset []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := WritePart10(&buf, meta, dataset); err != nil {
		t.Fatalf("WritePart10 failed: %v", err)
	}
	return buf.Bytes()
}

func TestWriteReadPart10(t *testing.T) {
	dataset := sampleDataset(t, types.ExplicitVRLittleEndian)
	data := writeSample(t, MetaInfo{
		MediaStorageSOPClassUID:    types.CTImageStorage,
		MediaStorageSOPInstanceUID: "1.2.3.4.5",
		TransferSyntaxUID:          types.ExplicitVRLittleEndian,
		SourceApplicationEntity:    "ARCHIVE",
	}, dataset)

	if !HasPart10Header(data) {
		t.Fatal("written file has no Part 10 header")
	}

	f, err := ReadPart10(data)
	if err != nil {
		t.Fatalf("ReadPart10 failed: %v", err)
	}
	if f.Meta.MediaStorageSOPClassUID != types.CTImageStorage {
		t.Errorf("SOP class = %s", f.Meta.MediaStorageSOPClassUID)
	}
	if f.Meta.MediaStorageSOPInstanceUID != "1.2.3.4.5" {
		t.Errorf("SOP instance = %s", f.Meta.MediaStorageSOPInstanceUID)
	}
	if f.Meta.TransferSyntaxUID != types.ExplicitVRLittleEndian {
		t.Errorf("transfer syntax = %s", f.Meta.TransferSyntaxUID)
	}
	if f.Meta.ImplementationClassUID != ImplementationClassUID {
		t.Errorf("implementation class = %s", f.Meta.ImplementationClassUID)
	}
	if f.Meta.SourceApplicationEntity != "ARCHIVE" {
		t.Errorf("source AE = %s", f.Meta.SourceApplicationEntity)
	}
	if !bytes.Equal(f.Dataset, dataset) {
		t.Error("data set bytes changed")
	}
}

func TestReadPart10_FallsBackToDataset(t *testing.T) {
	dataset := sampleDataset(t, types.ImplicitVRLittleEndian)
	data := writeSample(t, MetaInfo{TransferSyntaxUID: types.ImplicitVRLittleEndian}, dataset)

	f, err := ReadPart10(data)
	if err != nil {
		t.Fatalf("ReadPart10 failed: %v", err)
	}
	if f.Meta.MediaStorageSOPClassUID != types.CTImageStorage {
		t.Errorf("SOP class = %s", f.Meta.MediaStorageSOPClassUID)
	}
	if f.Meta.MediaStorageSOPInstanceUID != "1.2.3.4.5" {
		t.Errorf("SOP instance = %s", f.Meta.MediaStorageSOPInstanceUID)
	}
}

func TestReadPart10_Malformed(t *testing.T) {
	noTS := writeSample(t, MetaInfo{
		MediaStorageSOPClassUID:    types.CTImageStorage,
		MediaStorageSOPInstanceUID: "1.2.3",
	}, sampleDataset(t, types.ExplicitVRLittleEndian))

	empty := NewDataset()
	empty.AddElement(TagPatientName, VR_PN, "X")
	noUIDs := writeSample(t, MetaInfo{TransferSyntaxUID: types.ExplicitVRLittleEndian}, empty.EncodeDataset())

	tests := []struct {
		name string
		data []byte
	}{
		{"too short", make([]byte, 64)},
		{"no DICM", make([]byte, 200)},
		{"no transfer syntax", noTS},
		{"no SOP identity", noUIDs},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ReadPart10(tt.data); !errors.Is(err, ErrMalformed) {
				t.Errorf("Expected ErrMalformed, got %v", err)
			}
		})
	}
}

func TestReadPart10File(t *testing.T) {
	dataset := sampleDataset(t, types.ExplicitVRLittleEndian)
	data := writeSample(t, MetaInfo{
		MediaStorageSOPClassUID:    types.CTImageStorage,
		MediaStorageSOPInstanceUID: "1.2.3.4.5",
		TransferSyntaxUID:          types.ExplicitVRLittleEndian,
	}, dataset)

	path := filepath.Join(t.TempDir(), "image.dcm")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := ReadPart10File(path)
	if err != nil {
		t.Fatalf("ReadPart10File failed: %v", err)
	}
	ds, err := f.Parse()
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if ds.GetString(TagPatientName) != "DOE^JOHN" {
		t.Errorf("PatientName = %q", ds.GetString(TagPatientName))
	}

	if _, err := ReadPart10File(filepath.Join(t.TempDir(), "missing.dcm")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestStripPart10Header(t *testing.T) {
	dataset := sampleDataset(t, types.ExplicitVRLittleEndian)
	data := writeSample(t, MetaInfo{
		MediaStorageSOPClassUID:    types.CTImageStorage,
		MediaStorageSOPInstanceUID: "1.2.3.4.5",
		TransferSyntaxUID:          types.ExplicitVRLittleEndian,
	}, dataset)

	stripped, err := StripPart10Header(data)
	if err != nil {
		t.Fatalf("StripPart10Header failed: %v", err)
	}
	if !bytes.Equal(stripped, dataset) {
		t.Error("stripped data does not match data set")
	}
}

func TestHasPart10Header_RawDataset(t *testing.T) {
	if HasPart10Header(sampleDataset(t, types.ExplicitVRLittleEndian)) {
		t.Error("raw data set reported as Part 10")
	}
}

func TestTranscode_ExplicitToImplicit(t *testing.T) {
	ds := NewDataset()
	ds.AddElement(Tag{0x0008, 0x0000}, VR_UL, uint32(42))
	ds.AddElement(TagSOPInstanceUID, VR_UI, "1.2.3")
	ds.AddElement(TagPatientName, VR_PN, "DOE")
	ds.AddElement(TagRows, VR_US, uint16(512))

	out, err := Transcode(ds.EncodeDataset(), types.ExplicitVRLittleEndian, types.ImplicitVRLittleEndian)
	if err != nil {
		t.Fatalf("Transcode failed: %v", err)
	}
	parsed, err := ParseDatasetWithTransferSyntax(out, types.ImplicitVRLittleEndian)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if parsed.Has(Tag{0x0008, 0x0000}) {
		t.Error("group length survived transcoding")
	}
	if parsed.GetString(TagSOPInstanceUID) != "1.2.3" || parsed.GetString(TagPatientName) != "DOE" {
		t.Error("text values changed")
	}
	rows, _ := parsed.GetElement(TagRows)
	if b, ok := rows.Value.([]byte); !ok || !bytes.Equal(b, []byte{0x00, 0x02}) {
		t.Errorf("Rows = %v", rows.Value)
	}
}

func TestTranscode_Unsupported(t *testing.T) {
	if CanTranscode(types.ImplicitVRLittleEndian, types.ExplicitVRLittleEndian) {
		t.Error("implicit to explicit should not be supported")
	}
	_, err := Transcode([]byte{}, types.JPEGBaseline8Bit, types.ImplicitVRLittleEndian)
	if !errors.Is(err, ErrUnsupportedTransferSyntax) {
		t.Errorf("Expected ErrUnsupportedTransferSyntax, got %v", err)
	}
	same := []byte{1, 2}
	out, err := Transcode(same, types.JPEGBaseline8Bit, types.JPEGBaseline8Bit)
	if err != nil || !bytes.Equal(out, same) {
		t.Error("identity transcode should pass data through")
	}
}
