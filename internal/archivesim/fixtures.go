package archivesim

import (
	"encoding/binary"
	"fmt"
	"os"
	"strconv"

	"github.com/caio-sobreiro/dicomnode/dicom"
	"github.com/caio-sobreiro/dicomnode/types"
)

// uidRoot prefixes every synthesized UID.
const uidRoot = "1.2.826.0.1.3680043.10.1403.9"

// InstanceSpec describes one synthetic instance.
type InstanceSpec struct {
	PatientID        string
	PatientName      string
	StudyUID         string
	SeriesUID        string
	SOPUID           string
	SOPClassUID      string // defaults to CT Image Storage
	Modality         string // defaults to CT
	StudyDate        string
	StudyDescription string
	InstanceNumber   int
}

// Synthesize builds a small image data set with a 4x4 pixel matrix.
func Synthesize(is InstanceSpec) *dicom.Dataset {
	if is.SOPClassUID == "" {
		is.SOPClassUID = types.CTImageStorage
	}
	if is.Modality == "" {
		is.Modality = "CT"
	}
	if is.StudyDate == "" {
		is.StudyDate = "20250109"
	}

	us := func(v uint16) []byte {
		return binary.LittleEndian.AppendUint16(nil, v)
	}

	ds := dicom.NewDataset()
	ds.AddElement(dicom.TagSOPClassUID, dicom.VR_UI, is.SOPClassUID)
	ds.AddElement(dicom.TagSOPInstanceUID, dicom.VR_UI, is.SOPUID)
	ds.AddElement(dicom.TagStudyDate, dicom.VR_DA, is.StudyDate)
	ds.AddElement(dicom.TagStudyTime, dicom.VR_TM, "120000")
	ds.AddElement(dicom.TagAccessionNumber, dicom.VR_SH, "ACC"+strconv.Itoa(len(is.StudyUID)))
	ds.AddElement(dicom.TagModality, dicom.VR_CS, is.Modality)
	ds.AddElement(dicom.TagStudyDescription, dicom.VR_LO, is.StudyDescription)
	ds.AddElement(dicom.TagPatientName, dicom.VR_PN, is.PatientName)
	ds.AddElement(dicom.TagPatientID, dicom.VR_LO, is.PatientID)
	ds.AddElement(dicom.TagPatientSex, dicom.VR_CS, "O")
	ds.AddElement(dicom.TagStudyInstanceUID, dicom.VR_UI, is.StudyUID)
	ds.AddElement(dicom.TagSeriesInstanceUID, dicom.VR_UI, is.SeriesUID)
	ds.AddElement(dicom.TagStudyID, dicom.VR_SH, "1")
	ds.AddElement(dicom.TagSeriesNumber, dicom.VR_IS, "1")
	ds.AddElement(dicom.TagInstanceNumber, dicom.VR_IS, strconv.Itoa(is.InstanceNumber))
	ds.AddElement(dicom.TagRows, dicom.VR_US, us(4))
	ds.AddElement(dicom.TagColumns, dicom.VR_US, us(4))
	ds.AddElement(dicom.TagPixelData, dicom.VR_OW, make([]byte, 32))
	return ds
}

// Populate adds a deterministic patient/study/series/image tree to a and
// returns the instances in insertion order. Patient IDs are "P1", "P2", ...
func Populate(a *Archive, patients, studies, series, images int) []*dicom.Dataset {
	var out []*dicom.Dataset
	for p := 1; p <= patients; p++ {
		for st := 1; st <= studies; st++ {
			studyUID := fmt.Sprintf("%s.%d.%d", uidRoot, p, st)
			for se := 1; se <= series; se++ {
				seriesUID := fmt.Sprintf("%s.%d", studyUID, se)
				for im := 1; im <= images; im++ {
					ds := Synthesize(InstanceSpec{
						PatientID:        "P" + strconv.Itoa(p),
						PatientName:      fmt.Sprintf("DOE^PATIENT%d", p),
						StudyUID:         studyUID,
						SeriesUID:        seriesUID,
						SOPUID:           fmt.Sprintf("%s.%d", seriesUID, im),
						StudyDescription: fmt.Sprintf("Study %d", st),
						InstanceNumber:   im,
					})
					a.Add(ds)
					out = append(out, ds)
				}
			}
		}
	}
	return out
}

// WriteFile writes ds as a Part 10 file encoded in transferSyntax.
func WriteFile(path string, ds *dicom.Dataset, transferSyntax string) error {
	data, err := dicom.EncodeDatasetWithTransferSyntax(ds, transferSyntax)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := dicom.WritePart10(f, dicom.MetaInfo{
		MediaStorageSOPClassUID:    ds.GetString(dicom.TagSOPClassUID),
		MediaStorageSOPInstanceUID: ds.GetString(dicom.TagSOPInstanceUID),
		TransferSyntaxUID:          transferSyntax,
	}, data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
