package query

import (
	"github.com/caio-sobreiro/dicomnode/dicom"
	"github.com/caio-sobreiro/dicomnode/types"
)

func patientFrom(ds *dicom.Dataset) types.Patient {
	return types.Patient{
		ID:        ds.GetString(dicom.TagPatientID),
		Name:      ds.GetString(dicom.TagPatientName),
		BirthDate: ds.GetString(dicom.TagPatientBirthDate),
		Sex:       ds.GetString(dicom.TagPatientSex),
	}
}

func studyFrom(ds *dicom.Dataset) types.Study {
	return types.Study{
		Patient:           patientFrom(ds),
		InstanceUID:       ds.GetString(dicom.TagStudyInstanceUID),
		ID:                ds.GetString(dicom.TagStudyID),
		Date:              ds.GetString(dicom.TagStudyDate),
		Time:              ds.GetString(dicom.TagStudyTime),
		Description:       ds.GetString(dicom.TagStudyDescription),
		AccessionNumber:   ds.GetString(dicom.TagAccessionNumber),
		RefPhysician:      ds.GetString(dicom.TagReferringPhysician),
		ModalitiesInStudy: ds.GetString(dicom.TagModalitiesInStudy),
		Institution:       ds.GetString(dicom.TagInstitutionName),
	}
}

func seriesFrom(ds *dicom.Dataset) types.Series {
	return types.Series{
		StudyInstanceUID: ds.GetString(dicom.TagStudyInstanceUID),
		InstanceUID:      ds.GetString(dicom.TagSeriesInstanceUID),
		Number:           ds.GetString(dicom.TagSeriesNumber),
		Description:      ds.GetString(dicom.TagSeriesDescription),
		Modality:         ds.GetString(dicom.TagModality),
		BodyPart:         ds.GetString(dicom.TagBodyPartExamined),
	}
}

func imageFrom(ds *dicom.Dataset) types.Image {
	return types.Image{
		StudyInstanceUID:  ds.GetString(dicom.TagStudyInstanceUID),
		SeriesInstanceUID: ds.GetString(dicom.TagSeriesInstanceUID),
		SOPInstanceUID:    ds.GetString(dicom.TagSOPInstanceUID),
		SOPClassUID:       ds.GetString(dicom.TagSOPClassUID),
		InstanceNumber:    ds.GetString(dicom.TagInstanceNumber),
	}
}

// results holds the three match buffers. Each record is kept once, keyed
// by its instance UID.
type results struct {
	studies []types.Study
	series  []types.Series
	images  []types.Image

	seen map[string]bool

	studiesClaimed bool
	seriesClaimed  bool
	imagesClaimed  bool
}

func (r *results) add(level types.QueryLevel, ds *dicom.Dataset) {
	if r.seen == nil {
		r.seen = make(map[string]bool)
	}
	depth := level.Depth()

	if uid := ds.GetString(dicom.TagStudyInstanceUID); uid != "" && !r.seen["study:"+uid] {
		r.seen["study:"+uid] = true
		r.studies = append(r.studies, studyFrom(ds))
	}
	if depth < types.QueryLevelSeries.Depth() {
		return
	}
	if uid := ds.GetString(dicom.TagSeriesInstanceUID); uid != "" && !r.seen["series:"+uid] {
		r.seen["series:"+uid] = true
		r.series = append(r.series, seriesFrom(ds))
	}
	if depth < types.QueryLevelImage.Depth() {
		return
	}
	if uid := ds.GetString(dicom.TagSOPInstanceUID); uid != "" && !r.seen["image:"+uid] {
		r.seen["image:"+uid] = true
		r.images = append(r.images, imageFrom(ds))
	}
}

// release drops the buffers nobody claimed.
func (r *results) release() {
	if !r.studiesClaimed {
		r.studies = nil
	}
	if !r.seriesClaimed {
		r.series = nil
	}
	if !r.imagesClaimed {
		r.images = nil
	}
	r.seen = nil
}
