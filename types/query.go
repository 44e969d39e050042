package types

// QueryLevel represents the level of C-FIND query
type QueryLevel string

const (
	QueryLevelPatient QueryLevel = "PATIENT"
	QueryLevelStudy   QueryLevel = "STUDY"
	QueryLevelSeries  QueryLevel = "SERIES"
	QueryLevelImage   QueryLevel = "IMAGE"
)

// Depth orders levels from patient (0) to image (3); unknown levels are -1.
func (l QueryLevel) Depth() int {
	switch l {
	case QueryLevelPatient:
		return 0
	case QueryLevelStudy:
		return 1
	case QueryLevelSeries:
		return 2
	case QueryLevelImage:
		return 3
	default:
		return -1
	}
}

// Patient represents patient data
type Patient struct {
	ID        string
	Name      string
	BirthDate string
	Sex       string
}

// Study represents a study-level match together with its patient.
type Study struct {
	Patient           Patient
	InstanceUID       string
	ID                string
	Date              string
	Time              string
	Description       string
	AccessionNumber   string
	RefPhysician      string
	ModalitiesInStudy string
	Institution       string
}

// Series represents series data
type Series struct {
	StudyInstanceUID string
	InstanceUID      string
	Number           string
	Description      string
	Modality         string
	BodyPart         string
}

// Image represents image data
type Image struct {
	StudyInstanceUID  string
	SeriesInstanceUID string
	SOPInstanceUID    string
	SOPClassUID       string
	InstanceNumber    string
}

// StoredObject describes one object written to local storage.
type StoredObject struct {
	Path              string
	SOPClassUID       string
	SOPInstanceUID    string
	TransferSyntaxUID string
	PatientID         string
	StudyInstanceUID  string
	SeriesInstanceUID string
	Size              int64
}
