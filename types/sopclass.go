package types

import "strings"

// ApplicationContextUID is the DICOM Application Context Name.
const ApplicationContextUID = "1.2.840.10008.3.1.1.1"

// VerificationSOPClass is used by C-ECHO.
const VerificationSOPClass = "1.2.840.10008.1.1"

// Query/Retrieve information models
const (
	PatientRootQueryRetrieveInformationModelFind = "1.2.840.10008.5.1.4.1.2.1.1"
	PatientRootQueryRetrieveInformationModelMove = "1.2.840.10008.5.1.4.1.2.1.2"
	StudyRootQueryRetrieveInformationModelFind   = "1.2.840.10008.5.1.4.1.2.2.1"
	StudyRootQueryRetrieveInformationModelMove   = "1.2.840.10008.5.1.4.1.2.2.2"
)

// Storage SOP classes proposed when sending objects
const (
	ComputedRadiographyImageStorage                     = "1.2.840.10008.5.1.4.1.1.1"
	DigitalXRayImageStorageForPresentation              = "1.2.840.10008.5.1.4.1.1.1.1"
	DigitalXRayImageStorageForProcessing                = "1.2.840.10008.5.1.4.1.1.1.1.1"
	DigitalMammographyXRayImageStorageForPresentation   = "1.2.840.10008.5.1.4.1.1.1.2"
	DigitalMammographyXRayImageStorageForProcessing     = "1.2.840.10008.5.1.4.1.1.1.2.1"
	DigitalIntraOralXRayImageStorageForPresentation     = "1.2.840.10008.5.1.4.1.1.1.3"
	CTImageStorage                                      = "1.2.840.10008.5.1.4.1.1.2"
	EnhancedCTImageStorage                              = "1.2.840.10008.5.1.4.1.1.2.1"
	UltrasoundMultiFrameImageStorage                    = "1.2.840.10008.5.1.4.1.1.3.1"
	MRImageStorage                                      = "1.2.840.10008.5.1.4.1.1.4"
	EnhancedMRImageStorage                              = "1.2.840.10008.5.1.4.1.1.4.1"
	MRSpectroscopyStorage                               = "1.2.840.10008.5.1.4.1.1.4.2"
	UltrasoundImageStorage                              = "1.2.840.10008.5.1.4.1.1.6.1"
	SecondaryCaptureImageStorage                        = "1.2.840.10008.5.1.4.1.1.7"
	MultiFrameGrayscaleByteSecondaryCaptureImageStorage = "1.2.840.10008.5.1.4.1.1.7.2"
	MultiFrameTrueColorSecondaryCaptureImageStorage     = "1.2.840.10008.5.1.4.1.1.7.4"
	TwelveLeadECGWaveformStorage                        = "1.2.840.10008.5.1.4.1.1.9.1.1"
	GrayscaleSoftcopyPresentationStateStorage           = "1.2.840.10008.5.1.4.1.1.11.1"
	XRayAngiographicImageStorage                        = "1.2.840.10008.5.1.4.1.1.12.1"
	EnhancedXAImageStorage                              = "1.2.840.10008.5.1.4.1.1.12.1.1"
	XRayRadiofluoroscopicImageStorage                   = "1.2.840.10008.5.1.4.1.1.12.2"
	XRay3DAngiographicImageStorage                      = "1.2.840.10008.5.1.4.1.1.13.1.1"
	BreastTomosynthesisImageStorage                     = "1.2.840.10008.5.1.4.1.1.13.1.3"
	NuclearMedicineImageStorage                         = "1.2.840.10008.5.1.4.1.1.20"
	VLEndoscopicImageStorage                            = "1.2.840.10008.5.1.4.1.1.77.1.1"
	VLMicroscopicImageStorage                           = "1.2.840.10008.5.1.4.1.1.77.1.2"
	VLPhotographicImageStorage                          = "1.2.840.10008.5.1.4.1.1.77.1.4"
	OphthalmicPhotography8BitImageStorage               = "1.2.840.10008.5.1.4.1.1.77.1.5.1"
	VLWholeSlideMicroscopyImageStorage                  = "1.2.840.10008.5.1.4.1.1.77.1.6"
	BasicTextSRStorage                                  = "1.2.840.10008.5.1.4.1.1.88.11"
	EnhancedSRStorage                                   = "1.2.840.10008.5.1.4.1.1.88.22"
	ComprehensiveSRStorage                              = "1.2.840.10008.5.1.4.1.1.88.33"
	KeyObjectSelectionDocumentStorage                   = "1.2.840.10008.5.1.4.1.1.88.59"
	EncapsulatedPDFStorage                              = "1.2.840.10008.5.1.4.1.1.104.1"
	PositronEmissionTomographyImageStorage              = "1.2.840.10008.5.1.4.1.1.128"
	EnhancedPETImageStorage                             = "1.2.840.10008.5.1.4.1.1.130"
	RTImageStorage                                      = "1.2.840.10008.5.1.4.1.1.481.1"
	RTDoseStorage                                       = "1.2.840.10008.5.1.4.1.1.481.2"
	RTStructureSetStorage                               = "1.2.840.10008.5.1.4.1.1.481.3"
	RTPlanStorage                                       = "1.2.840.10008.5.1.4.1.1.481.5"
)

// storagePrefix is the root shared by all composite storage SOP classes.
const storagePrefix = "1.2.840.10008.5.1.4.1.1."

// StoreSCUSOPClasses lists the storage classes proposed on a store
// association. Each class takes two presentation contexts, so the list
// must stay at or below 64 entries.
var StoreSCUSOPClasses = []string{
	ComputedRadiographyImageStorage,
	DigitalXRayImageStorageForPresentation,
	DigitalXRayImageStorageForProcessing,
	DigitalMammographyXRayImageStorageForPresentation,
	DigitalMammographyXRayImageStorageForProcessing,
	DigitalIntraOralXRayImageStorageForPresentation,
	CTImageStorage,
	EnhancedCTImageStorage,
	UltrasoundMultiFrameImageStorage,
	MRImageStorage,
	EnhancedMRImageStorage,
	MRSpectroscopyStorage,
	UltrasoundImageStorage,
	SecondaryCaptureImageStorage,
	MultiFrameGrayscaleByteSecondaryCaptureImageStorage,
	MultiFrameTrueColorSecondaryCaptureImageStorage,
	TwelveLeadECGWaveformStorage,
	GrayscaleSoftcopyPresentationStateStorage,
	XRayAngiographicImageStorage,
	EnhancedXAImageStorage,
	XRayRadiofluoroscopicImageStorage,
	XRay3DAngiographicImageStorage,
	BreastTomosynthesisImageStorage,
	NuclearMedicineImageStorage,
	VLEndoscopicImageStorage,
	VLMicroscopicImageStorage,
	VLPhotographicImageStorage,
	OphthalmicPhotography8BitImageStorage,
	VLWholeSlideMicroscopyImageStorage,
	BasicTextSRStorage,
	EnhancedSRStorage,
	ComprehensiveSRStorage,
	KeyObjectSelectionDocumentStorage,
	EncapsulatedPDFStorage,
	PositronEmissionTomographyImageStorage,
	EnhancedPETImageStorage,
	RTImageStorage,
	RTDoseStorage,
	RTStructureSetStorage,
	RTPlanStorage,
}

// IsStorageSOPClass returns true if the UID is a composite storage SOP class
func IsStorageSOPClass(uid string) bool {
	return strings.HasPrefix(uid, storagePrefix) && len(uid) > len(storagePrefix)
}

// IsQueryRetrieveSOPClass returns true if the UID is a FIND or MOVE model
func IsQueryRetrieveSOPClass(uid string) bool {
	switch uid {
	case PatientRootQueryRetrieveInformationModelFind,
		PatientRootQueryRetrieveInformationModelMove,
		StudyRootQueryRetrieveInformationModelFind,
		StudyRootQueryRetrieveInformationModelMove:
		return true
	}
	return false
}
