package dicom

// Tags used by the query, retrieve and send paths.
var (
	TagFileMetaGroupLength        = Tag{0x0002, 0x0000}
	TagFileMetaVersion            = Tag{0x0002, 0x0001}
	TagMediaStorageSOPClassUID    = Tag{0x0002, 0x0002}
	TagMediaStorageSOPInstanceUID = Tag{0x0002, 0x0003}
	TagTransferSyntaxUID          = Tag{0x0002, 0x0010}
	TagImplementationClassUID     = Tag{0x0002, 0x0012}
	TagImplementationVersionName  = Tag{0x0002, 0x0013}
	TagSourceApplicationEntity    = Tag{0x0002, 0x0016}

	TagSpecificCharacterSet = Tag{0x0008, 0x0005}
	TagSOPClassUID          = Tag{0x0008, 0x0016}
	TagSOPInstanceUID       = Tag{0x0008, 0x0018}
	TagStudyDate            = Tag{0x0008, 0x0020}
	TagStudyTime            = Tag{0x0008, 0x0030}
	TagAccessionNumber      = Tag{0x0008, 0x0050}
	TagQueryRetrieveLevel   = Tag{0x0008, 0x0052}
	TagRetrieveAETitle      = Tag{0x0008, 0x0054}
	TagModality             = Tag{0x0008, 0x0060}
	TagModalitiesInStudy    = Tag{0x0008, 0x0061}
	TagInstitutionName      = Tag{0x0008, 0x0080}
	TagReferringPhysician   = Tag{0x0008, 0x0090}
	TagStudyDescription     = Tag{0x0008, 0x1030}
	TagSeriesDescription    = Tag{0x0008, 0x103E}

	TagPatientName      = Tag{0x0010, 0x0010}
	TagPatientID        = Tag{0x0010, 0x0020}
	TagPatientBirthDate = Tag{0x0010, 0x0030}
	TagPatientSex       = Tag{0x0010, 0x0040}

	TagBodyPartExamined = Tag{0x0018, 0x0015}

	TagStudyInstanceUID  = Tag{0x0020, 0x000D}
	TagSeriesInstanceUID = Tag{0x0020, 0x000E}
	TagStudyID           = Tag{0x0020, 0x0010}
	TagSeriesNumber      = Tag{0x0020, 0x0011}
	TagInstanceNumber    = Tag{0x0020, 0x0013}

	TagNumberOfStudyRelatedSeries     = Tag{0x0020, 0x1206}
	TagNumberOfStudyRelatedInstances  = Tag{0x0020, 0x1208}
	TagNumberOfSeriesRelatedInstances = Tag{0x0020, 0x1209}

	TagRows      = Tag{0x0028, 0x0010}
	TagColumns   = Tag{0x0028, 0x0011}
	TagPixelData = Tag{0x7FE0, 0x0010}

	TagItem                 = Tag{0xFFFE, 0xE000}
	TagItemDelimitation     = Tag{0xFFFE, 0xE00D}
	TagSequenceDelimitation = Tag{0xFFFE, 0xE0DD}
)

// dictionary gives the VR of tags that may arrive in implicit VR data sets.
var dictionary = map[Tag]string{
	TagSpecificCharacterSet:           VR_CS,
	TagSOPClassUID:                    VR_UI,
	TagSOPInstanceUID:                 VR_UI,
	TagStudyDate:                      VR_DA,
	TagStudyTime:                      VR_TM,
	TagAccessionNumber:                VR_SH,
	TagQueryRetrieveLevel:             VR_CS,
	TagRetrieveAETitle:                VR_AE,
	TagModality:                       VR_CS,
	TagModalitiesInStudy:              VR_CS,
	TagInstitutionName:                VR_LO,
	TagReferringPhysician:             VR_PN,
	TagStudyDescription:               VR_LO,
	TagSeriesDescription:              VR_LO,
	{0x0008, 0x1040}:                  VR_LO, // Institutional Department Name
	{0x0008, 0x1050}:                  VR_PN, // Performing Physician's Name
	{0x0008, 0x1070}:                  VR_PN, // Operators' Name
	{0x0008, 0x1115}:                  VR_SQ, // Referenced Series Sequence
	{0x0008, 0x1140}:                  VR_SQ, // Referenced Image Sequence
	{0x0008, 0x1150}:                  VR_UI, // Referenced SOP Class UID
	{0x0008, 0x1155}:                  VR_UI, // Referenced SOP Instance UID
	TagPatientName:                    VR_PN,
	TagPatientID:                      VR_LO,
	TagPatientBirthDate:               VR_DA,
	TagPatientSex:                     VR_CS,
	{0x0010, 0x1010}:                  VR_AS, // Patient's Age
	TagBodyPartExamined:               VR_CS,
	{0x0018, 0x0050}:                  VR_DS, // Slice Thickness
	TagStudyInstanceUID:               VR_UI,
	TagSeriesInstanceUID:              VR_UI,
	TagStudyID:                        VR_SH,
	TagSeriesNumber:                   VR_IS,
	TagInstanceNumber:                 VR_IS,
	{0x0020, 0x0020}:                  VR_CS, // Patient Orientation
	{0x0020, 0x0032}:                  VR_DS, // Image Position (Patient)
	{0x0020, 0x0037}:                  VR_DS, // Image Orientation (Patient)
	TagNumberOfStudyRelatedSeries:     VR_IS,
	TagNumberOfStudyRelatedInstances:  VR_IS,
	TagNumberOfSeriesRelatedInstances: VR_IS,
	{0x0028, 0x0002}:                  VR_US, // Samples per Pixel
	{0x0028, 0x0004}:                  VR_CS, // Photometric Interpretation
	TagRows:                           VR_US,
	TagColumns:                        VR_US,
	{0x0028, 0x0030}:                  VR_DS, // Pixel Spacing
	{0x0028, 0x0100}:                  VR_US, // Bits Allocated
	{0x0028, 0x0101}:                  VR_US, // Bits Stored
	{0x0028, 0x0102}:                  VR_US, // High Bit
	{0x0028, 0x0103}:                  VR_US, // Pixel Representation
	{0x0028, 0x1050}:                  VR_DS, // Window Center
	{0x0028, 0x1051}:                  VR_DS, // Window Width
	{0x0028, 0x1052}:                  VR_DS, // Rescale Intercept
	{0x0028, 0x1053}:                  VR_DS, // Rescale Slope
	TagPixelData:                      VR_OW,
}

// determineVR looks the tag up in the dictionary. Group length elements
// are UL; anything else unknown is UN.
func determineVR(tag Tag) string {
	if vr, ok := dictionary[tag]; ok {
		return vr
	}
	if tag.Element == 0x0000 {
		return VR_UL
	}
	return VR_UN
}
