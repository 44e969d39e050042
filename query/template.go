// Package query runs Study Root C-FIND exchanges and collects the matches
// into hierarchical records.
package query

import (
	"fmt"

	"github.com/caio-sobreiro/dicomnode/dicom"
	"github.com/caio-sobreiro/dicomnode/types"
)

// keyInfo describes a search key: the level it belongs to and its VR.
type keyInfo struct {
	level types.QueryLevel
	vr    string
}

// keys lists the search keys a Template accepts.
var keys = map[dicom.Tag]keyInfo{
	dicom.TagPatientName:      {types.QueryLevelPatient, dicom.VR_PN},
	dicom.TagPatientID:        {types.QueryLevelPatient, dicom.VR_LO},
	dicom.TagPatientBirthDate: {types.QueryLevelPatient, dicom.VR_DA},
	dicom.TagPatientSex:       {types.QueryLevelPatient, dicom.VR_CS},

	dicom.TagStudyInstanceUID:              {types.QueryLevelStudy, dicom.VR_UI},
	dicom.TagStudyDate:                     {types.QueryLevelStudy, dicom.VR_DA},
	dicom.TagStudyTime:                     {types.QueryLevelStudy, dicom.VR_TM},
	dicom.TagStudyID:                       {types.QueryLevelStudy, dicom.VR_SH},
	dicom.TagAccessionNumber:               {types.QueryLevelStudy, dicom.VR_SH},
	dicom.TagStudyDescription:              {types.QueryLevelStudy, dicom.VR_LO},
	dicom.TagModalitiesInStudy:             {types.QueryLevelStudy, dicom.VR_CS},
	dicom.TagReferringPhysician:            {types.QueryLevelStudy, dicom.VR_PN},
	dicom.TagInstitutionName:               {types.QueryLevelStudy, dicom.VR_LO},
	dicom.TagNumberOfStudyRelatedSeries:    {types.QueryLevelStudy, dicom.VR_IS},
	dicom.TagNumberOfStudyRelatedInstances: {types.QueryLevelStudy, dicom.VR_IS},

	dicom.TagSeriesInstanceUID:              {types.QueryLevelSeries, dicom.VR_UI},
	dicom.TagSeriesNumber:                   {types.QueryLevelSeries, dicom.VR_IS},
	dicom.TagSeriesDescription:              {types.QueryLevelSeries, dicom.VR_LO},
	dicom.TagModality:                       {types.QueryLevelSeries, dicom.VR_CS},
	dicom.TagBodyPartExamined:               {types.QueryLevelSeries, dicom.VR_CS},
	dicom.TagNumberOfSeriesRelatedInstances: {types.QueryLevelSeries, dicom.VR_IS},

	dicom.TagSOPInstanceUID: {types.QueryLevelImage, dicom.VR_UI},
	dicom.TagSOPClassUID:    {types.QueryLevelImage, dicom.VR_UI},
	dicom.TagInstanceNumber: {types.QueryLevelImage, dicom.VR_IS},
}

// uniqueKeys are the keys always requested for a level and those above.
var uniqueKeys = []struct {
	level types.QueryLevel
	tag   dicom.Tag
}{
	{types.QueryLevelPatient, dicom.TagPatientID},
	{types.QueryLevelStudy, dicom.TagStudyInstanceUID},
	{types.QueryLevelSeries, dicom.TagSeriesInstanceUID},
	{types.QueryLevelImage, dicom.TagSOPInstanceUID},
}

// Template is a sparse set of search keys. A key with a value filters the
// matches; a key with an empty value asks the archive to return it.
type Template struct {
	values map[dicom.Tag]string
	level  types.QueryLevel
}

// NewTemplate returns an empty template. An empty template matches every
// study.
func NewTemplate() *Template {
	return &Template{values: make(map[dicom.Tag]string)}
}

// Set adds a matching key. Only the keys of the Study Root model are
// accepted.
func (t *Template) Set(tag dicom.Tag, value string) error {
	if _, ok := keys[tag]; !ok {
		return fmt.Errorf("query: %s is not a supported search key", tag)
	}
	t.values[tag] = value
	return nil
}

// Return adds a return key.
func (t *Template) Return(tag dicom.Tag) error {
	return t.Set(tag, "")
}

// Get returns the value of a key and whether it is present.
func (t *Template) Get(tag dicom.Tag) (string, bool) {
	v, ok := t.values[tag]
	return v, ok
}

// Len returns the number of keys.
func (t *Template) Len() int {
	return len(t.values)
}

// SetLevel forces the query level. Patient is raised to study since the
// Study Root model has no patient level.
func (t *Template) SetLevel(level types.QueryLevel) error {
	if level.Depth() < 0 {
		return fmt.Errorf("query: unknown level %q", level)
	}
	t.level = level
	return nil
}

// Level returns the forced level, else the deepest level among the keys,
// never above STUDY.
func (t *Template) Level() types.QueryLevel {
	level := t.level
	if level == "" {
		for tag := range t.values {
			if l := keys[tag].level; l.Depth() > level.Depth() {
				level = l
			}
		}
	}
	if level.Depth() < types.QueryLevelStudy.Depth() {
		return types.QueryLevelStudy
	}
	return level
}

// Dataset builds the C-FIND identifier: the level, every key, and the
// unique keys of the level and those above it.
func (t *Template) Dataset() *dicom.Dataset {
	level := t.Level()
	ds := dicom.NewDataset()
	ds.AddElement(dicom.TagQueryRetrieveLevel, dicom.VR_CS, string(level))
	for tag, value := range t.values {
		ds.AddElement(tag, keys[tag].vr, value)
	}
	for _, u := range uniqueKeys {
		if u.level.Depth() > level.Depth() || ds.Has(u.tag) {
			continue
		}
		ds.AddElement(u.tag, keys[u.tag].vr, "")
	}
	return ds
}
