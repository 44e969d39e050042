package archivesim

import (
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/caio-sobreiro/dicomnode/dicom"
	"github.com/caio-sobreiro/dicomnode/types"
)

// levelKey is the unique key of each query level.
var levelKey = map[types.QueryLevel]dicom.Tag{
	types.QueryLevelPatient: dicom.TagPatientID,
	types.QueryLevelStudy:   dicom.TagStudyInstanceUID,
	types.QueryLevelSeries:  dicom.TagSeriesInstanceUID,
	types.QueryLevelImage:   dicom.TagSOPInstanceUID,
}

// computed are study and series attributes derived from the instances.
var computed = map[dicom.Tag]bool{
	dicom.TagModalitiesInStudy:              true,
	dicom.TagNumberOfStudyRelatedSeries:     true,
	dicom.TagNumberOfStudyRelatedInstances:  true,
	dicom.TagNumberOfSeriesRelatedInstances: true,
}

// matchInstance reports whether every non-empty key of identifier matches
// inst. all is the full instance list, used for computed attributes.
func matchInstance(inst, identifier *dicom.Dataset, all []*dicom.Dataset) bool {
	for tag, elem := range identifier.Elements {
		if tag == dicom.TagQueryRetrieveLevel || tag == dicom.TagSpecificCharacterSet {
			continue
		}
		pattern := identifier.GetString(tag)
		if pattern == "" || pattern == "*" {
			continue
		}
		if tag == dicom.TagModalitiesInStudy {
			if !matchAny(pattern, studyModalities(inst, all), elem.VR) {
				return false
			}
			continue
		}
		if computed[tag] {
			continue
		}
		if !matchValue(pattern, inst.GetString(tag), elem.VR) {
			return false
		}
	}
	return true
}

func matchAny(pattern string, values []string, vr string) bool {
	for _, v := range values {
		if matchValue(pattern, v, vr) {
			return true
		}
	}
	return false
}

// matchValue applies list, range, wildcard and single value matching.
func matchValue(pattern, value, vr string) bool {
	if strings.Contains(pattern, `\`) {
		for _, p := range strings.Split(pattern, `\`) {
			if matchValue(p, value, vr) {
				return true
			}
		}
		return false
	}
	if (vr == dicom.VR_DA || vr == dicom.VR_TM || vr == dicom.VR_DT) && strings.Contains(pattern, "-") {
		lo, hi, _ := strings.Cut(pattern, "-")
		return (lo == "" || value >= lo) && (hi == "" || value <= hi)
	}
	if strings.ContainsAny(pattern, "*?") {
		ok, err := path.Match(strings.ToUpper(pattern), strings.ToUpper(value))
		return err == nil && ok
	}
	if vr == dicom.VR_PN {
		return strings.EqualFold(pattern, value)
	}
	return pattern == value
}

func studyModalities(inst *dicom.Dataset, all []*dicom.Dataset) []string {
	study := inst.GetString(dicom.TagStudyInstanceUID)
	var out []string
	for _, other := range all {
		if other.GetString(dicom.TagStudyInstanceUID) != study {
			continue
		}
		if m := other.GetString(dicom.TagModality); m != "" && !slices.Contains(out, m) {
			out = append(out, m)
		}
	}
	return out
}

// response builds the identifier returned for inst at level, filling
// every key requested in identifier.
func response(inst, identifier *dicom.Dataset, level types.QueryLevel, all []*dicom.Dataset) *dicom.Dataset {
	out := dicom.NewDataset()
	for tag, elem := range identifier.Elements {
		switch {
		case tag == dicom.TagQueryRetrieveLevel:
		case computed[tag]:
			out.AddElement(tag, elem.VR, computedValue(tag, inst, all))
		default:
			if src, ok := inst.GetElement(tag); ok {
				out.AddElement(tag, src.VR, src.Value)
			} else {
				out.AddElement(tag, elem.VR, "")
			}
		}
	}
	out.AddElement(dicom.TagQueryRetrieveLevel, dicom.VR_CS, string(level))
	return out
}

func computedValue(tag dicom.Tag, inst *dicom.Dataset, all []*dicom.Dataset) string {
	study := inst.GetString(dicom.TagStudyInstanceUID)
	series := inst.GetString(dicom.TagSeriesInstanceUID)
	switch tag {
	case dicom.TagModalitiesInStudy:
		return strings.Join(studyModalities(inst, all), `\`)
	case dicom.TagNumberOfStudyRelatedSeries:
		seen := map[string]bool{}
		for _, other := range all {
			if other.GetString(dicom.TagStudyInstanceUID) == study {
				seen[other.GetString(dicom.TagSeriesInstanceUID)] = true
			}
		}
		return strconv.Itoa(len(seen))
	case dicom.TagNumberOfStudyRelatedInstances:
		n := 0
		for _, other := range all {
			if other.GetString(dicom.TagStudyInstanceUID) == study {
				n++
			}
		}
		return strconv.Itoa(n)
	case dicom.TagNumberOfSeriesRelatedInstances:
		n := 0
		for _, other := range all {
			if other.GetString(dicom.TagSeriesInstanceUID) == series {
				n++
			}
		}
		return strconv.Itoa(n)
	}
	return ""
}

// selectForMove returns the instances addressed by the unique keys of a
// C-MOVE identifier, the most specific key winning.
func selectForMove(identifier *dicom.Dataset, all []*dicom.Dataset) []*dicom.Dataset {
	var key dicom.Tag
	switch {
	case identifier.GetString(dicom.TagSOPInstanceUID) != "":
		key = dicom.TagSOPInstanceUID
	case identifier.GetString(dicom.TagSeriesInstanceUID) != "":
		key = dicom.TagSeriesInstanceUID
	case identifier.GetString(dicom.TagStudyInstanceUID) != "":
		key = dicom.TagStudyInstanceUID
	default:
		return nil
	}
	wanted := strings.Split(identifier.GetString(key), `\`)

	var out []*dicom.Dataset
	for _, inst := range all {
		if slices.Contains(wanted, inst.GetString(key)) {
			out = append(out, inst)
		}
	}
	return out
}
