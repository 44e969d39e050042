package dicom

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/caio-sobreiro/dicomnode/types"
)

// VR (Value Representation) constants
const (
	VR_AE = "AE" // Application Entity
	VR_AS = "AS" // Age String
	VR_AT = "AT" // Attribute Tag
	VR_CS = "CS" // Code String
	VR_DA = "DA" // Date
	VR_DS = "DS" // Decimal String
	VR_DT = "DT" // Date Time
	VR_FL = "FL" // Floating Point Single
	VR_FD = "FD" // Floating Point Double
	VR_IS = "IS" // Integer String
	VR_LO = "LO" // Long String
	VR_LT = "LT" // Long Text
	VR_OB = "OB" // Other Byte
	VR_OD = "OD" // Other Double
	VR_OF = "OF" // Other Float
	VR_OL = "OL" // Other Long
	VR_OV = "OV" // Other Very Long
	VR_OW = "OW" // Other Word
	VR_PN = "PN" // Person Name
	VR_SH = "SH" // Short String
	VR_SL = "SL" // Signed Long
	VR_SQ = "SQ" // Sequence of Items
	VR_SS = "SS" // Signed Short
	VR_ST = "ST" // Short Text
	VR_SV = "SV" // Signed Very Long
	VR_TM = "TM" // Time
	VR_UC = "UC" // Unlimited Characters
	VR_UI = "UI" // Unique Identifier
	VR_UL = "UL" // Unsigned Long
	VR_UN = "UN" // Unknown
	VR_UR = "UR" // Universal Resource
	VR_US = "US" // Unsigned Short
	VR_UT = "UT" // Unlimited Text
	VR_UV = "UV" // Unsigned Very Long
)

const undefinedLength = 0xFFFFFFFF

// ErrMalformed is returned when a data set cannot be decoded.
var ErrMalformed = errors.New("dicom: malformed data set")

// ErrUnsupportedTransferSyntax is returned for syntaxes whose data set
// encoding this package cannot read or write.
var ErrUnsupportedTransferSyntax = errors.New("dicom: unsupported transfer syntax")

// Tag represents a DICOM tag (group, element)
type Tag struct {
	Group   uint16
	Element uint16
}

// String returns the tag as a string in (GGGG,EEEE) format
func (t Tag) String() string {
	return fmt.Sprintf("(%04x,%04x)", t.Group, t.Element)
}

func compareTags(a, b Tag) int {
	if a.Group != b.Group {
		return int(a.Group) - int(b.Group)
	}
	return int(a.Element) - int(b.Element)
}

// Fragments holds the raw items of encapsulated pixel data, without the
// closing sequence delimiter.
type Fragments []byte

// Element represents a DICOM data element. Value is a string for text
// VRs, []byte for binary VRs, []*Dataset for sequences and Fragments for
// encapsulated pixel data.
type Element struct {
	Tag    Tag
	VR     string
	Length uint32
	Value  interface{}
}

// Dataset represents a collection of DICOM elements
type Dataset struct {
	Elements map[Tag]*Element
}

// NewDataset creates a new empty dataset
func NewDataset() *Dataset {
	return &Dataset{
		Elements: make(map[Tag]*Element),
	}
}

// AddElement adds an element to the dataset
func (d *Dataset) AddElement(tag Tag, vr string, value interface{}) {
	d.Elements[tag] = &Element{
		Tag:   tag,
		VR:    vr,
		Value: value,
	}
}

// GetElement returns an element by tag
func (d *Dataset) GetElement(tag Tag) (*Element, bool) {
	element, exists := d.Elements[tag]
	return element, exists
}

// Has reports whether the tag is present, even with an empty value.
func (d *Dataset) Has(tag Tag) bool {
	_, ok := d.Elements[tag]
	return ok
}

// GetString returns a string value for a tag
func (d *Dataset) GetString(tag Tag) string {
	element, exists := d.Elements[tag]
	if !exists {
		return ""
	}
	switch v := element.Value.(type) {
	case string:
		return strings.TrimSpace(strings.TrimRight(v, "\x00"))
	case []byte:
		// implicit VR elements missing from the dictionary arrive as UN
		return strings.TrimSpace(strings.TrimRight(string(v), "\x00"))
	}
	return ""
}

// GetStrings returns a slice of string values for a tag
func (d *Dataset) GetStrings(tag Tag) []string {
	if element, exists := d.Elements[tag]; exists {
		switch v := element.Value.(type) {
		case string:
			parts := strings.Split(v, "\\")
			result := make([]string, len(parts))
			for i, part := range parts {
				result[i] = strings.TrimSpace(part)
			}
			return result
		case []string:
			return v
		}
	}
	return nil
}

// GetSequence returns the items of a sequence element.
func (d *Dataset) GetSequence(tag Tag) []*Dataset {
	if element, exists := d.Elements[tag]; exists {
		if items, ok := element.Value.([]*Dataset); ok {
			return items
		}
	}
	return nil
}

type byteOrder interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

// encoding selects the VR mode and byte order of a data set.
type encoding struct {
	explicit bool
	order    byteOrder
}

var (
	implicitLittle = encoding{explicit: false, order: binary.LittleEndian}
	explicitLittle = encoding{explicit: true, order: binary.LittleEndian}
	explicitBig    = encoding{explicit: true, order: binary.BigEndian}
)

func encodingFor(transferSyntaxUID string) (encoding, error) {
	switch transferSyntaxUID {
	case types.ImplicitVRLittleEndian:
		return implicitLittle, nil
	case "", types.ExplicitVRLittleEndian:
		return explicitLittle, nil
	case types.ExplicitVRBigEndian:
		return explicitBig, nil
	case types.DeflatedExplicitVRLittleEndian:
		return encoding{}, fmt.Errorf("%w: %s", ErrUnsupportedTransferSyntax, transferSyntaxUID)
	default:
		// encapsulated syntaxes keep the data set in explicit little endian
		return explicitLittle, nil
	}
}

func isLongVR(vr string) bool {
	switch vr {
	case VR_OB, VR_OD, VR_OF, VR_OL, VR_OV, VR_OW, VR_SQ, VR_UC, VR_UR, VR_UT, VR_UN, VR_SV, VR_UV:
		return true
	}
	return false
}

func isTextVR(vr string) bool {
	switch vr {
	case VR_AE, VR_AS, VR_CS, VR_DA, VR_DS, VR_DT, VR_IS, VR_LO, VR_LT, VR_PN,
		VR_SH, VR_ST, VR_TM, VR_UC, VR_UI, VR_UR, VR_UT:
		return true
	}
	return false
}

// ParseDataset parses a DICOM dataset from raw bytes (Explicit VR Little Endian)
func ParseDataset(data []byte) (*Dataset, error) {
	return parseWith(data, explicitLittle)
}

// ParseDatasetWithTransferSyntax parses a dataset using the provided transfer syntax.
func ParseDatasetWithTransferSyntax(data []byte, transferSyntaxUID string) (*Dataset, error) {
	enc, err := encodingFor(transferSyntaxUID)
	if err != nil {
		return nil, err
	}
	return parseWith(data, enc)
}

func parseWith(data []byte, enc encoding) (*Dataset, error) {
	d := &decoder{data: data, enc: enc}
	return d.readDataset(len(data))
}

type decoder struct {
	data []byte
	pos  int
	enc  encoding
}

func (d *decoder) malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s at offset %d", ErrMalformed, fmt.Sprintf(format, args...), d.pos)
}

func (d *decoder) readTag() (Tag, error) {
	if d.pos+4 > len(d.data) {
		return Tag{}, d.malformed("truncated tag")
	}
	t := Tag{
		Group:   d.enc.order.Uint16(d.data[d.pos:]),
		Element: d.enc.order.Uint16(d.data[d.pos+2:]),
	}
	d.pos += 4
	return t, nil
}

func (d *decoder) readUint32() (uint32, error) {
	if d.pos+4 > len(d.data) {
		return 0, d.malformed("truncated length")
	}
	v := d.enc.order.Uint32(d.data[d.pos:])
	d.pos += 4
	return v, nil
}

// readDataset reads elements up to end, or up to an item delimiter when
// end is negative.
func (d *decoder) readDataset(end int) (*Dataset, error) {
	ds := NewDataset()
	for {
		if end >= 0 && d.pos >= end {
			return ds, nil
		}
		if end < 0 && d.pos >= len(d.data) {
			return nil, d.malformed("missing item delimitation")
		}

		tag, err := d.readTag()
		if err != nil {
			return nil, err
		}
		if tag == TagItemDelimitation {
			if _, err := d.readUint32(); err != nil {
				return nil, err
			}
			if end < 0 {
				return ds, nil
			}
			continue
		}

		elem, err := d.readElement(tag)
		if err != nil {
			return nil, err
		}
		ds.Elements[tag] = elem
	}
}

func (d *decoder) readElement(tag Tag) (*Element, error) {
	var vr string
	var length uint32

	if d.enc.explicit {
		if d.pos+4 > len(d.data) {
			return nil, d.malformed("truncated header for %s", tag)
		}
		vr = string(d.data[d.pos : d.pos+2])
		if isLongVR(vr) {
			d.pos += 4 // VR and two reserved bytes
			l, err := d.readUint32()
			if err != nil {
				return nil, err
			}
			length = l
		} else {
			length = uint32(d.enc.order.Uint16(d.data[d.pos+2:]))
			d.pos += 4
		}
	} else {
		vr = determineVR(tag)
		l, err := d.readUint32()
		if err != nil {
			return nil, err
		}
		length = l
	}

	elem := &Element{Tag: tag, VR: vr, Length: length}

	if length == undefinedLength {
		switch {
		case tag == TagPixelData && vr != VR_SQ:
			frags, err := d.readFragments()
			if err != nil {
				return nil, err
			}
			elem.Value = frags
		case vr == VR_UN && d.enc.explicit:
			// UN with undefined length is an implicit little endian sequence
			saved := d.enc
			d.enc = implicitLittle
			items, err := d.readSequence(-1)
			d.enc = saved
			if err != nil {
				return nil, err
			}
			elem.VR = VR_SQ
			elem.Value = items
		default:
			items, err := d.readSequence(-1)
			if err != nil {
				return nil, err
			}
			elem.VR = VR_SQ
			elem.Value = items
		}
		return elem, nil
	}

	valueEnd := d.pos + int(length)
	if valueEnd > len(d.data) || valueEnd < d.pos {
		return nil, d.malformed("value of %s exceeds data (length %d)", tag, length)
	}

	if vr == VR_SQ {
		items, err := d.readSequence(valueEnd)
		if err != nil {
			return nil, err
		}
		elem.Value = items
		d.pos = valueEnd
		return elem, nil
	}

	raw := d.data[d.pos:valueEnd]
	d.pos = valueEnd
	if isTextVR(vr) {
		elem.Value = strings.TrimRight(string(raw), "\x00 ")
	} else {
		elem.Value = append([]byte(nil), raw...)
	}
	return elem, nil
}

func (d *decoder) readSequence(end int) ([]*Dataset, error) {
	var items []*Dataset
	for {
		if end >= 0 && d.pos >= end {
			return items, nil
		}
		tag, err := d.readTag()
		if err != nil {
			return nil, err
		}
		length, err := d.readUint32()
		if err != nil {
			return nil, err
		}
		if tag == TagSequenceDelimitation {
			return items, nil
		}
		if tag != TagItem {
			return nil, d.malformed("expected item tag, got %s", tag)
		}

		itemEnd := -1
		if length != undefinedLength {
			itemEnd = d.pos + int(length)
			if itemEnd > len(d.data) {
				return nil, d.malformed("item exceeds data (length %d)", length)
			}
		}
		item, err := d.readDataset(itemEnd)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
}

func (d *decoder) readFragments() (Fragments, error) {
	start := d.pos
	for {
		tag, err := d.readTag()
		if err != nil {
			return nil, err
		}
		length, err := d.readUint32()
		if err != nil {
			return nil, err
		}
		if tag == TagSequenceDelimitation {
			return Fragments(append([]byte(nil), d.data[start:d.pos-8]...)), nil
		}
		if tag != TagItem || length == undefinedLength {
			return nil, d.malformed("bad pixel data fragment %s", tag)
		}
		if d.pos+int(length) > len(d.data) {
			return nil, d.malformed("fragment exceeds data (length %d)", length)
		}
		d.pos += int(length)
	}
}
