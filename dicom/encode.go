package dicom

import (
	"fmt"
	"slices"
	"strings"
)

// EncodeDataset encodes a dataset to bytes (Explicit VR Little Endian)
func (d *Dataset) EncodeDataset() []byte {
	return encodeWith(d, explicitLittle)
}

// EncodeDatasetWithTransferSyntax encodes a dataset using the provided transfer syntax.
func EncodeDatasetWithTransferSyntax(dataset *Dataset, transferSyntaxUID string) ([]byte, error) {
	if dataset == nil {
		return nil, nil
	}
	enc, err := encodingFor(transferSyntaxUID)
	if err != nil {
		return nil, err
	}
	return encodeWith(dataset, enc), nil
}

// SortedTags returns the tags of the data set in ascending order.
func (d *Dataset) SortedTags() []Tag {
	tags := make([]Tag, 0, len(d.Elements))
	for tag := range d.Elements {
		tags = append(tags, tag)
	}
	slices.SortFunc(tags, compareTags)
	return tags
}

func encodeWith(ds *Dataset, enc encoding) []byte {
	var out []byte
	for _, tag := range ds.SortedTags() {
		out = appendElement(out, ds.Elements[tag], enc)
	}
	return out
}

func (enc encoding) appendTag(buf []byte, tag Tag) []byte {
	buf = enc.order.AppendUint16(buf, tag.Group)
	return enc.order.AppendUint16(buf, tag.Element)
}

func (enc encoding) appendHeader(buf []byte, tag Tag, vr string, length uint32) []byte {
	buf = enc.appendTag(buf, tag)
	if !enc.explicit {
		return enc.order.AppendUint32(buf, length)
	}
	buf = append(buf, vr[0], vr[1])
	if isLongVR(vr) {
		buf = append(buf, 0x00, 0x00)
		return enc.order.AppendUint32(buf, length)
	}
	return enc.order.AppendUint16(buf, uint16(length))
}

func appendElement(buf []byte, element *Element, enc encoding) []byte {
	vr := element.VR
	if len(vr) != 2 {
		vr = determineVR(element.Tag)
	}

	switch v := element.Value.(type) {
	case []*Dataset:
		var items []byte
		for _, item := range v {
			body := encodeWith(item, enc)
			items = enc.appendTag(items, TagItem)
			items = enc.order.AppendUint32(items, uint32(len(body)))
			items = append(items, body...)
		}
		buf = enc.appendHeader(buf, element.Tag, VR_SQ, uint32(len(items)))
		return append(buf, items...)
	case Fragments:
		if vr == VR_SQ || vr == VR_UN {
			vr = VR_OB
		}
		buf = enc.appendHeader(buf, element.Tag, vr, undefinedLength)
		buf = append(buf, v...)
		buf = enc.appendTag(buf, TagSequenceDelimitation)
		return enc.order.AppendUint32(buf, 0)
	}

	value := encodeElementValue(element, enc)
	if len(value)%2 == 1 {
		if isTextVR(vr) && vr != VR_UI {
			value = append(value, ' ')
		} else {
			value = append(value, 0x00)
		}
	}
	if enc.explicit && !isLongVR(vr) && len(value) > 0xFFFF {
		// too long for a short VR header
		value = value[:0xFFFF-1]
	}

	buf = enc.appendHeader(buf, element.Tag, vr, uint32(len(value)))
	return append(buf, value...)
}

// encodeElementValue encodes an element value to bytes
func encodeElementValue(element *Element, enc encoding) []byte {
	switch v := element.Value.(type) {
	case nil:
		return nil
	case string:
		return []byte(strings.TrimRight(v, "\x00"))
	case []string:
		return []byte(strings.TrimRight(strings.Join(v, "\\"), "\x00"))
	case []byte:
		return v
	case int:
		return []byte(fmt.Sprintf("%d", v))
	case uint16:
		return enc.order.AppendUint16(nil, v)
	case uint32:
		return enc.order.AppendUint32(nil, v)
	default:
		return []byte(fmt.Sprintf("%v", v))
	}
}
