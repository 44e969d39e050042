package pdu

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	dicomerrors "github.com/caio-sobreiro/dicomnode/errors"
	"github.com/caio-sobreiro/dicomnode/types"
)

// DefaultMaxPDULength is the maximum PDU length announced when none is configured.
const DefaultMaxPDULength = 16384

// ImplementationClassUID and ImplementationVersionName are announced in the
// user information item of every association.
const (
	ImplementationClassUID    = "1.2.826.0.1.3680043.10.1403.1"
	ImplementationVersionName = "DICOMNODE_1"
)

// Item types of the variable part of association PDUs
const (
	itemApplicationContext  = 0x10
	itemPresentationContext = 0x20
	itemPresentationResult  = 0x21
	itemAbstractSyntax      = 0x30
	itemTransferSyntax      = 0x40
	itemUserInformation     = 0x50
	itemMaxLength           = 0x51
	itemImplementationClass = 0x52
	itemImplementationName  = 0x55
)

// PDU represents a Protocol Data Unit
type PDU struct {
	Type   byte
	Length uint32
	Data   []byte
}

// ReadPDU reads a complete PDU from r.
func ReadPDU(r io.Reader) (*PDU, error) {
	header := make([]byte, 6)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	pduLength := binary.BigEndian.Uint32(header[2:6])
	data := make([]byte, pduLength)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("failed to read PDU data: %w", err)
	}

	return &PDU{Type: header[0], Length: pduLength, Data: data}, nil
}

// Encode returns the PDU with its 6 byte header.
func (p *PDU) Encode() []byte {
	out := make([]byte, 6, 6+len(p.Data))
	out[0] = p.Type
	binary.BigEndian.PutUint32(out[2:6], uint32(len(p.Data)))
	return append(out, p.Data...)
}

// AbortError decodes an A-ABORT PDU into the matching error.
func (p *PDU) AbortError() error {
	var source, reason byte
	if len(p.Data) >= 4 {
		source = p.Data[2]
		reason = p.Data[3]
	}
	return dicomerrors.NewAbortError(source, reason)
}

// PDV is one presentation data value of a P-DATA-TF PDU.
type PDV struct {
	ContextID byte
	Command   bool
	Last      bool
	Data      []byte
}

// ParsePDataTF splits a P-DATA-TF payload into its PDVs.
func ParsePDataTF(payload []byte) ([]PDV, error) {
	var pdvs []PDV
	offset := 0
	for offset < len(payload) {
		if offset+6 > len(payload) {
			return nil, dicomerrors.NewPDUError(types.TypePDataTF, "malformed PDV encountered")
		}
		pdvLength := binary.BigEndian.Uint32(payload[offset : offset+4])
		end := offset + 4 + int(pdvLength)
		if pdvLength < 2 || end > len(payload) {
			return nil, dicomerrors.NewPDUError(types.TypePDataTF, "PDV length exceeds PDU payload")
		}

		control := payload[offset+5]
		pdvs = append(pdvs, PDV{
			ContextID: payload[offset+4],
			Command:   control&0x01 != 0,
			Last:      control&0x02 != 0,
			Data:      payload[offset+6 : end],
		})
		offset = end
	}
	return pdvs, nil
}

// WritePDataTF writes data as one or more P-DATA-TF PDUs, each carrying a
// single PDV sized to fit maxPDULength.
func WritePDataTF(w io.Writer, presContextID byte, maxPDULength uint32, data []byte, isCommand bool) error {
	if maxPDULength == 0 {
		maxPDULength = DefaultMaxPDULength
	}
	// PDU length counts the PDV item: 4 byte length plus 2 byte header
	maxPDVData := int(maxPDULength) - 6
	if maxPDVData < 1 {
		maxPDVData = 1
	}

	offset := 0
	for {
		chunkSize := len(data) - offset
		lastFragment := true
		if chunkSize > maxPDVData {
			chunkSize = maxPDVData
			lastFragment = false
		}

		controlHeader := byte(0)
		if isCommand {
			controlHeader |= 0x01
		}
		if lastFragment {
			controlHeader |= 0x02
		}

		pdu := make([]byte, 12, 12+chunkSize)
		pdu[0] = types.TypePDataTF
		binary.BigEndian.PutUint32(pdu[2:6], uint32(6+chunkSize))
		binary.BigEndian.PutUint32(pdu[6:10], uint32(2+chunkSize))
		pdu[10] = presContextID
		pdu[11] = controlHeader
		pdu = append(pdu, data[offset:offset+chunkSize]...)

		if _, err := w.Write(pdu); err != nil {
			return fmt.Errorf("failed to write PDU: %w", err)
		}

		offset += chunkSize
		if lastFragment {
			return nil
		}
	}
}

// ReleaseRQ returns an encoded A-RELEASE-RQ.
func ReleaseRQ() []byte {
	return (&PDU{Type: types.TypeReleaseRQ, Data: make([]byte, 4)}).Encode()
}

// ReleaseRP returns an encoded A-RELEASE-RP.
func ReleaseRP() []byte {
	return (&PDU{Type: types.TypeReleaseRP, Data: make([]byte, 4)}).Encode()
}

// Abort returns an encoded A-ABORT.
func Abort(source, reason byte) []byte {
	return (&PDU{Type: types.TypeAbort, Data: []byte{0x00, 0x00, source, reason}}).Encode()
}

// AssociateRequest is the content of an A-ASSOCIATE-RQ.
type AssociateRequest struct {
	CalledAETitle  string
	CallingAETitle string
	Contexts       []types.PresentationContextProposal
	MaxPDULength   uint32
}

// AssociateAccept is the content of an A-ASSOCIATE-AC.
type AssociateAccept struct {
	CalledAETitle  string
	CallingAETitle string
	Contexts       []types.PresentationContext
	MaxPDULength   uint32
}

// AssociateReject is the content of an A-ASSOCIATE-RJ.
type AssociateReject struct {
	Result byte // 1 permanent, 2 transient
	Source dicomerrors.AssociationRejectSource
	Reason dicomerrors.AssociationRejectReason
}

// Encode returns the A-ASSOCIATE-RQ PDU.
func (r *AssociateRequest) Encode() []byte {
	buf := appendFixedFields(nil, r.CalledAETitle, r.CallingAETitle)
	buf = appendItem(buf, itemApplicationContext, []byte(types.ApplicationContextUID))

	for _, pc := range r.Contexts {
		body := []byte{pc.ID, 0x00, 0x00, 0x00}
		body = appendItem(body, itemAbstractSyntax, []byte(pc.AbstractSyntax))
		for _, ts := range pc.TransferSyntaxes {
			body = appendItem(body, itemTransferSyntax, []byte(ts))
		}
		buf = appendItem(buf, itemPresentationContext, body)
	}

	buf = appendItem(buf, itemUserInformation, userInformation(r.MaxPDULength))
	return (&PDU{Type: types.TypeAssociateRQ, Data: buf}).Encode()
}

// Encode returns the A-ASSOCIATE-AC PDU. Contexts that were not accepted
// are left out; several peers refuse an AC that lists rejected contexts.
func (a *AssociateAccept) Encode() []byte {
	buf := appendFixedFields(nil, a.CalledAETitle, a.CallingAETitle)
	buf = appendItem(buf, itemApplicationContext, []byte(types.ApplicationContextUID))

	for _, pc := range a.Contexts {
		if !pc.Accepted() {
			continue
		}
		body := []byte{pc.ID, 0x00, pc.Result, 0x00}
		body = appendItem(body, itemTransferSyntax, []byte(pc.TransferSyntax))
		buf = appendItem(buf, itemPresentationResult, body)
	}

	buf = appendItem(buf, itemUserInformation, userInformation(a.MaxPDULength))
	return (&PDU{Type: types.TypeAssociateAC, Data: buf}).Encode()
}

// Encode returns the A-ASSOCIATE-RJ PDU.
func (r *AssociateReject) Encode() []byte {
	return (&PDU{
		Type: types.TypeAssociateRJ,
		Data: []byte{0x00, r.Result, byte(r.Source), byte(r.Reason)},
	}).Encode()
}

// ParseAssociateRequest decodes the payload of an A-ASSOCIATE-RQ.
func ParseAssociateRequest(data []byte) (*AssociateRequest, error) {
	called, calling, err := parseFixedFields(data, types.TypeAssociateRQ)
	if err != nil {
		return nil, err
	}
	req := &AssociateRequest{CalledAETitle: called, CallingAETitle: calling}

	err = walkItems(data[68:], func(itemType byte, value []byte) error {
		switch itemType {
		case itemPresentationContext:
			pc, err := parseProposal(value)
			if err != nil {
				return err
			}
			req.Contexts = append(req.Contexts, pc)
		case itemUserInformation:
			req.MaxPDULength = parseMaxLength(value)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// ParseAssociateAccept decodes the payload of an A-ASSOCIATE-AC.
func ParseAssociateAccept(data []byte) (*AssociateAccept, error) {
	called, calling, err := parseFixedFields(data, types.TypeAssociateAC)
	if err != nil {
		return nil, err
	}
	ac := &AssociateAccept{CalledAETitle: called, CallingAETitle: calling}

	err = walkItems(data[68:], func(itemType byte, value []byte) error {
		switch itemType {
		case itemPresentationResult:
			if len(value) < 4 {
				return dicomerrors.NewPDUError(types.TypeAssociateAC, "presentation context result too short")
			}
			pc := types.PresentationContext{ID: value[0], Result: value[2]}
			err := walkItems(value[4:], func(subType byte, sub []byte) error {
				if subType == itemTransferSyntax {
					pc.TransferSyntax = normalizeUID(sub)
				}
				return nil
			})
			if err != nil {
				return err
			}
			ac.Contexts = append(ac.Contexts, pc)
		case itemUserInformation:
			ac.MaxPDULength = parseMaxLength(value)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ac, nil
}

// ParseAssociateReject decodes the payload of an A-ASSOCIATE-RJ.
func ParseAssociateReject(data []byte) *AssociateReject {
	rj := &AssociateReject{}
	if len(data) >= 4 {
		rj.Result = data[1]
		rj.Source = dicomerrors.AssociationRejectSource(data[2])
		rj.Reason = dicomerrors.AssociationRejectReason(data[3])
	}
	return rj
}

// Err converts the rejection into an AssociationError.
func (r *AssociateReject) Err() error {
	msg := "permanent"
	if r.Result == 0x02 {
		msg = "transient"
	}
	return dicomerrors.NewAssociationError(r.Source, r.Reason, msg)
}

func parseProposal(value []byte) (types.PresentationContextProposal, error) {
	if len(value) < 4 {
		return types.PresentationContextProposal{}, fmt.Errorf("presentation context too short: %d", len(value))
	}
	pc := types.PresentationContextProposal{ID: value[0]}
	err := walkItems(value[4:], func(subType byte, sub []byte) error {
		switch subType {
		case itemAbstractSyntax:
			pc.AbstractSyntax = normalizeUID(sub)
		case itemTransferSyntax:
			pc.TransferSyntaxes = append(pc.TransferSyntaxes, normalizeUID(sub))
		}
		return nil
	})
	if err != nil {
		return pc, err
	}
	if pc.AbstractSyntax == "" {
		return pc, fmt.Errorf("presentation context %d missing abstract syntax", pc.ID)
	}
	return pc, nil
}

func parseMaxLength(value []byte) uint32 {
	var maxLength uint32
	_ = walkItems(value, func(subType byte, sub []byte) error {
		if subType == itemMaxLength && len(sub) == 4 {
			maxLength = binary.BigEndian.Uint32(sub)
		}
		return nil
	})
	return maxLength
}

func userInformation(maxPDULength uint32) []byte {
	if maxPDULength == 0 {
		maxPDULength = DefaultMaxPDULength
	}
	var body []byte
	body = appendItem(body, itemMaxLength, binary.BigEndian.AppendUint32(nil, maxPDULength))
	body = appendItem(body, itemImplementationClass, []byte(ImplementationClassUID))
	body = appendItem(body, itemImplementationName, []byte(ImplementationVersionName))
	return body
}

func appendFixedFields(buf []byte, calledAE, callingAE string) []byte {
	buf = append(buf, 0x00, 0x01, 0x00, 0x00) // protocol version, reserved
	buf = append(buf, padAETitle(calledAE)...)
	buf = append(buf, padAETitle(callingAE)...)
	return append(buf, make([]byte, 32)...)
}

func parseFixedFields(data []byte, pduType byte) (called, calling string, err error) {
	if len(data) < 68 {
		return "", "", dicomerrors.NewPDUError(pduType, "association PDU too short")
	}
	return trimAETitle(data[4:20]), trimAETitle(data[20:36]), nil
}

func appendItem(buf []byte, itemType byte, value []byte) []byte {
	buf = append(buf, itemType, 0x00)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(value)))
	return append(buf, value...)
}

func walkItems(data []byte, fn func(itemType byte, value []byte) error) error {
	offset := 0
	for offset+4 <= len(data) {
		itemType := data[offset]
		itemLength := int(binary.BigEndian.Uint16(data[offset+2 : offset+4]))
		end := offset + 4 + itemLength
		if end > len(data) {
			return fmt.Errorf("%w: item 0x%02x exceeds PDU length", dicomerrors.ErrInvalidPDU, itemType)
		}
		if err := fn(itemType, data[offset+4:end]); err != nil {
			return err
		}
		offset = end
	}
	return nil
}

func padAETitle(ae string) []byte {
	out := []byte(fmt.Sprintf("%-16s", ae))
	return out[:16]
}

func trimAETitle(raw []byte) string {
	value := string(raw)
	if idx := strings.IndexByte(value, 0); idx != -1 {
		value = value[:idx]
	}
	return strings.TrimSpace(value)
}

func normalizeUID(raw []byte) string {
	return strings.TrimRight(string(raw), "\x00 ")
}
