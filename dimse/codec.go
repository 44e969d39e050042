package dimse

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	dicomerrors "github.com/caio-sobreiro/dicomnode/errors"
	"github.com/caio-sobreiro/dicomnode/pdu"
	"github.com/caio-sobreiro/dicomnode/types"
)

// Command group elements (0000,eeee)
const (
	elemGroupLength             = 0x0000
	elemAffectedSOPClassUID     = 0x0002
	elemCommandField            = 0x0100
	elemMessageID               = 0x0110
	elemMessageIDBeingResponded = 0x0120
	elemMoveDestination         = 0x0600
	elemPriority                = 0x0700
	elemCommandDataSetType      = 0x0800
	elemStatus                  = 0x0900
	elemErrorComment            = 0x0902
	elemAffectedSOPInstanceUID  = 0x1000
	elemRemaining               = 0x1020
	elemCompleted               = 0x1021
	elemFailed                  = 0x1022
	elemWarning                 = 0x1023
	elemMoveOriginatorAETitle   = 0x1030
	elemMoveOriginatorMessageID = 0x1031
)

// Connection interface for sending/receiving DICOM data
type Connection interface {
	io.ReadWriter
}

// SendDIMSEMessage sends a DIMSE message with optional dataset
func SendDIMSEMessage(conn Connection, presContextID byte, maxPDULength uint32, commandData []byte, datasetData []byte) error {
	if err := pdu.WritePDataTF(conn, presContextID, maxPDULength, commandData, true); err != nil {
		return err
	}
	if len(datasetData) > 0 {
		if err := pdu.WritePDataTF(conn, presContextID, maxPDULength, datasetData, false); err != nil {
			return err
		}
	}
	return nil
}

// EncodeCommand encodes a DIMSE command message using Implicit VR Little Endian
func EncodeCommand(msg *types.Message) ([]byte, error) {
	if msg == nil {
		return nil, dicomerrors.ErrInvalidMessage
	}

	buf := make([]byte, 0, 256)

	// Command Group Length, patched once the group is complete
	buf = AppendImplicitElement(buf, 0x0000, elemGroupLength, make([]byte, 4))
	lengthPos := len(buf) - 4

	buf = appendUID(buf, elemAffectedSOPClassUID, msg.AffectedSOPClassUID)
	buf = appendUint16(buf, elemCommandField, msg.CommandField)
	if msg.MessageID != 0 {
		buf = appendUint16(buf, elemMessageID, msg.MessageID)
	}
	if msg.MessageIDBeingRespondedTo != 0 {
		buf = appendUint16(buf, elemMessageIDBeingResponded, msg.MessageIDBeingRespondedTo)
	}
	buf = appendText(buf, elemMoveDestination, msg.MoveDestination)
	if isRequest(msg.CommandField) && msg.CommandField != types.CCancelRQ && msg.CommandField != types.CEchoRQ {
		buf = appendUint16(buf, elemPriority, msg.Priority)
	}
	buf = appendUint16(buf, elemCommandDataSetType, msg.CommandDataSetType)
	if !isRequest(msg.CommandField) {
		buf = appendUint16(buf, elemStatus, msg.Status)
	}
	buf = appendText(buf, elemErrorComment, msg.ErrorComment)
	buf = appendUID(buf, elemAffectedSOPInstanceUID, msg.AffectedSOPInstanceUID)

	for _, counter := range []struct {
		element uint16
		value   *uint16
	}{
		{elemRemaining, msg.NumberOfRemainingSuboperations},
		{elemCompleted, msg.NumberOfCompletedSuboperations},
		{elemFailed, msg.NumberOfFailedSuboperations},
		{elemWarning, msg.NumberOfWarningSuboperations},
	} {
		if counter.value != nil {
			buf = appendUint16(buf, counter.element, *counter.value)
		}
	}

	buf = appendText(buf, elemMoveOriginatorAETitle, msg.MoveOriginatorAETitle)
	if msg.MoveOriginatorMessageID != 0 {
		buf = appendUint16(buf, elemMoveOriginatorMessageID, msg.MoveOriginatorMessageID)
	}

	groupLength := uint32(len(buf) - lengthPos - 4)
	binary.LittleEndian.PutUint32(buf[lengthPos:lengthPos+4], groupLength)

	return buf, nil
}

func isRequest(commandField uint16) bool {
	return commandField&0x8000 == 0
}

func appendUint16(buf []byte, element uint16, v uint16) []byte {
	return AppendImplicitElement(buf, 0x0000, element, binary.LittleEndian.AppendUint16(nil, v))
}

func appendUID(buf []byte, element uint16, uid string) []byte {
	if uid == "" {
		return buf
	}
	value := []byte(uid)
	if len(value)%2 == 1 {
		value = append(value, 0x00)
	}
	return AppendImplicitElement(buf, 0x0000, element, value)
}

func appendText(buf []byte, element uint16, text string) []byte {
	if text == "" {
		return buf
	}
	value := []byte(text)
	if len(value)%2 == 1 {
		value = append(value, ' ')
	}
	return AppendImplicitElement(buf, 0x0000, element, value)
}

// AppendImplicitElement appends a DICOM element using Implicit VR (no VR field)
func AppendImplicitElement(buf []byte, group, element uint16, value []byte) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, group)
	buf = binary.LittleEndian.AppendUint16(buf, element)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(value)))
	return append(buf, value...)
}

// DecodeCommand decodes a DIMSE command message
func DecodeCommand(data []byte) (*types.Message, error) {
	msg := &types.Message{
		CommandDataSetType: types.NoDataSet,
	}
	seenCommand := false
	offset := 0

	for offset+8 <= len(data) {
		group := binary.LittleEndian.Uint16(data[offset : offset+2])
		element := binary.LittleEndian.Uint16(data[offset+2 : offset+4])
		length := binary.LittleEndian.Uint32(data[offset+4 : offset+8])

		end := offset + 8 + int(length)
		if end > len(data) || end < offset {
			return nil, fmt.Errorf("%w: element (%04x,%04x) exceeds command length", dicomerrors.ErrInvalidMessage, group, element)
		}
		value := data[offset+8 : end]
		offset = end

		if group != 0x0000 {
			continue
		}

		text := strings.TrimRight(string(value), "\x00 ")
		var number uint16
		if len(value) >= 2 {
			number = binary.LittleEndian.Uint16(value[:2])
		}

		switch element {
		case elemAffectedSOPClassUID:
			msg.AffectedSOPClassUID = text
		case elemCommandField:
			msg.CommandField = number
			seenCommand = len(value) >= 2
		case elemMessageID:
			msg.MessageID = number
		case elemMessageIDBeingResponded:
			msg.MessageIDBeingRespondedTo = number
		case elemMoveDestination:
			msg.MoveDestination = text
		case elemPriority:
			msg.Priority = number
		case elemCommandDataSetType:
			msg.CommandDataSetType = number
		case elemStatus:
			msg.Status = number
		case elemErrorComment:
			msg.ErrorComment = text
		case elemAffectedSOPInstanceUID:
			msg.AffectedSOPInstanceUID = text
		case elemRemaining:
			msg.NumberOfRemainingSuboperations = &number
		case elemCompleted:
			msg.NumberOfCompletedSuboperations = &number
		case elemFailed:
			msg.NumberOfFailedSuboperations = &number
		case elemWarning:
			msg.NumberOfWarningSuboperations = &number
		case elemMoveOriginatorAETitle:
			msg.MoveOriginatorAETitle = text
		case elemMoveOriginatorMessageID:
			msg.MoveOriginatorMessageID = number
		}
	}

	if !seenCommand {
		return nil, fmt.Errorf("%w: missing command field", dicomerrors.ErrInvalidMessage)
	}
	return msg, nil
}

// ReceiveDIMSEMessage reads a complete DIMSE message (command and optional
// dataset). It also returns the presentation context the message arrived on.
func ReceiveDIMSEMessage(conn Connection) (*types.Message, []byte, byte, error) {
	var commandData []byte
	var datasetData []byte
	var currentMsg *types.Message
	var contextID byte
	datasetComplete := false

	for {
		p, err := pdu.ReadPDU(conn)
		if err != nil {
			return nil, nil, 0, fmt.Errorf("failed to read PDU: %w", err)
		}

		switch p.Type {
		case types.TypePDataTF:
			pdvs, err := pdu.ParsePDataTF(p.Data)
			if err != nil {
				return nil, nil, 0, err
			}
			for _, pdv := range pdvs {
				contextID = pdv.ContextID
				if pdv.Command {
					commandData = append(commandData, pdv.Data...)
					if pdv.Last {
						currentMsg, err = DecodeCommand(commandData)
						if err != nil {
							return nil, nil, 0, fmt.Errorf("failed to decode command: %w", err)
						}
					}
					continue
				}
				datasetData = append(datasetData, pdv.Data...)
				if pdv.Last {
					datasetComplete = true
				}
			}
		case types.TypeAbort:
			return nil, nil, 0, p.AbortError()
		case types.TypeReleaseRQ:
			return nil, nil, 0, fmt.Errorf("%w: peer requested release", dicomerrors.ErrConnectionClosed)
		default:
			return nil, nil, 0, dicomerrors.NewPDUError(p.Type, "unexpected PDU while waiting for DIMSE message")
		}

		if currentMsg != nil && (!currentMsg.HasDataSet() || datasetComplete) {
			return currentMsg, datasetData, contextID, nil
		}
	}
}
