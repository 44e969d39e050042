package client

import (
	"context"
	"fmt"

	"github.com/caio-sobreiro/dicomnode/types"
)

// CStoreRequest represents a C-STORE request
type CStoreRequest struct {
	// PresentationContextID selects the context; zero picks the first
	// accepted context for SOPClassUID.
	PresentationContextID   byte
	SOPClassUID             string
	SOPInstanceUID          string
	Data                    []byte
	MessageID               uint16
	Priority                uint16
	MoveOriginatorAETitle   string
	MoveOriginatorMessageID uint16
}

// CStoreResponse represents a C-STORE response
type CStoreResponse struct {
	Status         uint16
	MessageID      uint16
	SOPClassUID    string
	SOPInstanceUID string
	ErrorComment   string
}

// SendCStore sends a C-STORE request and waits for response
func (a *Association) SendCStore(ctx context.Context, req *CStoreRequest) (*CStoreResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("c-store request cannot be nil")
	}

	presContextID := req.PresentationContextID
	if presContextID == 0 {
		id, err := a.GetPresentationContextID(req.SOPClassUID)
		if err != nil {
			return nil, fmt.Errorf("no presentation context for SOP class %s: %w", req.SOPClassUID, err)
		}
		presContextID = id
	}
	messageID := req.MessageID
	if messageID == 0 {
		messageID = a.NextMessageID()
	}

	stop := a.watch(ctx)
	defer stop()

	command := &types.Message{
		CommandField:            types.CStoreRQ,
		MessageID:               messageID,
		Priority:                req.Priority,
		CommandDataSetType:      types.DataSetPresent,
		AffectedSOPClassUID:     req.SOPClassUID,
		AffectedSOPInstanceUID:  req.SOPInstanceUID,
		MoveOriginatorAETitle:   req.MoveOriginatorAETitle,
		MoveOriginatorMessageID: req.MoveOriginatorMessageID,
	}
	if err := a.sendDIMSEMessage(presContextID, command, req.Data); err != nil {
		return nil, fmt.Errorf("failed to send C-STORE: %w", err)
	}

	a.logger.Debug("Sent C-STORE-RQ",
		"sop_class", req.SOPClassUID,
		"sop_instance", req.SOPInstanceUID,
		"context_id", presContextID,
		"data_size", len(req.Data))

	msg, _, err := a.receiveDIMSEMessage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to receive C-STORE-RSP: %w", err)
	}
	if msg.CommandField != types.CStoreRSP {
		return nil, fmt.Errorf("unexpected command: 0x%04x (expected C-STORE-RSP)", msg.CommandField)
	}

	return &CStoreResponse{
		Status:         msg.Status,
		MessageID:      msg.MessageIDBeingRespondedTo,
		SOPClassUID:    msg.AffectedSOPClassUID,
		SOPInstanceUID: msg.AffectedSOPInstanceUID,
		ErrorComment:   msg.ErrorComment,
	}, nil
}
