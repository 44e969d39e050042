package client

import (
	"context"
	"fmt"

	"github.com/caio-sobreiro/dicomnode/dicom"
	"github.com/caio-sobreiro/dicomnode/types"
)

// CFindRequest encapsulates the information required to perform a C-FIND query.
type CFindRequest struct {
	SOPClassUID string
	MessageID   uint16
	Priority    uint16
	Dataset     *dicom.Dataset
}

// CFindResponse represents a single C-FIND response from the SCP.
type CFindResponse struct {
	Status       uint16
	MessageID    uint16
	ErrorComment string
	Dataset      *dicom.Dataset
}

// Pending reports whether more responses follow.
func (r *CFindResponse) Pending() bool {
	return types.IsPendingStatus(r.Status)
}

// SendCFind performs a C-FIND query. Every pending response is passed to
// visit as it arrives; the final response is returned. A visit error ends
// the exchange and is returned as is.
func (a *Association) SendCFind(ctx context.Context, req *CFindRequest, visit func(*CFindResponse) error) (*CFindResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("c-find request cannot be nil")
	}
	if req.Dataset == nil {
		return nil, fmt.Errorf("c-find request requires a dataset")
	}

	sopClass := req.SOPClassUID
	if sopClass == "" {
		sopClass = types.StudyRootQueryRetrieveInformationModelFind
	}
	messageID := req.MessageID
	if messageID == 0 {
		messageID = a.NextMessageID()
	}

	pc, err := a.FindPresentationContext(sopClass, "")
	if err != nil {
		return nil, err
	}

	identifier, err := dicom.EncodeDatasetWithTransferSyntax(req.Dataset, pc.TransferSyntax)
	if err != nil {
		return nil, err
	}

	stop := a.watch(ctx)
	defer stop()

	command := &types.Message{
		CommandField:        types.CFindRQ,
		MessageID:           messageID,
		CommandDataSetType:  types.DataSetPresent,
		Priority:            req.Priority,
		AffectedSOPClassUID: sopClass,
	}
	if err := a.sendDIMSEMessage(pc.ID, command, identifier); err != nil {
		return nil, fmt.Errorf("failed to send C-FIND request: %w", err)
	}

	for {
		msg, data, err := a.receiveDIMSEMessage(ctx)
		if err != nil {
			return nil, err
		}
		if msg.CommandField != types.CFindRSP {
			return nil, fmt.Errorf("unexpected command: 0x%04x (expected C-FIND-RSP)", msg.CommandField)
		}

		resp := &CFindResponse{
			Status:       msg.Status,
			MessageID:    msg.MessageIDBeingRespondedTo,
			ErrorComment: msg.ErrorComment,
		}
		if len(data) > 0 {
			resp.Dataset, err = dicom.ParseDatasetWithTransferSyntax(data, pc.TransferSyntax)
			if err != nil {
				a.logger.Warn("Failed to parse C-FIND response dataset",
					"error", err,
					"message_id", msg.MessageIDBeingRespondedTo,
					"status", fmt.Sprintf("0x%04X", msg.Status))
			}
		}

		if !resp.Pending() {
			return resp, nil
		}
		if visit != nil {
			if err := visit(resp); err != nil {
				return nil, err
			}
		}
	}
}
