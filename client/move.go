package client

import (
	"context"
	"fmt"

	"github.com/caio-sobreiro/dicomnode/dicom"
	"github.com/caio-sobreiro/dicomnode/types"
)

// CMoveRequest asks the SCP to send matching objects to Destination.
type CMoveRequest struct {
	SOPClassUID string
	MessageID   uint16
	Priority    uint16
	Destination string
	Dataset     *dicom.Dataset
}

// CMoveResponse is one C-MOVE response with its sub-operation counters.
type CMoveResponse struct {
	Status       uint16
	MessageID    uint16
	ErrorComment string
	Remaining    uint16
	Completed    uint16
	Failed       uint16
	Warning      uint16
	// Dataset carries the Failed SOP Instance UID List when present.
	Dataset *dicom.Dataset
}

// Pending reports whether more responses follow.
func (r *CMoveResponse) Pending() bool {
	return types.IsPendingStatus(r.Status)
}

// SendCMove performs a C-MOVE. Pending responses are passed to visit; the
// final response is returned.
func (a *Association) SendCMove(ctx context.Context, req *CMoveRequest, visit func(*CMoveResponse)) (*CMoveResponse, error) {
	if req == nil || req.Dataset == nil {
		return nil, fmt.Errorf("c-move request requires a dataset")
	}
	if req.Destination == "" {
		return nil, fmt.Errorf("c-move request requires a destination")
	}

	sopClass := req.SOPClassUID
	if sopClass == "" {
		sopClass = types.StudyRootQueryRetrieveInformationModelMove
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
		CommandField:        types.CMoveRQ,
		MessageID:           messageID,
		CommandDataSetType:  types.DataSetPresent,
		Priority:            req.Priority,
		AffectedSOPClassUID: sopClass,
		MoveDestination:     req.Destination,
	}
	if err := a.sendDIMSEMessage(pc.ID, command, identifier); err != nil {
		return nil, fmt.Errorf("failed to send C-MOVE request: %w", err)
	}

	for {
		msg, data, err := a.receiveDIMSEMessage(ctx)
		if err != nil {
			return nil, err
		}
		if msg.CommandField != types.CMoveRSP {
			return nil, fmt.Errorf("unexpected command: 0x%04x (expected C-MOVE-RSP)", msg.CommandField)
		}

		resp := &CMoveResponse{
			Status:       msg.Status,
			MessageID:    msg.MessageIDBeingRespondedTo,
			ErrorComment: msg.ErrorComment,
			Remaining:    types.Counter(msg.NumberOfRemainingSuboperations),
			Completed:    types.Counter(msg.NumberOfCompletedSuboperations),
			Failed:       types.Counter(msg.NumberOfFailedSuboperations),
			Warning:      types.Counter(msg.NumberOfWarningSuboperations),
		}
		if len(data) > 0 {
			if ds, err := dicom.ParseDatasetWithTransferSyntax(data, pc.TransferSyntax); err == nil {
				resp.Dataset = ds
			}
		}

		if !resp.Pending() {
			return resp, nil
		}
		if visit != nil {
			visit(resp)
		}
	}
}
