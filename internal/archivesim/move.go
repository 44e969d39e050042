package archivesim

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/caio-sobreiro/dicomnode/client"
	"github.com/caio-sobreiro/dicomnode/dicom"
	"github.com/caio-sobreiro/dicomnode/interfaces"
	"github.com/caio-sobreiro/dicomnode/services"
	"github.com/caio-sobreiro/dicomnode/types"
)

type moveService struct {
	archive *Archive
}

func (s *moveService) HandleDIMSE(ctx context.Context, msg *types.Message, data []byte) (*types.Message, []byte, error) {
	return nil, nil, errors.New("C-MOVE is answered through the streaming path")
}

// HandleDIMSEStreaming pushes every addressed instance to the move
// destination over a new association, reporting progress after each one.
// A cancelled ctx stops before the next instance.
func (s *moveService) HandleDIMSEStreaming(ctx context.Context, msg *types.Message, data []byte, responder interfaces.ResponseSender) error {
	a := s.archive
	a.count(func(st *Stats) { st.Moves++ })

	identifier, err := dicom.ParseDatasetWithTransferSyntax(data, msg.TransferSyntaxUID)
	if err != nil {
		return responder.SendResponse(services.NewCMoveErrorResponse(msg, types.StatusIdentifierMismatch), nil)
	}

	a.mu.Lock()
	address, known := a.destinations[msg.MoveDestination]
	a.mu.Unlock()
	if !known {
		a.logger.WarnContext(ctx, "Unknown move destination", "move_destination", msg.MoveDestination)
		return responder.SendResponse(services.NewCMoveErrorResponse(msg, types.StatusMoveDestinationUnknown), nil)
	}

	instances := selectForMove(identifier, a.snapshot())
	total := uint16(len(instances))
	a.logger.InfoContext(ctx, "Handling C-MOVE request",
		"move_destination", msg.MoveDestination,
		"study_uid", identifier.GetString(dicom.TagStudyInstanceUID),
		"series_uid", identifier.GetString(dicom.TagSeriesInstanceUID),
		"sop_uid", identifier.GetString(dicom.TagSOPInstanceUID),
		"instances", total)

	if total == 0 {
		return s.final(msg, responder, 0, 0, 0, 0)
	}

	assoc, err := client.Connect(ctx, address, client.Config{
		CallingAETitle: a.aeTitle,
		CalledAETitle:  msg.MoveDestination,
		Timeout:        30 * time.Second,
		Logger:         a.logger,
		Proposals:      storeProposals(instances),
	})
	if err != nil {
		a.logger.WarnContext(ctx, "Cannot reach move destination", "address", address, "error", err)
		return responder.SendResponse(services.NewCMoveErrorResponse(msg, types.StatusOutOfResourcesSubOps), nil)
	}
	defer assoc.Close()

	// Sub-operations in flight complete even when the move is cancelled.
	storeCtx := context.WithoutCancel(ctx)

	var completed, failed, warning uint16
	for i, inst := range instances {
		remaining := total - uint16(i)
		a.pause(ctx)
		if ctx.Err() != nil {
			a.count(func(st *Stats) { st.Cancelled++ })
			return responder.SendResponse(services.NewResponseBuilder(msg).CMoveResponse(
				types.StatusCancel, &completed, &failed, &warning, &remaining), nil)
		}
		if err := responder.SendResponse(services.NewCMovePendingResponse(msg, completed, failed, warning, remaining), nil); err != nil {
			return err
		}

		status, err := s.store(storeCtx, assoc, msg, inst)
		switch {
		case err != nil:
			a.logger.WarnContext(ctx, "C-STORE sub-operation failed",
				"sop_instance", inst.GetString(dicom.TagSOPInstanceUID),
				"error", err)
			// The association is gone, nothing else can be delivered.
			failed += remaining
			return s.final(msg, responder, completed, failed, warning, 0)
		case status == types.StatusSuccess:
			completed++
		case isWarning(status):
			warning++
		default:
			failed++
		}
	}
	return s.final(msg, responder, completed, failed, warning, 0)
}

func (s *moveService) store(ctx context.Context, assoc *client.Association, msg *types.Message, inst *dicom.Dataset) (uint16, error) {
	class := inst.GetString(dicom.TagSOPClassUID)
	pc, err := assoc.FindPresentationContext(class, "")
	if err != nil {
		return types.StatusSOPClassNotSupported, nil
	}
	data, err := dicom.EncodeDatasetWithTransferSyntax(inst, pc.TransferSyntax)
	if err != nil {
		return types.StatusFailure, nil
	}
	resp, err := assoc.SendCStore(ctx, &client.CStoreRequest{
		PresentationContextID:   pc.ID,
		SOPClassUID:             class,
		SOPInstanceUID:          inst.GetString(dicom.TagSOPInstanceUID),
		Data:                    data,
		MoveOriginatorAETitle:   msg.MoveDestination,
		MoveOriginatorMessageID: msg.MessageID,
	})
	if err != nil {
		return 0, err
	}
	return resp.Status, nil
}

func (s *moveService) final(msg *types.Message, responder interfaces.ResponseSender, completed, failed, warning, remaining uint16) error {
	if st := s.archive.moveStatus; st != nil {
		return responder.SendResponse(services.NewResponseBuilder(msg).CMoveResponse(
			*st, &completed, &failed, &warning, &remaining), nil)
	}
	return responder.SendResponse(services.NewCMoveFinalResponse(msg, completed, failed, warning, remaining), nil)
}

// storeProposals offers each distinct class in both little endian syntaxes.
func storeProposals(instances []*dicom.Dataset) []types.PresentationContextProposal {
	var out []types.PresentationContextProposal
	seen := make(map[string]bool)
	id := 1
	for _, inst := range instances {
		class := inst.GetString(dicom.TagSOPClassUID)
		if seen[class] || id > types.MaxPresentationContextID {
			continue
		}
		seen[class] = true
		out = append(out, types.PresentationContextProposal{
			ID:               byte(id),
			AbstractSyntax:   class,
			TransferSyntaxes: []string{types.ExplicitVRLittleEndian, types.ImplicitVRLittleEndian},
		})
		id += 2
	}
	return out
}

// String describes the archive for logs.
func (a *Archive) String() string {
	return fmt.Sprintf("%s (%d instances)", a.aeTitle, a.Len())
}
