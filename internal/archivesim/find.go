package archivesim

import (
	"context"
	"errors"

	"github.com/caio-sobreiro/dicomnode/dicom"
	"github.com/caio-sobreiro/dicomnode/interfaces"
	"github.com/caio-sobreiro/dicomnode/services"
	"github.com/caio-sobreiro/dicomnode/types"
)

type findService struct {
	archive *Archive
}

func (s *findService) HandleDIMSE(ctx context.Context, msg *types.Message, data []byte) (*types.Message, []byte, error) {
	return nil, nil, errors.New("C-FIND is answered through the streaming path")
}

// HandleDIMSEStreaming sends one pending response per match. A cancelled
// ctx (C-CANCEL or shutdown) ends the exchange with 0xFE00.
func (s *findService) HandleDIMSEStreaming(ctx context.Context, msg *types.Message, data []byte, responder interfaces.ResponseSender) error {
	a := s.archive
	a.count(func(st *Stats) { st.Finds++ })

	identifier, err := dicom.ParseDatasetWithTransferSyntax(data, msg.TransferSyntaxUID)
	if err != nil {
		a.logger.WarnContext(ctx, "Cannot parse C-FIND identifier", "error", err)
		return responder.SendResponse(services.NewCFindFinalResponse(msg, types.StatusIdentifierMismatch), nil)
	}

	level := types.QueryLevel(identifier.GetString(dicom.TagQueryRetrieveLevel))
	key, ok := levelKey[level]
	if !ok {
		return responder.SendResponse(services.NewCFindFinalResponse(msg, types.StatusIdentifierMismatch), nil)
	}

	all := a.snapshot()
	seen := make(map[string]bool)
	var matches []*dicom.Dataset
	for _, inst := range all {
		if !matchInstance(inst, identifier, all) {
			continue
		}
		uid := inst.GetString(key)
		if seen[uid] {
			continue
		}
		seen[uid] = true
		matches = append(matches, response(inst, identifier, level, all))
	}

	a.logger.InfoContext(ctx, "C-FIND matched",
		"level", level,
		"matches", len(matches))

	for _, match := range matches {
		a.pause(ctx)
		if ctx.Err() != nil {
			return s.cancelled(msg, responder)
		}
		encoded, err := dicom.EncodeDatasetWithTransferSyntax(match, msg.TransferSyntaxUID)
		if err != nil {
			return responder.SendResponse(services.NewCFindFinalResponse(msg, types.StatusFailure), nil)
		}
		if err := responder.SendResponse(services.NewCFindPendingResponse(msg), encoded); err != nil {
			return err
		}
	}
	if ctx.Err() != nil {
		return s.cancelled(msg, responder)
	}

	status := uint16(types.StatusSuccess)
	if a.findStatus != nil {
		status = *a.findStatus
	}
	return responder.SendResponse(services.NewCFindFinalResponse(msg, status), nil)
}

func (s *findService) cancelled(msg *types.Message, responder interfaces.ResponseSender) error {
	s.archive.count(func(st *Stats) { st.Cancelled++ })
	return responder.SendResponse(services.NewCFindFinalResponse(msg, types.StatusCancel), nil)
}
