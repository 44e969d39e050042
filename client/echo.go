package client

import (
	"context"
	"fmt"

	"github.com/caio-sobreiro/dicomnode/types"
)

// CEchoResponse is the answer to a C-ECHO.
type CEchoResponse struct {
	Status    uint16
	MessageID uint16
}

// SendCEcho verifies the peer answers DIMSE requests. The association must
// have an accepted verification context.
func (a *Association) SendCEcho(ctx context.Context) (*CEchoResponse, error) {
	pcID, err := a.GetPresentationContextID(types.VerificationSOPClass)
	if err != nil {
		return nil, err
	}
	stop := a.watch(ctx)
	defer stop()

	req := &types.Message{
		CommandField:        types.CEchoRQ,
		MessageID:           a.NextMessageID(),
		CommandDataSetType:  types.NoDataSet,
		AffectedSOPClassUID: types.VerificationSOPClass,
	}
	if err := a.sendDIMSEMessage(pcID, req, nil); err != nil {
		return nil, fmt.Errorf("send C-ECHO-RQ: %w", err)
	}
	resp, _, err := a.receiveDIMSEMessage(ctx)
	if err != nil {
		return nil, err
	}
	if resp.CommandField != types.CEchoRSP {
		return nil, fmt.Errorf("got command 0x%04x, want C-ECHO-RSP", resp.CommandField)
	}
	if resp.MessageIDBeingRespondedTo != req.MessageID {
		return nil, fmt.Errorf("C-ECHO-RSP answers message %d, sent %d", resp.MessageIDBeingRespondedTo, req.MessageID)
	}
	return &CEchoResponse{Status: resp.Status, MessageID: resp.MessageIDBeingRespondedTo}, nil
}
