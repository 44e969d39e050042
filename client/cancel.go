package client

import (
	"fmt"

	"github.com/caio-sobreiro/dicomnode/types"
)

// SendCCancel sends a C-CANCEL-RQ for a pending C-FIND or C-MOVE. It may be
// called while another goroutine is waiting for that operation's responses;
// the SCP answers through the operation's final response.
func (a *Association) SendCCancel(messageID uint16, sopClassUID string) error {
	if messageID == 0 {
		return fmt.Errorf("messageID must be non-zero for C-CANCEL")
	}
	if sopClassUID == "" {
		return fmt.Errorf("sopClassUID must be provided for C-CANCEL")
	}

	presContextID, err := a.GetPresentationContextID(sopClassUID)
	if err != nil {
		return err
	}

	command := &types.Message{
		CommandField:              types.CCancelRQ,
		MessageIDBeingRespondedTo: messageID,
		CommandDataSetType:        types.NoDataSet,
	}
	if err := a.sendDIMSEMessage(presContextID, command, nil); err != nil {
		return fmt.Errorf("failed to send C-CANCEL request: %w", err)
	}

	a.logger.Debug("C-CANCEL sent", "message_id", messageID, "sop_class", sopClassUID)
	return nil
}
