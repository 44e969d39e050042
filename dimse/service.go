package dimse

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/caio-sobreiro/dicomnode/interfaces"
	"github.com/caio-sobreiro/dicomnode/types"
)

// Service reassembles DIMSE messages arriving on one association and
// routes them to a handler. C-FIND and C-MOVE requests run concurrently
// with the read loop so that a C-CANCEL can reach them.
type Service struct {
	ctx     context.Context
	handler interfaces.ServiceHandler
	logger  *slog.Logger

	commandData []byte
	datasetData []byte
	currentMsg  *types.Message

	mu       sync.Mutex
	inflight map[uint16]context.CancelFunc
	wg       sync.WaitGroup
}

// responseHandler implements ResponseSender for streaming responses
type responseHandler struct {
	presContextID byte
	pduLayer      interfaces.PDULayer
}

// SendResponse implements ResponseSender interface
func (r *responseHandler) SendResponse(msg *types.Message, data []byte) error {
	return sendDIMSEResponse(msg, data, r.presContextID, r.pduLayer)
}

// NewService creates a DIMSE service for one association. ctx bounds the
// lifetime of every operation started on it.
func NewService(ctx context.Context, handler interfaces.ServiceHandler, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return &Service{
		ctx:      ctx,
		handler:  handler,
		logger:   logger,
		inflight: make(map[uint16]context.CancelFunc),
	}
}

// HandleDIMSEMessage accumulates one PDV and dispatches the message once
// its command and data set are complete.
func (d *Service) HandleDIMSEMessage(presContextID byte, msgCtrlHeader byte, data []byte, pduLayer interfaces.PDULayer) error {
	isCommand := (msgCtrlHeader & 0x01) != 0
	isLastFragment := (msgCtrlHeader & 0x02) != 0

	if isCommand {
		d.commandData = append(d.commandData, data...)
		if !isLastFragment {
			return nil
		}
		msg, err := DecodeCommand(d.commandData)
		d.commandData = nil
		if err != nil {
			return fmt.Errorf("failed to parse DIMSE command: %w", err)
		}
		if ts, err := pduLayer.GetTransferSyntax(presContextID); err == nil {
			msg.TransferSyntaxUID = ts
		}
		d.currentMsg = msg
		if !msg.HasDataSet() {
			return d.processCompleteMessage(presContextID, pduLayer)
		}
		return nil
	}

	d.datasetData = append(d.datasetData, data...)
	if isLastFragment {
		return d.processCompleteMessage(presContextID, pduLayer)
	}
	return nil
}

// processCompleteMessage processes a complete DIMSE message (command + optional dataset)
func (d *Service) processCompleteMessage(presContextID byte, pduLayer interfaces.PDULayer) error {
	msg, dataset := d.currentMsg, d.datasetData
	d.currentMsg = nil
	d.datasetData = nil
	if msg == nil {
		return fmt.Errorf("data set received without a command")
	}

	d.logger.Debug("Processing complete DIMSE message",
		"command_field", fmt.Sprintf("0x%04x", msg.CommandField),
		"message_id", msg.MessageID,
		"context_id", presContextID,
		"dataset_size", len(dataset))

	if msg.CommandField == types.CCancelRQ {
		d.cancel(msg.MessageIDBeingRespondedTo)
		return nil
	}

	responder := &responseHandler{presContextID: presContextID, pduLayer: pduLayer}
	streamingHandler, streaming := d.handler.(interfaces.StreamingServiceHandler)

	if streaming && isMultiResponse(msg.CommandField) {
		opCtx, cancel := context.WithCancel(d.ctx)
		d.mu.Lock()
		d.inflight[msg.MessageID] = cancel
		d.mu.Unlock()

		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			defer d.finish(msg.MessageID)
			if err := streamingHandler.HandleDIMSEStreaming(opCtx, msg, dataset, responder); err != nil {
				d.logger.Warn("Streaming DIMSE operation failed",
					"command_field", fmt.Sprintf("0x%04x", msg.CommandField),
					"message_id", msg.MessageID,
					"error", err)
			}
		}()
		return nil
	}

	if streaming {
		return streamingHandler.HandleDIMSEStreaming(d.ctx, msg, dataset, responder)
	}

	responseMsg, responseData, err := d.handler.HandleDIMSE(d.ctx, msg, dataset)
	if err != nil {
		return fmt.Errorf("service handler failed: %w", err)
	}
	return sendDIMSEResponse(responseMsg, responseData, presContextID, pduLayer)
}

func (d *Service) cancel(messageID uint16) {
	d.mu.Lock()
	cancel, ok := d.inflight[messageID]
	d.mu.Unlock()
	if !ok {
		d.logger.Debug("C-CANCEL for unknown operation", "message_id", messageID)
		return
	}
	d.logger.Info("Cancelling DIMSE operation", "message_id", messageID)
	cancel()
}

func (d *Service) finish(messageID uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cancel, ok := d.inflight[messageID]; ok {
		cancel()
		delete(d.inflight, messageID)
	}
}

// Close cancels every running operation and waits for them to return.
func (d *Service) Close() {
	d.mu.Lock()
	for _, cancel := range d.inflight {
		cancel()
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func isMultiResponse(commandField uint16) bool {
	return commandField == types.CFindRQ || commandField == types.CMoveRQ
}

// sendDIMSEResponse encodes the command set and hands it to the PDU layer
func sendDIMSEResponse(msg *types.Message, data []byte, presContextID byte, pduLayer interfaces.PDULayer) error {
	if msg == nil {
		return fmt.Errorf("nil response message")
	}
	if len(data) > 0 {
		msg.CommandDataSetType = types.DataSetPresent
	} else {
		msg.CommandDataSetType = types.NoDataSet
	}
	commandData, err := EncodeCommand(msg)
	if err != nil {
		return err
	}
	return pduLayer.SendDIMSEResponseWithDataset(presContextID, commandData, data)
}
