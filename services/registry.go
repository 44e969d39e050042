package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/caio-sobreiro/dicomnode/interfaces"
	"github.com/caio-sobreiro/dicomnode/types"
)

// ErrUnsupportedCommand is returned for a command no handler serves.
var ErrUnsupportedCommand = errors.New("services: unsupported DIMSE command")

// Registry dispatches requests to one handler per command field. It is
// filled before the server starts and read-only afterwards.
type Registry struct {
	handlers map[uint16]interfaces.ServiceHandler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[uint16]interfaces.ServiceHandler)}
}

// RegisterHandler serves commandField with handler, replacing any earlier one.
func (r *Registry) RegisterHandler(commandField uint16, handler interfaces.ServiceHandler) {
	r.handlers[commandField] = handler
}

func (r *Registry) lookup(ctx context.Context, msg *types.Message) (interfaces.ServiceHandler, error) {
	handler, ok := r.handlers[msg.CommandField]
	if !ok {
		slog.WarnContext(ctx, "No handler for DIMSE command",
			"command_field", fmt.Sprintf("0x%04x", msg.CommandField),
			"message_id", msg.MessageID)
		return nil, fmt.Errorf("%w: 0x%04x", ErrUnsupportedCommand, msg.CommandField)
	}
	return handler, nil
}

// HandleDIMSE answers a single-response request.
func (r *Registry) HandleDIMSE(ctx context.Context, msg *types.Message, data []byte) (*types.Message, []byte, error) {
	handler, err := r.lookup(ctx, msg)
	if err != nil {
		return nil, nil, err
	}
	return handler.HandleDIMSE(ctx, msg, data)
}

// HandleDIMSEStreaming answers a request through responder. Handlers that
// do not stream send their only response through it.
func (r *Registry) HandleDIMSEStreaming(ctx context.Context, msg *types.Message, data []byte, responder interfaces.ResponseSender) error {
	handler, err := r.lookup(ctx, msg)
	if err != nil {
		return err
	}
	if streaming, ok := handler.(interfaces.StreamingServiceHandler); ok {
		return streaming.HandleDIMSEStreaming(ctx, msg, data, responder)
	}
	resp, respData, err := handler.HandleDIMSE(ctx, msg, data)
	if err != nil {
		return err
	}
	return responder.SendResponse(resp, respData)
}
