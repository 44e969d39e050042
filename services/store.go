package services

import (
	"context"
	"log/slog"

	"github.com/caio-sobreiro/dicomnode/types"
)

// ObjectWriter persists the data set of one C-STORE-RQ. The returned
// status is sent back to the peer; a non-nil error with a success status
// is answered with 0xA700.
type ObjectWriter interface {
	WriteObject(ctx context.Context, msg *types.Message, data []byte) (uint16, error)
}

// ObjectWriterFunc adapts a function to ObjectWriter.
type ObjectWriterFunc func(ctx context.Context, msg *types.Message, data []byte) (uint16, error)

// WriteObject calls f.
func (f ObjectWriterFunc) WriteObject(ctx context.Context, msg *types.Message, data []byte) (uint16, error) {
	return f(ctx, msg, data)
}

// StoreService handles C-STORE requests by handing every object to a writer.
type StoreService struct {
	writer ObjectWriter
	logger *slog.Logger
}

// NewStoreService creates a C-STORE service backed by writer.
func NewStoreService(writer ObjectWriter, logger *slog.Logger) *StoreService {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreService{writer: writer, logger: logger}
}

// HandleDIMSE stores one object and answers with the writer's status.
func (s *StoreService) HandleDIMSE(ctx context.Context, msg *types.Message, data []byte) (*types.Message, []byte, error) {
	if len(data) == 0 {
		return NewResponseBuilder(msg).CStoreResponse(types.StatusDataSetMismatch, "empty data set"), nil, nil
	}

	status, err := s.writer.WriteObject(ctx, msg, data)
	if err != nil {
		if status == types.StatusSuccess {
			status = types.StatusOutOfResources
		}
		s.logger.WarnContext(ctx, "C-STORE failed",
			"sop_instance", msg.AffectedSOPInstanceUID,
			"status", status,
			"error", err)
		return NewResponseBuilder(msg).CStoreResponse(status, truncateComment(err.Error())), nil, nil
	}

	s.logger.DebugContext(ctx, "C-STORE completed",
		"sop_class", msg.AffectedSOPClassUID,
		"sop_instance", msg.AffectedSOPInstanceUID,
		"size_bytes", len(data))
	return NewCStoreResponse(msg, status), nil, nil
}

// truncateComment keeps an error comment within the LO limit of 64 chars.
func truncateComment(comment string) string {
	if len(comment) > 64 {
		return comment[:64]
	}
	return comment
}
