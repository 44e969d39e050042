// Package services holds the DIMSE service providers used by the retrieve
// receiver and the simulated archive.
package services

import (
	"context"

	"github.com/caio-sobreiro/dicomnode/types"
)

// EchoService answers every C-ECHO with success.
type EchoService struct{}

func NewEchoService() *EchoService { return &EchoService{} }

func (s *EchoService) HandleDIMSE(ctx context.Context, msg *types.Message, data []byte) (*types.Message, []byte, error) {
	return NewCEchoResponse(msg, types.StatusSuccess), nil, nil
}
