package pdu

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"slices"
	"sync"
	"time"

	dicomerrors "github.com/caio-sobreiro/dicomnode/errors"
	"github.com/caio-sobreiro/dicomnode/types"
)

// Layer handles the DICOM Upper Layer Protocol for one inbound connection
type Layer struct {
	conn           net.Conn
	associationCtx *AssociationContext
	dimseHandler   DIMSEHandler
	serverAETitle  string
	logger         *slog.Logger
	policy         Policy
	maxPDULength   uint32
	timeout        time.Duration

	writeMu sync.Mutex
}

// AssociationContext holds association state
type AssociationContext struct {
	CalledAETitle    string
	CallingAETitle   string
	MaxPDULength     uint32
	PresentationCtxs map[byte]*types.PresentationContext
}

// Policy decides which presentation contexts an SCP accepts.
type Policy struct {
	// AbstractSyntaxes reports whether an abstract syntax is served.
	AbstractSyntaxes func(uid string) bool
	// TransferSyntaxes lists the accepted transfer syntaxes. The first
	// syntax of the proposer's list that appears here is selected.
	TransferSyntaxes []string
	// RequireCalledAETitle rejects associations addressed to another AE title.
	RequireCalledAETitle bool
}

// DefaultPolicy accepts verification, query/retrieve and storage classes
// in uncompressed little endian.
func DefaultPolicy() Policy {
	return Policy{
		AbstractSyntaxes: func(uid string) bool {
			return uid == types.VerificationSOPClass ||
				types.IsQueryRetrieveSOPClass(uid) ||
				types.IsStorageSOPClass(uid)
		},
		TransferSyntaxes: []string{types.ImplicitVRLittleEndian, types.ExplicitVRLittleEndian},
	}
}

// negotiate selects the result for one proposed context.
func (p Policy) negotiate(proposal types.PresentationContextProposal) *types.PresentationContext {
	pc := &types.PresentationContext{
		ID:             proposal.ID,
		AbstractSyntax: proposal.AbstractSyntax,
		Result:         types.ContextAbstractSyntaxNotSupported,
	}
	if p.AbstractSyntaxes == nil || !p.AbstractSyntaxes(proposal.AbstractSyntax) {
		return pc
	}
	pc.Result = types.ContextTransferSyntaxNotSupported
	for _, ts := range proposal.TransferSyntaxes {
		if slices.Contains(p.TransferSyntaxes, ts) {
			pc.TransferSyntax = ts
			pc.Result = types.ContextAccepted
			break
		}
	}
	return pc
}

// Option configures a Layer.
type Option func(*Layer)

// WithPolicy sets the presentation context acceptance policy.
func WithPolicy(policy Policy) Option {
	return func(l *Layer) {
		l.policy = policy
	}
}

// WithMaxPDULength sets the maximum PDU length announced to the peer.
func WithMaxPDULength(length uint32) Option {
	return func(l *Layer) {
		l.maxPDULength = length
	}
}

// WithTimeout refreshes the connection deadline before every PDU read
// and write.
func WithTimeout(timeout time.Duration) Option {
	return func(l *Layer) {
		l.timeout = timeout
	}
}

// DIMSEHandler interface for handling DIMSE messages
type DIMSEHandler interface {
	HandleDIMSEMessage(presContextID byte, msgCtrlHeader byte, data []byte, pduLayer *Layer) error
}

// NewLayer creates a new PDU layer handler
func NewLayer(conn net.Conn, dimseHandler DIMSEHandler, serverAETitle string, logger *slog.Logger, opts ...Option) *Layer {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Layer{
		conn:          conn,
		dimseHandler:  dimseHandler,
		serverAETitle: serverAETitle,
		logger:        logger,
		policy:        DefaultPolicy(),
		maxPDULength:  DefaultMaxPDULength,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// HandleConnection manages the complete DICOM connection lifecycle
func (p *Layer) HandleConnection() error {
	defer p.conn.Close()
	p.logger.Info("New DICOM connection", "remote_addr", p.conn.RemoteAddr())

	if err := p.handleAssociationPhase(); err != nil {
		return fmt.Errorf("association failed: %w", err)
	}

	for {
		pdu, err := p.readPDU()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				p.logger.Info("Connection closed by peer", "remote_addr", p.conn.RemoteAddr())
				return nil
			}
			return fmt.Errorf("error reading PDU: %w", err)
		}

		if err := p.handlePDU(pdu); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("error handling PDU: %w", err)
		}
	}
}

// CallingAETitle returns the AE title of the peer once associated.
func (p *Layer) CallingAETitle() string {
	if p.associationCtx == nil {
		return ""
	}
	return p.associationCtx.CallingAETitle
}

func (p *Layer) readPDU() (*PDU, error) {
	if p.timeout > 0 {
		_ = p.conn.SetReadDeadline(time.Now().Add(p.timeout))
	}
	return ReadPDU(p.conn)
}

func (p *Layer) write(data []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if p.timeout > 0 {
		_ = p.conn.SetWriteDeadline(time.Now().Add(p.timeout))
	}
	_, err := p.conn.Write(data)
	return err
}

// handlePDU routes PDUs to appropriate handlers
func (p *Layer) handlePDU(pdu *PDU) error {
	p.logger.Debug("Received PDU", "type", fmt.Sprintf("0x%02x", pdu.Type), "length", pdu.Length)

	switch pdu.Type {
	case types.TypePDataTF:
		return p.handlePDataTF(pdu)
	case types.TypeReleaseRQ:
		return p.handleReleaseRequest()
	case types.TypeReleaseRP:
		p.logger.Debug("Received A-RELEASE-RP")
		return io.EOF
	case types.TypeAbort:
		p.logger.Info("Received A-ABORT", "error", pdu.AbortError())
		return io.EOF
	default:
		p.logger.Warn("Unhandled PDU type", "type", fmt.Sprintf("0x%02x", pdu.Type))
		return nil
	}
}

func (p *Layer) handleAssociationPhase() error {
	pdu, err := p.readPDU()
	if err != nil {
		return fmt.Errorf("failed to read association request: %w", err)
	}
	if pdu.Type != types.TypeAssociateRQ {
		return dicomerrors.NewPDUError(pdu.Type, "expected A-ASSOCIATE-RQ")
	}
	return p.handleAssociateRequest(pdu)
}

// handleAssociateRequest processes A-ASSOCIATE-RQ and answers with an
// A-ASSOCIATE-AC, or an A-ASSOCIATE-RJ when the request is unusable.
func (p *Layer) handleAssociateRequest(pdu *PDU) error {
	req, err := ParseAssociateRequest(pdu.Data)
	if err != nil {
		p.reject(dicomerrors.RejectReasonNoReasonGiven)
		return err
	}

	p.logger.Info("Extracted AE titles from association request",
		"calling_ae", req.CallingAETitle,
		"called_ae", req.CalledAETitle)

	if p.policy.RequireCalledAETitle && req.CalledAETitle != p.serverAETitle {
		p.reject(dicomerrors.RejectReasonCalledAETitleNotRecognized)
		return dicomerrors.NewAssociationError(dicomerrors.RejectSourceServiceUser,
			dicomerrors.RejectReasonCalledAETitleNotRecognized, req.CalledAETitle)
	}

	p.associationCtx = &AssociationContext{
		CalledAETitle:    req.CalledAETitle,
		CallingAETitle:   req.CallingAETitle,
		MaxPDULength:     req.MaxPDULength,
		PresentationCtxs: make(map[byte]*types.PresentationContext),
	}
	if p.associationCtx.MaxPDULength == 0 {
		p.associationCtx.MaxPDULength = DefaultMaxPDULength
	}

	ac := &AssociateAccept{
		CalledAETitle:  req.CalledAETitle,
		CallingAETitle: req.CallingAETitle,
		MaxPDULength:   p.maxPDULength,
	}
	accepted := 0
	for _, proposal := range req.Contexts {
		pc := p.policy.negotiate(proposal)
		p.associationCtx.PresentationCtxs[pc.ID] = pc
		ac.Contexts = append(ac.Contexts, *pc)
		if pc.Accepted() {
			accepted++
		}
		p.logger.Debug("Presentation context negotiation result",
			"context_id", pc.ID,
			"abstract_syntax", pc.AbstractSyntax,
			"selected_transfer_syntax", pc.TransferSyntax,
			"result", pc.Result)
	}

	p.logger.Info("Negotiated presentation contexts",
		"proposed", len(req.Contexts),
		"accepted", accepted,
		"max_pdu_length", p.associationCtx.MaxPDULength)

	if err := p.write(ac.Encode()); err != nil {
		return fmt.Errorf("failed to send A-ASSOCIATE-AC: %w", err)
	}
	return nil
}

func (p *Layer) reject(reason dicomerrors.AssociationRejectReason) {
	rj := &AssociateReject{
		Result: 0x01,
		Source: dicomerrors.RejectSourceServiceUser,
		Reason: reason,
	}
	if err := p.write(rj.Encode()); err != nil {
		p.logger.Warn("Failed to send A-ASSOCIATE-RJ", "error", err)
	}
}

// handlePDataTF forwards every PDV of a P-DATA-TF to the DIMSE layer
func (p *Layer) handlePDataTF(pdu *PDU) error {
	pdvs, err := ParsePDataTF(pdu.Data)
	if err != nil {
		return err
	}
	for _, pdv := range pdvs {
		var header byte
		if pdv.Command {
			header |= 0x01
		}
		if pdv.Last {
			header |= 0x02
		}
		if err := p.dimseHandler.HandleDIMSEMessage(pdv.ContextID, header, pdv.Data, p); err != nil {
			return err
		}
	}
	return nil
}

func (p *Layer) handleReleaseRequest() error {
	if err := p.write(ReleaseRP()); err != nil {
		return fmt.Errorf("failed to send A-RELEASE-RP: %w", err)
	}
	p.logger.Debug("Sent A-RELEASE-RP")
	return io.EOF
}

// SendDIMSEResponse sends a DIMSE response via P-DATA-TF
func (p *Layer) SendDIMSEResponse(presContextID byte, commandData []byte) error {
	return p.SendDIMSEResponseWithDataset(presContextID, commandData, nil)
}

// SendDIMSEResponseWithDataset sends a command and an optional data set,
// fragmented to the peer's maximum PDU length.
func (p *Layer) SendDIMSEResponseWithDataset(presContextID byte, commandData []byte, datasetData []byte) error {
	maxLength := uint32(DefaultMaxPDULength)
	if p.associationCtx != nil {
		maxLength = p.associationCtx.MaxPDULength
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if p.timeout > 0 {
		_ = p.conn.SetWriteDeadline(time.Now().Add(p.timeout))
	}

	if err := WritePDataTF(p.conn, presContextID, maxLength, commandData, true); err != nil {
		return fmt.Errorf("failed to send command PDU: %w", err)
	}
	if len(datasetData) > 0 {
		if err := WritePDataTF(p.conn, presContextID, maxLength, datasetData, false); err != nil {
			return fmt.Errorf("failed to send dataset PDU: %w", err)
		}
	}
	return nil
}

// GetTransferSyntax returns the negotiated transfer syntax for the given presentation context.
func (p *Layer) GetTransferSyntax(presContextID byte) (string, error) {
	if p.associationCtx == nil {
		return "", fmt.Errorf("association context not initialized")
	}

	ctx, ok := p.associationCtx.PresentationCtxs[presContextID]
	if !ok {
		return "", fmt.Errorf("presentation context %d not found", presContextID)
	}

	if !ctx.Accepted() {
		return "", fmt.Errorf("no transfer syntax negotiated for presentation context %d", presContextID)
	}

	return ctx.TransferSyntax, nil
}
