package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/caio-sobreiro/dicomnode/dimse"
	dicomerrors "github.com/caio-sobreiro/dicomnode/errors"
	"github.com/caio-sobreiro/dicomnode/pdu"
	"github.com/caio-sobreiro/dicomnode/types"
)

// Association represents a client-side DICOM association
type Association struct {
	conn             *deadlineConn
	callingAETitle   string
	calledAETitle    string
	maxPDULength     uint32
	peerMaxPDULength uint32
	presentationCtxs map[byte]*types.PresentationContext
	proposalOrder    []byte
	logger           *slog.Logger

	writeMu   sync.Mutex
	messageID atomic.Uint32
	closed    atomic.Bool
}

// Config holds client configuration
type Config struct {
	CallingAETitle string
	CalledAETitle  string
	MaxPDULength   uint32
	ConnectTimeout time.Duration // Timeout for establishing connection (default: 30s)
	Timeout        time.Duration // Idle timeout applied to every read and write (default: 60s)
	Logger         *slog.Logger  // Logger for the association (default: slog.Default())
	// Proposals lists the presentation contexts to propose. When empty,
	// verification and Study Root find/move are proposed.
	Proposals []types.PresentationContextProposal
}

// DefaultProposals proposes verification and Study Root find/move.
func DefaultProposals() []types.PresentationContextProposal {
	return []types.PresentationContextProposal{
		{ID: 1, AbstractSyntax: types.VerificationSOPClass, TransferSyntaxes: types.QueryTransferSyntaxes()},
		{ID: 3, AbstractSyntax: types.StudyRootQueryRetrieveInformationModelFind, TransferSyntaxes: types.QueryTransferSyntaxes()},
		{ID: 5, AbstractSyntax: types.StudyRootQueryRetrieveInformationModelMove, TransferSyntaxes: types.QueryTransferSyntaxes()},
	}
}

// deadlineConn refreshes the idle deadline before every read and write.
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *deadlineConn) Read(b []byte) (int, error) {
	if c.timeout > 0 {
		_ = c.Conn.SetReadDeadline(time.Now().Add(c.timeout))
	}
	return c.Conn.Read(b)
}

func (c *deadlineConn) Write(b []byte) (int, error) {
	if c.timeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.timeout))
	}
	return c.Conn.Write(b)
}

// Connect establishes a DICOM association with a remote SCP
func Connect(ctx context.Context, address string, config Config) (*Association, error) {
	if config.MaxPDULength == 0 {
		config.MaxPDULength = pdu.DefaultMaxPDULength
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 30 * time.Second
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}
	if len(config.Proposals) == 0 {
		config.Proposals = DefaultProposals()
	}
	if len(config.Proposals) > 128 {
		return nil, dicomerrors.ErrTooManyPresentationContexts
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dialer := &net.Dialer{Timeout: config.ConnectTimeout}
	raw, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, dicomerrors.NewNetworkError("connect", err)
	}

	assoc := &Association{
		conn:             &deadlineConn{Conn: raw, timeout: config.Timeout},
		callingAETitle:   config.CallingAETitle,
		calledAETitle:    config.CalledAETitle,
		maxPDULength:     config.MaxPDULength,
		presentationCtxs: make(map[byte]*types.PresentationContext),
		logger:           logger,
	}

	stop := assoc.watch(ctx)
	err = assoc.negotiate(config.Proposals)
	stop()
	if err != nil {
		raw.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	logger.Info("DICOM association established",
		"remote_addr", address,
		"calling_ae", config.CallingAETitle,
		"called_ae", config.CalledAETitle,
		"accepted_contexts", len(assoc.AcceptedContexts()))

	return assoc, nil
}

func (a *Association) negotiate(proposals []types.PresentationContextProposal) error {
	rq := &pdu.AssociateRequest{
		CalledAETitle:  a.calledAETitle,
		CallingAETitle: a.callingAETitle,
		Contexts:       proposals,
		MaxPDULength:   a.maxPDULength,
	}
	for _, p := range proposals {
		a.presentationCtxs[p.ID] = &types.PresentationContext{
			ID:             p.ID,
			AbstractSyntax: p.AbstractSyntax,
			Result:         types.ContextNoReason,
		}
		a.proposalOrder = append(a.proposalOrder, p.ID)
	}

	if err := a.write(rq.Encode()); err != nil {
		return dicomerrors.NewNetworkError("send A-ASSOCIATE-RQ", err)
	}

	reply, err := pdu.ReadPDU(a.conn)
	if err != nil {
		return dicomerrors.NewNetworkError("receive A-ASSOCIATE-AC", err)
	}

	switch reply.Type {
	case types.TypeAssociateAC:
	case types.TypeAssociateRJ:
		return pdu.ParseAssociateReject(reply.Data).Err()
	case types.TypeAbort:
		return reply.AbortError()
	default:
		return dicomerrors.NewPDUError(reply.Type, "expected A-ASSOCIATE-AC")
	}

	ac, err := pdu.ParseAssociateAccept(reply.Data)
	if err != nil {
		return err
	}
	a.peerMaxPDULength = ac.MaxPDULength
	if a.peerMaxPDULength == 0 {
		a.peerMaxPDULength = pdu.DefaultMaxPDULength
	}

	accepted := 0
	for _, result := range ac.Contexts {
		pc, ok := a.presentationCtxs[result.ID]
		if !ok {
			continue
		}
		pc.Result = result.Result
		pc.TransferSyntax = result.TransferSyntax
		if pc.Accepted() {
			accepted++
		}
		a.logger.Debug("Presentation context negotiation",
			"context_id", pc.ID,
			"abstract_syntax", pc.AbstractSyntax,
			"result", pc.Result,
			"transfer_syntax", pc.TransferSyntax)
	}

	if accepted == 0 {
		_ = a.write(pdu.Abort(0x00, 0x00))
		return dicomerrors.ErrNoAcceptedContexts
	}
	return nil
}

// watch unblocks pending I/O once ctx is done. The returned func stops
// watching.
func (a *Association) watch(ctx context.Context) func() {
	if ctx == nil || ctx.Done() == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = a.conn.Conn.SetDeadline(time.Now())
		case <-done:
		}
	}()
	return func() { close(done) }
}

func (a *Association) write(data []byte) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	_, err := a.conn.Write(data)
	return err
}

// Close releases the association and closes the connection. Responses
// still in flight are discarded while waiting for the A-RELEASE-RP.
func (a *Association) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	defer a.conn.Close()

	if err := a.write(pdu.ReleaseRQ()); err != nil {
		a.logger.Warn("Failed to send release request", "error", err)
		return nil
	}
	for {
		p, err := pdu.ReadPDU(a.conn)
		if err != nil {
			return nil
		}
		switch p.Type {
		case types.TypeReleaseRP, types.TypeAbort:
			return nil
		case types.TypeReleaseRQ:
			// release collision
			_ = a.write(pdu.ReleaseRP())
			return nil
		}
	}
}

// Abort sends an A-ABORT and closes the connection.
func (a *Association) Abort() error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	_ = a.write(pdu.Abort(0x00, 0x00))
	return a.conn.Close()
}

// CallingAETitle returns the local AE title.
func (a *Association) CallingAETitle() string {
	return a.callingAETitle
}

// CalledAETitle returns the peer AE title.
func (a *Association) CalledAETitle() string {
	return a.calledAETitle
}

// MaxPDULength returns the maximum PDU length the peer accepts.
func (a *Association) MaxPDULength() uint32 {
	return a.peerMaxPDULength
}

// NextMessageID returns a fresh message ID for this association.
func (a *Association) NextMessageID() uint16 {
	for {
		id := uint16(a.messageID.Add(1))
		if id != 0 {
			return id
		}
	}
}

// AcceptedContexts returns the accepted presentation contexts in the
// order they were proposed.
func (a *Association) AcceptedContexts() []types.PresentationContext {
	var out []types.PresentationContext
	for _, id := range a.proposalOrder {
		if pc := a.presentationCtxs[id]; pc.Accepted() {
			out = append(out, *pc)
		}
	}
	return out
}

// FindPresentationContext returns an accepted context for abstractSyntax.
// A context negotiated with transferSyntax is preferred; otherwise the
// first accepted context for the abstract syntax is returned. An empty
// transferSyntax matches any.
func (a *Association) FindPresentationContext(abstractSyntax, transferSyntax string) (*types.PresentationContext, error) {
	var fallback *types.PresentationContext
	for _, id := range a.proposalOrder {
		pc := a.presentationCtxs[id]
		if pc.AbstractSyntax != abstractSyntax || !pc.Accepted() {
			continue
		}
		if transferSyntax == "" || pc.TransferSyntax == transferSyntax {
			return pc, nil
		}
		if fallback == nil {
			fallback = pc
		}
	}
	if fallback != nil {
		return fallback, nil
	}
	return nil, fmt.Errorf("%w: %s", dicomerrors.ErrNoPresentationCtx, abstractSyntax)
}

// GetPresentationContextID finds a presentation context for the given abstract syntax
func (a *Association) GetPresentationContextID(abstractSyntax string) (byte, error) {
	pc, err := a.FindPresentationContext(abstractSyntax, "")
	if err != nil {
		return 0, err
	}
	return pc.ID, nil
}

// sendDIMSEMessage sends a DIMSE message with optional dataset
func (a *Association) sendDIMSEMessage(presContextID byte, msg *types.Message, datasetData []byte) error {
	commandData, err := dimse.EncodeCommand(msg)
	if err != nil {
		return err
	}
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if err := dimse.SendDIMSEMessage(a.conn, presContextID, a.peerMaxPDULength, commandData, datasetData); err != nil {
		return dicomerrors.NewNetworkError("send", err)
	}
	return nil
}

// receiveDIMSEMessage reads the next complete DIMSE message. A transport
// failure caused by ctx is reported as ctx.Err().
func (a *Association) receiveDIMSEMessage(ctx context.Context) (*types.Message, []byte, error) {
	msg, data, _, err := dimse.ReceiveDIMSEMessage(a.conn)
	if err != nil {
		if ctx != nil && ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		var netErr net.Error
		if errors.As(err, &netErr) {
			return nil, nil, dicomerrors.NewNetworkError("receive", err)
		}
		return nil, nil, err
	}
	return msg, data, nil
}
