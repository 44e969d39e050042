package types

// PDU type constants
const (
	TypeAssociateRQ = 0x01
	TypeAssociateAC = 0x02
	TypeAssociateRJ = 0x03
	TypePDataTF     = 0x04
	TypeReleaseRQ   = 0x05
	TypeReleaseRP   = 0x06
	TypeAbort       = 0x07
)

// Presentation context negotiation results (PS3.8 9.3.3.2)
const (
	ContextAccepted                   byte = 0x00
	ContextUserRejection              byte = 0x01
	ContextNoReason                   byte = 0x02
	ContextAbstractSyntaxNotSupported byte = 0x03
	ContextTransferSyntaxNotSupported byte = 0x04
)

// MaxPresentationContextID is the highest legal presentation context ID.
// IDs are odd, so an association carries at most 128 contexts.
const MaxPresentationContextID = 255

// PresentationContextProposal is one abstract syntax offered with an
// ordered list of transfer syntaxes.
type PresentationContextProposal struct {
	ID               byte
	AbstractSyntax   string
	TransferSyntaxes []string
}

// PresentationContext represents a negotiated presentation context
type PresentationContext struct {
	ID             byte
	Result         byte
	AbstractSyntax string
	TransferSyntax string
}

// Accepted reports whether the peer accepted the context.
func (pc *PresentationContext) Accepted() bool {
	return pc.Result == ContextAccepted && pc.TransferSyntax != ""
}
