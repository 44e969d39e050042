package types

// DIMSE Command types
const (
	CStoreRQ  = 0x0001
	CStoreRSP = 0x8001
	CFindRQ   = 0x0020
	CFindRSP  = 0x8020
	CMoveRQ   = 0x0021
	CMoveRSP  = 0x8021
	CEchoRQ   = 0x0030
	CEchoRSP  = 0x8030
	CCancelRQ = 0x0FFF
)

// Command Data Set Type values
const (
	DataSetPresent = 0x0000
	NoDataSet      = 0x0101
)

// DIMSE Status codes (PS3.7 Annex C)
const (
	StatusSuccess = 0x0000
	StatusPending = 0xFF00
	// StatusPendingWarning is returned by C-FIND when optional keys are not supported.
	StatusPendingWarning = 0xFF01
	StatusCancel         = 0xFE00
	StatusFailure        = 0xC000

	StatusSOPClassNotSupported   = 0x0122
	StatusOutOfResources         = 0xA700
	StatusOutOfResourcesMatches  = 0xA701
	StatusOutOfResourcesSubOps   = 0xA702
	StatusMoveDestinationUnknown = 0xA801
	StatusIdentifierMismatch     = 0xA900

	// StatusCoercionOfElements doubles as the C-MOVE "sub-operations
	// complete, one or more failures" warning.
	StatusCoercionOfElements = 0xB000
	StatusElementsDiscarded  = 0xB006
	StatusDataSetMismatch    = 0xB007
)

// Message represents a parsed DIMSE command
type Message struct {
	CommandField              uint16
	MessageID                 uint16
	AffectedSOPClassUID       string
	AffectedSOPInstanceUID    string
	Priority                  uint16
	CommandDataSetType        uint16
	Status                    uint16
	MessageIDBeingRespondedTo uint16
	MoveDestination           string // For C-MOVE-RQ: the AE title of the move destination
	TransferSyntaxUID         string // Negotiated transfer syntax for associated dataset
	ErrorComment              string

	// Move Originator fields, set on C-STORE sub-operations of a C-MOVE
	MoveOriginatorAETitle   string
	MoveOriginatorMessageID uint16

	// C-MOVE response counters
	NumberOfRemainingSuboperations *uint16
	NumberOfCompletedSuboperations *uint16
	NumberOfFailedSuboperations    *uint16
	NumberOfWarningSuboperations   *uint16
}

// HasDataSet reports whether a data set follows the command.
func (m *Message) HasDataSet() bool {
	return m.CommandDataSetType != NoDataSet
}

// ResponseCommandFor maps a DIMSE request command to its corresponding response command.
func ResponseCommandFor(request uint16) uint16 {
	switch request {
	case CStoreRQ:
		return CStoreRSP
	case CFindRQ:
		return CFindRSP
	case CMoveRQ:
		return CMoveRSP
	case CEchoRQ:
		return CEchoRSP
	default:
		return request | 0x8000
	}
}

// IsPendingStatus reports whether status is one of the pending codes.
func IsPendingStatus(status uint16) bool {
	return status == StatusPending || status == StatusPendingWarning
}

// Counter returns the value of a sub-operation counter, or zero when absent.
func Counter(v *uint16) uint16 {
	if v == nil {
		return 0
	}
	return *v
}
