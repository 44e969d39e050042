// Package errors holds the error values shared by the wire layers and the
// session negotiator.
package errors

import (
	"errors"
	"fmt"
	"net"
)

// Wire and association failures.
var (
	ErrConnectionClosed    = errors.New("dicom: connection closed")
	ErrAssociationRejected = errors.New("dicom: association rejected")
	ErrInvalidPDU          = errors.New("dicom: invalid PDU")
	ErrNoPresentationCtx   = errors.New("dicom: no suitable presentation context")
	ErrInvalidMessage      = errors.New("dicom: invalid DIMSE message")
	ErrOperationCanceled   = errors.New("dicom: operation canceled")
)

// Session negotiation failures.
var (
	ErrNoServiceEnabled            = errors.New("dicom: device has no network service enabled")
	ErrTooManyPresentationContexts = errors.New("dicom: too many presentation contexts")
	ErrNoAcceptedContexts          = errors.New("dicom: no presentation context accepted")
	ErrListenPortInUse             = errors.New("dicom: incoming port already in use")
	ErrSessionUsed                 = errors.New("dicom: session already used")
	ErrWrongPurpose                = errors.New("dicom: session opened for another purpose")
)

// AssociationRejectReason is the reason field of an A-ASSOCIATE-RJ.
type AssociationRejectReason byte

const (
	RejectReasonUnknown                        AssociationRejectReason = 0x00
	RejectReasonNoReasonGiven                  AssociationRejectReason = 0x01
	RejectReasonApplicationContextNotSupported AssociationRejectReason = 0x02
	RejectReasonCallingAETitleNotRecognized    AssociationRejectReason = 0x03
	RejectReasonCalledAETitleNotRecognized     AssociationRejectReason = 0x07
)

var rejectReasons = map[AssociationRejectReason]string{
	RejectReasonNoReasonGiven:                  "no reason given",
	RejectReasonApplicationContextNotSupported: "application context not supported",
	RejectReasonCallingAETitleNotRecognized:    "calling AE title not recognized",
	RejectReasonCalledAETitleNotRecognized:     "called AE title not recognized",
}

func (r AssociationRejectReason) String() string {
	if s, ok := rejectReasons[r]; ok {
		return s
	}
	return fmt.Sprintf("reason 0x%02X", byte(r))
}

// AssociationRejectSource is the source field of an A-ASSOCIATE-RJ.
type AssociationRejectSource byte

const (
	RejectSourceUnknown         AssociationRejectSource = 0x00
	RejectSourceServiceUser     AssociationRejectSource = 0x01
	RejectSourceServiceProvider AssociationRejectSource = 0x02
)

func (s AssociationRejectSource) String() string {
	switch s {
	case RejectSourceServiceUser:
		return "service user"
	case RejectSourceServiceProvider:
		return "service provider"
	default:
		return fmt.Sprintf("source 0x%02X", byte(s))
	}
}

// AssociationError is an A-ASSOCIATE-RJ, sent or received. It matches
// ErrAssociationRejected.
type AssociationError struct {
	Source AssociationRejectSource
	Reason AssociationRejectReason
	Msg    string
}

// NewAssociationError builds a rejection.
func NewAssociationError(source AssociationRejectSource, reason AssociationRejectReason, msg string) *AssociationError {
	return &AssociationError{Source: source, Reason: reason, Msg: msg}
}

func (e *AssociationError) Error() string {
	return fmt.Sprintf("association rejected by %s: %s (%s)", e.Source, e.Msg, e.Reason)
}

func (e *AssociationError) Is(target error) bool {
	return target == ErrAssociationRejected
}

// NetworkError wraps a transport failure with the step that hit it.
type NetworkError struct {
	Op  string
	Err error
}

// NewNetworkError wraps err.
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err}
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Timeout reports whether the wrapped error is a network timeout.
func (e *NetworkError) Timeout() bool {
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

// PDUError is a protocol violation in a received PDU.
type PDUError struct {
	PDUType byte
	Msg     string
}

// NewPDUError builds a protocol error for a PDU of pduType.
func NewPDUError(pduType byte, msg string) *PDUError {
	return &PDUError{PDUType: pduType, Msg: msg}
}

func (e *PDUError) Error() string {
	return fmt.Sprintf("PDU 0x%02X: %s", e.PDUType, e.Msg)
}

// AbortError is a received A-ABORT.
type AbortError struct {
	Source byte // 0 service user, 2 service provider
	Reason byte
}

// NewAbortError builds the error for an A-ABORT.
func NewAbortError(source, reason byte) *AbortError {
	return &AbortError{Source: source, Reason: reason}
}

func (e *AbortError) Error() string {
	by := "unknown source"
	switch e.Source {
	case 0x00:
		by = "service user"
	case 0x02:
		by = "service provider"
	}
	return fmt.Sprintf("association aborted by %s (reason 0x%02X)", by, e.Reason)
}
