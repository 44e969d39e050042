package errors

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
)

func TestAssociationError(t *testing.T) {
	err := NewAssociationError(RejectSourceServiceUser, RejectReasonCalledAETitleNotRecognized, "unknown called AE")

	if !errors.Is(err, ErrAssociationRejected) {
		t.Error("AssociationError does not match ErrAssociationRejected")
	}
	wrapped := fmt.Errorf("open: %w", err)
	var assocErr *AssociationError
	if !errors.As(wrapped, &assocErr) || assocErr.Reason != RejectReasonCalledAETitleNotRecognized {
		t.Errorf("errors.As() = %v", assocErr)
	}
	want := "association rejected by service user: unknown called AE (called AE title not recognized)"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestRejectStrings(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{RejectReasonNoReasonGiven.String(), "no reason given"},
		{AssociationRejectReason(0x09).String(), "reason 0x09"},
		{RejectSourceServiceProvider.String(), "service provider"},
		{AssociationRejectSource(0x03).String(), "source 0x03"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestNetworkError(t *testing.T) {
	err := NewNetworkError("connect", timeoutErr{})
	if !err.Timeout() {
		t.Error("Timeout() = false for a wrapped timeout")
	}
	if !errors.Is(err, err.Err) {
		t.Error("NetworkError does not unwrap")
	}
	if NewNetworkError("send", ErrConnectionClosed).Timeout() {
		t.Error("Timeout() = true for a closed connection")
	}
	if !errors.Is(NewNetworkError("send", ErrConnectionClosed), ErrConnectionClosed) {
		t.Error("errors.Is through NetworkError failed")
	}
}

func TestAbortError(t *testing.T) {
	tests := []struct {
		source byte
		want   string
	}{
		{0x00, "service user"},
		{0x02, "service provider"},
		{0x01, "unknown source"},
	}
	for _, tt := range tests {
		if msg := NewAbortError(tt.source, 0x01).Error(); !strings.Contains(msg, tt.want) {
			t.Errorf("source 0x%02X: %q does not name %q", tt.source, msg, tt.want)
		}
	}
}

func TestPDUError(t *testing.T) {
	if got := NewPDUError(0x04, "PDV length exceeds PDU payload").Error(); got != "PDU 0x04: PDV length exceeds PDU payload" {
		t.Errorf("Error() = %q", got)
	}
}
