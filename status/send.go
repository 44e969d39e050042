package status

import "github.com/caio-sobreiro/dicomnode/types"

// SendOutcome is how a C-STORE loop ended.
type SendOutcome int

const (
	SendOk SendOutcome = iota
	SendWarningForSome
	SendSomeFailed
	SendAllFailed
	SendConnectionBroken
	SendCancelled
	SendCanNotConnect
)

func (o SendOutcome) String() string {
	switch o {
	case SendOk:
		return "ok"
	case SendWarningForSome:
		return "warning for some"
	case SendSomeFailed:
		return "some failed"
	case SendAllFailed:
		return "all failed"
	case SendConnectionBroken:
		return "connection broken"
	case SendCancelled:
		return "cancelled"
	case SendCanNotConnect:
		return "can not connect"
	default:
		return "unknown"
	}
}

// FileStatus classifies the C-STORE-RSP of one file.
type FileStatus int

const (
	FileSuccess FileStatus = iota
	FileWarning
	FileFailure
)

func (s FileStatus) String() string {
	switch s {
	case FileSuccess:
		return "success"
	case FileWarning:
		return "warning"
	default:
		return "failure"
	}
}

// TranslateStore maps one C-STORE-RSP status.
func TranslateStore(code uint16) FileStatus {
	switch code {
	case types.StatusSuccess:
		return FileSuccess
	case types.StatusCoercionOfElements, types.StatusElementsDiscarded, types.StatusDataSetMismatch:
		return FileWarning
	default:
		return FileFailure
	}
}

// SendSummary is the input of SummarizeSend.
type SendSummary struct {
	Cancelled        bool
	ConnectionBroken bool
	Succeeded        int
	Warnings         int
	Failed           int
}

// SummarizeSend derives the overall outcome, highest priority first:
// cancelled, connection broken, all failed, some failed, warning for some.
// Nothing to send is Ok.
func SummarizeSend(s SendSummary) SendOutcome {
	switch {
	case s.Cancelled:
		return SendCancelled
	case s.ConnectionBroken:
		return SendConnectionBroken
	case s.Succeeded+s.Warnings == 0 && s.Failed > 0:
		return SendAllFailed
	case s.Failed > 0:
		return SendSomeFailed
	case s.Warnings > 0:
		return SendWarningForSome
	default:
		return SendOk
	}
}
