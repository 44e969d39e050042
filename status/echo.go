package status

import "github.com/caio-sobreiro/dicomnode/types"

// EchoOutcome is how a connection test ended.
type EchoOutcome int

const (
	EchoOk EchoOutcome = iota
	EchoRefused
	EchoCanNotConnect
)

func (o EchoOutcome) String() string {
	switch o {
	case EchoOk:
		return "ok"
	case EchoRefused:
		return "refused"
	default:
		return "can not connect"
	}
}

// TranslateEcho maps the C-ECHO-RSP status.
func TranslateEcho(code uint16) EchoOutcome {
	if code == types.StatusSuccess {
		return EchoOk
	}
	return EchoRefused
}
