package status

import "github.com/caio-sobreiro/dicomnode/types"

// QueryOutcome is how a C-FIND exchange ended.
type QueryOutcome int

const (
	QueryOk QueryOutcome = iota
	QueryFailedOrRefused
	QueryCancelled
	QueryUnknownStatus
	QueryCanNotConnect
)

func (o QueryOutcome) String() string {
	switch o {
	case QueryOk:
		return "ok"
	case QueryFailedOrRefused:
		return "failed or refused"
	case QueryCancelled:
		return "cancelled"
	case QueryCanNotConnect:
		return "can not connect"
	default:
		return "unknown status"
	}
}

// TranslateQuery maps the final C-FIND-RSP status.
func TranslateQuery(code uint16) QueryOutcome {
	switch {
	case code == types.StatusSuccess:
		return QueryOk
	case code == types.StatusOutOfResources,
		code == types.StatusIdentifierMismatch,
		code == types.StatusSOPClassNotSupported,
		isFailureRange(code):
		return QueryFailedOrRefused
	case code == types.StatusCancel:
		return QueryCancelled
	default:
		return QueryUnknownStatus
	}
}
