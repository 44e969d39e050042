package status

import "github.com/caio-sobreiro/dicomnode/types"

// RetrieveOutcome is how a C-MOVE exchange ended.
type RetrieveOutcome int

const (
	RetrieveOk RetrieveOutcome = iota
	RetrieveCanNotConnect
	RetrieveDatabaseError
	RetrieveNoEnoughSpace
	RetrieveErrorFreeingSpace
	RetrievePatientInconsistent
	RetrieveMoveDestinationUnknown
	RetrieveIncomingPortInUse
	RetrieveSomeObjectsFailed
	RetrieveFailedOrRefused
	RetrieveStorageWriteError
	RetrieveCancelled
	RetrieveUnknownStatus
)

var retrieveNames = [...]string{
	RetrieveOk:                     "ok",
	RetrieveCanNotConnect:          "can not connect",
	RetrieveDatabaseError:          "database error",
	RetrieveNoEnoughSpace:          "not enough space",
	RetrieveErrorFreeingSpace:      "error freeing space",
	RetrievePatientInconsistent:    "patient inconsistent",
	RetrieveMoveDestinationUnknown: "move destination unknown",
	RetrieveIncomingPortInUse:      "incoming port in use",
	RetrieveSomeObjectsFailed:      "some objects failed",
	RetrieveFailedOrRefused:        "failed or refused",
	RetrieveStorageWriteError:      "storage write error",
	RetrieveCancelled:              "cancelled",
	RetrieveUnknownStatus:          "unknown status",
}

func (o RetrieveOutcome) String() string {
	if o < 0 || int(o) >= len(retrieveNames) {
		return "unknown status"
	}
	return retrieveNames[o]
}

// TranslateRetrieve maps the final C-MOVE-RSP status and its failed
// sub-operation count.
func TranslateRetrieve(code uint16, failed uint16) RetrieveOutcome {
	switch {
	case code == types.StatusSuccess && failed == 0:
		return RetrieveOk
	case code == types.StatusSuccess, code == types.StatusCoercionOfElements:
		return RetrieveSomeObjectsFailed
	case code == types.StatusMoveDestinationUnknown:
		return RetrieveMoveDestinationUnknown
	case code == types.StatusOutOfResourcesMatches,
		code == types.StatusOutOfResourcesSubOps,
		code == types.StatusIdentifierMismatch,
		code == types.StatusSOPClassNotSupported,
		isFailureRange(code):
		return RetrieveFailedOrRefused
	case code == types.StatusCancel:
		return RetrieveCancelled
	default:
		return RetrieveUnknownStatus
	}
}
