package session

import (
	"fmt"

	dicomerrors "github.com/caio-sobreiro/dicomnode/errors"
	"github.com/caio-sobreiro/dicomnode/types"
)

// Proposals returns the presentation contexts offered for purpose.
// storeClasses is only used for Store; nil means types.StoreSCUSOPClasses.
func Proposals(purpose Purpose, storeClasses []string) ([]types.PresentationContextProposal, error) {
	switch purpose {
	case Echo:
		return []types.PresentationContextProposal{{
			ID:               1,
			AbstractSyntax:   types.VerificationSOPClass,
			TransferSyntaxes: []string{types.ImplicitVRLittleEndian},
		}}, nil
	case Query:
		return []types.PresentationContextProposal{{
			ID:               1,
			AbstractSyntax:   types.StudyRootQueryRetrieveInformationModelFind,
			TransferSyntaxes: types.QueryTransferSyntaxes(),
		}}, nil
	case Retrieve:
		return []types.PresentationContextProposal{{
			ID:               1,
			AbstractSyntax:   types.StudyRootQueryRetrieveInformationModelMove,
			TransferSyntaxes: types.QueryTransferSyntaxes(),
		}}, nil
	case Store:
		return storeProposals(storeClasses)
	default:
		return nil, fmt.Errorf("unknown session purpose %d", purpose)
	}
}

// storeProposals pairs every class once with implicit little endian and
// once with the explicit and compressed fallback list.
func storeProposals(classes []string) ([]types.PresentationContextProposal, error) {
	if classes == nil {
		classes = types.StoreSCUSOPClasses
	}

	seen := make(map[string]bool, len(classes))
	var out []types.PresentationContextProposal
	id := 1
	next := func() (byte, error) {
		if id > types.MaxPresentationContextID {
			return 0, fmt.Errorf("%w: %d storage classes", dicomerrors.ErrTooManyPresentationContexts, len(seen))
		}
		cur := byte(id)
		id += 2
		return cur, nil
	}

	for _, class := range classes {
		if seen[class] {
			continue
		}
		seen[class] = true

		preferred, err := next()
		if err != nil {
			return nil, err
		}
		fallback, err := next()
		if err != nil {
			return nil, err
		}
		out = append(out,
			types.PresentationContextProposal{
				ID:               preferred,
				AbstractSyntax:   class,
				TransferSyntaxes: []string{types.ImplicitVRLittleEndian},
			},
			types.PresentationContextProposal{
				ID:               fallback,
				AbstractSyntax:   class,
				TransferSyntaxes: types.StoreFallbackTransferSyntaxes(),
			})
	}
	return out, nil
}
