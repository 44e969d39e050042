// Package status turns DIMSE response codes into the closed outcome sets
// reported by the query, retrieve and send engines.
package status

import "fmt"

// Result is the single outcome of one engine run plus optional detail text.
type Result[T fmt.Stringer] struct {
	Outcome T
	Detail  string
}

// New builds a Result.
func New[T fmt.Stringer](outcome T, detail string) Result[T] {
	return Result[T]{Outcome: outcome, Detail: detail}
}

func (r Result[T]) String() string {
	if r.Detail == "" {
		return r.Outcome.String()
	}
	return r.Outcome.String() + ": " + r.Detail
}

func isFailureRange(code uint16) bool {
	return code&0xF000 == 0xC000
}
