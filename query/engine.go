package query

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/caio-sobreiro/dicomnode/client"
	"github.com/caio-sobreiro/dicomnode/dicom"
	"github.com/caio-sobreiro/dicomnode/session"
	"github.com/caio-sobreiro/dicomnode/status"
	"github.com/caio-sobreiro/dicomnode/types"
)

// Result is the outcome of one query.
type Result = status.Result[status.QueryOutcome]

// Option configures an Engine.
type Option func(*Engine)

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMatchHandler registers fn to see every accepted match in arrival
// order. fn runs on the receiving goroutine and must not block.
func WithMatchHandler(fn func(level types.QueryLevel, ds *dicom.Dataset)) Option {
	return func(e *Engine) {
		e.onMatch = fn
	}
}

// inflight identifies the running C-FIND once its first response arrived.
type inflight struct {
	assoc     *client.Association
	messageID uint16
}

// Engine runs a single C-FIND exchange and keeps its matches until they
// are taken or released.
type Engine struct {
	negotiator *session.Negotiator
	logger     *slog.Logger
	onMatch    func(types.QueryLevel, *dicom.Dataset)

	cancelRequested atomic.Bool
	cancelSent      atomic.Bool
	cancels         atomic.Int32

	mu      sync.Mutex
	active  *inflight
	results results
}

// NewEngine builds an Engine opening sessions through negotiator.
func NewEngine(negotiator *session.Negotiator, opts ...Option) *Engine {
	e := &Engine{negotiator: negotiator, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Query opens a query session to device and runs tmpl on it. No request
// is sent when the session cannot be opened.
func (e *Engine) Query(ctx context.Context, device types.Device, tmpl *Template) Result {
	if e.cancelRequested.Load() {
		return status.New(status.QueryCancelled, "cancelled before start")
	}
	s, err := e.negotiator.Open(ctx, device, session.Query)
	if err != nil {
		return status.New(status.QueryCanNotConnect, err.Error())
	}
	defer s.Close()
	return e.QueryOnSession(ctx, s, tmpl)
}

// QueryOnSession runs tmpl on an open query session. Cancelling ctx has
// the effect of CancelQuery: the archive is asked to stop and the
// exchange still ends with its final response.
func (e *Engine) QueryOnSession(ctx context.Context, s *session.Session, tmpl *Template) Result {
	if err := s.Claim(session.Query); err != nil {
		return status.New(status.QueryFailedOrRefused, err.Error())
	}
	if tmpl == nil {
		tmpl = NewTemplate()
	}
	logger := s.Logger()
	assoc := s.Association()
	level := tmpl.Level()
	messageID := assoc.NextMessageID()

	stop := context.AfterFunc(ctx, e.CancelQuery)
	defer stop()

	logger.Info("Query started",
		"level", level,
		"keys", tmpl.Len())

	matches, dropped := 0, 0
	visit := func(resp *client.CFindResponse) error {
		e.mu.Lock()
		if e.active == nil {
			e.active = &inflight{assoc: assoc, messageID: messageID}
		}
		active := e.active
		e.mu.Unlock()

		if e.cancelRequested.Load() {
			e.sendCancel(active, logger)
			dropped++
			return nil
		}
		if resp.Dataset == nil {
			return nil
		}

		matchLevel := types.QueryLevel(resp.Dataset.GetString(dicom.TagQueryRetrieveLevel))
		if matchLevel.Depth() < 0 {
			matchLevel = level
		}
		e.mu.Lock()
		e.results.add(matchLevel, resp.Dataset)
		e.mu.Unlock()
		matches++

		if e.onMatch != nil {
			e.onMatch(matchLevel, resp.Dataset)
		}
		return nil
	}

	// The exchange must survive ctx: cancellation travels as a C-CANCEL.
	final, err := assoc.SendCFind(context.WithoutCancel(ctx), &client.CFindRequest{
		SOPClassUID: types.StudyRootQueryRetrieveInformationModelFind,
		MessageID:   messageID,
		Dataset:     tmpl.Dataset(),
	}, visit)

	e.mu.Lock()
	e.active = nil
	e.mu.Unlock()

	if err != nil {
		logger.Error("Query failed",
			"matches", matches,
			"error", err)
		return status.New(status.QueryFailedOrRefused, err.Error())
	}

	outcome := status.TranslateQuery(final.Status)
	if outcome == status.QueryOk && e.cancelRequested.Load() {
		outcome = status.QueryCancelled
	}
	logger.Info("Query finished",
		"status", fmt.Sprintf("0x%04X", final.Status),
		"outcome", outcome.String(),
		"matches", matches,
		"dropped", dropped)
	return status.New(outcome, final.ErrorComment)
}

// CancelQuery asks the archive to stop. The C-CANCEL is sent at most once
// per Engine, as soon as the exchange has produced a response; matches
// arriving afterwards are dropped.
func (e *Engine) CancelQuery() {
	e.cancelRequested.Store(true)
	e.mu.Lock()
	active := e.active
	e.mu.Unlock()
	if active != nil {
		e.sendCancel(active, e.logger)
	}
}

// CancelRequested reports whether CancelQuery was called.
func (e *Engine) CancelRequested() bool {
	return e.cancelRequested.Load()
}

// CancelsSent returns how many C-CANCEL requests were issued.
func (e *Engine) CancelsSent() int {
	return int(e.cancels.Load())
}

func (e *Engine) sendCancel(q *inflight, logger *slog.Logger) {
	if !e.cancelSent.CompareAndSwap(false, true) {
		return
	}
	e.cancels.Add(1)
	if err := q.assoc.SendCCancel(q.messageID, types.StudyRootQueryRetrieveInformationModelFind); err != nil {
		logger.Warn("Cannot send C-CANCEL", "error", err)
		return
	}
	logger.Info("Query cancel requested", "message_id", q.messageID)
}

// TakeStudies hands the study buffer, each study with its patient, over
// to the caller.
func (e *Engine) TakeStudies() []types.Study {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.results.studiesClaimed = true
	return e.results.studies
}

// TakeSeries hands the series buffer over to the caller.
func (e *Engine) TakeSeries() []types.Series {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.results.seriesClaimed = true
	return e.results.series
}

// TakeImages hands the image buffer over to the caller.
func (e *Engine) TakeImages() []types.Image {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.results.imagesClaimed = true
	return e.results.images
}

// Release frees the buffers that were never taken.
func (e *Engine) Release() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.results.release()
}
