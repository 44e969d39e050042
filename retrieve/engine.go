// Package retrieve moves objects from an archive to local storage. The
// engine asks the archive for a C-MOVE to its own AE title and receives the
// resulting C-STOREs on the session's listening port.
package retrieve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/disk"
	"golang.org/x/sync/errgroup"

	"github.com/caio-sobreiro/dicomnode/client"
	"github.com/caio-sobreiro/dicomnode/config"
	"github.com/caio-sobreiro/dicomnode/dicom"
	dicomerrors "github.com/caio-sobreiro/dicomnode/errors"
	"github.com/caio-sobreiro/dicomnode/interfaces"
	"github.com/caio-sobreiro/dicomnode/server"
	"github.com/caio-sobreiro/dicomnode/services"
	"github.com/caio-sobreiro/dicomnode/session"
	"github.com/caio-sobreiro/dicomnode/status"
	"github.com/caio-sobreiro/dicomnode/types"
)

// Result is the outcome of one retrieve.
type Result = status.Result[status.RetrieveOutcome]

// ObjectHandler is told about every persisted object with the running
// count of objects received so far.
type ObjectHandler func(obj types.StoredObject, received int)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithObjectSink hands every persisted object to the local catalog.
func WithObjectSink(sink interfaces.ObjectSink) Option {
	return func(e *Engine) {
		e.sink = sink
	}
}

// WithSpaceReclaimer is asked to free space when the storage directory
// is short of the configured minimum.
func WithSpaceReclaimer(r interfaces.SpaceReclaimer) Option {
	return func(e *Engine) {
		e.reclaimer = r
	}
}

// WithObjectHandler registers the per-object notification.
func WithObjectHandler(fn ObjectHandler) Option {
	return func(e *Engine) {
		e.onObject = fn
	}
}

// WithFreeSpace replaces the free space probe of the storage directory.
func WithFreeSpace(fn func(ctx context.Context, path string) (uint64, error)) Option {
	return func(e *Engine) {
		e.freeSpace = fn
	}
}

// Engine runs one retrieve.
type Engine struct {
	negotiator *session.Negotiator
	logger     *slog.Logger
	sink       interfaces.ObjectSink
	reclaimer  interfaces.SpaceReclaimer
	onObject   ObjectHandler
	freeSpace  func(ctx context.Context, path string) (uint64, error)

	cancel     atomic.Bool
	cancelSent atomic.Bool
	cancels    atomic.Int32
	received   atomic.Int32

	mu        sync.Mutex
	active    *inflight
	patientID string
	local     *Result
}

// inflight identifies the running C-MOVE once the archive has acted on it.
type inflight struct {
	assoc     *client.Association
	messageID uint16
	logger    *slog.Logger
}

// NewEngine builds an Engine opening sessions through negotiator.
func NewEngine(negotiator *session.Negotiator, opts ...Option) *Engine {
	e := &Engine{
		negotiator: negotiator,
		logger:     slog.Default(),
		freeSpace:  diskFree,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func diskFree(ctx context.Context, path string) (uint64, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

// Received returns how many objects were persisted so far.
func (e *Engine) Received() int {
	return int(e.received.Load())
}

// CancelsSent returns how many C-CANCEL requests were issued.
func (e *Engine) CancelsSent() int {
	return int(e.cancels.Load())
}

// RequestCancel asks the archive to stop. The object being received is
// completed; later objects are refused.
func (e *Engine) RequestCancel() {
	e.cancel.Store(true)
	e.mu.Lock()
	active := e.active
	e.mu.Unlock()
	if active != nil {
		e.sendCancel(active)
	}
}

func (e *Engine) sendCancel(q *inflight) {
	if !e.cancelSent.CompareAndSwap(false, true) {
		return
	}
	e.cancels.Add(1)
	if err := q.assoc.SendCCancel(q.messageID, types.StudyRootQueryRetrieveInformationModelMove); err != nil {
		q.logger.Warn("Cannot send C-CANCEL", "error", err)
		return
	}
	q.logger.Info("Retrieve cancel requested", "message_id", q.messageID)
}

// markActive records that the archive acted on the C-MOVE, so a C-CANCEL
// can follow it, and sends the pending cancel if one was requested.
func (e *Engine) markActive(q *inflight) {
	e.mu.Lock()
	if e.active == nil {
		e.active = q
	}
	e.mu.Unlock()
	if e.cancel.Load() {
		e.sendCancel(q)
	}
}

// fail records a local failure. The first one wins.
func (e *Engine) fail(outcome status.RetrieveOutcome, detail string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.local == nil {
		r := status.New(outcome, detail)
		e.local = &r
	}
}

func (e *Engine) localFailure() *Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.local
}

// Retrieve moves the study, series or single instance named by the UIDs
// into local storage. seriesUID and sopUID narrow the request when set.
func (e *Engine) Retrieve(ctx context.Context, device types.Device, studyUID, seriesUID, sopUID string) Result {
	if studyUID == "" || (sopUID != "" && seriesUID == "") {
		return status.New(status.RetrieveFailedOrRefused, "incomplete instance UIDs")
	}
	if e.cancel.Load() {
		return status.New(status.RetrieveCancelled, "cancelled before start")
	}

	settings := e.negotiator.Settings()
	if r, ok := e.checkSpace(ctx, settings); !ok {
		return r
	}

	s, err := e.negotiator.Open(ctx, device, session.Retrieve)
	if err != nil {
		if errors.Is(err, dicomerrors.ErrListenPortInUse) {
			return status.New(status.RetrieveIncomingPortInUse, err.Error())
		}
		return status.New(status.RetrieveCanNotConnect, err.Error())
	}
	defer s.Close()

	return e.run(ctx, s, moveIdentifier(studyUID, seriesUID, sopUID))
}

// checkSpace makes sure the storage directory has the configured minimum
// of free space, asking the reclaimer when it does not.
func (e *Engine) checkSpace(ctx context.Context, settings config.Settings) (Result, bool) {
	if err := os.MkdirAll(settings.StorageDir, 0o755); err != nil {
		return status.New(status.RetrieveStorageWriteError, err.Error()), false
	}
	need := settings.MinFreeSpaceMB * 1024 * 1024
	if need == 0 {
		return Result{}, true
	}

	free, err := e.freeSpace(ctx, settings.StorageDir)
	if err != nil {
		return status.New(status.RetrieveStorageWriteError, err.Error()), false
	}
	if free >= need {
		return Result{}, true
	}

	e.logger.Warn("Storage short of free space",
		"storage_dir", settings.StorageDir,
		"free", humanize.IBytes(free),
		"required", humanize.IBytes(need))
	if e.reclaimer == nil {
		return status.New(status.RetrieveNoEnoughSpace, humanize.IBytes(free)+" free"), false
	}
	if err := e.reclaimer.ReclaimSpace(ctx, need-free); err != nil {
		return status.New(status.RetrieveErrorFreeingSpace, err.Error()), false
	}

	free, err = e.freeSpace(ctx, settings.StorageDir)
	if err != nil {
		return status.New(status.RetrieveStorageWriteError, err.Error()), false
	}
	if free < need {
		return status.New(status.RetrieveNoEnoughSpace, humanize.IBytes(free)+" free after cleanup"), false
	}
	return Result{}, true
}

func moveIdentifier(studyUID, seriesUID, sopUID string) *dicom.Dataset {
	level := types.QueryLevelStudy
	ds := dicom.NewDataset()
	ds.AddElement(dicom.TagStudyInstanceUID, dicom.VR_UI, studyUID)
	if seriesUID != "" {
		level = types.QueryLevelSeries
		ds.AddElement(dicom.TagSeriesInstanceUID, dicom.VR_UI, seriesUID)
	}
	if sopUID != "" {
		level = types.QueryLevelImage
		ds.AddElement(dicom.TagSOPInstanceUID, dicom.VR_UI, sopUID)
	}
	ds.AddElement(dicom.TagQueryRetrieveLevel, dicom.VR_CS, string(level))
	return ds
}

// run serves inbound C-STOREs on the session listener while the C-MOVE
// is in flight. The receiver stops once the move has its final response.
func (e *Engine) run(ctx context.Context, s *session.Session, identifier *dicom.Dataset) Result {
	if err := s.Claim(session.Retrieve); err != nil {
		return status.New(status.RetrieveFailedOrRefused, err.Error())
	}
	settings := s.Settings()
	logger := s.Logger()
	assoc := s.Association()
	q := &inflight{assoc: assoc, messageID: assoc.NextMessageID(), logger: logger}

	stop := context.AfterFunc(ctx, e.RequestCancel)
	defer stop()

	w := &writer{engine: e, settings: settings, move: q, logger: logger}
	registry := services.NewRegistry()
	registry.RegisterHandler(types.CEchoRQ, services.NewEchoService())
	registry.RegisterHandler(types.CStoreRQ, services.NewStoreService(w, logger))
	receiver := server.New(s.LocalAETitle(), registry,
		server.WithLogger(logger),
		server.WithTimeout(settings.ConnectionTimeout),
		server.WithMaxPDULength(settings.MaxPDULength))

	logger.Info("Retrieve started",
		"level", identifier.GetString(dicom.TagQueryRetrieveLevel),
		"study_uid", identifier.GetString(dicom.TagStudyInstanceUID),
		"listen_addr", s.Listener().Addr().String())

	// Cancellation reaches the archive as a C-CANCEL, never by dropping
	// the association.
	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	serveCtx, stopServe := context.WithCancel(gctx)
	defer stopServe()

	g.Go(func() error {
		err := receiver.Serve(serveCtx, s.Listener())
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	var final *client.CMoveResponse
	g.Go(func() error {
		defer stopServe()
		var err error
		final, err = assoc.SendCMove(gctx, &client.CMoveRequest{
			MessageID:   q.messageID,
			Destination: s.LocalAETitle(),
			Dataset:     identifier,
		}, func(resp *client.CMoveResponse) {
			e.markActive(q)
			logger.Debug("Retrieve progress",
				"completed", resp.Completed,
				"failed", resp.Failed,
				"remaining", resp.Remaining)
		})
		return err
	})
	err := g.Wait()

	e.mu.Lock()
	e.active = nil
	e.mu.Unlock()

	received := e.Received()
	if local := e.localFailure(); local != nil {
		logger.Error("Retrieve failed locally",
			"outcome", local.Outcome.String(),
			"detail", local.Detail,
			"received", received)
		return *local
	}
	if err != nil {
		if e.cancel.Load() {
			return status.New(status.RetrieveCancelled, err.Error())
		}
		logger.Error("Retrieve failed",
			"received", received,
			"error", err)
		return status.New(status.RetrieveFailedOrRefused, err.Error())
	}

	outcome := status.TranslateRetrieve(final.Status, final.Failed)
	if e.cancel.Load() {
		outcome = status.RetrieveCancelled
	}
	detail := fmt.Sprintf("%d completed, %d failed, %d warning, %d received",
		final.Completed, final.Failed, final.Warning, received)
	if final.ErrorComment != "" {
		detail += ": " + final.ErrorComment
	}
	logger.Info("Retrieve finished",
		"status", fmt.Sprintf("0x%04X", final.Status),
		"outcome", outcome.String(),
		"completed", final.Completed,
		"failed", final.Failed,
		"received", received)
	return status.New(outcome, detail)
}
