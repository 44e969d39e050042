// Package archivesim is an in-process image archive answering C-ECHO,
// C-FIND, C-MOVE and C-STORE. It backs the engine tests and the
// sample_archive command.
package archivesim

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/caio-sobreiro/dicomnode/dicom"
	"github.com/caio-sobreiro/dicomnode/server"
	"github.com/caio-sobreiro/dicomnode/services"
	"github.com/caio-sobreiro/dicomnode/types"
)

// Option configures an Archive.
type Option func(*Archive)

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Archive) {
		a.logger = logger
	}
}

// WithMatchDelay pauses before every pending C-FIND and C-MOVE response.
func WithMatchDelay(d time.Duration) Option {
	return func(a *Archive) {
		a.matchDelay = d
	}
}

// WithFindStatus replaces the final C-FIND status.
func WithFindStatus(status uint16) Option {
	return func(a *Archive) {
		a.findStatus = &status
	}
}

// WithMoveStatus replaces the final C-MOVE status.
func WithMoveStatus(status uint16) Option {
	return func(a *Archive) {
		a.moveStatus = &status
	}
}

// WithStoreStatus decides the status of every received C-STORE.
func WithStoreStatus(fn func(msg *types.Message, ds *dicom.Dataset) uint16) Option {
	return func(a *Archive) {
		a.storeStatus = fn
	}
}

// WithServerOptions passes options to the underlying server, such as
// a narrower acceptance policy.
func WithServerOptions(opts ...server.Option) Option {
	return func(a *Archive) {
		a.serverOpts = append(a.serverOpts, opts...)
	}
}

// Stats counts what the archive was asked to do.
type Stats struct {
	Finds     int
	Moves     int
	Stores    int
	Cancelled int
}

// Archive holds instances in memory and serves them.
type Archive struct {
	aeTitle     string
	logger      *slog.Logger
	matchDelay  time.Duration
	findStatus  *uint16
	moveStatus  *uint16
	storeStatus func(*types.Message, *dicom.Dataset) uint16
	serverOpts  []server.Option

	mu           sync.Mutex
	instances    []*dicom.Dataset
	destinations map[string]string
	received     []*dicom.Dataset
	stats        Stats
}

// New creates an empty archive answering to aeTitle.
func New(aeTitle string, opts ...Option) *Archive {
	a := &Archive{
		aeTitle:      aeTitle,
		logger:       slog.Default(),
		destinations: make(map[string]string),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AETitle returns the archive's AE title.
func (a *Archive) AETitle() string {
	return a.aeTitle
}

// Add stores ds, replacing an instance with the same SOP instance UID.
func (a *Archive) Add(ds *dicom.Dataset) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.addLocked(ds)
}

func (a *Archive) addLocked(ds *dicom.Dataset) {
	uid := ds.GetString(dicom.TagSOPInstanceUID)
	for i, existing := range a.instances {
		if existing.GetString(dicom.TagSOPInstanceUID) == uid {
			a.instances[i] = ds
			return
		}
	}
	a.instances = append(a.instances, ds)
}

// Len returns the number of stored instances.
func (a *Archive) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.instances)
}

// AddDestination makes aeTitle a known C-MOVE destination at address.
func (a *Archive) AddDestination(aeTitle, address string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.destinations[aeTitle] = address
}

// Received returns the data sets received through C-STORE.
func (a *Archive) Received() []*dicom.Dataset {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*dicom.Dataset(nil), a.received...)
}

// Stats returns the request counters.
func (a *Archive) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// Handler returns the service registry of the archive.
func (a *Archive) Handler() *services.Registry {
	registry := services.NewRegistry()
	registry.RegisterHandler(types.CEchoRQ, services.NewEchoService())
	registry.RegisterHandler(types.CFindRQ, &findService{archive: a})
	registry.RegisterHandler(types.CMoveRQ, &moveService{archive: a})
	registry.RegisterHandler(types.CStoreRQ, services.NewStoreService(a, a.logger))
	return registry
}

// Serve answers associations on listener until ctx is done.
func (a *Archive) Serve(ctx context.Context, listener net.Listener) error {
	opts := append([]server.Option{server.WithLogger(a.logger), server.WithTimeout(30 * time.Second)}, a.serverOpts...)
	return server.New(a.aeTitle, a.Handler(), opts...).Serve(ctx, listener)
}

// WriteObject implements services.ObjectWriter for incoming C-STOREs.
func (a *Archive) WriteObject(ctx context.Context, msg *types.Message, data []byte) (uint16, error) {
	ds, err := dicom.ParseDatasetWithTransferSyntax(data, msg.TransferSyntaxUID)
	if err != nil {
		return types.StatusFailure, fmt.Errorf("cannot understand data set: %w", err)
	}

	status := uint16(types.StatusSuccess)
	if a.storeStatus != nil {
		status = a.storeStatus(msg, ds)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats.Stores++
	if status == types.StatusSuccess || isWarning(status) {
		a.received = append(a.received, ds)
		a.addLocked(ds)
	}
	return status, nil
}

func (a *Archive) snapshot() []*dicom.Dataset {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*dicom.Dataset(nil), a.instances...)
}

func (a *Archive) count(fn func(*Stats)) {
	a.mu.Lock()
	fn(&a.stats)
	a.mu.Unlock()
}

func (a *Archive) pause(ctx context.Context) {
	if a.matchDelay <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(a.matchDelay):
	}
}

func isWarning(status uint16) bool {
	return status == types.StatusCoercionOfElements ||
		status == types.StatusElementsDiscarded ||
		status == types.StatusDataSetMismatch
}
