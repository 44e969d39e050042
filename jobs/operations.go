package jobs

import (
	"context"
	"fmt"
	"sync"

	dicomerrors "github.com/caio-sobreiro/dicomnode/errors"
	"github.com/caio-sobreiro/dicomnode/query"
	"github.com/caio-sobreiro/dicomnode/retrieve"
	"github.com/caio-sobreiro/dicomnode/send"
	"github.com/caio-sobreiro/dicomnode/session"
	"github.com/caio-sobreiro/dicomnode/status"
	"github.com/caio-sobreiro/dicomnode/types"
)

// EchoResult is the outcome of a connection test.
type EchoResult = status.Result[status.EchoOutcome]

// EchoJob tests that a device answers a C-ECHO.
type EchoJob struct {
	Base
	negotiator *session.Negotiator

	mu     sync.Mutex
	result EchoResult
}

// NewEchoJob builds a connection test against device.
func NewEchoJob(negotiator *session.Negotiator, device types.Device) *EchoJob {
	j := &EchoJob{negotiator: negotiator}
	j.init(KindEcho, device)
	return j
}

func (j *EchoJob) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	j.setAbortHook(cancel)

	r, err := j.echo(ctx)
	j.mu.Lock()
	j.result = r
	j.mu.Unlock()
	if err != nil && ctx.Err() != nil {
		return dicomerrors.ErrOperationCanceled
	}
	return nil
}

func (j *EchoJob) echo(ctx context.Context) (EchoResult, error) {
	s, err := j.negotiator.Open(ctx, j.Device(), session.Echo)
	if err != nil {
		return status.New(status.EchoCanNotConnect, err.Error()), err
	}
	defer s.Close()
	if err := s.Claim(session.Echo); err != nil {
		return status.New(status.EchoRefused, err.Error()), err
	}
	resp, err := s.Association().SendCEcho(ctx)
	if err != nil {
		return status.New(status.EchoRefused, err.Error()), err
	}
	return status.New(status.TranslateEcho(resp.Status), fmt.Sprintf("status 0x%04X", resp.Status)), nil
}

// Result returns the outcome once the job finished.
func (j *EchoJob) Result() EchoResult {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result
}

// QueryJob runs a C-FIND and keeps the matches.
type QueryJob struct {
	Base
	negotiator *session.Negotiator
	template   *query.Template
	opts       []query.Option

	mu      sync.Mutex
	result  query.Result
	studies []types.Study
	series  []types.Series
	images  []types.Image
}

// NewQueryJob builds a query of device with tmpl.
func NewQueryJob(negotiator *session.Negotiator, device types.Device, tmpl *query.Template, opts ...query.Option) *QueryJob {
	j := &QueryJob{negotiator: negotiator, template: tmpl, opts: opts}
	j.init(KindQuery, device)
	return j
}

func (j *QueryJob) Run(ctx context.Context) error {
	e := query.NewEngine(j.negotiator, j.opts...)
	j.setAbortHook(e.CancelQuery)

	r := e.Query(ctx, j.Device(), j.template)
	j.mu.Lock()
	j.result = r
	j.studies = e.TakeStudies()
	j.series = e.TakeSeries()
	j.images = e.TakeImages()
	j.mu.Unlock()

	if r.Outcome == status.QueryCancelled || (r.Outcome == status.QueryCanNotConnect && ctx.Err() != nil) {
		return dicomerrors.ErrOperationCanceled
	}
	return nil
}

func (j *QueryJob) Result() query.Result {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result
}

// Studies returns the matched studies, each with its patient.
func (j *QueryJob) Studies() []types.Study {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.studies
}

func (j *QueryJob) Series() []types.Series {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.series
}

func (j *QueryJob) Images() []types.Image {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.images
}

// RetrieveJob moves a study, series or instance into local storage.
type RetrieveJob struct {
	Base
	negotiator *session.Negotiator
	studyUID   string
	seriesUID  string
	sopUID     string
	opts       []retrieve.Option

	mu       sync.Mutex
	result   retrieve.Result
	received int
}

// NewRetrieveJob builds a retrieve from device. seriesUID and sopUID may be
// empty to widen the request.
func NewRetrieveJob(negotiator *session.Negotiator, device types.Device, studyUID, seriesUID, sopUID string, opts ...retrieve.Option) *RetrieveJob {
	j := &RetrieveJob{
		negotiator: negotiator,
		studyUID:   studyUID,
		seriesUID:  seriesUID,
		sopUID:     sopUID,
		opts:       opts,
	}
	j.init(KindRetrieve, device)
	return j
}

func (j *RetrieveJob) Run(ctx context.Context) error {
	e := retrieve.NewEngine(j.negotiator, j.opts...)
	j.setAbortHook(e.RequestCancel)

	r := e.Retrieve(ctx, j.Device(), j.studyUID, j.seriesUID, j.sopUID)
	j.mu.Lock()
	j.result = r
	j.received = e.Received()
	j.mu.Unlock()

	if r.Outcome == status.RetrieveCancelled || (r.Outcome == status.RetrieveCanNotConnect && ctx.Err() != nil) {
		return dicomerrors.ErrOperationCanceled
	}
	return nil
}

func (j *RetrieveJob) Result() retrieve.Result {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result
}

// Received returns how many objects were stored locally.
func (j *RetrieveJob) Received() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.received
}

// SendJob stores local files on a device.
type SendJob struct {
	Base
	negotiator *session.Negotiator
	files      []string
	opts       []send.Option

	mu     sync.Mutex
	result send.Result
	counts [3]int
}

// NewSendJob builds a send of files to device.
func NewSendJob(negotiator *session.Negotiator, device types.Device, files []string, opts ...send.Option) *SendJob {
	j := &SendJob{negotiator: negotiator, files: files, opts: opts}
	j.init(KindSend, device)
	return j
}

func (j *SendJob) Run(ctx context.Context) error {
	e := send.NewEngine(j.negotiator, j.opts...)
	j.setAbortHook(e.RequestCancel)

	r := e.Send(ctx, j.Device(), j.files)
	j.mu.Lock()
	j.result = r
	j.counts = [3]int{e.Succeeded(), e.Warnings(), e.Failed()}
	j.mu.Unlock()

	// a context ending while the session opens is a cancellation
	if r.Outcome == status.SendCancelled || (r.Outcome == status.SendCanNotConnect && ctx.Err() != nil) {
		return dicomerrors.ErrOperationCanceled
	}
	return nil
}

func (j *SendJob) Result() send.Result {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result
}

// Counts returns the files stored, stored with a warning and failed.
func (j *SendJob) Counts() (succeeded, warnings, failed int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.counts[0], j.counts[1], j.counts[2]
}
