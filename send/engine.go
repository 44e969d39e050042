// Package send pushes local Part 10 files to an archive with C-STORE.
package send

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/caio-sobreiro/dicomnode/client"
	"github.com/caio-sobreiro/dicomnode/dicom"
	"github.com/caio-sobreiro/dicomnode/session"
	"github.com/caio-sobreiro/dicomnode/status"
	"github.com/caio-sobreiro/dicomnode/types"
)

// Result is the outcome of one send.
type Result = status.Result[status.SendOutcome]

// FileHandler is told about every file once its C-STORE is answered or
// it is given up. index counts from 1 up to total.
type FileHandler func(path string, index, total int, st status.FileStatus)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithFileHandler registers fn as the per-file notification.
func WithFileHandler(fn FileHandler) Option {
	return func(e *Engine) {
		e.onFile = fn
	}
}

// Engine runs one C-STORE loop over a store session.
type Engine struct {
	negotiator *session.Negotiator
	logger     *slog.Logger
	onFile     FileHandler

	cancel    atomic.Bool
	succeeded atomic.Int32
	warnings  atomic.Int32
	failed    atomic.Int32
}

// NewEngine builds an Engine opening sessions through negotiator.
func NewEngine(negotiator *session.Negotiator, opts ...Option) *Engine {
	e := &Engine{negotiator: negotiator, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RequestCancel stops the loop before the next file. The file being
// transferred is completed.
func (e *Engine) RequestCancel() {
	e.cancel.Store(true)
}

// Succeeded returns the number of files stored without warning.
func (e *Engine) Succeeded() int { return int(e.succeeded.Load()) }

// Warnings returns the number of files stored with a warning.
func (e *Engine) Warnings() int { return int(e.warnings.Load()) }

// Failed returns the number of files that were refused or never sent.
func (e *Engine) Failed() int { return int(e.failed.Load()) }

// Send opens a store session to device and sends files over it. An empty
// list opens no session and ends Ok.
func (e *Engine) Send(ctx context.Context, device types.Device, files []string) Result {
	if len(dedupe(files)) == 0 {
		return status.New(status.SendOk, "no files to send")
	}
	s, err := e.negotiator.Open(ctx, device, session.Store)
	if err != nil {
		return status.New(status.SendCanNotConnect, err.Error())
	}
	defer s.Close()
	return e.SendOnSession(ctx, s, files)
}

// SendOnSession sends files over an open store session. Paths naming the
// same file are sent once, in the order of their first occurrence.
// Cancelling ctx has the effect of RequestCancel; a cancel that arrives
// while the last file is in flight still ends Cancelled.
func (e *Engine) SendOnSession(ctx context.Context, s *session.Session, files []string) Result {
	if err := s.Claim(session.Store); err != nil {
		return status.New(status.SendAllFailed, err.Error())
	}
	stop := context.AfterFunc(ctx, e.RequestCancel)
	defer stop()

	logger := s.Logger()
	assoc := s.Association()
	files = dedupe(files)
	total := len(files)

	logger.Info("Send started", "files", total)

	summary := status.SendSummary{}
	var brokenErr error
	for i, path := range files {
		if e.cancel.Load() {
			summary.Cancelled = true
			break
		}

		st, err := e.sendFile(ctx, assoc, path, logger)
		if err != nil {
			// the association is unusable
			summary.ConnectionBroken = true
			brokenErr = err
			e.failed.Add(1)
			e.notify(path, i+1, total, status.FileFailure)
			logger.Error("Connection lost during send",
				"path", path,
				"error", err)
			break
		}
		switch st {
		case status.FileSuccess:
			e.succeeded.Add(1)
		case status.FileWarning:
			e.warnings.Add(1)
		default:
			e.failed.Add(1)
		}
		e.notify(path, i+1, total, st)
	}

	summary.Cancelled = summary.Cancelled || e.cancel.Load()
	summary.Succeeded = e.Succeeded()
	summary.Warnings = e.Warnings()
	summary.Failed = e.Failed()
	outcome := status.SummarizeSend(summary)

	detail := fmt.Sprintf("%d succeeded, %d with warnings, %d failed of %d",
		summary.Succeeded, summary.Warnings, summary.Failed, total)
	if brokenErr != nil {
		detail = brokenErr.Error()
	}
	logger.Info("Send finished",
		"outcome", outcome.String(),
		"succeeded", summary.Succeeded,
		"warnings", summary.Warnings,
		"failed", summary.Failed)
	return status.New(outcome, detail)
}

// sendFile stores one file. A non-nil error means the transport failed;
// every other problem is reported as FileFailure.
func (e *Engine) sendFile(ctx context.Context, assoc *client.Association, path string, logger *slog.Logger) (status.FileStatus, error) {
	f, err := dicom.ReadPart10File(path)
	if err != nil {
		logger.Warn("Cannot read file", "path", path, "error", err)
		return status.FileFailure, nil
	}
	meta := f.Meta

	pc, err := assoc.FindPresentationContext(meta.MediaStorageSOPClassUID, meta.TransferSyntaxUID)
	if err != nil {
		logger.Warn("SOP class not accepted by the archive",
			"path", path,
			"sop_class", meta.MediaStorageSOPClassUID)
		return status.FileFailure, nil
	}

	data := f.Dataset
	if pc.TransferSyntax != meta.TransferSyntaxUID {
		if !dicom.CanTranscode(meta.TransferSyntaxUID, pc.TransferSyntax) {
			logger.Warn("Transfer syntax not accepted by the archive",
				"path", path,
				"transfer_syntax", meta.TransferSyntaxUID,
				"accepted", pc.TransferSyntax)
			return status.FileFailure, nil
		}
		data, err = dicom.Transcode(f.Dataset, meta.TransferSyntaxUID, pc.TransferSyntax)
		if err != nil {
			logger.Warn("Cannot transcode file", "path", path, "error", err)
			return status.FileFailure, nil
		}
	}

	// A single transfer is never interrupted.
	resp, err := assoc.SendCStore(context.WithoutCancel(ctx), &client.CStoreRequest{
		PresentationContextID: pc.ID,
		SOPClassUID:           meta.MediaStorageSOPClassUID,
		SOPInstanceUID:        meta.MediaStorageSOPInstanceUID,
		Data:                  data,
	})
	if err != nil {
		return status.FileFailure, err
	}

	st := status.TranslateStore(resp.Status)
	if st != status.FileSuccess {
		logger.Warn("Archive did not fully accept file",
			"path", path,
			"sop_instance", meta.MediaStorageSOPInstanceUID,
			"status", fmt.Sprintf("0x%04X", resp.Status),
			"comment", resp.ErrorComment)
	}
	return st, nil
}

func (e *Engine) notify(path string, index, total int, st status.FileStatus) {
	if e.onFile != nil {
		e.onFile(path, index, total, st)
	}
}

// dedupe keeps the first occurrence of every file, comparing absolute
// cleaned paths.
func dedupe(files []string) []string {
	seen := make(map[string]bool, len(files))
	out := make([]string, 0, len(files))
	for _, f := range files {
		key, err := filepath.Abs(f)
		if err != nil {
			key = filepath.Clean(f)
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, f)
	}
	return out
}
