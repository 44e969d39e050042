package retrieve

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/caio-sobreiro/dicomnode/config"
	"github.com/caio-sobreiro/dicomnode/dicom"
	"github.com/caio-sobreiro/dicomnode/status"
	"github.com/caio-sobreiro/dicomnode/types"
)

var errCancelled = errors.New("retrieve cancelled")

// ObjectPath is where a received object is stored:
// <storage>/<study UID>/<series UID>/<SOP instance UID>.dcm.
func ObjectPath(storageDir, studyUID, seriesUID, sopUID string) string {
	return filepath.Join(storageDir, studyUID, seriesUID, sopUID+".dcm")
}

// validUID accepts the characters allowed in a DICOM UID, which keeps the
// computed path inside the storage directory.
func validUID(uid string) bool {
	if uid == "" || len(uid) > 64 || strings.Trim(uid, ".") == "" {
		return false
	}
	for _, c := range uid {
		if (c < '0' || c > '9') && c != '.' {
			return false
		}
	}
	return true
}

// writer persists the objects the archive sends during one retrieve.
type writer struct {
	engine   *Engine
	settings config.Settings
	move     *inflight
	logger   *slog.Logger
}

// WriteObject stores one inbound object. Existing files are never
// touched; an object already on disk counts as received.
func (w *writer) WriteObject(ctx context.Context, msg *types.Message, data []byte) (uint16, error) {
	e := w.engine
	e.markActive(w.move)
	if e.cancel.Load() {
		return types.StatusOutOfResources, errCancelled
	}

	ds, err := dicom.ParseDatasetWithTransferSyntax(data, msg.TransferSyntaxUID)
	if err != nil {
		return types.StatusFailure, fmt.Errorf("cannot parse data set: %w", err)
	}
	obj := types.StoredObject{
		SOPClassUID:       msg.AffectedSOPClassUID,
		SOPInstanceUID:    msg.AffectedSOPInstanceUID,
		TransferSyntaxUID: msg.TransferSyntaxUID,
		PatientID:         ds.GetString(dicom.TagPatientID),
		StudyInstanceUID:  ds.GetString(dicom.TagStudyInstanceUID),
		SeriesInstanceUID: ds.GetString(dicom.TagSeriesInstanceUID),
	}
	if obj.SOPInstanceUID == "" {
		obj.SOPInstanceUID = ds.GetString(dicom.TagSOPInstanceUID)
	}
	if !validUID(obj.StudyInstanceUID) || !validUID(obj.SeriesInstanceUID) || !validUID(obj.SOPInstanceUID) {
		return types.StatusFailure, fmt.Errorf("invalid instance UIDs %q/%q/%q",
			obj.StudyInstanceUID, obj.SeriesInstanceUID, obj.SOPInstanceUID)
	}

	if err := w.checkPatient(obj.PatientID); err != nil {
		e.fail(status.RetrievePatientInconsistent, err.Error())
		return types.StatusOutOfResources, err
	}

	obj.Path = ObjectPath(w.settings.StorageDir, obj.StudyInstanceUID, obj.SeriesInstanceUID, obj.SOPInstanceUID)
	size, existed, err := w.persist(obj, data)
	if err != nil {
		e.fail(status.RetrieveStorageWriteError, err.Error())
		w.logger.Error("Cannot store received object",
			"path", obj.Path,
			"error", err)
		return types.StatusOutOfResources, err
	}
	obj.Size = size

	if e.sink != nil && !existed {
		if err := e.sink.ImportObject(ctx, obj); err != nil {
			e.fail(status.RetrieveDatabaseError, err.Error())
			w.logger.Error("Catalog import failed",
				"path", obj.Path,
				"error", err)
		}
	}

	received := int(e.received.Add(1))
	w.logger.Debug("Object received",
		"sop_instance", obj.SOPInstanceUID,
		"size", humanize.IBytes(uint64(size)),
		"already_stored", existed,
		"received", received)
	if e.onObject != nil {
		e.onObject(obj, received)
	}
	return types.StatusSuccess, nil
}

// checkPatient remembers the first patient ID and rejects any other.
func (w *writer) checkPatient(patientID string) error {
	e := w.engine
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.patientID == "" {
		e.patientID = patientID
		return nil
	}
	if patientID != e.patientID {
		return fmt.Errorf("patient ID %q differs from %q", patientID, e.patientID)
	}
	return nil
}

// persist creates the Part 10 file. It reports existed when the file was
// already there and was left alone.
func (w *writer) persist(obj types.StoredObject, data []byte) (int64, bool, error) {
	if err := os.MkdirAll(filepath.Dir(obj.Path), 0o755); err != nil {
		return 0, false, err
	}
	f, err := os.OpenFile(obj.Path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			fi, statErr := os.Stat(obj.Path)
			if statErr != nil {
				return 0, true, statErr
			}
			return fi.Size(), true, nil
		}
		return 0, false, err
	}

	err = dicom.WritePart10(f, dicom.MetaInfo{
		MediaStorageSOPClassUID:    obj.SOPClassUID,
		MediaStorageSOPInstanceUID: obj.SOPInstanceUID,
		TransferSyntaxUID:          obj.TransferSyntaxUID,
		SourceApplicationEntity:    w.move.assoc.CalledAETitle(),
	}, data)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		// the file is ours and incomplete
		os.Remove(obj.Path)
		return 0, false, err
	}

	fi, err := os.Stat(obj.Path)
	if err != nil {
		return 0, false, err
	}
	return fi.Size(), false, nil
}
