package send

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/caio-sobreiro/dicomnode/config"
	"github.com/caio-sobreiro/dicomnode/dicom"
	"github.com/caio-sobreiro/dicomnode/internal/archivesim"
	"github.com/caio-sobreiro/dicomnode/pdu"
	"github.com/caio-sobreiro/dicomnode/server"
	"github.com/caio-sobreiro/dicomnode/services"
	"github.com/caio-sobreiro/dicomnode/session"
	"github.com/caio-sobreiro/dicomnode/status"
	"github.com/caio-sobreiro/dicomnode/types"
)

func negotiator() *session.Negotiator {
	s := config.Default()
	s.LocalAETitle = "VIEWER"
	s.ConnectionTimeout = 5 * time.Second
	return session.NewNegotiator(config.Static(s))
}

// writeFiles writes n CT instances as Part 10 files encoded in ts.
func writeFiles(t *testing.T, n int, ts string) []string {
	t.Helper()
	dir := t.TempDir()
	var paths []string
	for i := 1; i <= n; i++ {
		uid := "1.2.826.0.1.3680043.10.1403.7.1.1." + strconv.Itoa(i)
		ds := archivesim.Synthesize(archivesim.InstanceSpec{
			PatientID: "123",
			StudyUID:  "1.2.826.0.1.3680043.10.1403.7.1",
			SeriesUID: "1.2.826.0.1.3680043.10.1403.7.1.1",
			SOPUID:    uid,
		})
		path := filepath.Join(dir, strconv.Itoa(i)+".dcm")
		if err := archivesim.WriteFile(path, ds, ts); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, path)
	}
	return paths
}

type notification struct {
	path   string
	index  int
	total  int
	status status.FileStatus
}

func recorder(out *[]notification) Option {
	return WithFileHandler(func(path string, index, total int, st status.FileStatus) {
		*out = append(*out, notification{path, index, total, st})
	})
}

func TestSend_AllStored(t *testing.T) {
	a := archivesim.New("ARCHIVE")
	device, _ := archivesim.Start(t, a)
	files := writeFiles(t, 3, types.ExplicitVRLittleEndian)

	var seen []notification
	e := NewEngine(negotiator(), recorder(&seen))
	result := e.Send(context.Background(), device, files)

	if result.Outcome != status.SendOk {
		t.Fatalf("outcome = %s", result)
	}
	if e.Succeeded() != 3 || e.Failed() != 0 || e.Warnings() != 0 {
		t.Errorf("counters = %d/%d/%d", e.Succeeded(), e.Warnings(), e.Failed())
	}
	if len(a.Received()) != 3 {
		t.Errorf("archive received %d objects", len(a.Received()))
	}
	for i, n := range seen {
		if n.index != i+1 || n.total != 3 || n.path != files[i] || n.status != status.FileSuccess {
			t.Errorf("notification %d = %+v", i, n)
		}
	}
}

func TestSend_DuplicatePathsSentOnce(t *testing.T) {
	a := archivesim.New("ARCHIVE")
	device, _ := archivesim.Start(t, a)
	files := writeFiles(t, 3, types.ImplicitVRLittleEndian)
	input := []string{files[0], files[1], files[0], files[2], files[1], files[1]}

	var seen []notification
	e := NewEngine(negotiator(), recorder(&seen))
	if result := e.Send(context.Background(), device, input); result.Outcome != status.SendOk {
		t.Fatalf("outcome = %s", result)
	}
	if len(seen) != 3 {
		t.Fatalf("got %d notifications, want 3", len(seen))
	}
	for i, want := range files {
		if seen[i].path != want || seen[i].total != 3 {
			t.Errorf("notification %d = %+v", i, seen[i])
		}
	}
	if a.Stats().Stores != 3 {
		t.Errorf("Stores = %d", a.Stats().Stores)
	}
}

func TestSend_SameFileUnderOtherNames(t *testing.T) {
	a := archivesim.New("ARCHIVE")
	device, _ := archivesim.Start(t, a)
	files := writeFiles(t, 2, types.ExplicitVRLittleEndian)
	dir, name := filepath.Split(files[0])
	input := []string{
		files[0],
		dir + "./" + name,
		dir + "sub/../" + name,
		files[1],
	}

	var seen []notification
	e := NewEngine(negotiator(), recorder(&seen))
	if result := e.Send(context.Background(), device, input); result.Outcome != status.SendOk {
		t.Fatalf("outcome = %s", result)
	}
	if len(seen) != 2 || seen[0].path != files[0] || seen[1].path != files[1] {
		t.Errorf("notifications = %+v", seen)
	}
	if a.Stats().Stores != 2 {
		t.Errorf("Stores = %d", a.Stats().Stores)
	}
}

func TestSend_NothingToSend(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	// no session is opened, so the closed port is never dialed
	device := types.Device{AETitle: "GONE", Address: "127.0.0.1", StorePort: port, StoreEnabled: true}
	var seen []notification
	e := NewEngine(negotiator(), recorder(&seen))
	for _, files := range [][]string{nil, {}} {
		if result := e.Send(context.Background(), device, files); result.Outcome != status.SendOk {
			t.Errorf("Send(%v) outcome = %s", files, result)
		}
	}
	if len(seen) != 0 {
		t.Errorf("notifications = %+v", seen)
	}
}

func TestSend_MalformedFileInTheMiddle(t *testing.T) {
	a := archivesim.New("ARCHIVE")
	device, _ := archivesim.Start(t, a)
	files := writeFiles(t, 3, types.ExplicitVRLittleEndian)
	if err := os.WriteFile(files[1], []byte("not a dicom file"), 0o644); err != nil {
		t.Fatal(err)
	}

	var seen []notification
	e := NewEngine(negotiator(), recorder(&seen))
	result := e.Send(context.Background(), device, files)

	if result.Outcome != status.SendSomeFailed {
		t.Errorf("outcome = %s", result)
	}
	if e.Succeeded() != 2 || e.Failed() != 1 {
		t.Errorf("succeeded %d, failed %d", e.Succeeded(), e.Failed())
	}
	if len(seen) != 3 || seen[1].status != status.FileFailure {
		t.Errorf("notifications = %+v", seen)
	}
}

func TestSend_ExcludedClassNeverStored(t *testing.T) {
	policy := pdu.DefaultPolicy()
	policy.AbstractSyntaxes = func(uid string) bool {
		return uid == types.VerificationSOPClass || uid == types.MRImageStorage
	}
	a := archivesim.New("ARCHIVE", archivesim.WithServerOptions(server.WithPolicy(policy)))
	device, _ := archivesim.Start(t, a)
	files := writeFiles(t, 1, types.ExplicitVRLittleEndian)

	e := NewEngine(negotiator())
	result := e.Send(context.Background(), device, files)

	if result.Outcome != status.SendAllFailed {
		t.Errorf("outcome = %s", result)
	}
	if e.Failed() != 1 {
		t.Errorf("Failed = %d", e.Failed())
	}
	if a.Stats().Stores != 0 {
		t.Errorf("archive saw %d C-STORE requests", a.Stats().Stores)
	}
}

func TestSend_TranscodesToImplicit(t *testing.T) {
	policy := pdu.DefaultPolicy()
	policy.TransferSyntaxes = []string{types.ImplicitVRLittleEndian}
	a := archivesim.New("ARCHIVE", archivesim.WithServerOptions(server.WithPolicy(policy)))
	device, _ := archivesim.Start(t, a)

	explicit := writeFiles(t, 1, types.ExplicitVRLittleEndian)
	bigEndian := writeFiles(t, 1, types.ExplicitVRBigEndian)

	var seen []notification
	e := NewEngine(negotiator(), recorder(&seen))
	result := e.Send(context.Background(), device, append(explicit, bigEndian...))

	if result.Outcome != status.SendSomeFailed {
		t.Errorf("outcome = %s", result)
	}
	if len(seen) != 2 || seen[0].status != status.FileSuccess || seen[1].status != status.FileFailure {
		t.Errorf("notifications = %+v", seen)
	}
	received := a.Received()
	if len(received) != 1 || received[0].GetString(dicom.TagPatientID) != "123" {
		t.Errorf("received = %v", received)
	}
}

func TestSend_Warnings(t *testing.T) {
	a := archivesim.New("ARCHIVE", archivesim.WithStoreStatus(func(msg *types.Message, ds *dicom.Dataset) uint16 {
		if ds.GetString(dicom.TagInstanceNumber) == "0" {
			return types.StatusCoercionOfElements
		}
		return types.StatusSuccess
	}))
	device, _ := archivesim.Start(t, a)

	e := NewEngine(negotiator())
	result := e.Send(context.Background(), device, writeFiles(t, 2, types.ExplicitVRLittleEndian))
	if result.Outcome != status.SendWarningForSome {
		t.Errorf("outcome = %s", result)
	}
	if e.Warnings() != 2 {
		t.Errorf("Warnings = %d", e.Warnings())
	}
}

func TestSend_RefusedEverywhere(t *testing.T) {
	a := archivesim.New("ARCHIVE", archivesim.WithStoreStatus(func(*types.Message, *dicom.Dataset) uint16 {
		return types.StatusOutOfResources
	}))
	device, _ := archivesim.Start(t, a)

	e := NewEngine(negotiator())
	if result := e.Send(context.Background(), device, writeFiles(t, 2, types.ExplicitVRLittleEndian)); result.Outcome != status.SendAllFailed {
		t.Errorf("outcome = %s", result)
	}
}

func TestSend_CancelBeforeNextFile(t *testing.T) {
	a := archivesim.New("ARCHIVE")
	device, _ := archivesim.Start(t, a)
	files := writeFiles(t, 4, types.ExplicitVRLittleEndian)

	var e *Engine
	e = NewEngine(negotiator(), WithFileHandler(func(path string, index, total int, st status.FileStatus) {
		if index == 2 {
			e.RequestCancel()
		}
	}))
	result := e.Send(context.Background(), device, files)

	if result.Outcome != status.SendCancelled {
		t.Errorf("outcome = %s", result)
	}
	if e.Succeeded() != 2 || a.Stats().Stores != 2 {
		t.Errorf("succeeded %d, stored %d", e.Succeeded(), a.Stats().Stores)
	}
}

func TestSend_CancelDuringLastFile(t *testing.T) {
	a := archivesim.New("ARCHIVE")
	device, _ := archivesim.Start(t, a)
	files := writeFiles(t, 2, types.ExplicitVRLittleEndian)

	var e *Engine
	e = NewEngine(negotiator(), WithFileHandler(func(path string, index, total int, st status.FileStatus) {
		if index == total {
			e.RequestCancel()
		}
	}))
	result := e.Send(context.Background(), device, files)

	if result.Outcome != status.SendCancelled {
		t.Errorf("outcome = %s", result)
	}
	if e.Succeeded() != 2 || a.Stats().Stores != 2 {
		t.Errorf("succeeded %d, stored %d", e.Succeeded(), a.Stats().Stores)
	}
}

// dropStore closes the association on the second C-STORE.
type dropStore struct {
	n atomic.Int32
}

func (d *dropStore) HandleDIMSE(ctx context.Context, msg *types.Message, data []byte) (*types.Message, []byte, error) {
	if d.n.Add(1) == 2 {
		return nil, nil, errors.New("disk on fire")
	}
	return services.NewCStoreResponse(msg, types.StatusSuccess), nil, nil
}

func TestSend_ConnectionBroken(t *testing.T) {
	registry := services.NewRegistry()
	registry.RegisterHandler(types.CStoreRQ, &dropStore{})
	srv := server.New("ARCHIVE", registry)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Serve(ctx, listener)
	}()
	defer func() {
		cancel()
		<-done
	}()

	device := types.Device{
		AETitle:      "ARCHIVE",
		Address:      "127.0.0.1",
		StorePort:    listener.Addr().(*net.TCPAddr).Port,
		StoreEnabled: true,
	}
	var seen []notification
	e := NewEngine(negotiator(), recorder(&seen))
	result := e.Send(context.Background(), device, writeFiles(t, 4, types.ExplicitVRLittleEndian))

	if result.Outcome != status.SendConnectionBroken {
		t.Errorf("outcome = %s", result)
	}
	if e.Succeeded() != 1 || e.Failed() != 1 || len(seen) != 2 {
		t.Errorf("succeeded %d, failed %d, notified %d", e.Succeeded(), e.Failed(), len(seen))
	}
}

func TestSend_CanNotConnect(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	device := types.Device{AETitle: "GONE", Address: "127.0.0.1", StorePort: port, StoreEnabled: true}
	result := NewEngine(negotiator()).Send(context.Background(), device, []string{"a.dcm"})
	if result.Outcome != status.SendCanNotConnect {
		t.Errorf("outcome = %s", result)
	}
}
