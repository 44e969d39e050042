package jobs

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/caio-sobreiro/dicomnode/config"
	"github.com/caio-sobreiro/dicomnode/dicom"
	dicomerrors "github.com/caio-sobreiro/dicomnode/errors"
	"github.com/caio-sobreiro/dicomnode/internal/archivesim"
	"github.com/caio-sobreiro/dicomnode/query"
	"github.com/caio-sobreiro/dicomnode/retrieve"
	"github.com/caio-sobreiro/dicomnode/session"
	"github.com/caio-sobreiro/dicomnode/status"
	"github.com/caio-sobreiro/dicomnode/types"
)

func settings(t *testing.T) config.Settings {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	s := config.Default()
	s.LocalAETitle = "VIEWER"
	s.ListenPort = port
	s.ConnectionTimeout = 5 * time.Second
	s.StorageDir = t.TempDir()
	s.MinFreeSpaceMB = 0
	return s
}

// runJob runs j on a one-worker manager and waits for its terminal event.
func runJob(t *testing.T, j Job) State {
	t.Helper()
	m := NewManager(1)
	done := make(chan State, 1)
	report := func(j Job) { done <- j.State() }
	j.AddListener(ListenerFuncs{Finished: report, Cancelled: report})
	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer m.Stop()
	if _, err := m.Enqueue(j); err != nil {
		t.Fatal(err)
	}
	select {
	case st := <-done:
		return st
	case <-time.After(10 * time.Second):
		t.Fatal("job did not end")
		return Queued
	}
}

func TestEchoJob(t *testing.T) {
	a := archivesim.New("ARCHIVE")
	device, _ := archivesim.Start(t, a)
	n := session.NewNegotiator(config.Static(settings(t)))

	j := NewEchoJob(n, device)
	if st := runJob(t, j); st != Finished {
		t.Fatalf("state = %s", st)
	}
	if j.Result().Outcome != status.EchoOk {
		t.Errorf("result = %s", j.Result())
	}
}

func TestEchoJob_CanNotConnect(t *testing.T) {
	s := settings(t)
	device := types.Device{AETitle: "GONE", Address: "127.0.0.1", QueryRetrievePort: s.ListenPort, QueryRetrieveEnabled: true}
	j := NewEchoJob(session.NewNegotiator(config.Static(s)), device)
	if st := runJob(t, j); st != Finished {
		t.Fatalf("state = %s", st)
	}
	if j.Result().Outcome != status.EchoCanNotConnect {
		t.Errorf("result = %s", j.Result())
	}
}

func TestQueryJob(t *testing.T) {
	a := archivesim.New("ARCHIVE")
	archivesim.Populate(a, 2, 2, 1, 1)
	device, _ := archivesim.Start(t, a)

	tmpl := query.NewTemplate()
	if err := tmpl.Set(dicom.TagPatientID, "P2"); err != nil {
		t.Fatal(err)
	}
	j := NewQueryJob(session.NewNegotiator(config.Static(settings(t))), device, tmpl)
	if st := runJob(t, j); st != Finished {
		t.Fatalf("state = %s", st)
	}
	if j.Result().Outcome != status.QueryOk {
		t.Errorf("result = %s", j.Result())
	}
	if len(j.Studies()) != 2 {
		t.Errorf("got %d studies", len(j.Studies()))
	}
	for _, st := range j.Studies() {
		if st.Patient.ID != "P2" {
			t.Errorf("study of patient %q", st.Patient.ID)
		}
	}
}

func TestQueryJob_AbortedWhileQueued(t *testing.T) {
	j := NewQueryJob(session.NewNegotiator(config.Static(settings(t))), types.Device{}, nil)
	j.RequestAbort()
	if st := runJob(t, j); st != Cancelled {
		t.Errorf("state = %s", st)
	}
}

func TestRetrieveJob(t *testing.T) {
	a := archivesim.New("ARCHIVE")
	archivesim.Populate(a, 1, 1, 1, 3)
	s := settings(t)
	a.AddDestination("VIEWER", net.JoinHostPort("127.0.0.1", strconv.Itoa(s.ListenPort)))
	device, _ := archivesim.Start(t, a)

	j := NewRetrieveJob(session.NewNegotiator(config.Static(s)), device, "1.2.826.0.1.3680043.10.1403.9.1.1", "", "")
	if st := runJob(t, j); st != Finished {
		t.Fatalf("state = %s", st)
	}
	if j.Result().Outcome != status.RetrieveOk || j.Received() != 3 {
		t.Errorf("result = %s, received %d", j.Result(), j.Received())
	}
	matches, _ := filepath.Glob(filepath.Join(s.StorageDir, "*", "*", "*.dcm"))
	if len(matches) != 3 {
		t.Errorf("%d files stored", len(matches))
	}
}

func TestRetrieveJob_CancelledOnFirstObject(t *testing.T) {
	a := archivesim.New("ARCHIVE")
	archivesim.Populate(a, 1, 1, 1, 5)
	s := settings(t)
	a.AddDestination("VIEWER", net.JoinHostPort("127.0.0.1", strconv.Itoa(s.ListenPort)))
	device, _ := archivesim.Start(t, a)

	var j *RetrieveJob
	j = NewRetrieveJob(session.NewNegotiator(config.Static(s)), device, "1.2.826.0.1.3680043.10.1403.9.1.1", "", "",
		retrieve.WithObjectHandler(func(types.StoredObject, int) { j.RequestAbort() }))
	if st := runJob(t, j); st != Cancelled {
		t.Fatalf("state = %s", st)
	}
	if j.Received() != 1 {
		t.Errorf("received %d", j.Received())
	}
}

func TestSendJob(t *testing.T) {
	a := archivesim.New("ARCHIVE")
	device, _ := archivesim.Start(t, a)

	dir := t.TempDir()
	var files []string
	for i := 1; i <= 2; i++ {
		ds := archivesim.Synthesize(archivesim.InstanceSpec{
			PatientID: "123",
			StudyUID:  "1.2.826.0.1.3680043.10.1403.8.1",
			SeriesUID: "1.2.826.0.1.3680043.10.1403.8.1.1",
			SOPUID:    "1.2.826.0.1.3680043.10.1403.8.1.1." + strconv.Itoa(i),
		})
		path := filepath.Join(dir, strconv.Itoa(i)+".dcm")
		if err := archivesim.WriteFile(path, ds, types.ExplicitVRLittleEndian); err != nil {
			t.Fatal(err)
		}
		files = append(files, path)
	}

	j := NewSendJob(session.NewNegotiator(config.Static(settings(t))), device, files)
	if st := runJob(t, j); st != Finished {
		t.Fatalf("state = %s", st)
	}
	if ok, warn, failed := j.Counts(); ok != 2 || warn != 0 || failed != 0 {
		t.Errorf("counts = %d/%d/%d", ok, warn, failed)
	}
	if len(a.Received()) != 2 {
		t.Errorf("archive received %d", len(a.Received()))
	}
}

func TestJobs_ContextEndedBeforeSession(t *testing.T) {
	a := archivesim.New("ARCHIVE")
	device, _ := archivesim.Start(t, a)
	n := session.NewNegotiator(config.Static(settings(t)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name string
		job  Job
	}{
		{"echo", NewEchoJob(n, device)},
		{"retrieve", NewRetrieveJob(n, device, "1.2.826.0.1.3680043.10.1403.9.1.1", "", "")},
		{"send", NewSendJob(n, device, []string{"a.dcm"})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.job.Run(ctx); !errors.Is(err, dicomerrors.ErrOperationCanceled) {
				t.Errorf("Run() error = %v", err)
			}
		})
	}
}
