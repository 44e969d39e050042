package query

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/caio-sobreiro/dicomnode/config"
	"github.com/caio-sobreiro/dicomnode/dicom"
	"github.com/caio-sobreiro/dicomnode/internal/archivesim"
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

func mustSet(t *testing.T, tmpl *Template, tag dicom.Tag, value string) {
	t.Helper()
	if err := tmpl.Set(tag, value); err != nil {
		t.Fatal(err)
	}
}

func TestTemplate_Level(t *testing.T) {
	tests := []struct {
		name   string
		tags   []dicom.Tag
		forced types.QueryLevel
		want   types.QueryLevel
	}{
		{"empty", nil, "", types.QueryLevelStudy},
		{"patient keys", []dicom.Tag{dicom.TagPatientID, dicom.TagPatientName}, "", types.QueryLevelStudy},
		{"study key", []dicom.Tag{dicom.TagPatientID, dicom.TagStudyDate}, "", types.QueryLevelStudy},
		{"series key", []dicom.Tag{dicom.TagPatientID, dicom.TagModality}, "", types.QueryLevelSeries},
		{"image key", []dicom.Tag{dicom.TagModality, dicom.TagInstanceNumber}, "", types.QueryLevelImage},
		{"forced series", []dicom.Tag{dicom.TagPatientID}, types.QueryLevelSeries, types.QueryLevelSeries},
		{"forced patient", nil, types.QueryLevelPatient, types.QueryLevelStudy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl := NewTemplate()
			for _, tag := range tt.tags {
				mustSet(t, tmpl, tag, "")
			}
			if tt.forced != "" {
				if err := tmpl.SetLevel(tt.forced); err != nil {
					t.Fatal(err)
				}
			}
			if got := tmpl.Level(); got != tt.want {
				t.Errorf("Level() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestTemplate_DatasetAddsUniqueKeys(t *testing.T) {
	tmpl := NewTemplate()
	mustSet(t, tmpl, dicom.TagModality, "MR")
	mustSet(t, tmpl, dicom.TagPatientID, "123")

	ds := tmpl.Dataset()
	if ds.GetString(dicom.TagQueryRetrieveLevel) != "SERIES" {
		t.Errorf("level = %q", ds.GetString(dicom.TagQueryRetrieveLevel))
	}
	if ds.GetString(dicom.TagPatientID) != "123" || ds.GetString(dicom.TagModality) != "MR" {
		t.Error("matching keys lost")
	}
	for _, tag := range []dicom.Tag{dicom.TagStudyInstanceUID, dicom.TagSeriesInstanceUID} {
		if !ds.Has(tag) || ds.GetString(tag) != "" {
			t.Errorf("%s should be a return key", tag)
		}
	}
	if ds.Has(dicom.TagSOPInstanceUID) {
		t.Error("image key requested at series level")
	}
	if elem, _ := ds.GetElement(dicom.TagModality); elem.VR != dicom.VR_CS {
		t.Errorf("Modality VR = %s", elem.VR)
	}
}

func TestTemplate_Rejects(t *testing.T) {
	tmpl := NewTemplate()
	if err := tmpl.Set(dicom.TagPixelData, "x"); err == nil {
		t.Error("Expected error for a non search key")
	}
	if err := tmpl.SetLevel("FRAME"); err == nil {
		t.Error("Expected error for an unknown level")
	}
	if tmpl.Len() != 0 {
		t.Errorf("Len = %d", tmpl.Len())
	}
}

func TestEngine_PatientIDQuery(t *testing.T) {
	a := archivesim.New("ARCHIVE")
	for i, study := range []string{"1.2.3.1", "1.2.3.2"} {
		a.Add(archivesim.Synthesize(archivesim.InstanceSpec{
			PatientID:   "123",
			PatientName: "DOE^JANE",
			StudyUID:    study,
			SeriesUID:   study + ".1",
			SOPUID:      study + ".1.1",
		}))
		a.Add(archivesim.Synthesize(archivesim.InstanceSpec{
			PatientID: "999",
			StudyUID:  "1.2.4." + string(rune('1'+i)),
			SeriesUID: "1.2.4.1.1",
			SOPUID:    "1.2.4.1.1." + string(rune('1'+i)),
		}))
	}
	device, _ := archivesim.Start(t, a)

	tmpl := NewTemplate()
	mustSet(t, tmpl, dicom.TagPatientID, "123")
	mustSet(t, tmpl, dicom.TagPatientName, "")

	e := NewEngine(negotiator())
	result := e.Query(context.Background(), device, tmpl)
	if result.Outcome != status.QueryOk {
		t.Fatalf("outcome = %s", result)
	}

	studies := e.TakeStudies()
	if len(studies) != 2 {
		t.Fatalf("got %d studies, want 2", len(studies))
	}
	for _, st := range studies {
		if st.Patient.ID != "123" || st.Patient.Name != "DOE^JANE" {
			t.Errorf("study %s has patient %+v", st.InstanceUID, st.Patient)
		}
	}
	if len(e.TakeSeries()) != 0 || len(e.TakeImages()) != 0 {
		t.Error("patient-level template filled series or image buffers")
	}
}

func TestEngine_ImageLevelFillsEveryBuffer(t *testing.T) {
	a := archivesim.New("ARCHIVE")
	archivesim.Populate(a, 1, 1, 2, 2)
	device, _ := archivesim.Start(t, a)

	tmpl := NewTemplate()
	mustSet(t, tmpl, dicom.TagInstanceNumber, "")
	mustSet(t, tmpl, dicom.TagModality, "")

	var levels []types.QueryLevel
	e := NewEngine(negotiator(), WithMatchHandler(func(level types.QueryLevel, ds *dicom.Dataset) {
		levels = append(levels, level)
	}))
	if result := e.Query(context.Background(), device, tmpl); result.Outcome != status.QueryOk {
		t.Fatalf("outcome = %s", result)
	}

	if len(levels) != 4 {
		t.Fatalf("saw %d matches, want 4", len(levels))
	}
	studies, series, images := e.TakeStudies(), e.TakeSeries(), e.TakeImages()
	if len(studies) != 1 || len(series) != 2 || len(images) != 4 {
		t.Fatalf("buffers = %d/%d/%d, want 1/2/4", len(studies), len(series), len(images))
	}
	for _, img := range images {
		if img.StudyInstanceUID != studies[0].InstanceUID || img.SeriesInstanceUID == "" {
			t.Errorf("image %s lacks its parents", img.SOPInstanceUID)
		}
		if img.SOPClassUID != "" {
			t.Errorf("SOPClassUID returned without being requested: %q", img.SOPClassUID)
		}
	}
	if series[0].Modality != "CT" {
		t.Errorf("Modality = %q", series[0].Modality)
	}
}

func TestEngine_ReleaseKeepsTakenBuffers(t *testing.T) {
	a := archivesim.New("ARCHIVE")
	archivesim.Populate(a, 1, 1, 1, 1)
	device, _ := archivesim.Start(t, a)

	tmpl := NewTemplate()
	mustSet(t, tmpl, dicom.TagSeriesDescription, "")

	e := NewEngine(negotiator())
	e.Query(context.Background(), device, tmpl)
	studies := e.TakeStudies()
	e.Release()

	if len(studies) != 1 || len(e.TakeStudies()) != 1 {
		t.Error("taken study buffer was released")
	}
	if len(e.TakeSeries()) != 0 {
		t.Error("untaken series buffer survived Release")
	}
}

func TestEngine_CancelSendsOneRequest(t *testing.T) {
	a := archivesim.New("ARCHIVE", archivesim.WithMatchDelay(50*time.Millisecond))
	archivesim.Populate(a, 20, 1, 1, 1)
	device, _ := archivesim.Start(t, a)

	var e *Engine
	e = NewEngine(negotiator(), WithMatchHandler(func(types.QueryLevel, *dicom.Dataset) {
		e.CancelQuery()
		e.CancelQuery()
	}))
	result := e.Query(context.Background(), device, NewTemplate())

	if result.Outcome != status.QueryCancelled {
		t.Errorf("outcome = %s", result)
	}
	if e.CancelsSent() != 1 {
		t.Errorf("CancelsSent = %d, want 1", e.CancelsSent())
	}
	if got := len(e.TakeStudies()); got != 1 {
		t.Errorf("kept %d studies, want only the first", got)
	}
	if a.Stats().Cancelled != 1 {
		t.Errorf("archive saw %d cancellations", a.Stats().Cancelled)
	}
}

func TestEngine_ContextCancel(t *testing.T) {
	a := archivesim.New("ARCHIVE", archivesim.WithMatchDelay(50*time.Millisecond))
	archivesim.Populate(a, 20, 1, 1, 1)
	device, _ := archivesim.Start(t, a)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e := NewEngine(negotiator(), WithMatchHandler(func(types.QueryLevel, *dicom.Dataset) { cancel() }))
	result := e.Query(ctx, device, NewTemplate())
	if result.Outcome != status.QueryCancelled {
		t.Errorf("outcome = %s", result)
	}
	if !e.CancelRequested() || e.CancelsSent() != 1 {
		t.Errorf("cancel requested %v, sent %d", e.CancelRequested(), e.CancelsSent())
	}

	// cancelling again after the exchange is a no-op
	e.CancelQuery()
	if e.CancelsSent() != 1 {
		t.Errorf("CancelsSent = %d after the query ended", e.CancelsSent())
	}
}

func TestEngine_FinalStatus(t *testing.T) {
	tests := []struct {
		name   string
		status uint16
		want   status.QueryOutcome
	}{
		{"out of resources", types.StatusOutOfResources, status.QueryFailedOrRefused},
		{"identifier mismatch", types.StatusIdentifierMismatch, status.QueryFailedOrRefused},
		{"unable to process", 0xC001, status.QueryFailedOrRefused},
		{"cancel acknowledged", types.StatusCancel, status.QueryCancelled},
		{"odd warning", 0xB123, status.QueryUnknownStatus},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := archivesim.New("ARCHIVE", archivesim.WithFindStatus(tt.status))
			device, _ := archivesim.Start(t, a)
			if result := NewEngine(negotiator()).Query(context.Background(), device, nil); result.Outcome != tt.want {
				t.Errorf("outcome = %s, want %s", result.Outcome, tt.want)
			}
		})
	}
}

func TestEngine_CanNotConnect(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	device := types.Device{AETitle: "GONE", Address: "127.0.0.1", QueryRetrievePort: port, QueryRetrieveEnabled: true}
	result := NewEngine(negotiator()).Query(context.Background(), device, NewTemplate())
	if result.Outcome != status.QueryCanNotConnect || result.Detail == "" {
		t.Errorf("result = %s", result)
	}
}

func TestEngine_SessionIsSingleUse(t *testing.T) {
	a := archivesim.New("ARCHIVE")
	device, _ := archivesim.Start(t, a)

	s, err := negotiator().Open(context.Background(), device, session.Query)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if r := NewEngine(negotiator()).QueryOnSession(context.Background(), s, nil); r.Outcome != status.QueryOk {
		t.Fatalf("first query = %s", r)
	}
	if r := NewEngine(negotiator()).QueryOnSession(context.Background(), s, nil); r.Outcome != status.QueryFailedOrRefused {
		t.Errorf("second query on the same session = %s", r)
	}
	if a.Stats().Finds != 1 {
		t.Errorf("Finds = %d", a.Stats().Finds)
	}
}
