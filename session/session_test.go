package session

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/caio-sobreiro/dicomnode/config"
	dicomerrors "github.com/caio-sobreiro/dicomnode/errors"
	"github.com/caio-sobreiro/dicomnode/internal/archivesim"
	"github.com/caio-sobreiro/dicomnode/types"
)

func startArchive(t *testing.T) (*archivesim.Archive, types.Device) {
	t.Helper()
	a := archivesim.New("ARCHIVE")
	device, _ := archivesim.Start(t, a)
	return a, device
}

func testSettings() config.Settings {
	s := config.Default()
	s.LocalAETitle = "VIEWER"
	s.ListenPort = 0
	s.ConnectionTimeout = 5 * time.Second
	return s
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}

func TestAddress(t *testing.T) {
	device := types.Device{Address: "pacs.local", QueryRetrievePort: 104, StorePort: 11112}
	tests := []struct {
		name    string
		qr      bool
		store   bool
		purpose Purpose
		want    string
		wantErr error
	}{
		{"query uses qr port", true, true, Query, "pacs.local:104", nil},
		{"retrieve uses qr port", true, true, Retrieve, "pacs.local:104", nil},
		{"store uses store port", true, true, Store, "pacs.local:11112", nil},
		{"echo prefers qr", true, true, Echo, "pacs.local:104", nil},
		{"echo falls back to store", false, true, Echo, "pacs.local:11112", nil},
		{"echo without service", false, false, Echo, "", dicomerrors.ErrNoServiceEnabled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := device
			d.QueryRetrieveEnabled, d.StoreEnabled = tt.qr, tt.store
			got, err := Address(d, tt.purpose)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Address = %q, want %q", got, tt.want)
			}
		})
	}

	v6 := types.Device{Address: "::1", QueryRetrievePort: 104}
	if got, _ := Address(v6, Query); got != "[::1]:104" {
		t.Errorf("IPv6 address = %q", got)
	}
}

func TestProposals(t *testing.T) {
	echo, err := Proposals(Echo, nil)
	if err != nil || len(echo) != 1 {
		t.Fatalf("Echo proposals = %v, %v", echo, err)
	}
	if echo[0].AbstractSyntax != types.VerificationSOPClass ||
		len(echo[0].TransferSyntaxes) != 1 || echo[0].TransferSyntaxes[0] != types.ImplicitVRLittleEndian {
		t.Errorf("Echo proposal = %+v", echo[0])
	}

	query, _ := Proposals(Query, nil)
	if len(query) != 1 || query[0].AbstractSyntax != types.StudyRootQueryRetrieveInformationModelFind {
		t.Fatalf("Query proposals = %+v", query)
	}
	syntaxes := query[0].TransferSyntaxes
	if syntaxes[2] != types.ImplicitVRLittleEndian || syntaxes[3] != types.JPEGLosslessSV1 || syntaxes[len(syntaxes)-1] != types.JPEGExtended12Bit {
		t.Errorf("Query transfer syntaxes = %v", syntaxes)
	}

	retrieve, _ := Proposals(Retrieve, nil)
	if retrieve[0].AbstractSyntax != types.StudyRootQueryRetrieveInformationModelMove {
		t.Errorf("Retrieve proposal = %+v", retrieve[0])
	}

	store, err := Proposals(Store, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(store) != 2*len(types.StoreSCUSOPClasses) {
		t.Fatalf("Store proposals = %d, want %d", len(store), 2*len(types.StoreSCUSOPClasses))
	}
	for i, p := range store {
		if p.ID%2 != 1 || int(p.ID) != 2*i+1 {
			t.Errorf("proposal %d has ID %d", i, p.ID)
		}
		if i%2 == 0 {
			if len(p.TransferSyntaxes) != 1 || p.TransferSyntaxes[0] != types.ImplicitVRLittleEndian {
				t.Errorf("preferred proposal %d = %v", i, p.TransferSyntaxes)
			}
		} else if p.TransferSyntaxes[0] != types.ExplicitVRLittleEndian || p.TransferSyntaxes[1] != types.ExplicitVRBigEndian {
			t.Errorf("fallback proposal %d = %v", i, p.TransferSyntaxes)
		}
	}
}

func TestProposals_TooManyStoreClasses(t *testing.T) {
	var classes []string
	for i := 0; i < 64; i++ {
		classes = append(classes, types.CTImageStorage+"."+strconv.Itoa(i))
	}
	if _, err := Proposals(Store, classes); err != nil {
		t.Fatalf("64 classes should fit: %v", err)
	}
	classes = append(classes, types.MRImageStorage)
	if _, err := Proposals(Store, classes); !errors.Is(err, dicomerrors.ErrTooManyPresentationContexts) {
		t.Errorf("Expected ErrTooManyPresentationContexts, got %v", err)
	}

	// duplicates are proposed once
	dup, _ := Proposals(Store, []string{types.CTImageStorage, types.CTImageStorage})
	if len(dup) != 2 {
		t.Errorf("duplicate class proposed %d times", len(dup)/2)
	}
}

func TestOpen_EchoAndClaim(t *testing.T) {
	_, device := startArchive(t)
	n := NewNegotiator(config.Static(testSettings()))

	s, err := n.Open(context.Background(), device, Echo)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	if s.ID().String() == "" || s.LocalAETitle() != "VIEWER" || s.Listener() != nil {
		t.Errorf("unexpected session %+v", s)
	}
	if err := s.Claim(Query); !errors.Is(err, dicomerrors.ErrWrongPurpose) {
		t.Errorf("Claim(Query) = %v", err)
	}
	if err := s.Claim(Echo); err != nil {
		t.Fatalf("Claim(Echo) = %v", err)
	}
	if err := s.Claim(Echo); !errors.Is(err, dicomerrors.ErrSessionUsed) {
		t.Errorf("second Claim = %v", err)
	}

	resp, err := s.Association().SendCEcho(context.Background())
	if err != nil || resp.Status != types.StatusSuccess {
		t.Errorf("echo = %+v, %v", resp, err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
}

func TestOpen_CallingAETitleFromDevice(t *testing.T) {
	_, device := startArchive(t)
	device.CallingAETitle = "WORKSTATION"
	s, err := NewNegotiator(config.Static(testSettings())).Open(context.Background(), device, Query)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if s.LocalAETitle() != "WORKSTATION" {
		t.Errorf("LocalAETitle = %q", s.LocalAETitle())
	}
}

func TestOpen_RetrieveListener(t *testing.T) {
	_, device := startArchive(t)
	s, err := NewNegotiator(config.Static(testSettings())).Open(context.Background(), device, Retrieve)
	if err != nil {
		t.Fatal(err)
	}
	addr := s.Listener().Addr().String()
	s.Close()

	// the listener is gone once the session is closed
	if conn, err := net.DialTimeout("tcp", addr, time.Second); err == nil {
		conn.Close()
		t.Error("listener still accepting after Close")
	}
}

func TestOpen_RetrievePortInUse(t *testing.T) {
	a, device := startArchive(t)

	busy, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatal(err)
	}
	defer busy.Close()

	settings := testSettings()
	settings.ListenPort = busy.Addr().(*net.TCPAddr).Port
	_, err = NewNegotiator(config.Static(settings)).Open(context.Background(), device, Retrieve)
	if !errors.Is(err, dicomerrors.ErrListenPortInUse) {
		t.Fatalf("Expected ErrListenPortInUse, got %v", err)
	}
	if a.Stats().Moves != 0 {
		t.Error("archive saw a move request")
	}
}

func TestOpen_DialFailureReleasesListener(t *testing.T) {
	settings := testSettings()
	settings.ListenPort = freePort(t)
	settings.ConnectionTimeout = time.Second

	device := types.Device{
		AETitle:              "GONE",
		Address:              "127.0.0.1",
		QueryRetrievePort:    freePort(t),
		QueryRetrieveEnabled: true,
	}
	_, err := NewNegotiator(config.Static(settings)).Open(context.Background(), device, Retrieve)
	var netErr *dicomerrors.NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("Expected NetworkError, got %v", err)
	}

	l, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(settings.ListenPort)))
	if err != nil {
		t.Fatalf("listen port leaked: %v", err)
	}
	l.Close()
}

func TestOpen_NoAcceptedContexts(t *testing.T) {
	_, device := startArchive(t)
	// the archive does not serve unknown storage classes
	n := NewNegotiator(config.Static(testSettings()), WithStoreClasses([]string{"1.2.3.4.5"}))
	if _, err := n.Open(context.Background(), device, Store); !errors.Is(err, dicomerrors.ErrNoAcceptedContexts) {
		t.Errorf("Expected ErrNoAcceptedContexts, got %v", err)
	}
}

func TestOpen_NoService(t *testing.T) {
	device := types.Device{AETitle: "OFF", Address: "127.0.0.1"}
	_, err := NewNegotiator(config.Static(testSettings())).Open(context.Background(), device, Echo)
	if !errors.Is(err, dicomerrors.ErrNoServiceEnabled) {
		t.Errorf("Expected ErrNoServiceEnabled, got %v", err)
	}
}
