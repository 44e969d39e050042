package pdu

import (
	"bytes"
	"encoding/binary"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	dicomerrors "github.com/caio-sobreiro/dicomnode/errors"
	"github.com/caio-sobreiro/dicomnode/types"
)

// MockDIMSEHandler is a mock implementation of DIMSEHandler for testing
type MockDIMSEHandler struct {
	mu       sync.Mutex
	received []PDV
}

func (m *MockDIMSEHandler) HandleDIMSEMessage(presContextID byte, msgCtrlHeader byte, data []byte, pduLayer *Layer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received = append(m.received, PDV{
		ContextID: presContextID,
		Command:   msgCtrlHeader&0x01 != 0,
		Last:      msgCtrlHeader&0x02 != 0,
		Data:      append([]byte(nil), data...),
	})
	return nil
}

func (m *MockDIMSEHandler) pdvs() []PDV {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PDV(nil), m.received...)
}

func TestAssociateRequest_RoundTrip(t *testing.T) {
	req := &AssociateRequest{
		CalledAETitle:  "ARCHIVE",
		CallingAETitle: "VIEWER",
		MaxPDULength:   32768,
		Contexts: []types.PresentationContextProposal{
			{ID: 1, AbstractSyntax: types.VerificationSOPClass, TransferSyntaxes: []string{types.ImplicitVRLittleEndian}},
			{ID: 3, AbstractSyntax: types.StudyRootQueryRetrieveInformationModelFind, TransferSyntaxes: types.QueryTransferSyntaxes()},
		},
	}

	pdu, err := ReadPDU(bytes.NewReader(req.Encode()))
	if err != nil {
		t.Fatalf("ReadPDU failed: %v", err)
	}
	if pdu.Type != types.TypeAssociateRQ {
		t.Fatalf("PDU type = 0x%02x", pdu.Type)
	}

	parsed, err := ParseAssociateRequest(pdu.Data)
	if err != nil {
		t.Fatalf("ParseAssociateRequest failed: %v", err)
	}
	if parsed.CalledAETitle != "ARCHIVE" || parsed.CallingAETitle != "VIEWER" {
		t.Errorf("AE titles = %q/%q", parsed.CalledAETitle, parsed.CallingAETitle)
	}
	if parsed.MaxPDULength != 32768 {
		t.Errorf("MaxPDULength = %d", parsed.MaxPDULength)
	}
	if len(parsed.Contexts) != 2 {
		t.Fatalf("Expected 2 contexts, got %d", len(parsed.Contexts))
	}
	if got := parsed.Contexts[1].TransferSyntaxes; len(got) != len(types.QueryTransferSyntaxes()) {
		t.Errorf("transfer syntaxes = %v", got)
	}
}

func TestAssociateAccept_OmitsRejectedContexts(t *testing.T) {
	ac := &AssociateAccept{
		CalledAETitle:  "ARCHIVE",
		CallingAETitle: "VIEWER",
		Contexts: []types.PresentationContext{
			{ID: 1, Result: types.ContextAccepted, TransferSyntax: types.ImplicitVRLittleEndian},
			{ID: 3, Result: types.ContextAbstractSyntaxNotSupported},
		},
	}

	pdu, err := ReadPDU(bytes.NewReader(ac.Encode()))
	if err != nil {
		t.Fatalf("ReadPDU failed: %v", err)
	}
	parsed, err := ParseAssociateAccept(pdu.Data)
	if err != nil {
		t.Fatalf("ParseAssociateAccept failed: %v", err)
	}
	if len(parsed.Contexts) != 1 {
		t.Fatalf("Expected 1 context, got %d", len(parsed.Contexts))
	}
	if pc := parsed.Contexts[0]; pc.ID != 1 || !pc.Accepted() || pc.TransferSyntax != types.ImplicitVRLittleEndian {
		t.Errorf("unexpected context %+v", pc)
	}
	if parsed.MaxPDULength != DefaultMaxPDULength {
		t.Errorf("MaxPDULength = %d", parsed.MaxPDULength)
	}
}

func TestAssociateReject_Err(t *testing.T) {
	rj := &AssociateReject{
		Result: 0x01,
		Source: dicomerrors.RejectSourceServiceUser,
		Reason: dicomerrors.RejectReasonCalledAETitleNotRecognized,
	}
	pdu, err := ReadPDU(bytes.NewReader(rj.Encode()))
	if err != nil {
		t.Fatal(err)
	}

	var assocErr *dicomerrors.AssociationError
	if !errors.As(ParseAssociateReject(pdu.Data).Err(), &assocErr) {
		t.Fatal("Expected AssociationError")
	}
	if assocErr.Reason != dicomerrors.RejectReasonCalledAETitleNotRecognized {
		t.Errorf("Reason = %s", assocErr.Reason)
	}
}

func TestPolicy_Negotiate(t *testing.T) {
	policy := DefaultPolicy()

	tests := []struct {
		name     string
		proposal types.PresentationContextProposal
		result   byte
		ts       string
	}{
		{
			name:     "first supported syntax of proposer wins",
			proposal: types.PresentationContextProposal{ID: 1, AbstractSyntax: types.CTImageStorage, TransferSyntaxes: []string{types.JPEGBaseline8Bit, types.ExplicitVRLittleEndian, types.ImplicitVRLittleEndian}},
			result:   types.ContextAccepted,
			ts:       types.ExplicitVRLittleEndian,
		},
		{
			name:     "unknown abstract syntax",
			proposal: types.PresentationContextProposal{ID: 3, AbstractSyntax: "1.2.3.4", TransferSyntaxes: []string{types.ImplicitVRLittleEndian}},
			result:   types.ContextAbstractSyntaxNotSupported,
		},
		{
			name:     "no common transfer syntax",
			proposal: types.PresentationContextProposal{ID: 5, AbstractSyntax: types.VerificationSOPClass, TransferSyntaxes: []string{types.JPEG2000}},
			result:   types.ContextTransferSyntaxNotSupported,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pc := policy.negotiate(tt.proposal)
			if pc.Result != tt.result {
				t.Errorf("Result = %d, want %d", pc.Result, tt.result)
			}
			if pc.TransferSyntax != tt.ts {
				t.Errorf("TransferSyntax = %q, want %q", pc.TransferSyntax, tt.ts)
			}
		})
	}
}

func TestWritePDataTF_Fragments(t *testing.T) {
	var buf bytes.Buffer
	data := bytes.Repeat([]byte{0xAB}, 25)

	if err := WritePDataTF(&buf, 3, 16, data, false); err != nil {
		t.Fatalf("WritePDataTF failed: %v", err)
	}

	var got []byte
	fragments := 0
	for buf.Len() > 0 {
		pdu, err := ReadPDU(&buf)
		if err != nil {
			t.Fatal(err)
		}
		if pdu.Length > 16 {
			t.Errorf("PDU length %d exceeds maximum", pdu.Length)
		}
		pdvs, err := ParsePDataTF(pdu.Data)
		if err != nil {
			t.Fatal(err)
		}
		for _, pdv := range pdvs {
			fragments++
			if pdv.ContextID != 3 || pdv.Command {
				t.Errorf("unexpected PDV header %+v", pdv)
			}
			if pdv.Last != (buf.Len() == 0) {
				t.Errorf("Last flag = %v on fragment %d", pdv.Last, fragments)
			}
			got = append(got, pdv.Data...)
		}
	}

	if fragments != 3 {
		t.Errorf("Expected 3 fragments, got %d", fragments)
	}
	if !bytes.Equal(got, data) {
		t.Error("reassembled data mismatch")
	}
}

func TestParsePDataTF_Malformed(t *testing.T) {
	payload := make([]byte, 8)
	binary.BigEndian.PutUint32(payload, 100)

	var pduErr *dicomerrors.PDUError
	if _, err := ParsePDataTF(payload); !errors.As(err, &pduErr) {
		t.Errorf("Expected PDUError, got %v", err)
	}
}

func startLayer(t *testing.T, handler DIMSEHandler, opts ...Option) (net.Conn, chan error) {
	t.Helper()
	server, client := net.Pipe()
	layer := NewLayer(server, handler, "ARCHIVE", nil, opts...)

	done := make(chan error, 1)
	go func() { done <- layer.HandleConnection() }()
	t.Cleanup(func() { client.Close() })
	return client, done
}

func TestLayer_AssociationAndMultiPDV(t *testing.T) {
	handler := &MockDIMSEHandler{}
	client, done := startLayer(t, handler, WithTimeout(5*time.Second))

	req := &AssociateRequest{
		CalledAETitle:  "ARCHIVE",
		CallingAETitle: "VIEWER",
		Contexts: []types.PresentationContextProposal{
			{ID: 1, AbstractSyntax: types.VerificationSOPClass, TransferSyntaxes: []string{types.ImplicitVRLittleEndian}},
		},
	}
	if _, err := client.Write(req.Encode()); err != nil {
		t.Fatal(err)
	}

	resp, err := ReadPDU(client)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Type != types.TypeAssociateAC {
		t.Fatalf("Expected A-ASSOCIATE-AC, got 0x%02x", resp.Type)
	}

	// two PDVs in a single P-DATA-TF
	var payload []byte
	for i, body := range [][]byte{{0x01, 0x02}, {0x03, 0x04}} {
		control := byte(0x01)
		if i == 1 {
			control = 0x03
		}
		payload = binary.BigEndian.AppendUint32(payload, uint32(2+len(body)))
		payload = append(payload, 1, control)
		payload = append(payload, body...)
	}
	if _, err := client.Write((&PDU{Type: types.TypePDataTF, Data: payload}).Encode()); err != nil {
		t.Fatal(err)
	}

	if _, err := client.Write(ReleaseRQ()); err != nil {
		t.Fatal(err)
	}
	rp, err := ReadPDU(client)
	if err != nil {
		t.Fatal(err)
	}
	if rp.Type != types.TypeReleaseRP {
		t.Fatalf("Expected A-RELEASE-RP, got 0x%02x", rp.Type)
	}

	if err := <-done; err != nil {
		t.Fatalf("HandleConnection returned %v", err)
	}

	pdvs := handler.pdvs()
	if len(pdvs) != 2 {
		t.Fatalf("Expected 2 PDVs forwarded, got %d", len(pdvs))
	}
	if pdvs[0].Last || !pdvs[1].Last {
		t.Error("fragment flags not preserved")
	}
}

func TestLayer_RejectsUnknownCalledAETitle(t *testing.T) {
	policy := DefaultPolicy()
	policy.RequireCalledAETitle = true
	client, done := startLayer(t, &MockDIMSEHandler{}, WithPolicy(policy))

	req := &AssociateRequest{CalledAETitle: "SOMEONE", CallingAETitle: "VIEWER"}
	if _, err := client.Write(req.Encode()); err != nil {
		t.Fatal(err)
	}

	resp, err := ReadPDU(client)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Type != types.TypeAssociateRJ {
		t.Fatalf("Expected A-ASSOCIATE-RJ, got 0x%02x", resp.Type)
	}

	var assocErr *dicomerrors.AssociationError
	if err := <-done; !errors.As(err, &assocErr) {
		t.Errorf("Expected AssociationError, got %v", err)
	}
}
