package types

import "testing"

func TestGetTransferSyntaxInfo(t *testing.T) {
	tests := []struct {
		name           string
		uid            string
		wantExplicit   bool
		wantBigEndian  bool
		wantCompressed bool
		wantLossless   bool
	}{
		{"Implicit VR Little Endian", ImplicitVRLittleEndian, false, false, false, true},
		{"Explicit VR Little Endian", ExplicitVRLittleEndian, true, false, false, true},
		{"Explicit VR Big Endian", ExplicitVRBigEndian, true, true, false, true},
		{"JPEG 2000 Lossless", JPEG2000Lossless, true, false, true, true},
		{"JPEG Baseline", JPEGBaseline8Bit, true, false, true, false},
		{"Unknown", "1.2.3.4.5.6.7.8.9", true, false, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := GetTransferSyntaxInfo(tt.uid)
			if info.ExplicitVR != tt.wantExplicit {
				t.Errorf("ExplicitVR = %v, want %v", info.ExplicitVR, tt.wantExplicit)
			}
			if info.BigEndian != tt.wantBigEndian {
				t.Errorf("BigEndian = %v, want %v", info.BigEndian, tt.wantBigEndian)
			}
			if IsCompressed(tt.uid) != tt.wantCompressed {
				t.Errorf("IsCompressed = %v, want %v", IsCompressed(tt.uid), tt.wantCompressed)
			}
			if IsLossless(tt.uid) != tt.wantLossless {
				t.Errorf("IsLossless = %v, want %v", IsLossless(tt.uid), tt.wantLossless)
			}
		})
	}
}

func TestQueryTransferSyntaxesOrder(t *testing.T) {
	got := QueryTransferSyntaxes()
	if len(got) != 3+len(CompressedFallback) {
		t.Fatalf("len = %d, want %d", len(got), 3+len(CompressedFallback))
	}

	native := ExplicitVRLittleEndian
	if !NativeIsLittleEndian() {
		native = ExplicitVRBigEndian
	}
	if got[0] != native {
		t.Errorf("first syntax = %s, want native explicit %s", got[0], native)
	}
	if got[2] != ImplicitVRLittleEndian {
		t.Errorf("third syntax = %s, want implicit little endian", got[2])
	}
	for i, ts := range CompressedFallback {
		if got[3+i] != ts {
			t.Errorf("syntax[%d] = %s, want %s", 3+i, got[3+i], ts)
		}
	}

	// Lossless compressed syntaxes come before every lossy one.
	seenLossy := false
	for _, ts := range CompressedFallback {
		if !IsLossless(ts) {
			seenLossy = true
		} else if seenLossy {
			t.Errorf("lossless %s listed after a lossy syntax", ts)
		}
	}
}

func TestStoreFallbackTransferSyntaxes(t *testing.T) {
	got := StoreFallbackTransferSyntaxes()
	if got[0] != ExplicitVRLittleEndian || got[1] != ExplicitVRBigEndian {
		t.Errorf("fallback starts with %v, want explicit LE then BE", got[:2])
	}
	for _, ts := range got {
		if ts == ImplicitVRLittleEndian {
			t.Error("fallback list must not carry implicit little endian")
		}
	}
}

func TestStoreSCUSOPClassesFitInAssociation(t *testing.T) {
	if 2*len(StoreSCUSOPClasses) > (MaxPresentationContextID+1)/2 {
		t.Fatalf("%d classes need more than %d contexts", len(StoreSCUSOPClasses), (MaxPresentationContextID+1)/2)
	}

	seen := make(map[string]bool)
	for _, uid := range StoreSCUSOPClasses {
		if seen[uid] {
			t.Errorf("duplicate storage class %s", uid)
		}
		seen[uid] = true
		if !IsStorageSOPClass(uid) {
			t.Errorf("IsStorageSOPClass(%s) = false", uid)
		}
	}
}

func TestIsStorageSOPClass(t *testing.T) {
	tests := []struct {
		uid  string
		want bool
	}{
		{CTImageStorage, true},
		{"1.2.840.10008.5.1.4.1.1.999", true},
		{VerificationSOPClass, false},
		{StudyRootQueryRetrieveInformationModelFind, false},
		{"1.2.840.10008.5.1.4.1.1.", false},
	}
	for _, tt := range tests {
		if got := IsStorageSOPClass(tt.uid); got != tt.want {
			t.Errorf("IsStorageSOPClass(%q) = %v, want %v", tt.uid, got, tt.want)
		}
	}
}

func TestDeviceKey(t *testing.T) {
	a := Device{AETitle: "PACS", Address: "10.0.0.1", QueryRetrievePort: 104, StorePort: 104, Description: "main"}
	b := Device{AETitle: "PACS", Address: "10.0.0.1", QueryRetrievePort: 104, StorePort: 11112, Description: "other", Default: true}
	c := Device{AETitle: "PACS", Address: "10.0.0.1", QueryRetrievePort: 105}

	if !a.SameAs(b) {
		t.Error("devices differing only in non-key fields should be the same")
	}
	if a.SameAs(c) {
		t.Error("devices with different query ports must differ")
	}
	if a.HasService() {
		t.Error("device without enabled services reported HasService")
	}
}

func TestResponseCommandFor(t *testing.T) {
	tests := []struct {
		req, want uint16
	}{
		{CStoreRQ, CStoreRSP},
		{CFindRQ, CFindRSP},
		{CMoveRQ, CMoveRSP},
		{CEchoRQ, CEchoRSP},
		{0x0100, 0x8100},
	}
	for _, tt := range tests {
		if got := ResponseCommandFor(tt.req); got != tt.want {
			t.Errorf("ResponseCommandFor(0x%04X) = 0x%04X, want 0x%04X", tt.req, got, tt.want)
		}
	}
}

func TestQueryLevelDepth(t *testing.T) {
	if !(QueryLevelPatient.Depth() < QueryLevelStudy.Depth() &&
		QueryLevelStudy.Depth() < QueryLevelSeries.Depth() &&
		QueryLevelSeries.Depth() < QueryLevelImage.Depth()) {
		t.Error("levels are not ordered patient < study < series < image")
	}
	if QueryLevel("FRAME").Depth() != -1 {
		t.Error("unknown level should have depth -1")
	}
}
