package types

import "encoding/binary"

// Transfer Syntax UIDs (PS3.5 section 10 and PS3.6 Annex A)
const (
	ImplicitVRLittleEndian         = "1.2.840.10008.1.2"
	ExplicitVRLittleEndian         = "1.2.840.10008.1.2.1"
	ExplicitVRBigEndian            = "1.2.840.10008.1.2.2"
	DeflatedExplicitVRLittleEndian = "1.2.840.10008.1.2.1.99"

	JPEGBaseline8Bit  = "1.2.840.10008.1.2.4.50"
	JPEGExtended12Bit = "1.2.840.10008.1.2.4.51"
	JPEGLossless      = "1.2.840.10008.1.2.4.57"
	JPEGLosslessSV1   = "1.2.840.10008.1.2.4.70"

	JPEGLSLossless     = "1.2.840.10008.1.2.4.80"
	JPEGLSNearLossless = "1.2.840.10008.1.2.4.81"

	JPEG2000Lossless = "1.2.840.10008.1.2.4.90"
	JPEG2000         = "1.2.840.10008.1.2.4.91"

	RLELossless = "1.2.840.10008.1.2.5"
)

// TransferSyntaxInfo describes how a transfer syntax encodes a data set.
type TransferSyntaxInfo struct {
	UID          string
	Name         string
	ExplicitVR   bool
	BigEndian    bool
	IsCompressed bool
	IsLossless   bool
}

var transferSyntaxes = []TransferSyntaxInfo{
	{ImplicitVRLittleEndian, "Implicit VR Little Endian", false, false, false, true},
	{ExplicitVRLittleEndian, "Explicit VR Little Endian", true, false, false, true},
	{ExplicitVRBigEndian, "Explicit VR Big Endian", true, true, false, true},
	{DeflatedExplicitVRLittleEndian, "Deflated Explicit VR Little Endian", true, false, true, true},
	{JPEGBaseline8Bit, "JPEG Baseline (Process 1)", true, false, true, false},
	{JPEGExtended12Bit, "JPEG Extended (Process 2 & 4)", true, false, true, false},
	{JPEGLossless, "JPEG Lossless (Process 14)", true, false, true, true},
	{JPEGLosslessSV1, "JPEG Lossless SV1", true, false, true, true},
	{JPEGLSLossless, "JPEG-LS Lossless", true, false, true, true},
	{JPEGLSNearLossless, "JPEG-LS Near-Lossless", true, false, true, false},
	{JPEG2000Lossless, "JPEG 2000 (Lossless Only)", true, false, true, true},
	{JPEG2000, "JPEG 2000", true, false, true, false},
	{RLELossless, "RLE Lossless", true, false, true, true},
}

// GetTransferSyntaxInfo returns information about a transfer syntax UID.
// Unknown UIDs are reported as compressed explicit little endian, which
// is how every encapsulated syntax encodes its data set.
func GetTransferSyntaxInfo(uid string) TransferSyntaxInfo {
	for _, info := range transferSyntaxes {
		if info.UID == uid {
			return info
		}
	}
	return TransferSyntaxInfo{UID: uid, Name: "Unknown", ExplicitVR: true, IsCompressed: true}
}

// IsKnownTransferSyntax reports whether uid is in the registry.
func IsKnownTransferSyntax(uid string) bool {
	for _, info := range transferSyntaxes {
		if info.UID == uid {
			return true
		}
	}
	return false
}

// IsCompressed returns true if the transfer syntax uses compression
func IsCompressed(uid string) bool {
	return GetTransferSyntaxInfo(uid).IsCompressed
}

// IsLossless returns true if the transfer syntax is lossless.
// Uncompressed transfer syntaxes are considered lossless.
func IsLossless(uid string) bool {
	return GetTransferSyntaxInfo(uid).IsLossless
}

// CompressedFallback is the compressed syntax list appended to every
// proposal, lossless variants first.
var CompressedFallback = []string{
	JPEGLosslessSV1,
	JPEGLossless,
	JPEGLSLossless,
	JPEG2000Lossless,
	JPEG2000,
	JPEGBaseline8Bit,
	JPEGExtended12Bit,
}

// NativeIsLittleEndian reports the byte order of the running platform.
func NativeIsLittleEndian() bool {
	var probe [2]byte
	binary.NativeEndian.PutUint16(probe[:], 1)
	return probe[0] == 1
}

// UncompressedPreference returns the uncompressed syntaxes ordered with
// the native byte order first and explicit encodings before implicit.
func UncompressedPreference() []string {
	if NativeIsLittleEndian() {
		return []string{ExplicitVRLittleEndian, ExplicitVRBigEndian, ImplicitVRLittleEndian}
	}
	return []string{ExplicitVRBigEndian, ExplicitVRLittleEndian, ImplicitVRLittleEndian}
}

// QueryTransferSyntaxes is the list proposed for query and retrieve
// contexts: uncompressed by preference, then the compressed fallback.
func QueryTransferSyntaxes() []string {
	out := UncompressedPreference()
	return append(out, CompressedFallback...)
}

// StoreFallbackTransferSyntaxes is the list proposed on the second store
// context of each SOP class: explicit little then big endian, then the
// compressed fallback.
func StoreFallbackTransferSyntaxes() []string {
	out := []string{ExplicitVRLittleEndian, ExplicitVRBigEndian}
	return append(out, CompressedFallback...)
}
