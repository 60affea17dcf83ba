// Copyright 2025 Silica Protocol
//
// Unit tests for identity record validation and normalization

package identity

import (
	"encoding/base64"
	"strings"
	"testing"
)

func TestDecodeIdentityID_Roundtrip(t *testing.T) {
	id := "0x0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	decoded, err := DecodeIdentityID(id)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(decoded) != IdentityIDBytes {
		t.Errorf("expected %d bytes, got %d", IdentityIDBytes, len(decoded))
	}
	if EncodeIdentityID(decoded) != strings.TrimPrefix(id, "0x") {
		t.Errorf("roundtrip mismatch: %s", EncodeIdentityID(decoded))
	}
}

func TestDecodeIdentityID_Rejects(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"whitespace", "   "},
		{"short", "0xdeadbeef"},
		{"not hex", strings.Repeat("zz", 32)},
		{"too long", strings.Repeat("ab", 33)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeIdentityID(tc.input); err == nil {
				t.Errorf("expected error for %q", tc.input)
			}
		})
	}
}

func TestDecodeSignature_HexAndBase64(t *testing.T) {
	want := []byte{0xde, 0xad, 0xbe, 0xef}

	hexBytes, err := DecodeSignature("0xdeadbeef")
	if err != nil {
		t.Fatalf("hex signature: %v", err)
	}
	if string(hexBytes) != string(want) {
		t.Errorf("hex decode mismatch: %x", hexBytes)
	}

	b64 := base64.StdEncoding.EncodeToString(want)
	b64Bytes, err := DecodeSignature(b64)
	if err != nil {
		t.Fatalf("base64 signature: %v", err)
	}
	if string(b64Bytes) != string(want) {
		t.Errorf("base64 decode mismatch: %x", b64Bytes)
	}
}

func TestDecodeSignature_RejectsOversized(t *testing.T) {
	oversized := strings.Repeat("ab", MaxSignatureLen+1)
	if _, err := DecodeSignature(oversized); err == nil {
		t.Error("expected error for oversized signature")
	}
}

func TestCanonicalizeDisplayName(t *testing.T) {
	name, err := CanonicalizeDisplayName("  Alice  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "Alice" {
		t.Errorf("expected trimmed name, got %q", name)
	}

	empty, err := CanonicalizeDisplayName("   ")
	if err != nil || empty != "" {
		t.Errorf("blank name should canonicalize to empty, got %q, %v", empty, err)
	}

	long := strings.Repeat("a", MaxDisplayNameLen+1)
	if _, err := CanonicalizeDisplayName(long); err == nil {
		t.Error("expected error for oversized display name")
	}
}

func TestCanonicalizeBio(t *testing.T) {
	long := strings.Repeat("x", MaxBioLen+1)
	if _, err := CanonicalizeBio(long); err == nil {
		t.Error("expected error for oversized bio")
	}
}

func TestDisplayNameSearchKey(t *testing.T) {
	if key := DisplayNameSearchKey("  Alice Wonderland "); key != "alice wonderland" {
		t.Errorf("unexpected search key %q", key)
	}
	if key := DisplayNameSearchKey("  "); key != "" {
		t.Errorf("blank name should yield empty key, got %q", key)
	}
}

func TestNormalizeVisibility(t *testing.T) {
	got, err := NormalizeVisibility("PUBLIC")
	if err != nil || got != VisibilityPublic {
		t.Errorf("expected %q, got %q, %v", VisibilityPublic, got, err)
	}
	if _, err := NormalizeVisibility("secret"); err == nil {
		t.Error("expected error for unknown visibility")
	}
}

func TestNormalizeLinkType(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{"Main", "main"},
		{"primary", "main"},
		{"STAKING", "staking"},
		{"Custom", "custom"},
	}
	for _, tc := range cases {
		got, err := NormalizeLinkType(tc.input)
		if err != nil {
			t.Errorf("NormalizeLinkType(%q): %v", tc.input, err)
			continue
		}
		if got != tc.want {
			t.Errorf("NormalizeLinkType(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}

	if _, err := NormalizeLinkType(""); err == nil {
		t.Error("expected error for empty link type")
	}
	if _, err := NormalizeLinkType(strings.Repeat("a", 33)); err == nil {
		t.Error("expected error for oversized link type")
	}
}

func TestSanitizeWalletAddress(t *testing.T) {
	addr, err := SanitizeWalletAddress("  0xabc  ")
	if err != nil || addr != "0xabc" {
		t.Errorf("expected trimmed address, got %q, %v", addr, err)
	}
	if _, err := SanitizeWalletAddress(strings.Repeat("a", MaxWalletAddressLen+1)); err == nil {
		t.Error("expected error for oversized address")
	}
	if _, err := SanitizeWalletAddress("   "); err == nil {
		t.Error("expected error for blank address")
	}
}
