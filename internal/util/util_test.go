package util

import (
	"bytes"
	"testing"
)

func TestBytes(t *testing.T) {
	a := []byte{0x01, 0x02, 0x03}
	copied := CopyBytes(a)
	if !bytes.Equal(copied, a) {
		t.Error("CopyBytes failed")
	}
	copied[0] = 0xFF
	if a[0] == 0xFF {
		t.Error("CopyBytes should return a new slice")
	}

	if CopyBytes(nil) == nil {
		t.Error("CopyBytes(nil) should return an empty, non-nil slice")
	}
}

func TestEncoding(t *testing.T) {
	raw := []byte{0x00, 0xfe, 0xff, 'x'}
	encoded := Base64Encode(raw)
	if encoded != "AP7/eA==" {
		t.Errorf("unexpected encoding %s", encoded)
	}
	decoded, err := Base64Decode(encoded)
	if err != nil {
		t.Fatalf("Base64Decode failed: %v", err)
	}
	if !bytes.Equal(decoded, raw) {
		t.Errorf("expected %v, got %v", raw, decoded)
	}

	if _, err := Base64Decode("not base64!"); err == nil {
		t.Error("expected error for invalid input")
	}
}
