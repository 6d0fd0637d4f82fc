package limits

import (
	"crypto/rand"
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/nacl/box"
)

// TestEncryptionOverheadMatchesNaCl verifies that our EncryptionOverhead constant
// matches the actual overhead from golang.org/x/crypto/nacl/box
func TestEncryptionOverheadMatchesNaCl(t *testing.T) {
	if EncryptionOverhead != box.Overhead {
		t.Errorf("EncryptionOverhead = %d, want %d (box.Overhead)", EncryptionOverhead, box.Overhead)
	}
}

func TestMaxCiphertextCalculation(t *testing.T) {
	expected := NonceSize + MaxPlaintextMessage + EncryptionOverhead
	if MaxCiphertext != expected {
		t.Errorf("MaxCiphertext = %d, want %d", MaxCiphertext, expected)
	}
	if MaxCiphertext >= MaxRelayBundle {
		t.Errorf("MaxCiphertext %d must fit inside MaxRelayBundle %d", MaxCiphertext, MaxRelayBundle)
	}
	if MaxRelayBundle >= MaxFrameSize {
		t.Errorf("MaxRelayBundle %d must fit inside MaxFrameSize %d", MaxRelayBundle, MaxFrameSize)
	}
}

// TestActualNaClBoxOverhead tests that actual NaCl box encryption adds exactly
// EncryptionOverhead bytes to the ciphertext
func TestActualNaClBoxOverhead(t *testing.T) {
	_, privateKey1, err := box.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate key pair 1: %v", err)
	}
	publicKey2, _, err := box.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate key pair 2: %v", err)
	}

	var nonce [NonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		t.Fatalf("Failed to generate nonce: %v", err)
	}

	for _, size := range []int{1, 100, 1000, MaxPlaintextMessage} {
		message := make([]byte, size)
		encrypted := box.Seal(nil, message, &nonce, publicKey2, privateKey1)
		if got := len(encrypted) - size; got != EncryptionOverhead {
			t.Errorf("size %d: overhead = %d, want %d", size, got, EncryptionOverhead)
		}
	}
}

func TestValidatePlaintextMessage(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		wantErr error
	}{
		{"empty", 0, ErrMessageEmpty},
		{"one byte", 1, nil},
		{"at limit", MaxPlaintextMessage, nil},
		{"over limit", MaxPlaintextMessage + 1, ErrMessageTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePlaintextMessage(make([]byte, tt.size))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidatePlaintextMessage(%d bytes) = %v, want %v", tt.size, err, tt.wantErr)
			}
		})
	}
}

func TestValidateFrameLength(t *testing.T) {
	tests := []struct {
		name    string
		length  uint32
		wantErr error
	}{
		{"zero", 0, ErrMessageEmpty},
		{"small", 12, nil},
		{"at limit", MaxFrameSize, nil},
		{"over limit", MaxFrameSize + 1, ErrMessageTooLarge},
		{"hostile prefix", 0xFFFFFFFF, ErrMessageTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFrameLength(tt.length)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateFrameLength(%d) = %v, want %v", tt.length, err, tt.wantErr)
			}
		})
	}
}

func TestValidateRelayBundle(t *testing.T) {
	if err := ValidateRelayBundle(nil); !errors.Is(err, ErrMessageEmpty) {
		t.Errorf("expected ErrMessageEmpty, got %v", err)
	}
	if err := ValidateRelayBundle(make([]byte, MaxRelayBundle)); err != nil {
		t.Errorf("bundle at limit rejected: %v", err)
	}
	if err := ValidateRelayBundle(make([]byte, MaxRelayBundle+1)); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("expected ErrMessageTooLarge, got %v", err)
	}
}

func TestValidateUsername(t *testing.T) {
	valid := []string{"alice", "Bob_2", "carol.d", "x-y", strings.Repeat("a", MaxUsernameLength)}
	for _, name := range valid {
		if err := ValidateUsername(name); err != nil {
			t.Errorf("ValidateUsername(%q) unexpected error: %v", name, err)
		}
	}

	invalid := []string{"", "has space", "slash/name", "émile", strings.Repeat("a", MaxUsernameLength+1)}
	for _, name := range invalid {
		if err := ValidateUsername(name); !errors.Is(err, ErrInvalidUsername) {
			t.Errorf("ValidateUsername(%q) = %v, want ErrInvalidUsername", name, err)
		}
	}
}

func TestValidateMessageSize(t *testing.T) {
	if err := ValidateMessageSize([]byte("abcd"), 4); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	err := ValidateMessageSize([]byte("abcde"), 4)
	if !errors.Is(err, ErrMessageTooLarge) {
		t.Fatalf("expected ErrMessageTooLarge, got %v", err)
	}
	if !strings.Contains(err.Error(), "size 5 exceeds limit 4") {
		t.Errorf("error lacks size context: %v", err)
	}
}
