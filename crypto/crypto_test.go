package crypto

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/peerchat/limits"
)

func TestGenerateKeyPair(t *testing.T) {
	keyPair, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error: %v", err)
	}

	if isZeroKey(keyPair.Public) {
		t.Error("GenerateKeyPair() returned zero public key")
	}
	if isZeroKey(keyPair.Private) {
		t.Error("GenerateKeyPair() returned zero private key")
	}

	keyPair2, _ := GenerateKeyPair()
	if bytes.Equal(keyPair.Public[:], keyPair2.Public[:]) {
		t.Error("Multiple GenerateKeyPair() calls produced identical public keys")
	}
}

func TestFromSecretKey(t *testing.T) {
	generated, err := GenerateKeyPair()
	require.NoError(t, err)

	cases := []struct {
		name      string
		secretKey [32]byte
		wantError bool
	}{
		{"Generated key", generated.Private, false},
		{"Arbitrary key", [32]byte{1, 2, 3, 4, 5, 6, 7, 8}, false},
		{"Zero key", [32]byte{}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			keyPair, err := FromSecretKey(tc.secretKey)
			if tc.wantError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.False(t, isZeroKey(keyPair.Public))
			assert.Equal(t, tc.secretKey, keyPair.Private)
		})
	}

	derived, err := FromSecretKey(generated.Private)
	require.NoError(t, err)
	assert.Equal(t, generated.Public, derived.Public, "derived public key must match box.GenerateKey")
}

func TestSigningKeyPairFromSeed(t *testing.T) {
	kp, err := GenerateSigningKeyPair()
	require.NoError(t, err)

	rebuilt, err := SigningKeyPairFromSeed(kp.Private)
	require.NoError(t, err)
	assert.Equal(t, kp.Public, rebuilt.Public)

	_, err = SigningKeyPairFromSeed([32]byte{})
	assert.Error(t, err)
}

func TestGenerateNonce(t *testing.T) {
	nonce, err := GenerateNonce()
	require.NoError(t, err)
	assert.NotEqual(t, Nonce{}, nonce)

	nonce2, _ := GenerateNonce()
	assert.NotEqual(t, nonce, nonce2, "Multiple GenerateNonce() calls produced identical nonces")
}

func TestSealOpenRoundTrip(t *testing.T) {
	sender, err := GenerateKeyPair()
	require.NoError(t, err)
	recipient, err := GenerateKeyPair()
	require.NoError(t, err)

	testCases := []struct {
		name    string
		message []byte
	}{
		{"Normal message", []byte("Hello, this is a test message!")},
		{"Single byte", []byte{0x00}},
		{"Binary data", []byte{0x00, 0x01, 0x02, 0x03, 0xFF, 0xFE, 0xFD}},
		{"Long message", bytes.Repeat([]byte("A"), 4096)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sealed, err := Seal(tc.message, recipient.Public, sender.Private)
			require.NoError(t, err)

			opened, err := Open(sealed, sender.Public, recipient.Private)
			require.NoError(t, err)
			assert.Equal(t, tc.message, opened)
		})
	}
}

func TestSealFreshNonce(t *testing.T) {
	sender, _ := GenerateKeyPair()
	recipient, _ := GenerateKeyPair()

	msg := []byte("same plaintext")
	a, err := Seal(msg, recipient.Public, sender.Private)
	require.NoError(t, err)
	b, err := Seal(msg, recipient.Public, sender.Private)
	require.NoError(t, err)

	assert.NotEqual(t, a, b, "identical plaintexts must not produce identical ciphertexts")
	assert.NotEqual(t, a[:24], b[:24], "nonce must be embedded and fresh")
}

func TestOpenFailuresAreIndistinguishable(t *testing.T) {
	sender, _ := GenerateKeyPair()
	recipient, _ := GenerateKeyPair()
	stranger, _ := GenerateKeyPair()

	sealed, err := Seal([]byte("Valid message"), recipient.Public, sender.Private)
	require.NoError(t, err)

	tampered := append([]byte(nil), sealed...)
	tampered[len(tampered)-1] ^= 0xFF

	badNonce := append([]byte(nil), sealed...)
	badNonce[0] ^= 0x01

	cases := map[string]struct {
		data     []byte
		senderPK [32]byte
	}{
		"empty":           {nil, sender.Public},
		"truncated":       {sealed[:30], sender.Public},
		"tampered tag":    {tampered, sender.Public},
		"tampered nonce":  {badNonce, sender.Public},
		"mismatched peer": {sealed, stranger.Public},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			plaintext, err := Open(tc.data, tc.senderPK, recipient.Private)
			assert.Nil(t, plaintext, "no plaintext may be returned on failure")
			assert.True(t, errors.Is(err, ErrDecryption))
			assert.Equal(t, ErrDecryption.Error(), err.Error(), "error text must not reveal failure mode")
		})
	}
}

func TestSealValidation(t *testing.T) {
	kp, _ := GenerateKeyPair()

	_, err := Seal([]byte{}, kp.Public, kp.Private)
	assert.ErrorIs(t, err, limits.ErrMessageEmpty)

	_, err = Seal(make([]byte, limits.MaxPlaintextMessage+1), kp.Public, kp.Private)
	assert.ErrorIs(t, err, limits.ErrMessageTooLarge)
}

func TestSignVerify(t *testing.T) {
	kp, err := GenerateSigningKeyPair()
	require.NoError(t, err)

	message := []byte("frame bytes to authenticate")
	sig, err := Sign(message, kp.Private)
	require.NoError(t, err)

	assert.True(t, Verify(message, sig, kp.Public))

	sig2, err := Sign(message, kp.Private)
	require.NoError(t, err)
	assert.Equal(t, sig, sig2, "Ed25519 signatures must be deterministic per key")

	for i := range message {
		flipped := append([]byte(nil), message...)
		flipped[i] ^= 0x01
		assert.False(t, Verify(flipped, sig, kp.Public), "flipping message byte %d must fail", i)
	}

	for i := 0; i < SignatureSize; i++ {
		bad := sig
		bad[i] ^= 0x01
		assert.False(t, Verify(message, bad, kp.Public), "flipping signature byte %d must fail", i)
	}

	other, _ := GenerateSigningKeyPair()
	assert.False(t, Verify(message, sig, other.Public))
	assert.False(t, Verify(nil, sig, kp.Public))

	_, err = Sign(nil, kp.Private)
	assert.Error(t, err)
}

func TestSignatureFromBytes(t *testing.T) {
	_, err := SignatureFromBytes(make([]byte, SignatureSize-1))
	assert.ErrorIs(t, err, ErrInvalidSignature)

	raw := bytes.Repeat([]byte{7}, SignatureSize)
	sig, err := SignatureFromBytes(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, sig[:])
}

func TestSecureWipe(t *testing.T) {
	data := []byte{1, 2, 3, 4}
	require.NoError(t, SecureWipe(data))
	assert.Equal(t, []byte{0, 0, 0, 0}, data)

	assert.Error(t, SecureWipe(nil))
	assert.Error(t, WipeKeyPair(nil))
	assert.Error(t, WipeSigningKeyPair(nil))
}
