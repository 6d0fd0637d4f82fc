package transport

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opd-ai/peerchat/limits"
)

// EnvelopeVersion is the current envelope wire version.
const EnvelopeVersion = 1

// maxMsgIDLength bounds the sender-chosen message identifier.
const maxMsgIDLength = 128

// signingDomain prefixes the signed byte sequence so envelope signatures cannot be
// replayed as signatures over any other structure.
var signingDomain = []byte("peerchat/envelope/v1")

// Kind distinguishes the payload carried by an envelope.
type Kind string

const (
	// KindMessage carries an encrypted chat message body.
	KindMessage Kind = "message"
	// KindTyping carries an encrypted typing indicator.
	KindTyping Kind = "typing"
)

// ErrInvalidEnvelope indicates a structurally invalid envelope.
var ErrInvalidEnvelope = errors.New("invalid envelope")

// Envelope is the payload of one frame. The ciphertext is opaque to the transport;
// the receiving node verifies Signature over SigningBytes before decrypting.
type Envelope struct {
	Version    int    `json:"v"`
	Kind       Kind   `json:"kind"`
	From       string `json:"from"`
	To         string `json:"to"`
	MsgID      string `json:"msg_id"`
	Timestamp  int64  `json:"ts"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
	Signature  []byte `json:"sig"`
}

// SigningBytes returns the canonical byte sequence covered by the signature: every
// field except Signature, each length-delimited, in a fixed order.
func (e *Envelope) SigningBytes() []byte {
	size := len(signingDomain) + 2 + 8 + 4*6 +
		len(e.Kind) + len(e.From) + len(e.To) + len(e.MsgID) + len(e.Nonce) + len(e.Ciphertext)
	buf := make([]byte, 0, size)

	buf = append(buf, signingDomain...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(e.Version))
	buf = appendField(buf, []byte(e.Kind))
	buf = appendField(buf, []byte(e.From))
	buf = appendField(buf, []byte(e.To))
	buf = appendField(buf, []byte(e.MsgID))
	buf = binary.BigEndian.AppendUint64(buf, uint64(e.Timestamp))
	buf = appendField(buf, e.Nonce)
	buf = appendField(buf, e.Ciphertext)
	return buf
}

func appendField(buf, field []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(field)))
	return append(buf, field...)
}

// Sealed returns nonce || ciphertext, the form produced by crypto.Seal.
func (e *Envelope) Sealed() []byte {
	out := make([]byte, 0, len(e.Nonce)+len(e.Ciphertext))
	out = append(out, e.Nonce...)
	return append(out, e.Ciphertext...)
}

// SetSealed splits a crypto.Seal output into Nonce and Ciphertext.
func (e *Envelope) SetSealed(sealed []byte) error {
	if len(sealed) <= limits.NonceSize {
		return fmt.Errorf("%w: sealed payload too short", ErrInvalidEnvelope)
	}
	e.Nonce = append([]byte(nil), sealed[:limits.NonceSize]...)
	e.Ciphertext = append([]byte(nil), sealed[limits.NonceSize:]...)
	return nil
}

// Validate checks envelope structure. It does not verify the signature.
func (e *Envelope) Validate() error {
	if e.Version != EnvelopeVersion {
		return fmt.Errorf("%w: version %d", ErrInvalidEnvelope, e.Version)
	}
	if e.Kind != KindMessage && e.Kind != KindTyping {
		return fmt.Errorf("%w: kind %q", ErrInvalidEnvelope, e.Kind)
	}
	if err := limits.ValidateUsername(e.From); err != nil {
		return fmt.Errorf("%w: from: %v", ErrInvalidEnvelope, err)
	}
	if err := limits.ValidateUsername(e.To); err != nil {
		return fmt.Errorf("%w: to: %v", ErrInvalidEnvelope, err)
	}
	if e.MsgID == "" || len(e.MsgID) > maxMsgIDLength {
		return fmt.Errorf("%w: msg_id length %d", ErrInvalidEnvelope, len(e.MsgID))
	}
	if len(e.Nonce) != limits.NonceSize {
		return fmt.Errorf("%w: nonce length %d", ErrInvalidEnvelope, len(e.Nonce))
	}
	if len(e.Ciphertext) <= limits.EncryptionOverhead ||
		len(e.Ciphertext) > limits.MaxCiphertext-limits.NonceSize {
		return fmt.Errorf("%w: ciphertext length %d", ErrInvalidEnvelope, len(e.Ciphertext))
	}
	if len(e.Signature) != 64 {
		return fmt.Errorf("%w: signature length %d", ErrInvalidEnvelope, len(e.Signature))
	}
	return nil
}

// MarshalEnvelope encodes an envelope for a frame body or a relay bundle payload.
func MarshalEnvelope(env *Envelope) ([]byte, error) {
	if env == nil {
		return nil, fmt.Errorf("%w: nil envelope", ErrInvalidEnvelope)
	}
	return json.Marshal(env)
}

// UnmarshalEnvelope decodes an envelope. Failures wrap ErrMalformedFrame.
func UnmarshalEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return &env, nil
}
