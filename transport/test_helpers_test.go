package transport

import (
	"bytes"
	"time"
)

func testEnvelope(from, to, msgID string) *Envelope {
	return &Envelope{
		Version:    EnvelopeVersion,
		Kind:       KindMessage,
		From:       from,
		To:         to,
		MsgID:      msgID,
		Timestamp:  time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC).UnixMilli(),
		Nonce:      bytes.Repeat([]byte{0x01}, 24),
		Ciphertext: bytes.Repeat([]byte{0x02}, 40),
		Signature:  bytes.Repeat([]byte{0x03}, 64),
	}
}
