// Package qr encodes and decodes the payload carried by a transfer QR code.
// Image rendering happens on the client; the server only deals in the token
// string, so this stays a pure codec.
package qr

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"hash/crc32"
	"strings"

	"github.com/shopspring/decimal"
)

const prefix = "CWQR1:"

var ErrInvalidToken = errors.New("invalid qr token")

// Payload identifies the receiving profile. Amount is optional; when set the
// client pre-fills it but the transfer engine still validates independently.
type Payload struct {
	UserID string           `json:"uid"`
	Amount *decimal.Decimal `json:"amt,omitempty"`
}

type envelope struct {
	Payload
	Checksum uint32 `json:"crc"`
}

// Encode produces the token string rendered into the QR image.
func Encode(p Payload) (string, error) {
	if p.UserID == "" {
		return "", ErrInvalidToken
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	env := envelope{Payload: p, Checksum: crc32.ChecksumIEEE(raw)}
	out, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	return prefix + base64.RawURLEncoding.EncodeToString(out), nil
}

// Decode parses and verifies a scanned token.
func Decode(token string) (Payload, error) {
	if !strings.HasPrefix(token, prefix) {
		return Payload{}, ErrInvalidToken
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(token, prefix))
	if err != nil {
		return Payload{}, ErrInvalidToken
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Payload{}, ErrInvalidToken
	}
	inner, err := json.Marshal(env.Payload)
	if err != nil {
		return Payload{}, ErrInvalidToken
	}
	if env.UserID == "" || crc32.ChecksumIEEE(inner) != env.Checksum {
		return Payload{}, ErrInvalidToken
	}
	return env.Payload, nil
}

// IsToken reports whether s looks like a transfer token rather than a phone
// number or raw profile id.
func IsToken(s string) bool { return strings.HasPrefix(s, prefix) }
