package token

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/strkey"
)

var (
	// ErrMalformed is returned for tokens that cannot be decoded
	ErrMalformed = errors.New("malformed token")
	// ErrSignature is returned when the signature does not match the signer
	ErrSignature = errors.New("invalid signature")
)

var encoding = base64.RawURLEncoding

// Receipt is a signed declaration of one action for one hand.
// Wire form: base64url(json payload) "." base64url(ed25519 signature).
type Receipt struct {
	Action  Action `json:"action"`
	HandID  uint64 `json:"handId"`
	Amount  int64  `json:"amount"`
	Signer  string `json:"signer"`
	Table   string `json:"table,omitempty"`
	Target  string `json:"target,omitempty"` // seat address an oracle-signed leave applies to
	Message string `json:"message,omitempty"`

	Raw string `json:"-"`
}

// Sign encodes the receipt and signs it with kp. Signer is overwritten with kp's address.
func Sign(kp *keypair.Full, r Receipt) (string, error) {
	r.Signer = kp.Address()
	payload, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to marshal receipt: %w", err)
	}
	sig, err := kp.Sign(payload)
	if err != nil {
		return "", fmt.Errorf("failed to sign receipt: %w", err)
	}
	return encoding.EncodeToString(payload) + "." + encoding.EncodeToString(sig), nil
}

// Parse decodes a token and verifies its signature against the declared signer
func Parse(raw string) (*Receipt, error) {
	payloadPart, sigPart, ok := strings.Cut(raw, ".")
	if !ok || payloadPart == "" || sigPart == "" {
		return nil, ErrMalformed
	}
	payload, err := encoding.DecodeString(payloadPart)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	sig, err := encoding.DecodeString(sigPart)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var r Receipt
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !strkey.IsValidEd25519PublicKey(r.Signer) {
		return nil, fmt.Errorf("%w: bad signer %q", ErrMalformed, r.Signer)
	}
	if err := Verify(r.Signer, payload, sig); err != nil {
		return nil, err
	}
	r.Raw = raw
	return &r, nil
}

// Verify checks an ed25519 signature made by address over data
func Verify(address string, data, sig []byte) error {
	kp, err := keypair.ParseAddress(address)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := kp.Verify(data, sig); err != nil {
		return ErrSignature
	}
	return nil
}

// SignData returns the base64url signature of data
func SignData(kp *keypair.Full, data []byte) (string, error) {
	sig, err := kp.Sign(data)
	if err != nil {
		return "", fmt.Errorf("failed to sign data: %w", err)
	}
	return encoding.EncodeToString(sig), nil
}

// VerifyData checks a base64url signature produced by SignData
func VerifyData(address string, data []byte, sig string) error {
	raw, err := encoding.DecodeString(sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return Verify(address, data, raw)
}
