package venue

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Headers holds the three headers every signed request carries.
type Headers struct {
	AccessKey string
	Timestamp string
	Signature string
}

// Set applies h onto an arbitrary header setter, matching the venue's
// header names exactly (§6).
func (h Headers) Set(set func(key, value string)) {
	set("X-PM-Access-Key", h.AccessKey)
	set("X-PM-Timestamp", h.Timestamp)
	set("X-PM-Signature", h.Signature)
	set("Content-Type", "application/json")
}

// Auth signs venue requests with Ed25519 over
// timestamp_ms || UPPER(method) || path (§4.1, §6).
//
// The signing key is decoded from base64 and must be at least 32 bytes;
// keys longer than 32 bytes are truncated to the first 32 — a documented
// quirk of the venue's key material, not a bug.
type Auth struct {
	accessKey  string
	signingKey ed25519.PrivateKey
}

// NewAuth constructs an Auth from an access-key UUID and a base64-encoded
// private key. It rejects empty input and keys shorter than 32 bytes after
// decoding.
func NewAuth(accessKey, privateKeyBase64 string) (*Auth, error) {
	if accessKey == "" {
		return nil, fmt.Errorf("venue: access key must not be empty")
	}
	if privateKeyBase64 == "" {
		return nil, fmt.Errorf("venue: private key must not be empty")
	}

	raw, err := base64.StdEncoding.DecodeString(privateKeyBase64)
	if err != nil {
		return nil, fmt.Errorf("venue: decode private key: %w", err)
	}
	if len(raw) < ed25519.SeedSize {
		return nil, fmt.Errorf("venue: private key too short: got %d bytes, need at least %d", len(raw), ed25519.SeedSize)
	}

	seed := raw[:ed25519.SeedSize]
	signingKey := ed25519.NewKeyFromSeed(seed)

	return &Auth{accessKey: accessKey, signingKey: signingKey}, nil
}

// Sign produces signed headers for method+path at the current time.
func (a *Auth) Sign(method, path string) Headers {
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	return a.signAt(method, path, timestamp)
}

// signAt signs with an explicit timestamp, used by tests to pin determinism:
// the same (timestamp, method, path) always yields the same signature, since
// Ed25519 signing carries no nonce.
func (a *Auth) signAt(method, path, timestamp string) Headers {
	message := timestamp + strings.ToUpper(method) + path
	sig := ed25519.Sign(a.signingKey, []byte(message))
	return Headers{
		AccessKey: a.accessKey,
		Timestamp: timestamp,
		Signature: base64.StdEncoding.EncodeToString(sig),
	}
}
