// Package signer authenticates payloads exchanged with the agent service.
// Every outbound payload is stamped with a millisecond timestamp and an
// HMAC-SHA256 signature over "{timestamp}.{canonical JSON}", carried in a
// reserved "_auth" field. The receiving side recomputes the signature and
// enforces a freshness window against replays.
package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// AuthField is the reserved payload key carrying signature material.
// Callers must not use it for application data.
const AuthField = "_auth"

// DefaultReplayWindow bounds the clock skew tolerated during verification.
const DefaultReplayWindow = 30 * time.Second

var (
	// ErrSecretRequired is returned by New in production mode with no secret.
	ErrSecretRequired = errors.New("signer: signing secret required in production")

	// ErrMissingAuth means the payload carries no _auth field.
	ErrMissingAuth = errors.New("signer: payload is unsigned")

	// ErrBadSignature means the signature does not match the payload.
	ErrBadSignature = errors.New("signer: signature mismatch")

	// ErrExpired means the signature timestamp is outside the replay window.
	ErrExpired = errors.New("signer: signature timestamp outside replay window")
)

// Signer signs and verifies agent payloads with a shared secret.
type Signer struct {
	secret     []byte
	production bool
	logger     *slog.Logger
	warnOnce   sync.Once
}

// New builds a Signer. An empty secret is tolerated outside production:
// payloads then pass through unsigned and a warning is logged once.
func New(secret string, production bool, logger *slog.Logger) (*Signer, error) {
	if production && secret == "" {
		return nil, ErrSecretRequired
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Signer{
		secret:     []byte(secret),
		production: production,
		logger:     logger,
	}, nil
}

// Sign returns a copy of payload with the _auth field attached. The input is
// not mutated. Without a secret configured the payload is returned as-is.
func (s *Signer) Sign(payload map[string]any) (map[string]any, error) {
	return s.SignAt(payload, time.Now())
}

// SignAt is Sign with an explicit timestamp, for deterministic tests.
func (s *Signer) SignAt(payload map[string]any, at time.Time) (map[string]any, error) {
	if len(s.secret) == 0 {
		s.warnOnce.Do(func() {
			s.logger.Warn("no signing secret configured, sending unsigned payloads")
		})
		return payload, nil
	}

	ts := at.UnixMilli()
	body := StripAuthFields(payload)
	sig, err := s.compute(ts, body)
	if err != nil {
		return nil, err
	}

	signed := make(map[string]any, len(body)+1)
	for k, v := range body {
		signed[k] = v
	}
	signed[AuthField] = map[string]any{
		"timestamp": ts,
		"signature": sig,
	}
	return signed, nil
}

// Verify checks the _auth field against the payload using the default
// replay window.
func (s *Signer) Verify(payload map[string]any) error {
	return s.VerifyAt(payload, DefaultReplayWindow, time.Now())
}

// VerifyAt is Verify with an explicit window and current time, for
// deterministic tests. A non-positive window disables the freshness check.
func (s *Signer) VerifyAt(payload map[string]any, window time.Duration, now time.Time) error {
	auth, ok := payload[AuthField].(map[string]any)
	if !ok {
		return ErrMissingAuth
	}
	sig, _ := auth["signature"].(string)
	ts, ok := timestampValue(auth["timestamp"])
	if !ok || sig == "" {
		return ErrMissingAuth
	}

	want, err := s.compute(ts, StripAuthFields(payload))
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(sig), []byte(want)) {
		return ErrBadSignature
	}

	if window > 0 {
		age := now.Sub(time.UnixMilli(ts))
		if age < 0 {
			age = -age
		}
		if age > window {
			return ErrExpired
		}
	}
	return nil
}

// StripAuthFields returns a shallow copy of payload without the _auth field,
// suitable for logging or re-signing.
func StripAuthFields(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		if k == AuthField {
			continue
		}
		out[k] = v
	}
	return out
}

// compute derives the hex signature over "{timestamp}.{canonical JSON}".
// encoding/json writes map keys in sorted order, which keeps the byte
// representation stable across both sides of the channel.
func (s *Signer) compute(ts int64, body map[string]any) (string, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshaling payload for signing: %w", err)
	}
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(raw)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// timestampValue accepts the numeric types a timestamp can arrive as:
// int64 when built in-process, float64 or json.Number after a JSON decode.
func timestampValue(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case float64:
		return int64(t), true
	case json.Number:
		i, err := t.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}
