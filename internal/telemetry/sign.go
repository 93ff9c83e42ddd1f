package telemetry

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// SignedEnvelope wraps one point or an ordered batch of points together
// with an HMAC-SHA256 signature over the canonical JSON of Data. Envelopes
// are write-once: build a new one instead of mutating Data.
type SignedEnvelope struct {
	Data      json.RawMessage `json:"data"`
	Signature string          `json:"signature"`
	APIKey    string          `json:"api_key"`
}

// CanonicalJSON serializes v with lexicographically sorted keys and no
// extraneous whitespace. The backend signs and verifies exactly these bytes.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("canonicalize payload: %w", err)
	}
	// encoding/json emits map keys in sorted order and json.Number
	// round-trips numeric literals unchanged.
	return json.Marshal(tree)
}

// Sign computes the hex HMAC-SHA256 of msg keyed with secret.
func Sign(secret string, msg []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(msg)
	return hex.EncodeToString(mac.Sum(nil))
}

// NewEnvelope builds a signed envelope for a single point.
func NewEnvelope(point GpsPoint, deviceSecret, apiKey string) (SignedEnvelope, error) {
	return newEnvelope(point, deviceSecret, apiKey)
}

// NewBatchEnvelope builds one envelope whose signature covers the whole
// ordered batch jointly.
func NewBatchEnvelope(points []GpsPoint, deviceSecret, apiKey string) (SignedEnvelope, error) {
	return newEnvelope(points, deviceSecret, apiKey)
}

func newEnvelope(data any, deviceSecret, apiKey string) (SignedEnvelope, error) {
	canonical, err := CanonicalJSON(data)
	if err != nil {
		return SignedEnvelope{}, err
	}
	return SignedEnvelope{
		Data:      canonical,
		Signature: Sign(deviceSecret, canonical),
		APIKey:    apiKey,
	}, nil
}

// VerifyEnvelope re-signs the envelope data and compares signatures in
// constant time.
func VerifyEnvelope(env SignedEnvelope, deviceSecret string) bool {
	want := Sign(deviceSecret, env.Data)
	return hmac.Equal([]byte(want), []byte(env.Signature))
}
