package telemetry

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func testPoint() GpsPoint {
	id := "0b1f6f3e-3f0a-4a5e-9d2c-6f5a1d2b3c4d"
	return GpsPoint{
		DeviceID:     "PARA-20250101-00001-0001",
		FlightID:     &id,
		Latitude:     45.9237,
		Longitude:    6.8694,
		Altitude:     2400.5,
		Speed:        38.2,
		Heading:      271.0,
		Accuracy:     4.2,
		Satellites:   11,
		BatteryLevel: 97.5,
		Timestamp:    time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC),
		Metadata:     DeviceMetadata{Vario: 1.2, Phase: "climbing", FlightTime: 5, Pilot: "Pilot_0001"},
	}
}

func TestCanonicalJSONSortedAndCompact(t *testing.T) {
	b, err := CanonicalJSON(testPoint())
	if err != nil {
		t.Fatalf("CanonicalJSON failed: %v", err)
	}
	s := string(b)
	if strings.ContainsAny(s, " \n\t") {
		t.Errorf("canonical JSON contains whitespace: %q", s)
	}
	// Keys must come out lexicographically sorted.
	order := []string{`"accuracy"`, `"altitude"`, `"battery_level"`, `"device_id"`, `"device_metadata"`, `"flight_id"`, `"heading"`, `"latitude"`, `"longitude"`, `"satellites"`, `"speed"`, `"timestamp"`}
	last := -1
	for _, key := range order {
		idx := strings.Index(s, key)
		if idx < 0 {
			t.Fatalf("canonical JSON missing key %s: %s", key, s)
		}
		if idx < last {
			t.Errorf("key %s out of order in %s", key, s)
		}
		last = idx
	}
}

func TestCanonicalJSONPreservesNumbers(t *testing.T) {
	b, err := CanonicalJSON(testPoint())
	if err != nil {
		t.Fatalf("CanonicalJSON failed: %v", err)
	}
	if !strings.Contains(string(b), "45.9237") {
		t.Errorf("latitude literal altered: %s", b)
	}
	if !strings.Contains(string(b), `"satellites":11`) {
		t.Errorf("integer literal altered: %s", b)
	}
}

func TestSignDeterministic(t *testing.T) {
	point := testPoint()
	env1, err := NewEnvelope(point, "secret-a", "key-a")
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}
	env2, err := NewEnvelope(point, "secret-a", "key-a")
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}
	if env1.Signature != env2.Signature {
		t.Errorf("signatures differ for identical payloads: %s vs %s", env1.Signature, env2.Signature)
	}
	if len(env1.Signature) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(env1.Signature))
	}
}

func TestSignSensitivity(t *testing.T) {
	point := testPoint()
	base, _ := NewEnvelope(point, "secret-a", "key-a")

	changed := point
	changed.Latitude += 0.000001
	env, _ := NewEnvelope(changed, "secret-a", "key-a")
	if env.Signature == base.Signature {
		t.Error("signature unchanged after field mutation")
	}

	otherKey, _ := NewEnvelope(point, "secret-b", "key-a")
	if otherKey.Signature == base.Signature {
		t.Error("signature unchanged under different secret")
	}
}

func TestVerifyEnvelope(t *testing.T) {
	env, _ := NewEnvelope(testPoint(), "secret-a", "key-a")
	if !VerifyEnvelope(env, "secret-a") {
		t.Error("envelope failed to verify with correct secret")
	}
	if VerifyEnvelope(env, "secret-b") {
		t.Error("envelope verified with wrong secret")
	}
}

func TestBatchEnvelopeSingleSignature(t *testing.T) {
	points := make([]GpsPoint, 15)
	for i := range points {
		p := testPoint()
		p.Timestamp = p.Timestamp.Add(time.Duration(i) * time.Second)
		points[i] = p
	}
	env, err := NewBatchEnvelope(points, "secret-a", "key-a")
	if err != nil {
		t.Fatalf("NewBatchEnvelope failed: %v", err)
	}
	var decoded []json.RawMessage
	if err := json.Unmarshal(env.Data, &decoded); err != nil {
		t.Fatalf("batch data is not a JSON array: %v", err)
	}
	if len(decoded) != 15 {
		t.Errorf("expected 15 points in batch, got %d", len(decoded))
	}
	if !VerifyEnvelope(env, "secret-a") {
		t.Error("batch envelope failed to verify")
	}
}

func TestNullFlightIDSerialization(t *testing.T) {
	p := testPoint()
	p.FlightID = nil
	b, err := CanonicalJSON(p)
	if err != nil {
		t.Fatalf("CanonicalJSON failed: %v", err)
	}
	if !strings.Contains(string(b), `"flight_id":null`) {
		t.Errorf("expected null flight_id, got %s", b)
	}
}
