package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"paraglider-sim/internal/telemetry"
)

func testIdentity() telemetry.DeviceIdentity {
	return telemetry.DeviceIdentity{
		DeviceID:     "PARA-20250601-12345-0001",
		DeviceSecret: "device-secret",
		Manufacturer: "DIGIFLY",
	}
}

func testCreds() telemetry.OperationalCredentials {
	return telemetry.OperationalCredentials{APIKey: "key-123", MQTTUsername: "u", MQTTPassword: "p"}
}

func testPoint(offset int) telemetry.GpsPoint {
	id := "f8a1c2d3-0000-4000-8000-000000000001"
	return telemetry.GpsPoint{
		DeviceID:     "PARA-20250601-12345-0001",
		FlightID:     &id,
		Latitude:     45.9237,
		Longitude:    6.8694,
		Altitude:     2400,
		Speed:        38,
		Heading:      120,
		Accuracy:     4,
		Satellites:   10,
		BatteryLevel: 90,
		Timestamp:    time.Date(2025, 6, 1, 10, 0, offset, 0, time.UTC),
	}
}

func TestHTTPPublishPoint(t *testing.T) {
	var got telemetry.SignedEnvelope
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/gps" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("bad envelope: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewHTTPPublisher(srv.URL, NewHTTPClient(), testIdentity(), testCreds())
	if err := p.PublishPoint(context.Background(), testPoint(0)); err != nil {
		t.Fatalf("PublishPoint failed: %v", err)
	}
	if auth != "Bearer key-123" {
		t.Errorf("wrong Authorization header: %s", auth)
	}
	if got.APIKey != "key-123" {
		t.Errorf("wrong api_key in envelope: %s", got.APIKey)
	}
	if !telemetry.VerifyEnvelope(got, "device-secret") {
		t.Error("envelope signature does not verify")
	}
}

func TestHTTPPublishBatchSingleEnvelope(t *testing.T) {
	calls := 0
	var got telemetry.SignedEnvelope
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/gps/batch" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		calls++
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("bad envelope: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	points := make([]telemetry.GpsPoint, 15)
	for i := range points {
		points[i] = testPoint(i)
	}
	p := NewHTTPPublisher(srv.URL, NewHTTPClient(), testIdentity(), testCreds())
	if err := p.PublishBatch(context.Background(), points); err != nil {
		t.Fatalf("PublishBatch failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected exactly one request, got %d", calls)
	}
	var data []json.RawMessage
	if err := json.Unmarshal(got.Data, &data); err != nil {
		t.Fatalf("batch data is not an array: %v", err)
	}
	if len(data) != 15 {
		t.Errorf("expected 15 points, got %d", len(data))
	}
	if !telemetry.VerifyEnvelope(got, "device-secret") {
		t.Error("joint batch signature does not verify")
	}
}

func TestHTTPPublishBatchTooLarge(t *testing.T) {
	p := NewHTTPPublisher("http://unused", NewHTTPClient(), testIdentity(), testCreds())
	points := make([]telemetry.GpsPoint, MaxBatchPoints+1)
	err := p.PublishBatch(context.Background(), points)
	if !errors.Is(err, ErrBatchTooLarge) {
		t.Errorf("expected ErrBatchTooLarge, got %v", err)
	}
}

func TestHTTPErrorMapping(t *testing.T) {
	cases := []struct {
		status    int
		sentinel  error
		retryable bool
	}{
		{http.StatusUnauthorized, ErrAuth, false},
		{http.StatusForbidden, ErrAuth, false},
		{http.StatusUnprocessableEntity, ErrRejected, false},
		{http.StatusBadRequest, ErrRejected, false},
		{http.StatusInternalServerError, ErrTransient, true},
		{http.StatusBadGateway, ErrTransient, true},
	}
	for _, c := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(c.status)
		}))
		p := NewHTTPPublisher(srv.URL, NewHTTPClient(), testIdentity(), testCreds())
		err := p.PublishPoint(context.Background(), testPoint(0))
		srv.Close()
		if !errors.Is(err, c.sentinel) {
			t.Errorf("status %d: expected %v, got %v", c.status, c.sentinel, err)
		}
		if Retryable(err) != c.retryable {
			t.Errorf("status %d: Retryable=%v, want %v", c.status, Retryable(err), c.retryable)
		}
	}
}

func TestHTTPCloseFlight(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/flights/close" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req telemetry.FlightClose
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("bad close request: %v", err)
		}
		json.NewEncoder(w).Encode(telemetry.FlightClosed{
			FlightID: req.FlightID, Status: "closed", Distance: 12345.6, Duration: 3600,
		})
	}))
	defer srv.Close()

	p := NewHTTPPublisher(srv.URL, NewHTTPClient(), testIdentity(), testCreds())
	confirmation, err := p.CloseFlight(context.Background(), "flight-1")
	if err != nil {
		t.Fatalf("CloseFlight failed: %v", err)
	}
	if confirmation.Status != "closed" || confirmation.Distance != 12345.6 {
		t.Errorf("unexpected confirmation: %+v", confirmation)
	}
}

func TestHTTPNetworkFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()
	p := NewHTTPPublisher(srv.URL, NewHTTPClient(), testIdentity(), testCreds())
	err := p.PublishPoint(context.Background(), testPoint(0))
	if !errors.Is(err, ErrTransient) {
		t.Errorf("expected ErrTransient, got %v", err)
	}
}
