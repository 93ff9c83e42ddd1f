package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"paraglider-sim/internal/telemetry"
)

// NewHTTPClient returns the shared HTTP client used by all devices. The
// default transport pools connections per host.
func NewHTTPClient() *http.Client {
	return &http.Client{Timeout: 15 * time.Second}
}

// HTTPPublisher delivers envelopes to the HTTPS GPS ingestion endpoints.
// The underlying client is shared across devices; per-device state is only
// the signing material.
//
// Note: the HTTP batch path authenticates with a Bearer api_key header in
// addition to the api_key inside the envelope. The backend contract for the
// two fields diverges from the MQTT path and is kept as documented rather
// than unified.
type HTTPPublisher struct {
	baseURL  string
	deviceID string
	secret   string
	apiKey   string
	client   *http.Client
}

// NewHTTPPublisher binds a device's signing material to the shared client.
func NewHTTPPublisher(baseURL string, client *http.Client, id telemetry.DeviceIdentity, creds telemetry.OperationalCredentials) *HTTPPublisher {
	return &HTTPPublisher{
		baseURL:  baseURL,
		deviceID: id.DeviceID,
		secret:   id.DeviceSecret,
		apiKey:   creds.APIKey,
		client:   client,
	}
}

// PublishPoint implements Publisher.
func (p *HTTPPublisher) PublishPoint(ctx context.Context, point telemetry.GpsPoint) error {
	env, err := telemetry.NewEnvelope(point, p.secret, p.apiKey)
	if err != nil {
		return err
	}
	return p.post(ctx, "/gps", env, nil)
}

// PublishBatch implements Publisher.
func (p *HTTPPublisher) PublishBatch(ctx context.Context, points []telemetry.GpsPoint) error {
	if len(points) > MaxBatchPoints {
		return fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(points), MaxBatchPoints)
	}
	env, err := telemetry.NewBatchEnvelope(points, p.secret, p.apiKey)
	if err != nil {
		return err
	}
	return p.post(ctx, "/gps/batch", env, nil)
}

// CloseFlight implements Publisher. Older backends only expose the MQTT
// close topic; a 404 here is reported as a rejection, not retried.
func (p *HTTPPublisher) CloseFlight(ctx context.Context, flightID string) (*telemetry.FlightClosed, error) {
	var confirmation telemetry.FlightClosed
	err := p.post(ctx, "/flights/close", telemetry.FlightClose{FlightID: flightID, APIKey: p.apiKey}, &confirmation)
	if err != nil {
		return nil, err
	}
	return &confirmation, nil
}

// Close implements Publisher. The shared client is owned by the fleet.
func (p *HTTPPublisher) Close() {}

func (p *HTTPPublisher) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("decode %s response: %w", path, err)
			}
		}
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w (device %s, HTTP %d)", ErrAuth, p.deviceID, resp.StatusCode)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: HTTP %d: %s", ErrRejected, resp.StatusCode, msg)
	default:
		return fmt.Errorf("%w: HTTP %d", ErrTransient, resp.StatusCode)
	}
}
