// Credential client for the external device registration API.
package registration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"paraglider-sim/internal/telemetry"
)

var (
	// ErrAuth means the registration token or manufacturer secret was
	// rejected. Retrying with the same inputs cannot succeed.
	ErrAuth = errors.New("registration rejected: invalid token or secret")
	// ErrDuplicate means the device_id is already registered.
	ErrDuplicate = errors.New("device_id already registered")
	// ErrMalformed means the backend rejected the request shape.
	ErrMalformed = errors.New("registration request malformed")
	// ErrTransient marks backend or network failures the caller may retry.
	ErrTransient = errors.New("transient registration failure")
)

// Retryable reports whether the caller should retry a failed registration.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransient)
}

// Token computes the registration token proving the provisioning claim is
// authorized by the manufacturer secret.
func Token(manufacturerSecret string, id telemetry.DeviceIdentity) string {
	msg := id.DeviceID + ":" + id.DeviceSecret + ":" + id.Manufacturer
	return telemetry.Sign(manufacturerSecret, []byte(msg))
}

// DeviceInfo is free-form metadata attached to a registration.
type DeviceInfo struct {
	Pilot           string `json:"pilot"`
	GliderModel     string `json:"glider_model"`
	Harness         string `json:"harness"`
	Reserve         string `json:"reserve"`
	BatteryCapacity int    `json:"battery_capacity"`
}

type registerRequest struct {
	DeviceID          string     `json:"device_id"`
	Manufacturer      string     `json:"manufacturer"`
	RegistrationToken string     `json:"registration_token"`
	DeviceSecret      string     `json:"device_secret"`
	Name              string     `json:"name"`
	DeviceType        string     `json:"device_type"`
	FirmwareVersion   string     `json:"firmware_version"`
	DeviceInfo        DeviceInfo `json:"device_info"`
}

type registerResponse struct {
	DeviceID     string `json:"device_id"`
	APIKey       string `json:"api_key"`
	MQTTUsername string `json:"mqtt_username"`
	MQTTPassword string `json:"mqtt_password"`
}

// Client exchanges provisioned identities for operational credentials.
// One client is shared across the whole fleet; its HTTP transport pools
// connections.
type Client struct {
	baseURL string
	secret  string
	http    *http.Client
}

// NewClient creates a registration client for the given API base URL.
func NewClient(baseURL, manufacturerSecret string) *Client {
	return &Client{
		baseURL: baseURL,
		secret:  manufacturerSecret,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Register exchanges the identity plus manufacturer secret for credentials.
// Authentication failures are returned as ErrAuth and must not be retried;
// ErrTransient failures may be retried by the caller with backoff.
func (c *Client) Register(ctx context.Context, id telemetry.DeviceIdentity, name string, info DeviceInfo) (telemetry.OperationalCredentials, error) {
	payload := registerRequest{
		DeviceID:          id.DeviceID,
		Manufacturer:      id.Manufacturer,
		RegistrationToken: Token(c.secret, id),
		DeviceSecret:      id.DeviceSecret,
		Name:              name,
		DeviceType:        "PARAGLIDER_TRACKER",
		FirmwareVersion:   "2.1.0",
		DeviceInfo:        info,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return telemetry.OperationalCredentials{}, fmt.Errorf("marshal registration: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/devices/register", bytes.NewReader(body))
	if err != nil {
		return telemetry.OperationalCredentials{}, fmt.Errorf("build registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return telemetry.OperationalCredentials{}, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var parsed registerResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return telemetry.OperationalCredentials{}, fmt.Errorf("decode registration response: %w", err)
		}
		if parsed.APIKey == "" {
			return telemetry.OperationalCredentials{}, fmt.Errorf("registration response missing api_key for %s", id.DeviceID)
		}
		return telemetry.OperationalCredentials{
			APIKey:       parsed.APIKey,
			MQTTUsername: parsed.MQTTUsername,
			MQTTPassword: parsed.MQTTPassword,
		}, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return telemetry.OperationalCredentials{}, fmt.Errorf("%w (device %s, HTTP %d)", ErrAuth, id.DeviceID, resp.StatusCode)
	case resp.StatusCode == http.StatusConflict:
		return telemetry.OperationalCredentials{}, fmt.Errorf("%w: %s", ErrDuplicate, id.DeviceID)
	case resp.StatusCode == http.StatusBadRequest:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return telemetry.OperationalCredentials{}, fmt.Errorf("%w: %s", ErrMalformed, msg)
	default:
		return telemetry.OperationalCredentials{}, fmt.Errorf("%w: HTTP %d", ErrTransient, resp.StatusCode)
	}
}
