package device

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"paraglider-sim/internal/telemetry"
)

// Artifact persists a provisioned identity and its operational
// credentials between runs, so a provisioned fleet can be reused
// without re-registering.
type Artifact struct {
	Identity     telemetry.DeviceIdentity         `json:"identity"`
	Credentials  telemetry.OperationalCredentials `json:"credentials"`
	RegisteredAt time.Time                        `json:"registered_at"`
}

func artifactPath(dir, deviceID string) string {
	return filepath.Join(dir, "device_"+deviceID+".json")
}

// SaveArtifact writes the artifact as device_<id>.json under dir,
// creating dir if needed. Files carry owner-only permissions because
// they contain the device secret.
func SaveArtifact(dir string, a Artifact) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return err
	}
	path := artifactPath(dir, a.Identity.DeviceID)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write credential artifact: %w", err)
	}
	return nil
}

// LoadArtifacts reads every device_*.json under dir, sorted by device ID.
// A missing dir is an empty fleet, not an error.
func LoadArtifacts(dir string) ([]Artifact, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "device_*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	artifacts := make([]Artifact, 0, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read credential artifact %s: %w", path, err)
		}
		var a Artifact
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, fmt.Errorf("parse credential artifact %s: %w", path, err)
		}
		if a.Identity.DeviceID == "" || a.Credentials.APIKey == "" {
			return nil, fmt.Errorf("credential artifact %s is incomplete", path)
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, nil
}
