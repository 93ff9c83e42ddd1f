package device

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	mrand "math/rand"
	"time"

	"paraglider-sim/internal/registration"
	"paraglider-sim/internal/telemetry"
)

// NewIdentity mints a factory-style identity: a readable serial plus a
// 256-bit device secret. The serial embeds the mint date and millisecond
// so concurrent runs do not collide.
func NewIdentity(manufacturer string, seq int) (telemetry.DeviceIdentity, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return telemetry.DeviceIdentity{}, fmt.Errorf("generate device secret: %w", err)
	}
	now := time.Now().UTC()
	return telemetry.DeviceIdentity{
		DeviceID:     fmt.Sprintf("PARA-%s-%05d-%04d", now.Format("20060102"), now.UnixMilli()%100000, seq),
		DeviceSecret: hex.EncodeToString(secret),
		Manufacturer: manufacturer,
	}, nil
}

var pilots = []string{
	"Maria Rodriguez", "Hans Gruber", "Yuki Tanaka", "Pierre Dubois",
	"Elena Petrova", "Marco Rossi", "Anna Kowalski", "Tom Baker",
	"Ingrid Larsen", "Carlos Mendez", "Sophie Martin", "Jakob Steiner",
}

var gliders = []string{
	"Ozone Rush 6", "Advance Alpha 7", "Gin Explorer 2",
	"Nova Mentor 7", "BGD Base 2", "Skywalk Chili 5",
}

var harnesses = []string{
	"Woody Valley GTO Light", "Supair Strike 3", "Advance Lightness 4",
}

var reserves = []string{
	"Companion SQR Light", "Gin Yeti UL", "Supair Fluid Light",
}

// RandomInfo draws plausible pilot and equipment metadata for a
// registration request.
func RandomInfo(rng *mrand.Rand) registration.DeviceInfo {
	return registration.DeviceInfo{
		Pilot:           pilots[rng.Intn(len(pilots))],
		GliderModel:     gliders[rng.Intn(len(gliders))],
		Harness:         harnesses[rng.Intn(len(harnesses))],
		Reserve:         reserves[rng.Intn(len(reserves))],
		BatteryCapacity: 2500 + rng.Intn(2501),
	}
}
