// GPS tracker wire types shared by the physics engine and the transport layer.
package telemetry

import "time"

// DeviceIdentity is the factory-provisioned identity of one tracker.
// The secret is only ever used as an HMAC key and never leaves the device
// except inside the registration request.
type DeviceIdentity struct {
	DeviceID     string `json:"device_id"`
	DeviceSecret string `json:"device_secret"`
	Manufacturer string `json:"manufacturer"`
}

// OperationalCredentials are issued by the registration API and used for
// all subsequent transmissions.
type OperationalCredentials struct {
	APIKey       string `json:"api_key"`
	MQTTUsername string `json:"mqtt_username"`
	MQTTPassword string `json:"mqtt_password"`
}

// DeviceMetadata rides along with every GPS point.
type DeviceMetadata struct {
	Vario      float64 `json:"vario"`
	Phase      string  `json:"phase"`
	FlightTime int     `json:"flight_time"`
	Pilot      string  `json:"pilot"`
}

// GpsPoint is one immutable position report. FlightID is nil while the
// device is on the ground with no active flight session.
type GpsPoint struct {
	DeviceID     string         `json:"device_id"`
	FlightID     *string        `json:"flight_id"`
	Latitude     float64        `json:"latitude"`
	Longitude    float64        `json:"longitude"`
	Altitude     float64        `json:"altitude"`
	Speed        float64        `json:"speed"`
	Heading      float64        `json:"heading"`
	Accuracy     float64        `json:"accuracy"`
	Satellites   int            `json:"satellites"`
	BatteryLevel float64        `json:"battery_level"`
	Timestamp    time.Time      `json:"timestamp"`
	Metadata     DeviceMetadata `json:"device_metadata"`
}

// FlightClose asks the backend to finalize a flight session.
type FlightClose struct {
	FlightID string `json:"flight_id"`
	APIKey   string `json:"api_key"`
}

// FlightClosed is the backend confirmation for a closed flight.
type FlightClosed struct {
	FlightID string  `json:"flight_id"`
	Status   string  `json:"status"`
	Distance float64 `json:"distance"`
	Duration float64 `json:"duration"`
}
