package physics

import "time"

// FlightPhase labels the state machine position of one paraglider.
type FlightPhase string

const (
	PhaseGround     FlightPhase = "ground"
	PhaseTakeoff    FlightPhase = "takeoff"
	PhaseClimbing   FlightPhase = "climbing"
	PhaseThermaling FlightPhase = "thermaling"
	PhaseGliding    FlightPhase = "gliding"
	PhaseLanding    FlightPhase = "landing"
	PhaseLanded     FlightPhase = "landed"
)

// Airborne reports whether the phase belongs to an active flight session.
func (p FlightPhase) Airborne() bool {
	return p != PhaseGround && p != PhaseLanded
}

// Site is a known flying site with takeoff and landing zone altitudes.
type Site struct {
	Name       string  `yaml:"name"`
	Lat        float64 `yaml:"lat"`
	Lon        float64 `yaml:"lon"`
	TakeoffAlt float64 `yaml:"takeoff_alt"`
	LandingAlt float64 `yaml:"landing_alt"`
}

// Thermal is a rising air column a glider can circle within.
type Thermal struct {
	Lat         float64
	Lon         float64
	RadiusM     float64
	StrengthMS  float64
	TopAltitude float64
}

// FlightSession identifies one continuous airborne period.
type FlightSession struct {
	FlightID  string
	StartTime time.Time
	DistanceM float64
}

// State is the mutable flight state of one simulated device. It is owned
// by a single device manager and mutated only by Engine.Step.
type State struct {
	Phase    FlightPhase
	Lat      float64
	Lon      float64
	Altitude float64 // meters
	Speed    float64 // km/h
	Heading  float64 // degrees 0-360
	Vario    float64 // m/s vertical speed
	Battery  float64 // percent, non-increasing

	Session *FlightSession // nil outside a flight

	phaseElapsed float64 // seconds in current phase
	groundPrep   float64 // seconds to wait before takeoff
	restDuration float64 // seconds to rest after landing
	turnRate     float64 // deg/s while thermaling
	circleRadius float64 // meters while thermaling
	thermalUntil float64 // max seconds to stay in a thermal
	thermal      *Thermal
	landingLat   float64
	landingLon   float64
	hasTarget    bool
}

// Phase durations and movement bounds. All randomized values are drawn
// from these ranges so seeded runs stay reproducible.
const (
	groundPrepMinS = 5
	groundPrepMaxS = 60
	restMinS       = 30
	restMaxS       = 120

	takeoffClimbGainM = 50
	takeoffMaxS       = 25

	thermalSearchMaxS = 45
	thermalMinS       = 30
	thermalMaxS       = 180

	glideReclimbChance = 0.05
	landingApproachM   = 200
	altitudeFloorM     = 400

	batteryDrainGroundPct = 0.005
	batteryDrainFlightPct = 0.02
)
