// Flight physics engine: advances paraglider state through the phase
// machine and produces GPS points.
package physics

import (
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"paraglider-sim/internal/telemetry"
)

// Engine generates trajectories for devices launching from one site.
// The RNG is injected so tests can fix a seed.
type Engine struct {
	site     Site
	thermals []Thermal
	rng      *rand.Rand
	now      func() time.Time
}

// NewEngine creates an engine with a generated thermal field around site.
func NewEngine(site Site, rng *rand.Rand) *Engine {
	e := &Engine{site: site, rng: rng, now: time.Now}
	e.thermals = e.generateThermals(10)
	return e
}

// generateThermals scatters thermals within 7km of launch.
func (e *Engine) generateThermals(count int) []Thermal {
	thermals := make([]Thermal, 0, count)
	for i := 0; i < count; i++ {
		angle := e.rng.Float64() * 2 * math.Pi
		distance := 300 + e.rng.Float64()*6700 // meters
		lat, lon := offsetPosition(e.site.Lat, e.site.Lon, distance, angle)
		thermals = append(thermals, Thermal{
			Lat:         lat,
			Lon:         lon,
			RadiusM:     50 + e.rng.Float64()*250,
			StrengthMS:  1.0 + e.rng.Float64()*4.0,
			TopAltitude: e.site.TakeoffAlt + 300 + e.rng.Float64()*1700,
		})
	}
	return thermals
}

// NewState places a fresh device on the ground near the takeoff point.
func (e *Engine) NewState() *State {
	return &State{
		Phase:      PhaseGround,
		Lat:        e.site.Lat + e.rng.Float64()*0.002 - 0.001,
		Lon:        e.site.Lon + e.rng.Float64()*0.002 - 0.001,
		Altitude:   e.site.TakeoffAlt + e.rng.Float64()*40 - 20,
		Heading:    e.rng.Float64() * 360,
		Battery:    85 + e.rng.Float64()*15,
		groundPrep: groundPrepMinS + e.rng.Float64()*(groundPrepMaxS-groundPrepMinS),
	}
}

// Step advances the state by dt seconds. It never fails; all outputs are
// clamped to valid ranges.
func (e *Engine) Step(s *State, dt float64) {
	s.phaseElapsed += dt
	e.drainBattery(s, dt)

	switch s.Phase {
	case PhaseGround:
		e.stepGround(s)
	case PhaseTakeoff:
		e.stepTakeoff(s, dt)
	case PhaseClimbing:
		e.stepClimbing(s, dt)
	case PhaseThermaling:
		e.stepThermaling(s, dt)
	case PhaseGliding:
		e.stepGliding(s, dt)
	case PhaseLanding:
		e.stepLanding(s, dt)
	case PhaseLanded:
		e.stepLanded(s)
	}

	e.advancePosition(s, dt)
	clampState(s)
}

// Point renders the current state as an immutable GPS point.
func (e *Engine) Point(s *State, deviceID, pilot string) telemetry.GpsPoint {
	var flightID *string
	flightTime := 0
	if s.Session != nil {
		id := s.Session.FlightID
		flightID = &id
		flightTime = int(e.now().UTC().Sub(s.Session.StartTime).Minutes())
	}
	return telemetry.GpsPoint{
		DeviceID:     deviceID,
		FlightID:     flightID,
		Latitude:     round6(s.Lat),
		Longitude:    round6(s.Lon),
		Altitude:     round1(s.Altitude),
		Speed:        round1(s.Speed),
		Heading:      round1(s.Heading),
		Accuracy:     round1(3 + e.rng.Float64()*5),
		Satellites:   8 + e.rng.Intn(8),
		BatteryLevel: round1(s.Battery),
		Timestamp:    e.now().UTC(),
		Metadata: telemetry.DeviceMetadata{
			Vario:      round1(s.Vario),
			Phase:      string(s.Phase),
			FlightTime: flightTime,
			Pilot:      pilot,
		},
	}
}

func (e *Engine) transition(s *State, next FlightPhase) {
	s.Phase = next
	s.phaseElapsed = 0
}

func (e *Engine) stepGround(s *State) {
	if s.phaseElapsed >= s.groundPrep {
		s.Session = &FlightSession{
			FlightID:  uuid.New().String(),
			StartTime: e.now().UTC(),
		}
		s.Speed = 25
		s.Vario = 2.0
		s.Heading = e.rng.Float64() * 360
		e.transition(s, PhaseTakeoff)
		return
	}
	// Shuffle around the launch area while preparing.
	if e.rng.Float64() < 0.3 {
		s.Speed = 2 + e.rng.Float64()*3
		s.Heading = normalizeHeading(s.Heading + e.rng.Float64()*90 - 45)
	} else {
		s.Speed = 0
	}
	s.Vario = 0
}

func (e *Engine) stepTakeoff(s *State, dt float64) {
	s.Speed = math.Min(40, s.Speed+1+e.rng.Float64()*2)
	s.Vario = 1.5 + e.rng.Float64()*1.5
	s.Altitude += s.Vario * dt
	s.Heading = normalizeHeading(s.Heading + e.rng.Float64()*20 - 10)

	if s.Altitude > e.site.TakeoffAlt+takeoffClimbGainM || s.phaseElapsed > takeoffMaxS {
		e.transition(s, PhaseClimbing)
	}
}

func (e *Engine) stepClimbing(s *State, dt float64) {
	s.Speed = 35 + e.rng.Float64()*10
	s.Vario = math.Max(-2, s.Vario-(0.1+e.rng.Float64()*0.3))
	s.Altitude += s.Vario * dt
	// Search pattern: sweep heading while hunting for lift.
	s.Heading = normalizeHeading(s.Heading + e.rng.Float64()*40 - 20)

	for i := range e.thermals {
		th := &e.thermals[i]
		if distanceMeters(s.Lat, s.Lon, th.Lat, th.Lon) < th.RadiusM && s.Altitude < th.TopAltitude {
			s.thermal = th
			s.turnRate = 12 + e.rng.Float64()*6
			s.circleRadius = 30 + e.rng.Float64()*40
			s.thermalUntil = thermalMinS + e.rng.Float64()*(thermalMaxS-thermalMinS)
			e.transition(s, PhaseThermaling)
			return
		}
	}
	// Give up the search on sustained sink or after the timeout.
	if s.Vario < -1 || s.phaseElapsed > thermalSearchMaxS || e.rng.Float64() < 0.1 {
		e.transition(s, PhaseGliding)
	}
}

func (e *Engine) stepThermaling(s *State, dt float64) {
	th := s.thermal
	if th == nil {
		e.transition(s, PhaseGliding)
		return
	}
	s.Heading = normalizeHeading(s.Heading + s.turnRate*dt)
	angle := s.Heading * math.Pi / 180
	s.Lat, s.Lon = offsetPosition(th.Lat, th.Lon, s.circleRadius, angle)
	s.Vario = th.StrengthMS * (0.6 + e.rng.Float64()*0.6)
	s.Altitude += s.Vario * dt
	s.Speed = 30 + e.rng.Float64()*10

	if s.Altitude > th.TopAltitude || s.phaseElapsed > s.thermalUntil {
		s.thermal = nil
		s.Speed = 40 + e.rng.Float64()*10
		e.transition(s, PhaseGliding)
	}
}

func (e *Engine) stepGliding(s *State, dt float64) {
	s.Vario = -1.8 + e.rng.Float64()*1.3
	s.Altitude += s.Vario * dt
	s.Speed = 35 + e.rng.Float64()*15
	s.Heading = normalizeHeading(s.Heading + e.rng.Float64()*30 - 15)

	// Speed up to escape heavy sink.
	if s.Vario < -1.5 {
		s.Speed = math.Min(55, s.Speed+2)
	}

	// Occasionally hook weak lift, or head back to climb while high enough.
	if s.Altitude > e.site.LandingAlt+altitudeFloorM && e.rng.Float64() < glideReclimbChance {
		e.transition(s, PhaseClimbing)
		return
	}

	if s.Altitude < e.site.LandingAlt+landingApproachM {
		angle := e.rng.Float64() * 2 * math.Pi
		distance := 100 + e.rng.Float64()*900
		s.landingLat, s.landingLon = offsetPosition(e.site.Lat, e.site.Lon, distance, angle)
		s.hasTarget = true
		e.transition(s, PhaseLanding)
	}
}

func (e *Engine) stepLanding(s *State, dt float64) {
	if s.hasTarget {
		bearing := bearingDegrees(s.Lat, s.Lon, s.landingLat, s.landingLon)
		s.Heading = smoothTurn(s.Heading, bearing, 15)
		s.Heading = normalizeHeading(s.Heading + e.rng.Float64()*10 - 5)
	}
	s.Speed = math.Max(18, s.Speed-(1+e.rng.Float64()*2))
	s.Vario = math.Max(-4, s.Vario-(0.1+e.rng.Float64()*0.2))
	// Ground effect reduces sink close to the surface.
	if s.Altitude < e.site.LandingAlt+20 {
		s.Vario = math.Max(-2, s.Vario)
	}
	s.Altitude += s.Vario * dt

	if s.Altitude <= e.site.LandingAlt {
		s.Altitude = e.site.LandingAlt
		s.Speed = 0
		s.Vario = 0
		s.Session = nil
		s.hasTarget = false
		s.restDuration = restMinS + e.rng.Float64()*(restMaxS-restMinS)
		e.transition(s, PhaseLanded)
	}
}

func (e *Engine) stepLanded(s *State) {
	s.Speed = 0
	s.Vario = 0
	if s.phaseElapsed >= s.restDuration {
		// Pack up and walk back to launch for the next flight.
		s.Lat = e.site.Lat + e.rng.Float64()*0.002 - 0.001
		s.Lon = e.site.Lon + e.rng.Float64()*0.002 - 0.001
		s.Altitude = e.site.TakeoffAlt
		s.Heading = e.rng.Float64() * 360
		s.groundPrep = groundPrepMinS + e.rng.Float64()*(groundPrepMaxS-groundPrepMinS)
		e.transition(s, PhaseGround)
	}
}

func (e *Engine) drainBattery(s *State, dt float64) {
	drain := batteryDrainGroundPct
	if s.Phase.Airborne() {
		drain = batteryDrainFlightPct
	}
	s.Battery -= drain * dt * (0.8 + e.rng.Float64()*0.4)
}

// advancePosition moves along the heading by speed*dt plus wind drift.
// Thermaling position is driven by the circle model instead.
func (e *Engine) advancePosition(s *State, dt float64) {
	if s.Phase == PhaseThermaling || s.Speed <= 0 {
		return
	}
	distance := s.Speed / 3.6 * dt
	headingRad := s.Heading * math.Pi / 180
	lat, lon := offsetPosition(s.Lat, s.Lon, distance, headingRad)

	windSpeed := e.rng.Float64() * 10 / 3.6
	windRad := e.rng.Float64() * 2 * math.Pi
	lat, lon = offsetPositionFrom(lat, lon, windSpeed*dt, windRad)

	if s.Session != nil {
		s.Session.DistanceM += distanceMeters(s.Lat, s.Lon, lat, lon)
	}
	s.Lat = lat
	s.Lon = lon
}

func clampState(s *State) {
	if s.Battery < 0 {
		s.Battery = 0
	} else if s.Battery > 100 {
		s.Battery = 100
	}
	if s.Altitude < 0 {
		s.Altitude = 0
	}
	if s.Lat > 90 {
		s.Lat = 90
	} else if s.Lat < -90 {
		s.Lat = -90
	}
	if s.Lon > 180 {
		s.Lon = 180
	} else if s.Lon < -180 {
		s.Lon = -180
	}
}
