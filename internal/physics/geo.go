package physics

import "math"

const earthRadiusM = 6371000.0

// offsetPosition returns the lat/lon reached by moving distance meters from
// (lat, lon) along angle (radians, 0 = north).
func offsetPosition(lat, lon, distance, angle float64) (float64, float64) {
	return offsetPositionFrom(lat, lon, distance, angle)
}

func offsetPositionFrom(lat, lon, distance, angle float64) (float64, float64) {
	dLat := (distance * math.Cos(angle)) / 111111
	dLon := (distance * math.Sin(angle)) / (111111 * math.Cos(lat*math.Pi/180))
	return lat + dLat, lon + dLon
}

// distanceMeters calculates the haversine distance between two lat/lon points.
func distanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusM * c
}

// bearingDegrees returns the initial bearing from point 1 to point 2.
func bearingDegrees(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	x := math.Sin(dLon) * math.Cos(lat2Rad)
	y := math.Cos(lat1Rad)*math.Sin(lat2Rad) - math.Sin(lat1Rad)*math.Cos(lat2Rad)*math.Cos(dLon)
	bearing := math.Atan2(x, y) * 180 / math.Pi
	return normalizeHeading(bearing)
}

// smoothTurn turns from current towards target limited to maxTurn degrees.
func smoothTurn(current, target, maxTurn float64) float64 {
	diff := target - current
	if diff > 180 {
		diff -= 360
	} else if diff < -180 {
		diff += 360
	}
	if diff > maxTurn {
		diff = maxTurn
	} else if diff < -maxTurn {
		diff = -maxTurn
	}
	return normalizeHeading(current + diff)
}

func normalizeHeading(h float64) float64 {
	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	return h
}

func round6(v float64) float64 { return math.Round(v*1e6) / 1e6 }
func round1(v float64) float64 { return math.Round(v*10) / 10 }
