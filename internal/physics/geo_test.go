package physics

import (
	"math"
	"testing"
)

func TestDistanceMeters(t *testing.T) {
	// Chamonix to Annecy is roughly 57-58km.
	d := distanceMeters(45.9237, 6.8694, 45.8992, 6.1294)
	if d < 55000 || d > 60000 {
		t.Errorf("unexpected distance: %f", d)
	}
	if distanceMeters(45.9, 6.8, 45.9, 6.8) != 0 {
		t.Error("distance of identical points should be zero")
	}
}

func TestOffsetPositionRoundTrip(t *testing.T) {
	lat, lon := offsetPosition(45.9237, 6.8694, 1000, 0)
	d := distanceMeters(45.9237, 6.8694, lat, lon)
	if math.Abs(d-1000) > 20 {
		t.Errorf("offset of 1000m measured as %f", d)
	}
}

func TestBearingDegrees(t *testing.T) {
	north := bearingDegrees(45.0, 6.0, 46.0, 6.0)
	if math.Abs(north) > 1 {
		t.Errorf("expected ~0 bearing due north, got %f", north)
	}
	east := bearingDegrees(45.0, 6.0, 45.0, 7.0)
	if math.Abs(east-90) > 1.5 {
		t.Errorf("expected ~90 bearing due east, got %f", east)
	}
}

func TestSmoothTurn(t *testing.T) {
	cases := []struct {
		current, target, maxTurn, want float64
	}{
		{0, 10, 15, 10},
		{0, 90, 15, 15},
		{350, 10, 15, 5},   // wraps through north
		{10, 350, 15, 355}, // wraps the other way
	}
	for _, c := range cases {
		got := smoothTurn(c.current, c.target, c.maxTurn)
		if math.Abs(got-c.want) > 0.001 {
			t.Errorf("smoothTurn(%f, %f, %f)=%f, want %f", c.current, c.target, c.maxTurn, got, c.want)
		}
	}
}

func TestNormalizeHeading(t *testing.T) {
	if got := normalizeHeading(-10); got != 350 {
		t.Errorf("normalizeHeading(-10)=%f", got)
	}
	if got := normalizeHeading(370); got != 10 {
		t.Errorf("normalizeHeading(370)=%f", got)
	}
}
