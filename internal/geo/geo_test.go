package geo

import "testing"

func TestDistanceKM(t *testing.T) {
	// Madrid to Barcelona, roughly 505 km great-circle.
	d := DistanceKM(40.4168, -3.7038, 41.3874, 2.1686)
	if d < 495 || d > 515 {
		t.Fatalf("Madrid-Barcelona = %.1f km, want ~505", d)
	}
}

func TestDistanceZero(t *testing.T) {
	if d := DistanceKM(40.4168, -3.7038, 40.4168, -3.7038); d != 0 {
		t.Fatalf("same point distance = %f, want 0", d)
	}
}

func TestDistanceSymmetric(t *testing.T) {
	a := DistanceKM(40.0, -3.0, 41.0, 2.0)
	b := DistanceKM(41.0, 2.0, 40.0, -3.0)
	if a != b {
		t.Fatalf("distance not symmetric: %f vs %f", a, b)
	}
}

func TestDistanceShortRange(t *testing.T) {
	// Two points ~1.11 km apart (0.01 degrees of latitude).
	d := DistanceKM(40.40, -3.70, 40.41, -3.70)
	if d < 1.0 || d > 1.2 {
		t.Fatalf("short range = %f km, want ~1.11", d)
	}
}
