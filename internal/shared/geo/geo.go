package geo

import "math"

const earthRadiusM = 6371000.0

// DistanceM returns the great-circle distance in meters between two
// coordinates using the haversine formula.
func DistanceM(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusM * c
}

// PaceMinPerKm returns the average pace in minutes per kilometer.
// Zero distance or duration yields 0 rather than a division by zero.
func PaceMinPerKm(distanceM float64, durationSec float64) float64 {
	if distanceM <= 0 || durationSec <= 0 {
		return 0
	}
	return (durationSec / 60) / (distanceM / 1000)
}

// Calories estimates energy burned from a MET step function keyed by pace
// bracket: the faster the pace, the higher the MET.
func Calories(distanceKm, durationMin, weightKg float64) int {
	if distanceKm <= 0 || durationMin <= 0 || weightKg <= 0 {
		return 0
	}

	pace := durationMin / distanceKm
	var met float64
	switch {
	case pace <= 4:
		met = 15
	case pace <= 5:
		met = 12
	case pace <= 6:
		met = 10
	case pace <= 7:
		met = 8
	default:
		met = 6
	}

	return int(math.Round(met * weightKg * durationMin / 60))
}
