package sonar

import "math"

const (
	// SpeedOfSound is the speed of sound in air in meters per second.
	SpeedOfSound = 343.0

	// NoEcho is the round trip time, in microseconds, reported when no echo
	// arrives before the read deadline. It is larger than any round trip the
	// sensor can produce, which puts the derived distance at about 3.43 m.
	NoEcho uint32 = 20000
)

// MicrosToMM converts a sonar round trip time into the one way distance in
// millimeters, rounded to three decimal places.
func MicrosToMM(micros uint32) float64 {
	mm := (float64(micros) / 1000000.0) * SpeedOfSound / 2.0 * 1000
	return math.Round(mm*1000) / 1000
}

// Measurement is the result of a single ranging cycle.
type Measurement struct {
	// Micros is the echo round trip time in microseconds.
	Micros uint32
	// DistanceMM is the distance from the sensor to the water surface.
	DistanceMM float64
	// LevelMM is the mounting height minus DistanceMM. It is not clamped.
	LevelMM float64
}

// NoEcho reports whether the measurement came from a timed out read.
func (m Measurement) NoEcho() bool {
	return m.Micros == NoEcho
}
