package sonar

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestMicrosToMM(t *testing.T) {
	c := qt.New(t)

	tests := []struct {
		micros uint32
		want   float64
	}{
		{0, 0},
		{1000, 171.5},
		{5830, 999.845},
		{NoEcho, 3430},
		{2, 0.343},
		{100, 17.15},
	}
	for _, tt := range tests {
		c.Assert(MicrosToMM(tt.micros), qt.Equals, tt.want, qt.Commentf("%d µs", tt.micros))
	}
}

func TestMeasurementNoEcho(t *testing.T) {
	c := qt.New(t)
	c.Assert(Measurement{Micros: NoEcho}.NoEcho(), qt.IsTrue)
	c.Assert(Measurement{Micros: 5830}.NoEcho(), qt.IsFalse)
}
