// Package soil converts raw soil probe codes into calibrated moisture.
package soil

import (
	"fmt"

	"github.com/itohio/gosoil/pkg/probe"
)

// Curve maps raw codes to moisture: DryRaw is 0%, WetRaw is 100%.
// It is loaded once at boot and never changed.
type Curve struct {
	DryRaw int
	WetRaw int
}

// Degenerate reports whether the curve has no usable slope.
func (c Curve) Degenerate() bool {
	return c.WetRaw <= c.DryRaw
}

// Reading is a single calibrated soil measurement.
type Reading struct {
	Raw        int
	Percent    float64 // 0-100
	Millivolts float64
}

// Reader reads the analog front end and applies the calibration curve.
type Reader struct {
	frontEnd    probe.FrontEnd
	curve       Curve
	fullScaleMv float64
}

// NewReader creates a Reader. fullScaleMv is the voltage at the highest code.
func NewReader(frontEnd probe.FrontEnd, curve Curve, fullScaleMv float64) *Reader {
	return &Reader{
		frontEnd:    frontEnd,
		curve:       curve,
		fullScaleMv: fullScaleMv,
	}
}

// Curve returns the calibration curve in use.
func (r *Reader) Curve() Curve {
	return r.curve
}

// Sample reads one code from the front end.
func (r *Reader) Sample() (probe.RawSample, error) {
	return r.frontEnd.ReadRaw()
}

// Read samples the front end and converts the code. Front end errors are
// returned as is; any code the front end reports is treated as valid.
func (r *Reader) Read() (Reading, error) {
	raw, err := r.Sample()
	if err != nil {
		return Reading{}, fmt.Errorf("read soil probe: %w", err)
	}
	return Reading{
		Raw:        int(raw.Code),
		Percent:    Convert(int(raw.Code), r.curve),
		Millivolts: Millivolts(int(raw.Code), r.fullScaleMv),
	}, nil
}

// Convert maps a raw code to moisture percent, clamped to [0, 100].
// A degenerate curve (wet <= dry) always yields 0.
func Convert(raw int, curve Curve) float64 {
	if curve.Degenerate() {
		return 0
	}
	pct := float64(raw-curve.DryRaw) / float64(curve.WetRaw-curve.DryRaw) * 100
	return clamp(pct, 0, 100)
}

// Millivolts converts a 12-bit code to millivolts assuming a linear ADC.
func Millivolts(raw int, fullScaleMv float64) float64 {
	return (float64(raw) / float64(probe.MaxCode)) * fullScaleMv
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
