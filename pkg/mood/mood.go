// Package mood classifies a snapshot into a qualitative label.
package mood

import "github.com/itohio/gosoil/pkg/measurement"

// Label is the qualitative state reported alongside every publish.
type Label string

const (
	Dry     Label = "dry"
	Thirsty Label = "thirsty"
	Happy   Label = "happy"
	Cold    Label = "cold"
	Hot     Label = "hot"
	Normal  Label = "normal"
)

// Thresholds. Comparisons are strict.
const (
	DryBelow     = 5.0
	ThirstyBelow = 25.0
	HappyAbove   = 70.0
	ColdBelow    = 15.0
	HotAbove     = 30.0
)

// Labels lists every label in evaluation order.
var Labels = []Label{Dry, Thirsty, Happy, Cold, Hot, Normal}

// Classify is total and deterministic. Soil moisture wins over temperature;
// unknown inputs skip their rules.
func Classify(soilPercent, temperatureC measurement.Optional) Label {
	if soil, ok := soilPercent.Get(); ok {
		switch {
		case soil < DryBelow:
			return Dry
		case soil < ThirstyBelow:
			return Thirsty
		case soil > HappyAbove:
			return Happy
		}
	}

	if temp, ok := temperatureC.Get(); ok {
		switch {
		case temp < ColdBelow:
			return Cold
		case temp > HotAbove:
			return Hot
		}
	}

	return Normal
}

// ClassifySnapshot classifies the soil and air temperature of s.
func ClassifySnapshot(s measurement.Snapshot) Label {
	return Classify(s.SoilPercent, s.Environment.TemperatureC)
}

func (l Label) String() string {
	return string(l)
}
