// Package measurement assembles one sampling cycle into an immutable snapshot.
package measurement

import "time"

// Environment holds ambient air readings. Either value may be unknown.
type Environment struct {
	TemperatureC    Optional
	HumidityPercent Optional
}

// UnknownEnvironment is what a failed environment read degrades to.
func UnknownEnvironment() Environment {
	return Environment{TemperatureC: Unknown(), HumidityPercent: Unknown()}
}

// Snapshot is the unit of data moving through the pipeline. It is passed by
// value and never modified after the Collector builds it.
type Snapshot struct {
	SoilRaw        int
	SoilPercent    Optional
	SoilMillivolts Optional
	Environment    Environment
	Timestamp      time.Time
	DeviceUID      string
}

// TimestampMs returns the snapshot time in Unix milliseconds.
func (s Snapshot) TimestampMs() int64 {
	return s.Timestamp.UnixMilli()
}
