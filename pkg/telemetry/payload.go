// Package telemetry builds the outbound payload and rate-limits periodic
// publishes.
package telemetry

import (
	"encoding/json"

	"github.com/itohio/gosoil/pkg/measurement"
	"github.com/itohio/gosoil/pkg/mood"
)

// TimestampLayout is ISO-8601 UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Measurements is the nested measurement object. Unknown values encode as null.
type Measurements struct {
	AirTemperatureC     measurement.Optional `json:"airTemperatureC"`
	AirHumidityPercent  measurement.Optional `json:"airHumidityPercent"`
	SoilMoisturePercent measurement.Optional `json:"soilMoisturePercent"`
	SoilMoistureRaw     int                  `json:"soilMoistureRaw"`
	Timestamp           string               `json:"timestamp"`
}

// Payload is the message published on the data topic.
type Payload struct {
	DeviceUID     string       `json:"deviceUid"`
	Measurements  Measurements `json:"measurements"`
	Mood          mood.Label   `json:"mood"`
	FriendVisible bool         `json:"friendVisible"`
}

// NewPayload maps a snapshot and its label to the wire payload.
func NewPayload(s measurement.Snapshot, label mood.Label) Payload {
	return Payload{
		DeviceUID: s.DeviceUID,
		Measurements: Measurements{
			AirTemperatureC:     s.Environment.TemperatureC,
			AirHumidityPercent:  s.Environment.HumidityPercent,
			SoilMoisturePercent: s.SoilPercent,
			SoilMoistureRaw:     s.SoilRaw,
			Timestamp:           s.Timestamp.UTC().Format(TimestampLayout),
		},
		Mood:          label,
		FriendVisible: true,
	}
}

// Encode renders the payload for s as JSON.
func Encode(s measurement.Snapshot, label mood.Label) ([]byte, error) {
	return json.Marshal(NewPayload(s, label))
}
