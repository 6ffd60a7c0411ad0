package probe

// window keeps the most recent codes of one channel for oversampling.
type window struct {
	samples []RawSample
	size    int
}

func newWindow(size int) *window {
	if size <= 0 {
		size = 1 // No averaging if invalid
	}
	return &window{
		samples: make([]RawSample, 0, size),
		size:    size,
	}
}

// add appends a sample and drops the oldest one once the window is full.
func (w *window) add(s RawSample) {
	if len(w.samples) == w.size {
		copy(w.samples, w.samples[1:])
		w.samples = w.samples[:w.size-1]
	}
	w.samples = append(w.samples, s)
}

func (w *window) reset() {
	w.samples = w.samples[:0]
}

func (w *window) len() int {
	return len(w.samples)
}

// average returns a sample carrying the rounded mean code and the most recent
// sample's timestamps.
func (w *window) average() (RawSample, bool) {
	if len(w.samples) == 0 {
		return RawSample{}, false
	}
	return averageSamples(w.samples), true
}

// averageSamples averages a slice of RawSamples.
// Uses the most recent sample's timestamp and channel.
func averageSamples(samples []RawSample) RawSample {
	if len(samples) == 0 {
		return RawSample{}
	}

	var sum uint32
	last := samples[len(samples)-1]
	for _, s := range samples {
		sum += uint32(s.Code)
	}

	n := float64(len(samples))
	return RawSample{
		ChannelID: last.ChannelID,
		Code:      uint16((float64(sum) / n) + 0.5), // Round to nearest
		DeviceMs:  last.DeviceMs,
		Timestamp: last.Timestamp,
	}
}
