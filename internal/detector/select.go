package detector

// Best returns the detection with the highest confidence, or nil if dets is empty.
// Ties keep the first detection encountered.
func Best(dets []Detection) *Detection {
	if len(dets) == 0 {
		return nil
	}

	best := 0
	for i := 1; i < len(dets); i++ {
		if dets[i].Confidence > dets[best].Confidence {
			best = i
		}
	}

	d := dets[best]
	return &d
}

// Postprocessor defines a function that filters or modifies a set of detections.
type Postprocessor func([]Detection) []Detection

// NewScoreFilter returns a Postprocessor that drops detections below a confidence.
func NewScoreFilter(conf float64) Postprocessor {
	return func(in []Detection) []Detection {
		out := make([]Detection, 0, len(in))
		for _, d := range in {
			if d.Confidence >= conf {
				out = append(out, d)
			}
		}
		return out
	}
}
