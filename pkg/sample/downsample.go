package sample

// Downsample reduces readings to at most maxPoints for display or export.
// Destination-based: reuses dst if it has sufficient capacity, otherwise allocates new.
// Digital lines are OR-ed over each bucket so short pulses survive the reduction;
// analog values are taken from the first reading of the bucket.
func Downsample(dst []Reading, readings []Reading, maxPoints int) []Reading {
	if maxPoints <= 0 || len(readings) <= maxPoints {
		if cap(dst) >= len(readings) {
			dst = dst[:len(readings)]
			copy(dst, readings)
			return dst
		}
		result := make([]Reading, len(readings))
		copy(result, readings)
		return result
	}

	if cap(dst) >= maxPoints {
		dst = dst[:0]
	} else {
		dst = make([]Reading, 0, maxPoints)
	}

	step := float64(len(readings)) / float64(maxPoints)

	for i := range maxPoints {
		start := int(float64(i) * step)
		end := int(float64(i+1) * step)
		if end > len(readings) {
			end = len(readings)
		}
		if start >= end {
			continue
		}
		r := readings[start]
		for _, o := range readings[start+1 : end] {
			r.Digital |= o.Digital
		}
		dst = append(dst, r)
	}

	return dst
}
