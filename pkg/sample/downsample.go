package sample

// Decimate reduces src to at most maxPoints values by picking evenly spaced
// elements. The first element is always kept. dst is reused when it has
// enough capacity. A non-positive maxPoints copies src unchanged.
func Decimate[T any](dst, src []T, maxPoints int) []T {
	if maxPoints <= 0 || len(src) <= maxPoints {
		if cap(dst) >= len(src) {
			dst = dst[:len(src)]
		} else {
			dst = make([]T, len(src))
		}
		copy(dst, src)
		return dst
	}

	if cap(dst) >= maxPoints {
		dst = dst[:0]
	} else {
		dst = make([]T, 0, maxPoints)
	}

	step := float64(len(src)) / float64(maxPoints)
	for i := range maxPoints {
		if idx := int(float64(i) * step); idx < len(src) {
			dst = append(dst, src[idx])
		}
	}
	return dst
}
