package mathutil

import (
	"golang.org/x/exp/constraints"
)

func CeilInts[T constraints.Integer](a, b T) T {
	if (a < 0) == (b < 0) {
		if a > 0 {
			return (a + b - 1) / b
		}
		return (a + b + 1) / b
	}
	return a / b
}

// Percent returns done/total as a whole percentage in [0, 100], rounding up so
// that any progress is visible. A non-positive total reports 100.
func Percent[T constraints.Integer](done, total T) int {
	switch {
	case total <= 0:
		return 100
	case done <= 0:
		return 0
	case done >= total:
		return 100
	}
	return int(CeilInts(int64(done)*100, int64(total)))
}
