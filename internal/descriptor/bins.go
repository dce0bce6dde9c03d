package descriptor

import "math"

const (
	// NumDistanceBins covers 0..40 Å in 1 Å steps.
	NumDistanceBins = 41
	// NumAngleBins covers 0..180° in 20° steps.
	NumAngleBins = 10
	// AngleStep is the width of one angle bin in degrees.
	AngleStep = 20.0
)

// DistanceBin is a distance quantized to whole Ångström.
type DistanceBin uint8

// AngleBin is an angle quantized to 20° steps.
type AngleBin uint8

// DistanceBinOf rounds to the nearest bin and clamps values outside 0..40 Å
// to the boundary bins. NaN maps to bin 0.
func DistanceBinOf(distance float64) DistanceBin {
	return DistanceBin(clampRound(distance, NumDistanceBins-1))
}

// AngleBinOf rounds to the nearest 20° bin and clamps values outside
// 0..180° to the boundary bins. NaN maps to bin 0.
func AngleBinOf(degrees float64) AngleBin {
	return AngleBin(clampRound(degrees/AngleStep, NumAngleBins-1))
}

func clampRound(v float64, limit int) int {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= float64(limit) {
		return limit
	}
	return int(math.Round(v))
}

func (b DistanceBin) Valid() bool { return int(b) < NumDistanceBins }

// Angstrom returns the bin centre.
func (b DistanceBin) Angstrom() float64 { return float64(b) }

func (b AngleBin) Valid() bool { return int(b) < NumAngleBins }

// Degrees returns the bin centre.
func (b AngleBin) Degrees() float64 { return float64(b) * AngleStep }

// Shift moves b by delta bins, clamping to the valid range instead of
// wrapping.
func (b DistanceBin) Shift(delta int) DistanceBin {
	return DistanceBin(clampInt(int(b)+delta, NumDistanceBins-1))
}

func (b AngleBin) Shift(delta int) AngleBin {
	return AngleBin(clampInt(int(b)+delta, NumAngleBins-1))
}

func clampInt(v, limit int) int {
	if v < 0 {
		return 0
	}
	if v > limit {
		return limit
	}
	return v
}
