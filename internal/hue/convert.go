package hue

import (
	"fmt"
	"math"
)

// Device unit limits.
const (
	MaxBrightness = 255
	miredFactor   = 1_000_000
)

// ToDeviceBrightness converts a 0-100 percentage into the bridge's 0-255 scale.
func ToDeviceBrightness(percent float64) (uint8, error) {
	if math.IsNaN(percent) || percent < 0 || percent > 100 {
		return 0, fmt.Errorf("brightness %v%%: %w (want 0-100)", percent, ErrOutOfRange)
	}
	return uint8(math.Round(percent / 100 * MaxBrightness)), nil
}

// FromDeviceBrightness converts a 0-255 brightness back to a percentage.
func FromDeviceBrightness(bri uint8) float64 {
	return float64(bri) / MaxBrightness * 100
}

// ToMired converts a color temperature in kelvin to mired (reciprocal megakelvin).
func ToMired(kelvin uint16) (uint16, error) {
	if kelvin == 0 {
		return 0, fmt.Errorf("temperature 0K: %w", ErrOutOfRange)
	}
	mired := math.Round(miredFactor / float64(kelvin))
	if mired > math.MaxUint16 {
		return 0, fmt.Errorf("temperature %dK: %w", kelvin, ErrOutOfRange)
	}
	return uint16(mired), nil
}

// ToKelvin converts mired back to kelvin. A zero mired yields zero.
func ToKelvin(mired uint16) uint16 {
	if mired == 0 {
		return 0
	}
	kelvin := math.Round(miredFactor / float64(mired))
	if kelvin > math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(kelvin)
}
