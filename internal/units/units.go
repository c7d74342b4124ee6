// Package units provides shared constants and conversions for machine
// coordinates, image resolution and motion speed.
package units

import (
	"math"
	"time"
)

// Movement speed levels selectable for preview travel.
const (
	SpeedFast   = "fast"
	SpeedMedium = "medium"
	SpeedSlow   = "slow"
)

// ValidSpeedLevels contains all valid movement speed levels
var ValidSpeedLevels = []string{SpeedFast, SpeedMedium, SpeedSlow}

// IsValidSpeedLevel checks if the given level is in ValidSpeedLevels
func IsValidSpeedLevel(level string) bool {
	for _, l := range ValidSpeedLevels {
		if level == l {
			return true
		}
	}
	return false
}

// GetValidSpeedLevelsString returns a comma-separated string of valid levels for error messages
func GetValidSpeedLevelsString() string {
	return "fast, medium, slow"
}

// MMToPx converts millimeters to pixels at dpmm dots per millimeter.
func MMToPx(mm, dpmm float64) float64 {
	return mm * dpmm
}

// PxToMM converts pixels to millimeters at dpmm dots per millimeter.
func PxToMM(px, dpmm float64) float64 {
	if dpmm == 0 {
		return 0
	}
	return px / dpmm
}

// FeedrateToMMPerMs converts a feedrate in mm/min to mm/ms.
func FeedrateToMMPerMs(feedrate float64) float64 {
	return feedrate / 60 / 1000
}

// TravelTime returns how long a move of (dx, dy) mm takes when each axis runs
// at its own speed in mm/ms. An axis with zero speed contributes nothing.
func TravelTime(dx, dy, speedX, speedY float64) time.Duration {
	var tx, ty float64
	if speedX > 0 {
		tx = dx / speedX
	}
	if speedY > 0 {
		ty = dy / speedY
	}
	ms := math.Hypot(tx, ty)
	return time.Duration(ms * float64(time.Millisecond))
}
