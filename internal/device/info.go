// Package device describes the laser-cutting machines the preview engine
// drives and the command surface it needs from them.
package device

import (
	"strings"

	"golang.org/x/mod/semver"

	"github.com/banshee-data/camera.preview/internal/calibration"
)

// Family is the camera topology of a model.
type Family int

const (
	FamilyUnknown Family = iota
	// FamilyFixed has one camera on the laser head with a fixed offset.
	FamilyFixed
	// FamilyTiled has a fisheye camera on the laser head; previews are
	// assembled from tiles. A second, wide-angle camera may be present.
	FamilyTiled
	// FamilyWideAngle has a single lid camera covering the whole workarea.
	FamilyWideAngle
)

func (f Family) String() string {
	switch f {
	case FamilyFixed:
		return "fixed"
	case FamilyTiled:
		return "tiled"
	case FamilyWideAngle:
		return "wide-angle"
	}
	return "unknown"
}

// Info identifies one machine. It is immutable for the life of a session.
type Info struct {
	Model    string `json:"model"`
	Name     string `json:"name"`
	Serial   string `json:"serial"`
	Firmware string `json:"firmware"`
}

// Spec is the static per-model data the preview engine needs.
type Spec struct {
	Family   Family
	Workarea calibration.Workarea
	// MaxSpeedX and MaxSpeedY are the per-axis feedrate limits, mm/min.
	MaxSpeedX float64
	MaxSpeedY float64
	// MovementSpeed is the default preview travel feedrate, mm/min.
	MovementSpeed float64
}

var models = map[string]Spec{
	"fbm1":    {FamilyFixed, calibration.Workarea{Width: 300, Height: 210, Depth: 45}, 18000, 18000, 18000},
	"fbb1b":   {FamilyFixed, calibration.Workarea{Width: 400, Height: 375, Depth: 45}, 18000, 18000, 18000},
	"fbb1p":   {FamilyFixed, calibration.Workarea{Width: 600, Height: 375, Depth: 45}, 18000, 18000, 18000},
	"fhexa1":  {FamilyFixed, calibration.Workarea{Width: 740, Height: 410, Depth: 40}, 54000, 54000, 18000},
	"ado1":    {FamilyWideAngle, calibration.Workarea{Width: 430, Height: 300, Depth: 40.5}, 24000, 24000, 18000},
	"fad1":    {FamilyWideAngle, calibration.Workarea{Width: 430, Height: 300, Depth: 40.5}, 24000, 24000, 18000},
	"fbb2":    {FamilyTiled, calibration.Workarea{Width: 600, Height: 375, Depth: 40}, 54000, 36000, 42000},
	"fhx2rf3": {FamilyTiled, calibration.Workarea{Width: 740, Height: 420, Depth: 40}, 54000, 42000, 42000},
	"fhx2rf6": {FamilyTiled, calibration.Workarea{Width: 740, Height: 420, Depth: 40}, 54000, 42000, 42000},
}

// LookupSpec returns the model's static data.
func LookupSpec(model string) (Spec, bool) {
	s, ok := models[strings.ToLower(model)]
	return s, ok
}

// Family maps the model to its camera topology.
func (i Info) Family() Family {
	s, ok := LookupSpec(i.Model)
	if !ok {
		return FamilyUnknown
	}
	return s.Family
}

// Spec returns the model data, zero for unknown models.
func (i Info) Spec() Spec {
	s, _ := LookupSpec(i.Model)
	return s
}

// IsHexaRF reports whether the model is a HEXA RF, which uses its own
// perspective grids.
func (i Info) IsHexaRF() bool {
	return strings.HasPrefix(strings.ToLower(i.Model), "fhx2rf")
}

// SameMachine reports whether i and o describe the same physical machine.
func (i Info) SameMachine(o Info) bool {
	return i.Serial == o.Serial && strings.EqualFold(i.Model, o.Model)
}

// Feature is a firmware capability gated on a minimum version.
type Feature string

const (
	// FeatureLineCheck: raw mode is kept alive with line-check.
	FeatureLineCheck Feature = "MAINTAIN_WITH_LINECHECK"
	// FeatureBorderless: the camera offset has a borderless variant.
	FeatureBorderless Feature = "BORDERLESS_MODE"
	// FeatureDiode: diode module movement speeds apply.
	FeatureDiode Feature = "DIODE_AND_AUTOFOCUS"
)

var featureVersions = map[Feature]string{
	FeatureLineCheck:  "v4.1.1",
	FeatureBorderless: "v2.5.1",
	FeatureDiode:      "v3.0.0",
}

// Supports reports whether the firmware meets the feature's minimum
// version. Unparseable versions support nothing.
func (i Info) Supports(f Feature) bool {
	minVersion, ok := featureVersions[f]
	if !ok {
		return false
	}
	v := i.Firmware
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return false
	}
	return semver.Compare(v, minVersion) >= 0
}
