package calibration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Generation identifies the calibration data layout.
type Generation int

const (
	GenHeightGrid Generation = 1
	GenReference  Generation = 2
	GenFocal      Generation = 3
)

func (g Generation) String() string {
	switch g {
	case GenHeightGrid:
		return "height-grid"
	case GenReference:
		return "reference"
	case GenFocal:
		return "focal"
	default:
		return fmt.Sprintf("generation(%d)", int(g))
	}
}

var (
	// ErrHeightUnset is returned when a correction is requested before an
	// object height has been probed or entered.
	ErrHeightUnset = errors.New("object height is not set")
	// ErrMissingData means the blob names a generation but lacks the data
	// that generation requires.
	ErrMissingData = errors.New("calibration data incomplete")
	// ErrUnknownGeneration means no generation could be inferred.
	ErrUnknownGeneration = errors.New("unrecognised calibration data")
	// ErrNoTilt is returned by SetTilt on models without tilt support.
	ErrNoTilt = errors.New("calibration model does not support tilt")
)

// FisheyeMatrix is the gen-1 device payload: lens intrinsics plus the
// correspondence points for the current height.
type FisheyeMatrix struct {
	K      [][]float64    `json:"k"`
	D      [][]float64    `json:"d"`
	Center [2]float64     `json:"center"`
	Points [][][2]float64 `json:"points"`
}

// Rotation3D is the device tilt command. Angles are radians.
type Rotation3D struct {
	RX float64 `json:"rx"`
	RY float64 `json:"ry"`
	RZ float64 `json:"rz"`
	H  float64 `json:"h"`
	TX float64 `json:"tx"`
	TY float64 `json:"ty"`
}

// Target receives perspective corrections. The camera endpoint of a machine
// implements it.
type Target interface {
	SetFisheyeParam(ctx context.Context, param json.RawMessage) error
	SetFisheyeMatrix(ctx context.Context, m FisheyeMatrix) error
	SetFisheyeGrid(ctx context.Context, g PerspectiveGrid) error
	SetFisheyeHeight(ctx context.Context, h float64) error
	SetLevelingData(ctx context.Context, l Leveling) error
	Set3DRotation(ctx context.Context, r Rotation3D) error
}

// State is the mutable input every model corrects from.
type State struct {
	ObjectHeight   float64
	LevelingOffset Leveling
	// ProbeX, ProbeY hold the last autofocus probe position when HasProbe.
	ProbeX, ProbeY float64
	HasProbe       bool
}

// Model is one generation's correction math.
type Model interface {
	Generation() Generation
	Grid() PerspectiveGrid
	// Setup pushes the height-independent parameters.
	Setup(ctx context.Context, t Target) error
	// Apply pushes the correction for s.
	Apply(ctx context.Context, t Target, s State) error
}

// TiltModel is implemented by models that compensate a 3-D camera tilt.
type TiltModel interface {
	Model
	// SetTilt stores t and reports whether the derived height delta changed.
	SetTilt(t Tilt) (dhChanged bool)
	// RotationFor returns the tilt command for objectHeight, false when no
	// tilt is set.
	RotationFor(objectHeight float64) (Rotation3D, bool)
}

type detectProbe struct {
	Version  *int            `json:"v"`
	Heights  json.RawMessage `json:"heights"`
	Points   json.RawMessage `json:"points"`
	RegParam json.RawMessage `json:"reg_param"`
	K        json.RawMessage `json:"k"`
	D        json.RawMessage `json:"d"`
}

// Detect parses a stored calibration blob and selects its generation by the
// fields present. grid and workarea describe the mounting the blob belongs to.
func Detect(blob []byte, grid PerspectiveGrid, wa Workarea) (Model, error) {
	var p detectProbe
	if err := json.Unmarshal(blob, &p); err != nil {
		return nil, fmt.Errorf("failed to parse calibration: %w", err)
	}

	switch {
	case p.Heights != nil || p.Points != nil || p.RegParam != nil:
		return ParseHeightGrid(blob, grid, wa)
	case p.Version != nil && *p.Version == 2:
		return ParseReference(blob, grid, wa)
	case p.Version != nil && (*p.Version == 3 || *p.Version == 4):
		return ParseFocal(blob, grid)
	case p.K != nil && p.D != nil:
		return nil, fmt.Errorf("%w: lens parameters without a version or height samples", ErrUnknownGeneration)
	default:
		return nil, ErrUnknownGeneration
	}
}
