package calibration

import (
	"context"
	"encoding/json"
	"fmt"
)

// SourceNoPlate marks calibration done without the reference plate; such
// calibrations are referenced to the centre point.
const SourceNoPlate = "np"

// Reference is the gen-2 model. The device dewarps from its own parameters;
// only a single corrected height is sent.
type Reference struct {
	Params       json.RawMessage
	Source       string
	LevelingData Leveling

	grid     PerspectiveGrid
	workarea Workarea
}

type referenceJSON struct {
	K            json.RawMessage `json:"k"`
	D            json.RawMessage `json:"d"`
	Source       string          `json:"source"`
	LevelingData Leveling        `json:"leveling_data"`
}

// ParseReference decodes a gen-2 blob. Lens parameters are required; leveling
// data is optional and reads as zero everywhere when absent.
func ParseReference(blob []byte, grid PerspectiveGrid, wa Workarea) (*Reference, error) {
	var raw referenceJSON
	if err := json.Unmarshal(blob, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse reference calibration: %w", err)
	}
	if raw.K == nil || raw.D == nil {
		return nil, fmt.Errorf("%w: lens parameters k and d are required", ErrMissingData)
	}
	return &Reference{
		Params:       json.RawMessage(append([]byte(nil), blob...)),
		Source:       raw.Source,
		LevelingData: raw.LevelingData,
		grid:         grid,
		workarea:     wa,
	}, nil
}

func (m *Reference) Generation() Generation { return GenReference }
func (m *Reference) Grid() PerspectiveGrid  { return m.grid }

func (m *Reference) Setup(ctx context.Context, t Target) error {
	if err := t.SetFisheyeParam(ctx, m.Params); err != nil {
		return fmt.Errorf("failed to set fisheye parameters: %w", err)
	}
	if err := t.SetFisheyeGrid(ctx, m.grid); err != nil {
		return fmt.Errorf("failed to set perspective grid: %w", err)
	}
	return nil
}

// RefKey is the leveling point the calibration was referenced to.
func (m *Reference) RefKey() string {
	if m.Source == SourceNoPlate {
		return "E"
	}
	return "A"
}

// AutoFocusRefKey is the leveling point nearest the last probe position. With
// no probe on record it falls back to RefKey so both terms cancel.
func (m *Reference) AutoFocusRefKey(s State) string {
	if !s.HasProbe {
		return m.RefKey()
	}
	return RegionKey(s.ProbeX, s.ProbeY, m.workarea.Width, m.workarea.Height)
}

// CorrectedHeight is
// objectHeight + L[ref] - L[af] - O[ref] + O[af].
func (m *Reference) CorrectedHeight(s State) float64 {
	ref := m.RefKey()
	af := m.AutoFocusRefKey(s)
	return s.ObjectHeight +
		m.LevelingData.Get(ref) - m.LevelingData.Get(af) -
		s.LevelingOffset.Get(ref) + s.LevelingOffset.Get(af)
}

func (m *Reference) Apply(ctx context.Context, t Target, s State) error {
	if err := t.SetFisheyeHeight(ctx, m.CorrectedHeight(s)); err != nil {
		return fmt.Errorf("failed to set fisheye height: %w", err)
	}
	return nil
}
