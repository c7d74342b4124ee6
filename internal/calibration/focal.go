package calibration

import (
	"context"
	"encoding/json"
	"fmt"
)

// Focal is the gen-3/4 model. The object height comes straight from the
// focal-distance probe; no per-point leveling math applies.
type Focal struct {
	Version      int
	Params       json.RawMessage
	LevelingData Leveling

	grid PerspectiveGrid
}

type focalJSON struct {
	Version      int             `json:"v"`
	K            json.RawMessage `json:"k"`
	D            json.RawMessage `json:"d"`
	LevelingData Leveling        `json:"leveling_data"`
}

// ParseFocal decodes a gen-3/4 blob. Lens parameters are required.
func ParseFocal(blob []byte, grid PerspectiveGrid) (*Focal, error) {
	var raw focalJSON
	if err := json.Unmarshal(blob, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse focal calibration: %w", err)
	}
	if raw.K == nil || raw.D == nil {
		return nil, fmt.Errorf("%w: lens parameters k and d are required", ErrMissingData)
	}
	return &Focal{
		Version:      raw.Version,
		Params:       json.RawMessage(append([]byte(nil), blob...)),
		LevelingData: raw.LevelingData,
		grid:         grid,
	}, nil
}

func (m *Focal) Generation() Generation { return GenFocal }
func (m *Focal) Grid() PerspectiveGrid  { return m.grid }

// Setup pushes the lens parameters and grid. Version 4 devices also take the
// leveling data and apply it themselves.
func (m *Focal) Setup(ctx context.Context, t Target) error {
	if err := t.SetFisheyeParam(ctx, m.Params); err != nil {
		return fmt.Errorf("failed to set fisheye parameters: %w", err)
	}
	if err := t.SetFisheyeGrid(ctx, m.grid); err != nil {
		return fmt.Errorf("failed to set perspective grid: %w", err)
	}
	if m.Version >= 4 && m.LevelingData != nil {
		if err := t.SetLevelingData(ctx, m.LevelingData.Rounded()); err != nil {
			return fmt.Errorf("failed to set leveling data: %w", err)
		}
	}
	return nil
}

func (m *Focal) Apply(ctx context.Context, t Target, s State) error {
	if err := t.SetFisheyeHeight(ctx, s.ObjectHeight); err != nil {
		return fmt.Errorf("failed to set fisheye height: %w", err)
	}
	return nil
}
