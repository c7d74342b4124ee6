package calibration

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

type recordingTarget struct {
	mu        sync.Mutex
	calls     []string
	heights   []float64
	matrices  []FisheyeMatrix
	rotations []Rotation3D
	leveling  []Leveling
	failOn    string
}

var errTarget = errors.New("target failure")

func (r *recordingTarget) record(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, name)
	if r.failOn == name {
		return errTarget
	}
	return nil
}

func (r *recordingTarget) SetFisheyeParam(ctx context.Context, param json.RawMessage) error {
	return r.record("param")
}

func (r *recordingTarget) SetFisheyeMatrix(ctx context.Context, m FisheyeMatrix) error {
	r.mu.Lock()
	r.matrices = append(r.matrices, m)
	r.mu.Unlock()
	return r.record("matrix")
}

func (r *recordingTarget) SetFisheyeGrid(ctx context.Context, g PerspectiveGrid) error {
	return r.record("grid")
}

func (r *recordingTarget) SetFisheyeHeight(ctx context.Context, h float64) error {
	r.mu.Lock()
	r.heights = append(r.heights, h)
	r.mu.Unlock()
	return r.record("height")
}

func (r *recordingTarget) SetLevelingData(ctx context.Context, l Leveling) error {
	r.mu.Lock()
	r.leveling = append(r.leveling, l)
	r.mu.Unlock()
	return r.record("leveling")
}

func (r *recordingTarget) Set3DRotation(ctx context.Context, rot Rotation3D) error {
	r.mu.Lock()
	r.rotations = append(r.rotations, rot)
	r.mu.Unlock()
	return r.record("rotation")
}

func (r *recordingTarget) callNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type staticOffsets struct {
	offset Leveling
	err    error
	loads  int
}

func (s *staticOffsets) LoadLevelingOffset(ctx context.Context) (Leveling, error) {
	s.loads++
	return s.offset.Clone(), s.err
}
