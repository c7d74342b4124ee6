package device

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"

	"github.com/banshee-data/camera.preview/internal/calibration"
)

// FakeMachine is an in-memory Machine for tests and the --dev daemon. Every
// command is recorded by its wire name; failures can be scripted per name.
type FakeMachine struct {
	// Gate, when set, runs before every command outside the lock. Tests use
	// it to hold a command open.
	Gate func(ctx context.Context, name string) error
	// Frame produces the n-th photo (0-based). Nil yields a synthetic
	// gradient.
	Frame func(n int) Photo

	mu        sync.Mutex
	info      Info
	calls     []string
	failures  map[string][]error
	sticky    map[string]error
	settings  map[string]string
	blobs     map[string][]byte
	cameras   int
	speed     float64
	probe     calibration.ProbeResult
	mode      ControlMode
	lineCheck bool
	camera    int
	connected bool
	photos    int

	moves     []Move
	heights   []float64
	matrices  []calibration.FisheyeMatrix
	grids     []calibration.PerspectiveGrid
	rotations []calibration.Rotation3D
	leveling  []calibration.Leveling
}

// NewFakeMachine returns a machine with one camera and laser speed 100.
func NewFakeMachine(info Info) *FakeMachine {
	return &FakeMachine{
		info:     info,
		failures: make(map[string][]error),
		sticky:   make(map[string]error),
		settings: make(map[string]string),
		blobs:    make(map[string][]byte),
		cameras:  1,
		speed:    100,
	}
}

func (f *FakeMachine) Info() Info { return f.info }

// FailNext makes the next call named name return err.
func (f *FakeMachine) FailNext(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[name] = append(f.failures[name], err)
}

// FailAlways makes every call named name return err until cleared with nil.
func (f *FakeMachine) FailAlways(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.sticky, name)
		return
	}
	f.sticky[name] = err
}

func (f *FakeMachine) SetSetting(name, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings[name] = value
}

func (f *FakeMachine) SetBlob(name string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blobs[name] = data
}

func (f *FakeMachine) SetCameraCount(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cameras = n
}

func (f *FakeMachine) SetProbeResult(r calibration.ProbeResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probe = r
}

// Calls returns the wire names of every command issued so far.
func (f *FakeMachine) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// ResetCalls forgets recorded calls.
func (f *FakeMachine) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func (f *FakeMachine) Moves() []Move {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Move(nil), f.moves...)
}

func (f *FakeMachine) FisheyeHeights() []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]float64(nil), f.heights...)
}

func (f *FakeMachine) Grids() []calibration.PerspectiveGrid {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]calibration.PerspectiveGrid(nil), f.grids...)
}

func (f *FakeMachine) Speed() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.speed
}

func (f *FakeMachine) SelectedCamera() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.camera
}

func (f *FakeMachine) CameraConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// record runs the gate, logs the call and returns any scripted failure.
// apply runs under the lock only when the call succeeds.
func (f *FakeMachine) record(ctx context.Context, name string, apply func()) error {
	if f.Gate != nil {
		if err := f.Gate(ctx, name); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	if q := f.failures[name]; len(q) > 0 {
		f.failures[name] = q[1:]
		if q[0] != nil {
			return q[0]
		}
	}
	if err, ok := f.sticky[name]; ok {
		return err
	}
	if apply != nil {
		apply()
	}
	return nil
}

func (f *FakeMachine) EnterRawMode(ctx context.Context) error {
	return f.record(ctx, "enter_raw", func() { f.mode = ModeRaw })
}

func (f *FakeMachine) EndRawMode(ctx context.Context) error {
	return f.record(ctx, "end_raw", func() { f.mode = ModeNormal })
}

func (f *FakeMachine) ControlMode() ControlMode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mode
}

func (f *FakeMachine) Home(ctx context.Context) error  { return f.record(ctx, "home", nil) }
func (f *FakeMachine) HomeZ(ctx context.Context) error { return f.record(ctx, "home_z", nil) }

func (f *FakeMachine) SetRotary(ctx context.Context, on bool) error {
	return f.record(ctx, "set_rotary", nil)
}

func (f *FakeMachine) SetPeripheral(ctx context.Context, p Peripheral, on bool) error {
	return f.record(ctx, string(p), nil)
}

func (f *FakeMachine) Move(ctx context.Context, m Move) error {
	return f.record(ctx, "move", func() { f.moves = append(f.moves, m) })
}

func (f *FakeMachine) LooseMotor(ctx context.Context) error {
	return f.record(ctx, "loose_motor", nil)
}

func (f *FakeMachine) StartLineCheck(ctx context.Context) error {
	return f.record(ctx, "linecheck_start", func() { f.lineCheck = true })
}

func (f *FakeMachine) EndLineCheck(ctx context.Context) error {
	return f.record(ctx, "linecheck_end", func() { f.lineCheck = false })
}

func (f *FakeMachine) LineCheckEnabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lineCheck
}

func (f *FakeMachine) ConnectCamera(ctx context.Context) error {
	if err := f.record(ctx, "camera_connect", func() { f.connected = true }); err != nil {
		return fmt.Errorf("%w: %w", ErrCameraLink, err)
	}
	return nil
}

func (f *FakeMachine) DisconnectCamera(ctx context.Context) error {
	return f.record(ctx, "camera_disconnect", func() { f.connected = false })
}

func (f *FakeMachine) SelectCamera(ctx context.Context, index int) error {
	if err := f.record(ctx, "set_camera", func() { f.camera = index }); err != nil {
		return fmt.Errorf("%w: %w", ErrCameraLink, err)
	}
	return nil
}

func (f *FakeMachine) CameraCount(ctx context.Context) (int, error) {
	var n int
	err := f.record(ctx, "camera_count", func() { n = f.cameras })
	return n, err
}

func (f *FakeMachine) TakePhoto(ctx context.Context) (Photo, error) {
	var n int
	if err := f.record(ctx, "require_frame", func() { n = f.photos; f.photos++ }); err != nil {
		return Photo{}, err
	}
	if f.Frame != nil {
		p := f.Frame(n)
		if len(p.Data) == 0 {
			return Photo{}, ErrEmptyFrame
		}
		return p, nil
	}
	return Photo{Data: SyntheticFrame(320, 240)}, nil
}

func (f *FakeMachine) GetSetting(ctx context.Context, name string) (string, error) {
	var v string
	err := f.record(ctx, "get_setting", func() { v = f.settings[name] })
	return v, err
}

func (f *FakeMachine) LaserSpeed(ctx context.Context) (float64, error) {
	var v float64
	err := f.record(ctx, "get_laser_speed", func() { v = f.speed })
	return v, err
}

func (f *FakeMachine) SetLaserSpeed(ctx context.Context, v float64) error {
	return f.record(ctx, "set_laser_speed", func() { f.speed = v })
}

func (f *FakeMachine) FetchBlob(ctx context.Context, name string) ([]byte, error) {
	var (
		b  []byte
		ok bool
	)
	if err := f.record(ctx, "fetch_blob", func() { b, ok = f.blobs[name] }); err != nil {
		return nil, err
	}
	if !ok {
		return nil, &CommandError{Command: "fetch_blob", Codes: []string{"NOT_FOUND"}}
	}
	return b, nil
}

func (f *FakeMachine) StoreBlob(ctx context.Context, name string, data []byte) error {
	return f.record(ctx, "store_blob", func() { f.blobs[name] = data })
}

func (f *FakeMachine) ProbeHeight(ctx context.Context) (calibration.ProbeResult, error) {
	var r calibration.ProbeResult
	err := f.record(ctx, "probe_focal", func() { r = f.probe })
	return r, err
}

func (f *FakeMachine) Reconnect(ctx context.Context) error {
	return f.record(ctx, "reconnect", func() {
		f.mode = ModeNormal
		f.lineCheck = false
	})
}

func (f *FakeMachine) Kick(ctx context.Context) error { return f.record(ctx, "kick", nil) }

func (f *FakeMachine) SetFisheyeParam(ctx context.Context, param json.RawMessage) error {
	return f.record(ctx, "set_fisheye_param", nil)
}

func (f *FakeMachine) SetFisheyeMatrix(ctx context.Context, m calibration.FisheyeMatrix) error {
	return f.record(ctx, "set_fisheye_matrix", func() { f.matrices = append(f.matrices, m) })
}

func (f *FakeMachine) SetFisheyeGrid(ctx context.Context, g calibration.PerspectiveGrid) error {
	return f.record(ctx, "set_fisheye_grid", func() { f.grids = append(f.grids, g) })
}

func (f *FakeMachine) SetFisheyeHeight(ctx context.Context, h float64) error {
	return f.record(ctx, "set_fisheye_height", func() { f.heights = append(f.heights, h) })
}

func (f *FakeMachine) SetLevelingData(ctx context.Context, l calibration.Leveling) error {
	return f.record(ctx, "set_leveling_data", func() { f.leveling = append(f.leveling, l) })
}

func (f *FakeMachine) Set3DRotation(ctx context.Context, r calibration.Rotation3D) error {
	return f.record(ctx, "set_3d_rotation", func() { f.rotations = append(f.rotations, r) })
}

// SyntheticFrame encodes a w×h PNG with a diagonal gradient.
func SyntheticFrame(w, h int) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(255 * x / max(w-1, 1)),
				G: uint8(255 * y / max(h-1, 1)),
				B: 128,
				A: 255,
			})
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

var _ Machine = (*FakeMachine)(nil)
