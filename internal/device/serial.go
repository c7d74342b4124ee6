package device

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/camera.preview/internal/calibration"
	"github.com/banshee-data/camera.preview/internal/monitoring"
	"github.com/banshee-data/camera.preview/internal/serialmux"
)

// Requester is the part of a serial mux the machine needs.
type Requester interface {
	Request(ctx context.Context, command string) (string, error)
	Initialize(ctx context.Context) (string, error)
}

var _ Requester = serialmux.SerialMuxInterface(nil)

const (
	defaultCommandTimeout = 30 * time.Second
	motionTimeout         = 2 * time.Minute
)

// SerialMachine speaks the line protocol over a serial mux: one command per
// line, one JSON reply per command.
type SerialMachine struct {
	mux  Requester
	info Info
	logf func(string, ...interface{})

	mu        sync.Mutex
	mode      ControlMode
	lineCheck bool
}

type reply struct {
	Status        string          `json:"status"`
	Value         json.RawMessage `json:"value"`
	Error         []string        `json:"error"`
	Image         string          `json:"image"`
	CableUnstable bool            `json:"cable_unstable"`
}

// NewSerialMachine performs the handshake and reads the machine's identity.
func NewSerialMachine(ctx context.Context, mux Requester) (*SerialMachine, error) {
	line, err := mux.Initialize(ctx)
	if err != nil {
		return nil, err
	}
	r, err := decodeReply("hello", line)
	if err != nil {
		return nil, err
	}
	var info Info
	if err := json.Unmarshal(r.Value, &info); err != nil {
		return nil, fmt.Errorf("failed to parse machine identity: %w", err)
	}
	if info.Model == "" {
		return nil, errors.New("machine did not report a model")
	}
	return &SerialMachine{
		mux:  mux,
		info: info,
		logf: monitoring.Tagged("machine"),
	}, nil
}

func (m *SerialMachine) Info() Info { return m.info }

func decodeReply(command, line string) (reply, error) {
	var r reply
	if err := json.Unmarshal([]byte(line), &r); err != nil {
		return r, fmt.Errorf("malformed reply to %s: %w", command, err)
	}
	if r.Status != "ok" {
		codes := r.Error
		if len(codes) == 0 {
			codes = []string{"UNKNOWN"}
		}
		return r, &CommandError{Command: command, Codes: codes}
	}
	return r, nil
}

func (m *SerialMachine) call(ctx context.Context, timeout time.Duration, command string, args ...string) (reply, error) {
	line := command
	if len(args) > 0 {
		line += " " + strings.Join(args, " ")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	raw, err := m.mux.Request(ctx, line)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return reply{}, &CommandError{Command: command, Codes: []string{CodeTimeout}}
		}
		return reply{}, err
	}
	return decodeReply(command, raw)
}

func (m *SerialMachine) do(ctx context.Context, command string, args ...string) error {
	_, err := m.call(ctx, defaultCommandTimeout, command, args...)
	return err
}

func onOff(on bool) string {
	if on {
		return "1"
	}
	return "0"
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func (m *SerialMachine) EnterRawMode(ctx context.Context) error {
	if err := m.do(ctx, "enter_raw"); err != nil {
		return err
	}
	m.mu.Lock()
	m.mode = ModeRaw
	m.mu.Unlock()
	return nil
}

func (m *SerialMachine) EndRawMode(ctx context.Context) error {
	err := m.do(ctx, "end_raw")
	if err == nil || HasCode(err, CodeOperationError) {
		m.mu.Lock()
		m.mode = ModeNormal
		m.mu.Unlock()
	}
	return err
}

func (m *SerialMachine) ControlMode() ControlMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

func (m *SerialMachine) Home(ctx context.Context) error {
	_, err := m.call(ctx, motionTimeout, "home")
	return err
}

func (m *SerialMachine) HomeZ(ctx context.Context) error {
	_, err := m.call(ctx, motionTimeout, "home_z")
	return err
}

func (m *SerialMachine) SetRotary(ctx context.Context, on bool) error {
	return m.do(ctx, "set_rotary", onOff(on))
}

func (m *SerialMachine) SetPeripheral(ctx context.Context, p Peripheral, on bool) error {
	return m.do(ctx, string(p), onOff(on))
}

func (m *SerialMachine) Move(ctx context.Context, mv Move) error {
	args := []string{"x=" + formatFloat(mv.X), "y=" + formatFloat(mv.Y)}
	if mv.Z != nil {
		args = append(args, "z="+formatFloat(*mv.Z))
	}
	args = append(args, "f="+formatFloat(mv.F))
	_, err := m.call(ctx, motionTimeout, "move", args...)
	return err
}

func (m *SerialMachine) LooseMotor(ctx context.Context) error {
	return m.do(ctx, "loose_motor")
}

func (m *SerialMachine) StartLineCheck(ctx context.Context) error {
	if err := m.do(ctx, "linecheck_start"); err != nil {
		return err
	}
	m.mu.Lock()
	m.lineCheck = true
	m.mu.Unlock()
	return nil
}

func (m *SerialMachine) EndLineCheck(ctx context.Context) error {
	err := m.do(ctx, "linecheck_end")
	if err == nil || HasCode(err, CodeControlSocketMode) || HasCode(err, CodeUnknownCommand) {
		m.mu.Lock()
		m.lineCheck = false
		m.mu.Unlock()
	}
	return err
}

func (m *SerialMachine) LineCheckEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lineCheck
}

func (m *SerialMachine) ConnectCamera(ctx context.Context) error {
	if err := m.do(ctx, "camera_connect"); err != nil {
		return fmt.Errorf("%w: %w", ErrCameraLink, err)
	}
	return nil
}

func (m *SerialMachine) DisconnectCamera(ctx context.Context) error {
	return m.do(ctx, "camera_disconnect")
}

func (m *SerialMachine) SelectCamera(ctx context.Context, index int) error {
	if err := m.do(ctx, "set_camera", strconv.Itoa(index)); err != nil {
		return fmt.Errorf("%w: %w", ErrCameraLink, err)
	}
	return nil
}

func (m *SerialMachine) CameraCount(ctx context.Context) (int, error) {
	r, err := m.call(ctx, defaultCommandTimeout, "camera_count")
	if err != nil {
		return 0, err
	}
	var n int
	if err := json.Unmarshal(r.Value, &n); err != nil {
		return 0, fmt.Errorf("malformed camera count: %w", err)
	}
	return n, nil
}

func (m *SerialMachine) TakePhoto(ctx context.Context) (Photo, error) {
	r, err := m.call(ctx, defaultCommandTimeout, "require_frame")
	if err != nil {
		if HasCode(err, CodeCameraClosed) {
			return Photo{}, fmt.Errorf("%w: %w", ErrCameraLink, err)
		}
		return Photo{}, err
	}
	if r.Image == "" {
		return Photo{}, ErrEmptyFrame
	}
	data, err := base64.StdEncoding.DecodeString(r.Image)
	if err != nil {
		return Photo{}, fmt.Errorf("malformed frame: %w", err)
	}
	return Photo{Data: data, CableUnstable: r.CableUnstable}, nil
}

func (m *SerialMachine) GetSetting(ctx context.Context, name string) (string, error) {
	r, err := m.call(ctx, defaultCommandTimeout, "get_setting", name)
	if err != nil {
		return "", err
	}
	var s string
	if err := json.Unmarshal(r.Value, &s); err != nil {
		// numeric settings come back unquoted
		return strings.TrimSpace(string(r.Value)), nil
	}
	return s, nil
}

func (m *SerialMachine) LaserSpeed(ctx context.Context) (float64, error) {
	r, err := m.call(ctx, defaultCommandTimeout, "get_laser_speed")
	if err != nil {
		return 0, err
	}
	var v float64
	if err := json.Unmarshal(r.Value, &v); err != nil {
		return 0, fmt.Errorf("malformed laser speed: %w", err)
	}
	return v, nil
}

func (m *SerialMachine) SetLaserSpeed(ctx context.Context, v float64) error {
	return m.do(ctx, "set_laser_speed", formatFloat(v))
}

func (m *SerialMachine) FetchBlob(ctx context.Context, name string) ([]byte, error) {
	r, err := m.call(ctx, defaultCommandTimeout, "fetch_blob", name)
	if err != nil {
		return nil, err
	}
	var b64 string
	if err := json.Unmarshal(r.Value, &b64); err != nil {
		return nil, fmt.Errorf("malformed blob %s: %w", name, err)
	}
	return base64.StdEncoding.DecodeString(b64)
}

func (m *SerialMachine) StoreBlob(ctx context.Context, name string, data []byte) error {
	return m.do(ctx, "store_blob", name, base64.StdEncoding.EncodeToString(data))
}

func (m *SerialMachine) ProbeHeight(ctx context.Context) (calibration.ProbeResult, error) {
	r, err := m.call(ctx, motionTimeout, "probe_focal")
	if err != nil {
		return calibration.ProbeResult{}, err
	}
	var v struct {
		Height float64 `json:"height"`
		X      float64 `json:"x"`
		Y      float64 `json:"y"`
	}
	if err := json.Unmarshal(r.Value, &v); err != nil {
		return calibration.ProbeResult{}, fmt.Errorf("malformed probe result: %w", err)
	}
	return calibration.ProbeResult{Height: v.Height, X: v.X, Y: v.Y}, nil
}

func (m *SerialMachine) Reconnect(ctx context.Context) error {
	if err := m.do(ctx, "reconnect"); err != nil {
		return err
	}
	m.mu.Lock()
	m.mode = ModeNormal
	m.lineCheck = false
	m.mu.Unlock()
	return nil
}

func (m *SerialMachine) Kick(ctx context.Context) error {
	return m.do(ctx, "kick")
}

func (m *SerialMachine) sendJSON(ctx context.Context, command string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return m.do(ctx, command, string(b))
}

func (m *SerialMachine) SetFisheyeParam(ctx context.Context, param json.RawMessage) error {
	var compact bytes.Buffer
	if err := json.Compact(&compact, param); err != nil {
		return fmt.Errorf("malformed fisheye parameters: %w", err)
	}
	return m.do(ctx, "set_fisheye_param", compact.String())
}

func (m *SerialMachine) SetFisheyeMatrix(ctx context.Context, mat calibration.FisheyeMatrix) error {
	return m.sendJSON(ctx, "set_fisheye_matrix", roundMatrix(mat))
}

func (m *SerialMachine) SetFisheyeGrid(ctx context.Context, g calibration.PerspectiveGrid) error {
	return m.sendJSON(ctx, "set_fisheye_grid", struct {
		X [3]float64 `json:"x"`
		Y [3]float64 `json:"y"`
	}{g.X, g.Y})
}

func (m *SerialMachine) SetFisheyeHeight(ctx context.Context, h float64) error {
	return m.do(ctx, "set_fisheye_height", strconv.FormatFloat(h, 'f', 3, 64))
}

func (m *SerialMachine) SetLevelingData(ctx context.Context, l calibration.Leveling) error {
	return m.sendJSON(ctx, "set_leveling_data", l.Rounded())
}

func (m *SerialMachine) Set3DRotation(ctx context.Context, r calibration.Rotation3D) error {
	return m.sendJSON(ctx, "set_3d_rotation", r)
}

func round6(v float64) float64 { return math.Round(v*1e6) / 1e6 }

func roundMatrix(mat calibration.FisheyeMatrix) calibration.FisheyeMatrix {
	roundRows := func(in [][]float64) [][]float64 {
		out := make([][]float64, len(in))
		for i, row := range in {
			out[i] = make([]float64, len(row))
			for j, v := range row {
				out[i][j] = round6(v)
			}
		}
		return out
	}
	out := calibration.FisheyeMatrix{
		K:      roundRows(mat.K),
		D:      roundRows(mat.D),
		Center: [2]float64{round6(mat.Center[0]), round6(mat.Center[1])},
		Points: make([][][2]float64, len(mat.Points)),
	}
	for i, row := range mat.Points {
		out.Points[i] = make([][2]float64, len(row))
		for j, p := range row {
			out.Points[i][j] = [2]float64{round6(p[0]), round6(p[1])}
		}
	}
	return out
}

var _ Machine = (*SerialMachine)(nil)
