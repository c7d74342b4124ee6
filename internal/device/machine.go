package device

import (
	"context"

	"github.com/banshee-data/camera.preview/internal/calibration"
)

// Photo is one frame from the machine's camera.
type Photo struct {
	Data []byte
	// CableUnstable is set when the machine detected a flaky camera cable
	// while taking the frame.
	CableUnstable bool
}

// ControlMode is the machine's current command mode.
type ControlMode int

const (
	ModeNormal ControlMode = iota
	ModeRaw
)

func (m ControlMode) String() string {
	if m == ModeRaw {
		return "raw"
	}
	return "normal"
}

// Move is a raw-mode travel command. Z is left alone when nil.
type Move struct {
	X, Y float64
	Z    *float64
	// F is the feedrate in mm/min.
	F float64
}

// Peripheral is a switchable accessory that must be off during preview.
type Peripheral string

const (
	Fan   Peripheral = "fan"
	Air   Peripheral = "air"
	Water Peripheral = "water"
)

// Machine is everything the preview engine asks of a connected machine.
// Implementations serialise their own commands; callers may assume one
// command at a time is on the wire.
type Machine interface {
	calibration.Target

	Info() Info

	EnterRawMode(ctx context.Context) error
	EndRawMode(ctx context.Context) error
	ControlMode() ControlMode

	Home(ctx context.Context) error
	HomeZ(ctx context.Context) error
	SetRotary(ctx context.Context, on bool) error
	SetPeripheral(ctx context.Context, p Peripheral, on bool) error
	Move(ctx context.Context, m Move) error
	LooseMotor(ctx context.Context) error

	StartLineCheck(ctx context.Context) error
	EndLineCheck(ctx context.Context) error
	LineCheckEnabled() bool

	ConnectCamera(ctx context.Context) error
	DisconnectCamera(ctx context.Context) error
	SelectCamera(ctx context.Context, index int) error
	CameraCount(ctx context.Context) (int, error)
	TakePhoto(ctx context.Context) (Photo, error)

	GetSetting(ctx context.Context, name string) (string, error)
	LaserSpeed(ctx context.Context) (float64, error)
	SetLaserSpeed(ctx context.Context, v float64) error

	FetchBlob(ctx context.Context, name string) ([]byte, error)
	StoreBlob(ctx context.Context, name string, data []byte) error

	// ProbeHeight runs the focal probe in raw mode.
	ProbeHeight(ctx context.Context) (calibration.ProbeResult, error)

	// Reconnect re-establishes the control channel after a timeout.
	Reconnect(ctx context.Context) error
	// Kick releases this client's control of the machine.
	Kick(ctx context.Context) error
}

// Connector resolves a machine handle to a live connection.
type Connector interface {
	Connect(ctx context.Context, info Info) (Machine, error)
}

// Static is a Connector over a fixed set of machines, keyed by serial.
type Static map[string]Machine

func (s Static) Connect(_ context.Context, info Info) (Machine, error) {
	m, ok := s[info.Serial]
	if !ok || !m.Info().SameMachine(info) {
		return nil, ErrUnknownMachine
	}
	return m, nil
}

var _ calibration.HeightProber = Machine(nil)
