package device

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFamily(t *testing.T) {
	t.Parallel()
	tests := []struct {
		model string
		want  Family
	}{
		{"fbm1", FamilyFixed},
		{"FBB1P", FamilyFixed},
		{"fhexa1", FamilyFixed},
		{"ado1", FamilyWideAngle},
		{"fbb2", FamilyTiled},
		{"fhx2rf6", FamilyTiled},
		{"nope", FamilyUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.want, Info{Model: tt.model}.Family())
		})
	}
	assert.Equal(t, "wide-angle", FamilyWideAngle.String())
	assert.True(t, Info{Model: "fhx2rf3"}.IsHexaRF())
	assert.False(t, Info{Model: "fbb2"}.IsHexaRF())
}

func TestSupports(t *testing.T) {
	t.Parallel()
	tests := []struct {
		firmware string
		feature  Feature
		want     bool
	}{
		{"4.1.1", FeatureLineCheck, true},
		{"v4.2.0", FeatureLineCheck, true},
		{"4.1.0", FeatureLineCheck, false},
		{"4.1.1-beta", FeatureLineCheck, false},
		{"garbage", FeatureLineCheck, false},
		{"3.0.0", FeatureDiode, true},
		{"9.9.9", Feature("NOT_A_FEATURE"), false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s", tt.feature, tt.firmware), func(t *testing.T) {
			assert.Equal(t, tt.want, Info{Firmware: tt.firmware}.Supports(tt.feature))
		})
	}
}

func TestSameMachine(t *testing.T) {
	t.Parallel()
	a := Info{Model: "fbb2", Serial: "X1"}
	assert.True(t, a.SameMachine(Info{Model: "FBB2", Serial: "X1", Name: "renamed"}))
	assert.False(t, a.SameMachine(Info{Model: "fbb2", Serial: "X2"}))
}

func TestStaticConnector(t *testing.T) {
	t.Parallel()
	info := Info{Model: "fbm1", Serial: "S"}
	m := NewFakeMachine(info)
	conn := Static{"S": m}

	got, err := conn.Connect(context.Background(), info)
	require.NoError(t, err)
	assert.Same(t, m, got)

	_, err = conn.Connect(context.Background(), Info{Model: "fbm1", Serial: "T"})
	assert.ErrorIs(t, err, ErrUnknownMachine)
}

func TestCommandError(t *testing.T) {
	t.Parallel()
	err := fmt.Errorf("ending: %w", &CommandError{Command: "end_raw", Codes: []string{CodeOperationError}})
	assert.True(t, HasCode(err, CodeOperationError))
	assert.False(t, HasCode(err, CodeTimeout))
	assert.False(t, HasCode(errors.New("plain"), CodeTimeout))
	assert.Contains(t, err.Error(), "machine rejected end_raw: OPERATION_ERROR")
}

func TestFakeMachineScriptedFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewFakeMachine(Info{Model: "fbb2"})
	boom := errors.New("boom")

	m.FailNext("home", boom)
	assert.ErrorIs(t, m.Home(ctx), boom)
	assert.NoError(t, m.Home(ctx))

	m.FailAlways("camera_connect", boom)
	err := m.ConnectCamera(ctx)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, ErrCameraLink)
	m.FailAlways("camera_connect", nil)
	require.NoError(t, m.ConnectCamera(ctx))
	assert.True(t, m.CameraConnected())

	require.NoError(t, m.EnterRawMode(ctx))
	assert.Equal(t, ModeRaw, m.ControlMode())
	assert.Equal(t, []string{"home", "home", "camera_connect", "camera_connect", "enter_raw"}, m.Calls())
}

func TestFakeMachineFrames(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewFakeMachine(Info{Model: "fbb2"})

	p, err := m.TakePhoto(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, p.Data)

	m.Frame = func(n int) Photo {
		if n == 1 {
			return Photo{}
		}
		return Photo{Data: []byte{1}, CableUnstable: true}
	}
	_, err = m.TakePhoto(ctx)
	assert.ErrorIs(t, err, ErrEmptyFrame)
	assert.ErrorIs(t, err, ErrCameraLink)
	p, err = m.TakePhoto(ctx)
	require.NoError(t, err)
	assert.True(t, p.CableUnstable)
}
