package preview

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		model   string
		cameras int
		want    Strategy
	}{
		{"fbm1", 1, &Fixed{}},
		{"FHEXA1", 1, &Fixed{}},
		{"ado1", 1, &WideAngle{}},
		{"fbb2", 1, &Tiled{}},
		{"fbb2", 2, &Switchable{}},
		{"fhx2rf6", 2, &Switchable{}},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			t.Parallel()
			fx := newFixture(t, tt.model, "5.0.0")
			fx.machine.SetCameraCount(tt.cameras)

			s, err := New(context.Background(), fx.deps)
			require.NoError(t, err)
			assert.IsType(t, tt.want, s)
		})
	}
}

func TestNewUnknownModel(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, "laser9000", "1.0.0")
	_, err := New(context.Background(), fx.deps)
	assert.ErrorIs(t, err, ErrUnsupportedModel)
}
