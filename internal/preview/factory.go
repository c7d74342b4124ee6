package preview

import (
	"context"
	"fmt"

	"github.com/banshee-data/camera.preview/internal/device"
	"github.com/banshee-data/camera.preview/internal/monitoring"
)

// New picks the strategy for d.Machine's camera topology. Tiled machines
// with a second camera get a Switchable.
func New(ctx context.Context, d Deps) (Strategy, error) {
	info := d.Machine.Info()
	switch info.Family() {
	case device.FamilyFixed:
		return NewFixed(d), nil
	case device.FamilyWideAngle:
		return NewWideAngle(d), nil
	case device.FamilyTiled:
		n, err := d.Machine.CameraCount(ctx)
		if err != nil {
			monitoring.Logf("[preview] camera count for %s failed, assuming head camera only: %v", info.Model, err)
			return NewTiled(d), nil
		}
		if n > wideCamera {
			return NewSwitchable(d), nil
		}
		return NewTiled(d), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedModel, info.Model)
}
