package preview

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/banshee-data/camera.preview/internal/compositor"
	"github.com/banshee-data/camera.preview/internal/config"
	"github.com/banshee-data/camera.preview/internal/device"
	"github.com/banshee-data/camera.preview/internal/testutil"
	"github.com/banshee-data/camera.preview/internal/tiling"
	"github.com/banshee-data/camera.preview/internal/timeutil"
)

const focalBlob = `{"v":3,"k":[[1]],"d":[[0]]}`

type reportedError struct {
	kind ErrorKind
	err  error
}

type recordingNotifier struct {
	mu       sync.Mutex
	progress []string
	errs     []reportedError
	dones    int
	cable    CableDecision
	prompts  int
	height   float64
	heightOK bool
}

func (n *recordingNotifier) Progress(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.progress = append(n.progress, msg)
}

func (n *recordingNotifier) Done() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dones++
}

func (n *recordingNotifier) Error(kind ErrorKind, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errs = append(n.errs, reportedError{kind, err})
}

func (n *recordingNotifier) ConfirmUnstableCable(context.Context) (CableDecision, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.prompts++
	return n.cable, nil
}

func (n *recordingNotifier) PromptObjectHeight(context.Context, float64, bool) (float64, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.prompts++
	return n.height, n.heightOK, nil
}

func (n *recordingNotifier) errorKinds() []ErrorKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	var kinds []ErrorKind
	for _, e := range n.errs {
		kinds = append(kinds, e.kind)
	}
	return kinds
}

type fixture struct {
	deps     Deps
	machine  *device.FakeMachine
	clock    *timeutil.MockClock
	canvas   *compositor.Canvas
	store    *testutil.MemStore
	notifier *recordingNotifier
}

func newFixture(t *testing.T, model, firmware string) *fixture {
	t.Helper()
	info := device.Info{Model: model, Name: "bench " + model, Serial: "SN-" + model, Firmware: firmware}
	m := device.NewFakeMachine(info)
	wa := info.Spec().Workarea
	cfg := config.EmptyPreviewConfig()
	ppmm := 2.0
	cfg.PreviewPPMM = &ppmm
	f := &fixture{
		machine:  m,
		clock:    timeutil.NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		canvas:   compositor.New(tiling.Size{W: wa.Width, H: wa.Height}, ppmm),
		store:    testutil.NewMemStore(),
		notifier: &recordingNotifier{cable: CableDecision{Continue: true}},
	}
	f.deps = Deps{
		Machine:  m,
		Canvas:   f.canvas,
		Notifier: f.notifier,
		Store:    f.store,
		Config:   cfg,
		Clock:    f.clock,
	}
	return f
}
