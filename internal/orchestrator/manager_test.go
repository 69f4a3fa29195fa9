package orchestrator

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sua-org/edge-agent/internal/alerts"
	"github.com/sua-org/edge-agent/internal/core"
	"github.com/sua-org/edge-agent/internal/evidence"
	"github.com/sua-org/edge-agent/internal/inference"
	"github.com/sua-org/edge-agent/internal/source"
)

type fakeSource struct {
	cameraID string
	seq      uint64
	noFrame  bool
	closed   atomic.Bool
}

func (s *fakeSource) Next(ctx context.Context) (*core.Frame, error) {
	if s.noFrame {
		return nil, source.ErrNoFrame
	}
	s.seq++
	return &core.Frame{CameraID: s.cameraID, Seq: s.seq, Timestamp: time.Now(), Image: image.NewRGBA(image.Rect(0, 0, 32, 32))}, nil
}

func (s *fakeSource) Close() error {
	s.closed.Store(true)
	return nil
}

type fakeInference struct {
	mu     sync.Mutex
	dets   map[string][]core.Detection
	panics map[string]bool
	errs   map[string]error
	calls  map[string]int
}

func newFakeInference() *fakeInference {
	return &fakeInference{
		dets:   map[string][]core.Detection{},
		panics: map[string]bool{},
		errs:   map[string]error{},
		calls:  map[string]int{},
	}
}

func (f *fakeInference) Infer(ctx context.Context, frame *core.Frame, cameraID string) (core.InferenceResult, error) {
	f.mu.Lock()
	f.calls[cameraID]++
	dets, p, err := f.dets[cameraID], f.panics[cameraID], f.errs[cameraID]
	f.mu.Unlock()
	if p {
		panic("modelo explodiu")
	}
	if err != nil {
		return core.InferenceResult{}, err
	}
	return core.InferenceResult{
		Detections:  dets,
		FrameID:     inference.FrameID(cameraID, time.Now(), frame.Seq),
		Timestamp:   time.Now().UTC(),
		SafetyScore: core.SafetyScore(dets),
	}, nil
}

func (f *fakeInference) DetectZones(dets []core.Detection, zones []core.Zone) []core.Detection {
	return inference.DetectZones(dets, zones)
}

func (f *fakeInference) callCount(cam string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[cam]
}

type fakeEvidence struct {
	mu    sync.Mutex
	saved []string
	red   []bool
}

func (e *fakeEvidence) Save(img []byte, cameraID, detectionID string, meta evidence.Metadata, redacted bool) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.saved = append(e.saved, detectionID)
	e.red = append(e.red, redacted)
	return "/tmp/" + detectionID, nil
}

func (e *fakeEvidence) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.saved)
}

type fakeAlerts struct {
	mu   sync.Mutex
	reqs []alerts.Request
}

func (a *fakeAlerts) Submit(ctx context.Context, r alerts.Request) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reqs = append(a.reqs, r)
	return true, nil
}

func (a *fakeAlerts) all() []alerts.Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]alerts.Request(nil), a.reqs...)
}

type fakeUploader struct{ n atomic.Int32 }

func (u *fakeUploader) UploadEvidence(ctx context.Context, id string) error {
	u.n.Add(1)
	return nil
}

type fixture struct {
	mgr      *Manager
	inf      *fakeInference
	ev       *fakeEvidence
	al       *fakeAlerts
	up       *fakeUploader
	mu       sync.Mutex
	sources  map[string]*fakeSource
	noFrames bool
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		inf:     newFakeInference(),
		ev:      &fakeEvidence{},
		al:      &fakeAlerts{},
		up:      &fakeUploader{},
		sources: map[string]*fakeSource{},
	}
	f.mgr = New(Deps{
		Inference: f.inf,
		Evidence:  f.ev,
		Alerts:    f.al,
		Uploader:  f.up,
		SiteID:    "site-001",
		OpenSource: func(cfg core.CameraConfig) (source.Source, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			s := &fakeSource{cameraID: cfg.CameraID, noFrame: f.noFrames}
			f.sources[cfg.CameraID] = s
			return s, nil
		},
		ValidateSource: func(locator string) error {
			if locator == "bad://" {
				return source.ErrSourceUnsupported
			}
			return nil
		},
	})
	f.mgr.backoff = 5 * time.Millisecond
	f.mgr.idle = time.Millisecond
	t.Cleanup(f.mgr.StopAll)
	return f
}

func cam(id string, enabled bool) core.CameraConfig {
	return core.CameraConfig{CameraID: id, SourceLocator: "synthetic://32x32", TargetFPS: 100, Enabled: enabled}
}

func TestAddDuplicateLeavesExistingUntouched(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mgr.Add(cam("cam1", true), nil))
	require.Eventually(t, func() bool { return f.inf.callCount("cam1") > 0 }, time.Second, time.Millisecond)
	before, err := f.mgr.Status("cam1")
	require.NoError(t, err)

	dup := cam("cam1", false)
	dup.Name = "outra"
	err = f.mgr.Add(dup, nil)
	assert.ErrorIs(t, err, ErrCameraExists)

	after, err := f.mgr.Status("cam1")
	require.NoError(t, err)
	assert.Equal(t, before.CameraConfig, after.CameraConfig)
	assert.True(t, after.IsRunning)
}

func TestRemoveUnknownFails(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mgr.Add(cam("cam1", false), nil))
	assert.ErrorIs(t, f.mgr.Remove("ghost"), ErrCameraNotFound)
	assert.Equal(t, 1, f.mgr.Counts().Configured)
}

func TestInvalidConfigRejected(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.mgr.Add(core.CameraConfig{SourceLocator: "synthetic://"}, nil), ErrInvalidCamera)
	bad := cam("cam1", true)
	bad.SourceLocator = "bad://"
	assert.ErrorIs(t, f.mgr.Add(bad, nil), ErrInvalidCamera)
	neg := cam("cam2", true)
	neg.TargetFPS = -1
	assert.ErrorIs(t, f.mgr.Add(neg, nil), ErrInvalidCamera)
	assert.Empty(t, f.mgr.List())
}

func TestStartStopIdempotent(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mgr.Add(cam("cam1", false), nil))
	st, _ := f.mgr.Status("cam1")
	assert.False(t, st.IsRunning)

	assert.ErrorIs(t, f.mgr.Start("ghost"), ErrCameraNotFound)
	assert.NoError(t, f.mgr.Stop("ghost"))

	require.NoError(t, f.mgr.Start("cam1"))
	require.NoError(t, f.mgr.Start("cam1"))
	st, _ = f.mgr.Status("cam1")
	assert.True(t, st.IsRunning)

	require.NoError(t, f.mgr.Stop("cam1"))
	require.NoError(t, f.mgr.Stop("cam1"))
	st, _ = f.mgr.Status("cam1")
	assert.False(t, st.IsRunning)

	f.mu.Lock()
	src := f.sources["cam1"]
	f.mu.Unlock()
	require.NotNil(t, src)
	assert.True(t, src.closed.Load())
}

func TestViolationPipeline(t *testing.T) {
	f := newFixture(t)
	f.inf.dets["cam1"] = []core.Detection{
		{ClassName: core.ClassPerson, Confidence: 0.9, BBox: core.Box{X1: 0, Y1: 0, X2: 10, Y2: 10}},
		{ClassName: "no_safety_vest", Confidence: 0.9, IsViolation: true, Severity: core.SeverityMedium},
		{ClassName: "no_hardhat", Confidence: 0.9, IsViolation: true, Severity: core.SeverityHigh},
	}
	require.NoError(t, f.mgr.Add(cam("cam1", true), nil))
	require.Eventually(t, func() bool { return len(f.al.all()) >= 2 }, time.Second, time.Millisecond)
	f.mgr.StopAll()

	reqs := f.al.all()
	assert.Equal(t, core.SeverityHigh, reqs[0].Severity)
	assert.Equal(t, "site-001", reqs[0].SiteID)
	assert.Len(t, reqs[0].Violations, 2)
	// sem Redactor a evidência sai como original
	assert.False(t, f.ev.red[0])
	assert.GreaterOrEqual(t, int(f.up.n.Load()), 2)

	// alertas da câmera em ordem de frame
	for i := 1; i < len(reqs); i++ {
		assert.NotEqual(t, reqs[i-1].DetectionID, reqs[i].DetectionID)
	}
}

func TestZoneBreachRaisesCritical(t *testing.T) {
	f := newFixture(t)
	f.inf.dets["cam1"] = []core.Detection{
		{ClassName: core.ClassPerson, Confidence: 0.9, BBox: core.Box{X1: 10, Y1: 10, X2: 20, Y2: 20}},
	}
	zone := core.Zone{ZoneID: "z1", ZoneType: core.ZoneTypeExclusion, Polygon: []core.Point{{X: 0, Y: 0}, {X: 100, Y: 0}, {X: 100, Y: 100}, {X: 0, Y: 100}}}
	require.NoError(t, f.mgr.Add(cam("cam1", true), []core.Zone{zone}))
	require.Eventually(t, func() bool { return len(f.al.all()) >= 1 }, time.Second, time.Millisecond)

	r := f.al.all()[0]
	assert.Equal(t, core.SeverityCritical, r.Severity)
	assert.Equal(t, core.ClassExclusionZoneBreach, r.Violations[0].Class)

	// sem zona, sem violação
	require.NoError(t, f.mgr.SetZones("cam1", nil))
	f.mgr.StopAll()
	n := f.ev.count()
	require.NoError(t, f.mgr.Start("cam1"))
	require.Eventually(t, func() bool { return f.inf.callCount("cam1") > 20 }, time.Second, time.Millisecond)
	assert.Equal(t, n, f.ev.count())
}

func TestPanicIsolatedToCamera(t *testing.T) {
	f := newFixture(t)
	f.inf.panics["bad"] = true
	require.NoError(t, f.mgr.Add(cam("bad", true), nil))
	require.NoError(t, f.mgr.Add(cam("good", true), nil))

	require.Eventually(t, func() bool {
		st, _ := f.mgr.Status("bad")
		return st.Error != "" && f.inf.callCount("bad") >= 2
	}, time.Second, time.Millisecond)

	st, _ := f.mgr.Status("bad")
	assert.Contains(t, st.Error, "panic")
	assert.True(t, st.IsRunning)

	good, _ := f.mgr.Status("good")
	assert.Empty(t, good.Error)
	assert.Greater(t, good.Frames, uint64(0))

	c := f.mgr.Counts()
	assert.Equal(t, 2, c.Active)
	assert.Equal(t, 1, c.Errors)
}

func TestErrorClearedAfterSuccess(t *testing.T) {
	f := newFixture(t)
	f.inf.errs["cam1"] = errors.New("gpu timeout")
	require.NoError(t, f.mgr.Add(cam("cam1", true), nil))
	require.Eventually(t, func() bool {
		st, _ := f.mgr.Status("cam1")
		return st.Error != ""
	}, time.Second, time.Millisecond)

	f.inf.mu.Lock()
	delete(f.inf.errs, "cam1")
	f.inf.mu.Unlock()
	require.Eventually(t, func() bool {
		st, _ := f.mgr.Status("cam1")
		return st.Error == "" && st.Frames > 0
	}, time.Second, time.Millisecond)
}

func TestNoFrameIdles(t *testing.T) {
	f := newFixture(t)
	f.noFrames = true
	require.NoError(t, f.mgr.Add(cam("cam1", true), nil))
	time.Sleep(20 * time.Millisecond)
	st, _ := f.mgr.Status("cam1")
	assert.Empty(t, st.Error)
	assert.Equal(t, 0, f.inf.callCount("cam1"))
}

func TestStopAllWaitsForEveryWorker(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, f.mgr.Add(cam(id, true), nil))
	}
	require.Eventually(t, func() bool { return f.inf.callCount("c") > 0 }, time.Second, time.Millisecond)
	f.mgr.StopAll()

	f.mu.Lock()
	defer f.mu.Unlock()
	for id, s := range f.sources {
		assert.True(t, s.closed.Load(), id)
	}
	assert.Equal(t, 0, f.mgr.Counts().Active)
	assert.Equal(t, 3, f.mgr.Counts().Configured)
}

func TestRemoveStopsWorker(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mgr.Add(cam("cam1", true), nil))
	require.NoError(t, f.mgr.Remove("cam1"))
	_, err := f.mgr.Status("cam1")
	assert.ErrorIs(t, err, ErrCameraNotFound)
	require.NoError(t, f.mgr.Add(cam("cam1", false), nil))
}
