package cloudsync

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sua-org/edge-agent/internal/core"
	"github.com/sua-org/edge-agent/internal/evidence"
)

// fakeCloud simula o serviço de nuvem; os campos fail* ligam falhas por rota.
type fakeCloud struct {
	mu         sync.Mutex
	down       bool
	failAlert  bool
	rejectID   string // falha só o alerta com esse id
	failPut    bool
	failMetric bool
	policies   string

	alerts    []core.Alert
	puts      map[string][]byte
	confirms  []EvidenceConfirmation
	metrics   int
	heartbeat int
	auth      []string

	srv *httptest.Server
}

func newFakeCloud(t *testing.T) *fakeCloud {
	f := &fakeCloud{puts: make(map[string][]byte)}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeCloud) set(fn func(f *fakeCloud)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeCloud) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auth = append(f.auth, r.Header.Get("Authorization"))

	if f.down {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	body, _ := io.ReadAll(r.Body)

	switch {
	case r.URL.Path == "/health":
		w.WriteHeader(http.StatusOK)
	case r.URL.Path == "/api/alerts":
		var a core.Alert
		_ = json.Unmarshal(body, &a)
		if f.failAlert || (f.rejectID != "" && a.ID == f.rejectID) {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		f.alerts = append(f.alerts, a)
		w.WriteHeader(http.StatusCreated)
	case r.URL.Path == "/api/evidence/upload-url":
		var req uploadURLRequest
		_ = json.Unmarshal(body, &req)
		_ = json.NewEncoder(w).Encode(uploadURLResponse{UploadURL: f.srv.URL + "/bucket/" + req.Filename + "?sig=abc"})
	case strings.HasPrefix(r.URL.Path, "/bucket/") && r.Method == http.MethodPut:
		if f.failPut {
			// derruba a conexão: erro de rede para o client
			hj, ok := w.(http.Hijacker)
			if ok {
				conn, _, _ := hj.Hijack()
				conn.Close()
				return
			}
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		f.puts[strings.TrimPrefix(r.URL.Path, "/bucket/")] = body
		w.WriteHeader(http.StatusOK)
	case r.URL.Path == "/api/evidence/confirm":
		var c EvidenceConfirmation
		_ = json.Unmarshal(body, &c)
		f.confirms = append(f.confirms, c)
		w.WriteHeader(http.StatusOK)
	case r.URL.Path == "/api/metrics":
		if f.failMetric {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		f.metrics++
		w.WriteHeader(http.StatusOK)
	case r.URL.Path == "/api/edge/heartbeat":
		f.heartbeat++
		w.WriteHeader(http.StatusOK)
	case r.URL.Path == "/api/policies/updates":
		if f.policies == "" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(f.policies))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeCloud) alertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.alerts)
}

func (f *fakeCloud) alertIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.alerts))
	for _, a := range f.alerts {
		ids = append(ids, a.ID)
	}
	return ids
}

func (f *fakeCloud) confirmed() []EvidenceConfirmation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]EvidenceConfirmation(nil), f.confirms...)
}

func (f *fakeCloud) putKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.puts {
		keys = append(keys, k)
	}
	return keys
}

func (f *fakeCloud) counts() (metrics, heartbeats int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.metrics, f.heartbeat
}

type harness struct {
	cloud  *fakeCloud
	store  *evidence.Store
	outbox *MemoryOutbox
	syncer *Syncer
}

func newHarness(t *testing.T) *harness {
	cloud := newFakeCloud(t)
	store, err := evidence.NewStore(t.TempDir(), 30)
	require.NoError(t, err)
	ob := NewMemoryOutbox()
	s := NewSyncer(NewClient(cloud.srv.URL, "secret"), ob, store, nil, Options{Enabled: true, Interval: time.Hour, BatchSize: 10})
	return &harness{cloud: cloud, store: store, outbox: ob, syncer: s}
}

func (h *harness) saveEvidence(t *testing.T, id string) {
	t.Helper()
	_, err := h.store.Save([]byte("jpeg-"+id), "cam1", id, evidence.Metadata{SiteID: "site-001"}, true)
	require.NoError(t, err)
	require.NoError(t, h.syncer.UploadEvidence(context.Background(), id))
}

func TestCycleAbortsWhenOffline(t *testing.T) {
	h := newHarness(t)
	h.saveEvidence(t, "d1")
	h.cloud.set(func(f *fakeCloud) { f.down = true })

	err := h.syncer.RunCycle(context.Background())
	require.Error(t, err)
	assert.False(t, h.syncer.Connected())

	items, _ := h.outbox.Peek(0)
	require.Len(t, items, 1)
	assert.Equal(t, 0, items[0].Attempts)
}

func TestEvidenceUploadFailureThenSuccessDeliversOnce(t *testing.T) {
	h := newHarness(t)
	h.saveEvidence(t, "cam1_d1")
	h.cloud.set(func(f *fakeCloud) { f.failPut = true })

	require.NoError(t, h.syncer.RunCycle(context.Background()))
	items, _ := h.outbox.Peek(0)
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].Attempts)
	assert.Empty(t, h.cloud.confirmed())

	h.cloud.set(func(f *fakeCloud) { f.failPut = false })
	require.NoError(t, h.syncer.RunCycle(context.Background()))
	require.NoError(t, h.syncer.RunCycle(context.Background()))

	n, _ := h.outbox.Len()
	assert.Equal(t, 0, n)
	confirms := h.cloud.confirmed()
	require.Len(t, confirms, 1)
	assert.Equal(t, "cam1_d1", confirms[0].DetectionID)
	assert.Equal(t, evidence.HashBytes([]byte("jpeg-cam1_d1")), confirms[0].FileHash)
	assert.Len(t, h.cloud.putKeys(), 1)

	rec, err := h.store.GetEvidence("cam1_d1")
	require.NoError(t, err)
	assert.True(t, rec.Synced)
	pending, _ := h.store.ListPending()
	assert.Empty(t, pending)
}

func TestEvidenceObjectKeyIsDeterministic(t *testing.T) {
	h := newHarness(t)
	h.saveEvidence(t, "cam1_d1")
	require.NoError(t, h.syncer.RunCycle(context.Background()))

	keys := h.cloud.putKeys()
	require.Len(t, keys, 1)
	assert.True(t, strings.HasPrefix(keys[0], "evidence/"), keys[0])
	assert.True(t, strings.HasSuffix(keys[0], "/cam1/cam1_d1_blurred.jpg"), keys[0])

	confirms := h.cloud.confirmed()
	require.Len(t, confirms, 1)
	assert.Equal(t, keys[0], confirms[0].ObjectKey)
	assert.NotContains(t, confirms[0].ObjectURL, "sig=")
}

func TestMissingEvidenceIsDropped(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.syncer.UploadEvidence(context.Background(), "ghost"))
	require.NoError(t, h.syncer.RunCycle(context.Background()))
	n, _ := h.outbox.Len()
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, h.syncer.Status().Dropped)
}

func TestSendAlertImmediateWhenConnected(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.syncer.RunCycle(context.Background()))
	require.True(t, h.syncer.Connected())

	require.NoError(t, h.syncer.SendAlert(context.Background(), core.Alert{ID: "a1", CameraID: "cam1"}))
	require.Equal(t, 1, h.cloud.alertCount())
	n, _ := h.outbox.Len()
	assert.Equal(t, 0, n)

	// entregue uma vez só, mesmo com outro ciclo
	require.NoError(t, h.syncer.RunCycle(context.Background()))
	assert.Equal(t, 1, h.cloud.alertCount())
}

func TestSendAlertFallsBackToQueue(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.syncer.RunCycle(context.Background()))
	h.cloud.set(func(f *fakeCloud) { f.failAlert = true })

	require.NoError(t, h.syncer.SendAlert(context.Background(), core.Alert{ID: "a1"}))
	items, _ := h.outbox.Peek(0)
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].Attempts)

	h.cloud.set(func(f *fakeCloud) { f.failAlert = false })
	require.NoError(t, h.syncer.RunCycle(context.Background()))
	assert.Equal(t, 1, h.cloud.alertCount())
	n, _ := h.outbox.Len()
	assert.Equal(t, 0, n)
}

func TestSendAlertKeepsOrderPerCamera(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.syncer.RunCycle(ctx))

	h.cloud.set(func(f *fakeCloud) { f.failAlert = true })
	require.NoError(t, h.syncer.SendAlert(ctx, core.Alert{ID: "first", CameraID: "cam1"}))
	h.cloud.set(func(f *fakeCloud) { f.failAlert = false })

	// "first" ainda na fila: "second" não pode passar na frente
	require.NoError(t, h.syncer.SendAlert(ctx, core.Alert{ID: "second", CameraID: "cam1"}))
	assert.Empty(t, h.cloud.alertIDs())

	// outra câmera não espera
	require.NoError(t, h.syncer.SendAlert(ctx, core.Alert{ID: "other", CameraID: "cam2"}))
	assert.Equal(t, []string{"other"}, h.cloud.alertIDs())

	require.NoError(t, h.syncer.RunCycle(ctx))
	assert.Equal(t, []string{"other", "first", "second"}, h.cloud.alertIDs())
	n, _ := h.outbox.Len()
	assert.Equal(t, 0, n)
}

func TestCycleHoldsCameraAlertsAfterFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, a := range []core.Alert{
		{ID: "a1", CameraID: "cam1"},
		{ID: "a2", CameraID: "cam1"},
		{ID: "b1", CameraID: "cam2"},
	} {
		require.NoError(t, h.syncer.SendAlert(ctx, a)) // offline: só enfileira
	}

	h.cloud.set(func(f *fakeCloud) { f.rejectID = "a1" })
	require.NoError(t, h.syncer.RunCycle(ctx))
	assert.Equal(t, []string{"b1"}, h.cloud.alertIDs())

	items, _ := h.outbox.Peek(0)
	require.Len(t, items, 2)
	assert.Equal(t, "alert:a1", items[0].Key)
	assert.Equal(t, 1, items[0].Attempts)
	assert.Equal(t, "alert:a2", items[1].Key)
	assert.Equal(t, 0, items[1].Attempts)

	h.cloud.set(func(f *fakeCloud) { f.rejectID = "" })
	require.NoError(t, h.syncer.RunCycle(ctx))
	assert.Equal(t, []string{"b1", "a1", "a2"}, h.cloud.alertIDs())
}

func TestSendAlertOfflineOnlyQueues(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.syncer.SendAlert(context.Background(), core.Alert{ID: "a1"}))
	assert.Equal(t, 0, h.cloud.alertCount())
	n, _ := h.outbox.Len()
	assert.Equal(t, 1, n)
}

func TestMetricFailureIsDropped(t *testing.T) {
	h := newHarness(t)
	h.cloud.set(func(f *fakeCloud) { f.failMetric = true })
	require.NoError(t, h.syncer.QueueMetric(map[string]any{"fps": 10}))
	require.NoError(t, h.syncer.RunCycle(context.Background()))
	n, _ := h.outbox.Len()
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, h.syncer.Status().Dropped)
}

func TestBatchSizeBoundsCycle(t *testing.T) {
	h := newHarness(t)
	h.syncer.opts.BatchSize = 3
	for i := 0; i < 7; i++ {
		require.NoError(t, h.syncer.QueueMetric(map[string]int{"i": i}))
	}
	require.NoError(t, h.syncer.RunCycle(context.Background()))
	n, _ := h.outbox.Len()
	assert.Equal(t, 4, n)
	metrics, _ := h.cloud.counts()
	assert.Equal(t, 3, metrics)
}

func TestReconcileIsIdempotent(t *testing.T) {
	h := newHarness(t)
	_, err := h.store.Save([]byte("a"), "cam1", "d1", evidence.Metadata{}, true)
	require.NoError(t, err)
	_, err = h.store.Save([]byte("b"), "cam1", "d2", evidence.Metadata{}, true)
	require.NoError(t, err)

	added, err := h.syncer.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	added, err = h.syncer.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, added)
	n, _ := h.outbox.Len()
	assert.Equal(t, 2, n)
}

func TestStartStop(t *testing.T) {
	h := newHarness(t)
	h.saveEvidence(t, "d1")
	h.syncer.Start(context.Background())
	h.syncer.Start(context.Background())

	assert.Eventually(t, func() bool {
		n, _ := h.outbox.Len()
		return n == 0
	}, 2*time.Second, 10*time.Millisecond)

	h.syncer.Stop()
	h.syncer.Stop()
	st := h.syncer.Status()
	assert.True(t, st.Connected)
	assert.NotNil(t, st.LastSync)
	assert.Equal(t, 1, st.Delivered)
}

func TestBearerAuth(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.syncer.RunCycle(context.Background()))
	h.cloud.mu.Lock()
	defer h.cloud.mu.Unlock()
	require.NotEmpty(t, h.cloud.auth)
	assert.Equal(t, "Bearer secret", h.cloud.auth[0])
}

func TestHeartbeatAndPolicies(t *testing.T) {
	h := newHarness(t)
	c := h.syncer.Client()
	require.NoError(t, c.SendHeartbeat(context.Background(), map[string]string{"device_id": "edge-001"}))
	_, hb := h.cloud.counts()
	assert.Equal(t, 1, hb)

	pu, err := c.GetPolicyUpdates(context.Background())
	require.NoError(t, err)
	assert.Nil(t, pu)

	h.cloud.set(func(f *fakeCloud) {
		f.policies = `{"alert_threshold":"medium","alert_cooldown_seconds":5,"zones":{"cam1":[{"zone_id":"z","zone_type":"exclusion","polygon":[{"x":0,"y":0},{"x":1,"y":0},{"x":1,"y":1}]}]}}`
	})
	pu, err = c.GetPolicyUpdates(context.Background())
	require.NoError(t, err)
	require.NotNil(t, pu)
	assert.Equal(t, "medium", pu.AlertThreshold)
	require.NotNil(t, pu.AlertCooldownSeconds)
	assert.Equal(t, 5, *pu.AlertCooldownSeconds)
	assert.Len(t, pu.Zones["cam1"], 1)
}
