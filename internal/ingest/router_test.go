package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/classify"
	"vigil/internal/session"
	"vigil/internal/store"
)

type fakeClassifier struct {
	mu      sync.Mutex
	calls   int
	trigger []byte // frames equal to this yield a qualifying verdict
	delay   time.Duration
}

func (f *fakeClassifier) Submit(ctx context.Context, sourceID string, frame []byte) *classify.Verdict {
	f.mu.Lock()
	f.calls++
	trigger := f.trigger
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return &classify.Verdict{}
		}
	}
	if trigger != nil && bytes.Equal(frame, trigger) {
		return &classify.Verdict{WeaponDetected: true, Confidence: 0.8, WeaponType: "handgun"}
	}
	return &classify.Verdict{}
}

func (f *fakeClassifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeOrchestrator struct {
	mu      sync.Mutex
	handled []*classify.Verdict
	err     error
}

func (f *fakeOrchestrator) Handle(ctx context.Context, sess *session.Session, verdict *classify.Verdict) (*store.DetectionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.handled = append(f.handled, verdict)
	return &store.DetectionRecord{
		ID:          "rec-1",
		SourceID:    sess.SourceID,
		SourceLabel: sess.Label(),
		OccurredAt:  time.Now().UTC(),
		Category:    verdict.Category(),
		Confidence:  verdict.Confidence,
		VideoURL:    "http://localhost:8080/clips/rec-1.mp4",
	}, nil
}

func (f *fakeOrchestrator) handledCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handled)
}

type routerFixture struct {
	registry *session.Registry
	class    *fakeClassifier
	orch     *fakeOrchestrator
	router   *Router
	server   *httptest.Server
}

func newFixture(t *testing.T, cooldown time.Duration) *routerFixture {
	t.Helper()
	registry := session.NewRegistry(session.RegistryConfig{
		Window:   5 * time.Second,
		FPS:      10,
		Cooldown: cooldown,
	})
	class := &fakeClassifier{}
	orch := &fakeOrchestrator{}
	router := NewRouter(registry, class, orch, NewAlertHub(), Config{ClassifyTimeout: time.Second})

	e := echo.New()
	e.GET("/ws/stream", router.HandleStream)
	e.GET("/ws/alerts/:source_id", router.HandleAlerts)
	server := httptest.NewServer(e)
	t.Cleanup(server.Close)

	return &routerFixture{registry: registry, class: class, orch: orch, router: router, server: server}
}

func (fx *routerFixture) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(fx.server.URL, "http") + path
}

func (fx *routerFixture) dialSource(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(fx.wsURL("/ws/stream?"+query), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestHandshakeRequiresSourceID(t *testing.T) {
	fx := newFixture(t, 10*time.Second)

	_, resp, err := websocket.DefaultDialer.Dial(fx.wsURL("/ws/stream"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestFramesArePushedAndClassified(t *testing.T) {
	fx := newFixture(t, 10*time.Second)
	conn := fx.dialSource(t, "source_id=cam-1&label=Front+Door")

	for i := 0; i < 5; i++ {
		require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{byte(i)}))
	}

	waitFor(t, func() bool {
		sess := fx.registry.Get("cam-1")
		return sess != nil && sess.Buffer().Len() == 5
	}, "frames never reached the buffer")

	sess := fx.registry.Get("cam-1")
	assert.Equal(t, "Front Door", sess.Label())
	waitFor(t, func() bool { return fx.class.callCount() == 5 }, "frames never reached the classifier")
	assert.Equal(t, 0, fx.orch.handledCount(), "neutral verdicts trigger nothing")
}

func TestQualifyingVerdictEmitsAlert(t *testing.T) {
	fx := newFixture(t, 10*time.Second)
	fx.class.trigger = []byte("gun-frame")
	conn := fx.dialSource(t, "source_id=cam-1")

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("gun-frame")))

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var event AlertEvent
	require.NoError(t, json.Unmarshal(data, &event))
	assert.Equal(t, "alert", event.Type)
	assert.Equal(t, "cam-1", event.SourceID)
	assert.Equal(t, "handgun", event.Category)
	assert.InDelta(t, 0.8, event.Confidence, 1e-9)
	assert.Equal(t, "http://localhost:8080/clips/rec-1.mp4", event.VideoURL)
	assert.Equal(t, 1, fx.orch.handledCount())
}

func TestCooldownSuppressesSecondDetection(t *testing.T) {
	fx := newFixture(t, 10*time.Second)
	fx.class.trigger = []byte("gun-frame")
	conn := fx.dialSource(t, "source_id=cam-1")

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("gun-frame")))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("gun-frame")))

	waitFor(t, func() bool { return fx.class.callCount() == 2 }, "classification never finished")
	waitFor(t, func() bool { return fx.orch.handledCount() == 1 }, "first detection never handled")

	// Give the suppressed verdict a moment to (not) cause a second detection
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, fx.orch.handledCount(), "cooldown must suppress the second detection")
}

func TestCooldownExpiryAllowsSecondDetection(t *testing.T) {
	fx := newFixture(t, 100*time.Millisecond)
	fx.class.trigger = []byte("gun-frame")
	conn := fx.dialSource(t, "source_id=cam-1")

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("gun-frame")))
	waitFor(t, func() bool { return fx.orch.handledCount() == 1 }, "first detection never handled")

	time.Sleep(150 * time.Millisecond)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("gun-frame")))
	waitFor(t, func() bool { return fx.orch.handledCount() == 2 }, "second detection after cooldown never handled")
}

func TestSlowClassifierDoesNotBlockIngestion(t *testing.T) {
	fx := newFixture(t, 10*time.Second)
	fx.class.delay = 10 * time.Second // far beyond the 1s classify timeout
	conn := fx.dialSource(t, "source_id=cam-1")

	start := time.Now()
	for i := 0; i < 20; i++ {
		require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{byte(i)}))
	}

	waitFor(t, func() bool {
		sess := fx.registry.Get("cam-1")
		return sess != nil && sess.Buffer().Len() == 20
	}, "ingestion stalled behind slow classification")
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 0, fx.orch.handledCount())
}

func TestOrchestratorFailureEmitsNoAlert(t *testing.T) {
	fx := newFixture(t, 10*time.Second)
	fx.class.trigger = []byte("gun-frame")
	fx.orch.err = context.DeadlineExceeded
	conn := fx.dialSource(t, "source_id=cam-1")

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("gun-frame")))
	waitFor(t, func() bool { return fx.class.callCount() == 1 }, "classification never finished")
	time.Sleep(150 * time.Millisecond)

	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "no alert event should arrive")

	// Cooldown stays stamped: no live-path retry
	sess := fx.registry.Get("cam-1")
	assert.False(t, sess.LastDetectionAt().IsZero())
}

func TestDisconnectMarksSessionRetained(t *testing.T) {
	fx := newFixture(t, 10*time.Second)
	conn := fx.dialSource(t, "source_id=cam-1")
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("f")))

	waitFor(t, func() bool {
		sess := fx.registry.Get("cam-1")
		return sess != nil && sess.Buffer().Len() == 1
	}, "frame never arrived")

	conn.Close()
	waitFor(t, func() bool { return !fx.registry.Get("cam-1").Connected() }, "session never marked disconnected")
	assert.Equal(t, 1, fx.registry.Get("cam-1").Buffer().Len(), "buffer survives disconnect")
}

func TestConcurrentBroadcastsToOneViewer(t *testing.T) {
	fx := newFixture(t, 10*time.Second)

	viewer, _, err := websocket.DefaultDialer.Dial(fx.wsURL("/ws/alerts/cam-1"), nil)
	require.NoError(t, err)
	defer viewer.Close()

	waitFor(t, func() bool { return fx.router.Hub().ViewerCount() == 1 }, "viewer never registered")

	const broadcasts = 20
	var wg sync.WaitGroup
	for i := 0; i < broadcasts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fx.router.Hub().Broadcast("cam-1", &AlertEvent{Type: "alert", SourceID: "cam-1", Category: "handgun"})
		}()
	}
	wg.Wait()

	viewer.SetReadDeadline(time.Now().Add(3 * time.Second))
	for i := 0; i < broadcasts; i++ {
		_, data, err := viewer.ReadMessage()
		require.NoError(t, err, "broadcast %d never arrived intact", i)
		var event AlertEvent
		require.NoError(t, json.Unmarshal(data, &event))
		assert.Equal(t, "handgun", event.Category)
	}
	assert.Equal(t, 1, fx.router.Hub().ViewerCount(), "viewer must survive concurrent broadcasts")
}

func TestViewerReceivesBroadcast(t *testing.T) {
	fx := newFixture(t, 10*time.Second)

	viewer, _, err := websocket.DefaultDialer.Dial(fx.wsURL("/ws/alerts/cam-1"), nil)
	require.NoError(t, err)
	defer viewer.Close()

	waitFor(t, func() bool { return fx.router.Hub().ViewerCount() == 1 }, "viewer never registered")

	fx.router.Hub().Broadcast("cam-1", &AlertEvent{Type: "alert", SourceID: "cam-1", Category: "plate"})

	viewer.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := viewer.ReadMessage()
	require.NoError(t, err)

	var event AlertEvent
	require.NoError(t, json.Unmarshal(data, &event))
	assert.Equal(t, "plate", event.Category)
}
