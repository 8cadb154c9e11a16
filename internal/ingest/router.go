package ingest

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"vigil/internal/buffer"
	"vigil/internal/classify"
	"vigil/internal/session"
	"vigil/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  256 * 1024, // JPEG frames come in on this side
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Classifier submits one frame and always yields a usable verdict.
type Classifier interface {
	Submit(ctx context.Context, sourceID string, frame []byte) *classify.Verdict
}

// Orchestrator materializes a detection from a qualifying verdict.
type Orchestrator interface {
	Handle(ctx context.Context, sess *session.Session, verdict *classify.Verdict) (*store.DetectionRecord, error)
}

// Config holds router configuration.
type Config struct {
	ClassifyTimeout time.Duration // per-frame classification deadline
	VerdictQueue    int           // buffered qualifying verdicts per connection
}

// Router accepts source connections, demultiplexes inbound frames and
// outbound alerts, and attaches each stream to its session. Frame
// receipt does only two things synchronously: a buffer push and a
// goroutine spawn; classification and detection handling never delay
// the read loop.
type Router struct {
	registry *session.Registry
	class    Classifier
	orch     Orchestrator
	hub      *AlertHub
	cfg      Config
}

// NewRouter creates a router.
func NewRouter(registry *session.Registry, class Classifier, orch Orchestrator, hub *AlertHub, cfg Config) *Router {
	if cfg.ClassifyTimeout <= 0 {
		cfg.ClassifyTimeout = 5 * time.Second
	}
	if cfg.VerdictQueue <= 0 {
		cfg.VerdictQueue = 16
	}
	return &Router{
		registry: registry,
		class:    class,
		orch:     orch,
		hub:      hub,
		cfg:      cfg,
	}
}

// Hub exposes the alert hub for status reporting.
func (rt *Router) Hub() *AlertHub {
	return rt.hub
}

// sourceConn serializes writes to one websocket connection; the react
// loop and the ping ticker both write.
type sourceConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (sc *sourceConn) writeJSON(v any) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return sc.conn.WriteJSON(v)
}

func (sc *sourceConn) ping() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return sc.conn.WriteMessage(websocket.PingMessage, nil)
}

// HandleStream upgrades a source connection. The handshake must carry
// source_id; label is optional and defaults to source_id.
func (rt *Router) HandleStream(c echo.Context) error {
	sourceID := c.QueryParam("source_id")
	if sourceID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "source_id required")
	}
	label := c.QueryParam("label")

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("[Ingest] Upgrade error for source %s: %v", sourceID, err)
		return nil
	}

	sess := rt.registry.Connect(sourceID, label)
	log.Printf("[Ingest] Source %s connected from %s", sourceID, c.RealIP())

	sc := &sourceConn{conn: conn}
	verdicts := make(chan *classify.Verdict, rt.cfg.VerdictQueue)
	done := make(chan struct{})

	go rt.reactLoop(sess, sc, verdicts, done)
	go rt.pingLoop(sc, done)

	rt.readPump(sess, conn, verdicts, done)

	close(done)
	rt.registry.Disconnect(sourceID)
	conn.Close()
	return nil
}

// readPump applies frames in arrival order. Pushing into the buffer is
// the only synchronous work; each frame's classification runs detached.
func (rt *Router) readPump(sess *session.Session, conn *websocket.Conn, verdicts chan<- *classify.Verdict, done <-chan struct{}) {
	conn.SetReadLimit(4 * 1024 * 1024)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("[Ingest] Read error for source %s: %v", sess.SourceID, err)
			}
			return
		}
		if msgType != websocket.BinaryMessage || len(data) == 0 {
			continue
		}
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))

		sess.Buffer().Push(buffer.Frame{Payload: data, CapturedAt: time.Now()})

		go rt.classifyFrame(sess.SourceID, data, verdicts, done)
	}
}

// classifyFrame submits one frame and queues the verdict if it
// qualifies. A slow classifier or a full queue drops the verdict rather
// than ever backing up ingestion.
func (rt *Router) classifyFrame(sourceID string, frame []byte, verdicts chan<- *classify.Verdict, done <-chan struct{}) {
	ctx, cancel := context.WithTimeout(context.Background(), rt.cfg.ClassifyTimeout)
	defer cancel()

	verdict := rt.class.Submit(ctx, sourceID, frame)
	if !verdict.Qualifies() {
		return
	}

	select {
	case verdicts <- verdict:
	case <-done:
	default:
		log.Printf("[Ingest] Verdict queue full for source %s, dropping qualifying verdict", sourceID)
	}
}

// reactLoop serializes detection reactions per session. The cooldown
// check-and-set runs here exactly once per qualifying verdict, so two
// out-of-order classifier responses can never both pass the gate.
func (rt *Router) reactLoop(sess *session.Session, sc *sourceConn, verdicts <-chan *classify.Verdict, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case verdict := <-verdicts:
			rt.react(sess, sc, verdict)
		}
	}
}

func (rt *Router) react(sess *session.Session, sc *sourceConn, verdict *classify.Verdict) {
	if !sess.TryAcquireCooldown(time.Now()) {
		log.Printf("[Ingest] Detection on source %s suppressed by cooldown", sess.SourceID)
		return
	}

	// lastDetectionAt stays stamped even if handling fails: the live
	// path never retries, re-detection on the next qualifying frame
	// recovers naturally.
	rec, err := rt.orch.Handle(context.Background(), sess, verdict)
	if err != nil {
		log.Printf("[Ingest] Detection handling failed for source %s: %v", sess.SourceID, err)
		return
	}

	event := newAlertEvent(rec, verdict)
	if err := sc.writeJSON(event); err != nil {
		log.Printf("[Ingest] Failed to send alert event to source %s: %v", sess.SourceID, err)
	}
	rt.hub.Broadcast(sess.SourceID, event)
}

func (rt *Router) pingLoop(sc *sourceConn, done <-chan struct{}) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := sc.ping(); err != nil {
				return
			}
		}
	}
}

// HandleAlerts upgrades a viewer connection that receives alert events
// for one source.
func (rt *Router) HandleAlerts(c echo.Context) error {
	sourceID := c.QueryParam("source_id")
	if sourceID == "" {
		sourceID = c.Param("source_id")
	}
	if sourceID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "source_id required")
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("[Ingest] Viewer upgrade error for source %s: %v", sourceID, err)
		return nil
	}

	rt.hub.Register(sourceID, conn)
	go rt.viewerReadPump(sourceID, conn)
	return nil
}

// viewerReadPump exists to detect viewer disconnection; viewers are not
// expected to send anything.
func (rt *Router) viewerReadPump(sourceID string, conn *websocket.Conn) {
	defer func() {
		rt.hub.Unregister(sourceID, conn)
		conn.Close()
	}()

	conn.SetReadLimit(512)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
