// Package execbridge implements ExecBridge: a websocket-to-in-container
// TTY exec session, letting an operator open an interactive shell
// inside a project's running app container.
package execbridge

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"regexp"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jordanhubbard/portway/internal/containers"
	"github.com/jordanhubbard/portway/internal/metrics"
)

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

const pingInterval = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Bridge wires a websocket connection to a container's TTY exec
// session via ContainerDriver.ExecTTY.
type Bridge struct {
	driver  containers.Driver
	metrics *metrics.Metrics
}

// New creates a Bridge over the given ContainerDriver.
func New(driver containers.Driver) *Bridge {
	return &Bridge{driver: driver}
}

// SetMetrics attaches a Metrics instance the bridge reports session
// counts to. Optional.
func (b *Bridge) SetMetrics(m *metrics.Metrics) {
	b.metrics = m
}

// inbound is the client-to-server frame envelope.
type inbound struct {
	Message string `json:"message"`
}

// handshakeTimeout bounds how long Serve waits for the initial pong
// before giving up on a connection that never acks.
const handshakeTimeout = 5 * time.Second

// Serve upgrades r to a websocket and bridges it to an interactive
// shell in containerName, per §4.8's four-step sequence: upgrade, ping
// and wait for a pong or close before opening anything against the
// container, then bridge stdio both ways.
func (b *Bridge) Serve(w http.ResponseWriter, r *http.Request, containerName string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("execbridge: upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	if b.metrics != nil {
		b.metrics.ExecSessionsTotal.Inc()
		b.metrics.ExecSessionsActive.Inc()
		defer b.metrics.ExecSessionsActive.Dec()
	}

	msgCh, readErrCh, pongCh := b.readLoop(conn)

	if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		return
	}
	select {
	case <-pongCh:
	case err := <-readErrCh:
		log.Printf("execbridge: %s closed before acking handshake: %v", containerName, err)
		return
	case <-time.After(handshakeTimeout):
		log.Printf("execbridge: %s never acked handshake ping", containerName)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()

	execErr := make(chan error, 1)
	go func() {
		execErr <- b.driver.ExecTTY(ctx, containerName, []string{"bash"}, stdinR, stdoutW)
		stdoutW.Close()
	}()

	done := make(chan struct{}, 2)
	go b.upstream(ctx, conn, stdoutR, done)
	go b.downstream(ctx, stdinW, msgCh, readErrCh, done)

	<-done
	cancel()
	stdinW.Close()
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
}

// readLoop owns conn's one reader for the connection's whole lifetime:
// gorilla/websocket forbids concurrent reads, and a pong with no
// following data frame never makes ReadMessage itself return, so the
// pong handler is the only way to observe it. Text frames are
// forwarded on msgCh; a terminal read error (including a close frame)
// is sent once on errCh.
func (b *Bridge) readLoop(conn *websocket.Conn) (msgCh chan []byte, errCh chan error, pongCh chan struct{}) {
	msgCh = make(chan []byte, 16)
	errCh = make(chan error, 1)
	pongCh = make(chan struct{}, 1)

	conn.SetPongHandler(func(string) error {
		select {
		case pongCh <- struct{}{}:
		default:
		}
		return nil
	})

	go func() {
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				errCh <- err
				return
			}
			if msgType == websocket.TextMessage {
				msgCh <- data
			}
		}
	}()
	return msgCh, errCh, pongCh
}

// upstream reads container output, strips ANSI escapes, and frames it
// as websocket text messages. A 10-second idle ping keeps NATs open.
func (b *Bridge) upstream(ctx context.Context, conn *websocket.Conn, stdout io.Reader, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()

	buf := make([]byte, 4096)
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	readErr := make(chan error, 1)
	readBuf := make(chan []byte, 1)
	go func() {
		for {
			n, err := stdout.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				readBuf <- chunk
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case chunk := <-readBuf:
			clean := ansiEscape.ReplaceAll(chunk, nil)
			if err := conn.WriteMessage(websocket.TextMessage, clean); err != nil {
				return
			}
		case <-readErr:
			return
		}
	}
}

// downstream consumes text frames off msgCh (produced by readLoop),
// parses the {message} JSON envelope, and writes the message plus a
// trailing newline to the exec's stdin.
func (b *Bridge) downstream(ctx context.Context, stdin io.WriteCloser, msgCh <-chan []byte, errCh <-chan error, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	defer stdin.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-errCh:
			return
		case data := <-msgCh:
			var in inbound
			if err := json.Unmarshal(data, &in); err != nil {
				continue
			}
			if _, err := io.WriteString(stdin, in.Message+"\n"); err != nil {
				return
			}
		}
	}
}
