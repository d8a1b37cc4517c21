package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	v1 "github.com/tita-n/titan-whatsapp-bot-sub000/shared/contracts/linking/v1"

	"github.com/coder/websocket"
)

const (
	wsMaxFrameBytes = 4 << 20 // credential snapshots can be large

	wsDefaultDialTimeout    = 10 * time.Second
	wsDefaultWriteTimeout   = 5 * time.Second
	wsDefaultRequestTimeout = 30 * time.Second
	wsCloseWriteTimeout     = 1 * time.Second
)

// WSConfig configures the bridge client.
type WSConfig struct {
	URL            string
	Origin         string
	DialTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration
	Browser        []string
}

// BridgeError is an error reported by the bridge for a request.
type BridgeError struct {
	Code    string
	Message string
}

func (e *BridgeError) Error() string {
	if e.Message == "" {
		return "bridge: " + e.Code
	}
	return fmt.Sprintf("bridge: %s: %s", e.Code, e.Message)
}

// WSTransport opens one bridge WebSocket per connection.
type WSTransport struct {
	log *slog.Logger
	cfg WSConfig
}

// NewWSTransport constructs a bridge transport, filling zero timeouts with defaults.
func NewWSTransport(log *slog.Logger, cfg WSConfig) *WSTransport {
	if log == nil {
		log = slog.Default()
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = wsDefaultDialTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = wsDefaultWriteTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = wsDefaultRequestTimeout
	}
	return &WSTransport{log: log, cfg: cfg}
}

// Open dials the bridge, announces the auth scope and starts the event loop.
func (t *WSTransport) Open(ctx context.Context, opts OpenOptions, h Handlers) (Handle, error) {
	if strings.TrimSpace(t.cfg.URL) == "" {
		return nil, errors.New("transport: bridge url not configured")
	}

	dialCtx, cancel := context.WithTimeout(ctx, t.cfg.DialTimeout)
	defer cancel()

	hdr := http.Header{}
	if t.cfg.Origin != "" {
		hdr.Set("Origin", t.cfg.Origin)
	}

	conn, resp, err := websocket.Dial(dialCtx, t.cfg.URL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   hdr,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("transport: dial bridge: %w", err)
	}
	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return nil, fmt.Errorf("transport: bridge negotiated subprotocol %q", sp)
	}
	conn.SetReadLimit(wsMaxFrameBytes)

	loopCtx, loopCancel := context.WithCancel(context.Background())
	c := &wsConn{
		log:            t.log.With("session_id", opts.SessionID),
		conn:           conn,
		handlers:       h,
		writeTimeout:   t.cfg.WriteTimeout,
		requestTimeout: t.cfg.RequestTimeout,
		ctx:            loopCtx,
		cancel:         loopCancel,
		pending:        make(map[string]chan pairingResult),
		done:           make(chan struct{}),
	}

	payload, err := json.Marshal(v1.SessionOpenPayload{
		SessionID: opts.SessionID,
		Creds:     opts.Creds,
		Browser:   t.cfg.Browser,
	})
	if err != nil {
		c.shutdown()
		return nil, err
	}
	if err := c.write(newEnvelope(v1.TypeSessionOpen, "", payload)); err != nil {
		c.shutdown()
		return nil, fmt.Errorf("transport: send session.open: %w", err)
	}

	go c.readLoop()
	return c, nil
}

type pairingResult struct {
	code string
	err  error
}

// wsConn is one bridge connection.
//
// Concurrency:
//   - readLoop is the only reader and the only caller of Handlers.
//   - coder/websocket allows concurrent writes.
//   - shutdown is idempotent and fails every pending request.
type wsConn struct {
	log            *slog.Logger
	conn           *websocket.Conn
	handlers       Handlers
	writeTimeout   time.Duration
	requestTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending map[string]chan pairingResult
	closed  bool

	closeOnce sync.Once
	done      chan struct{}
}

func (c *wsConn) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	id := newRequestID()
	if id == "" {
		return "", errors.New("transport: request id generation failed")
	}

	ch := make(chan pairingResult, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	payload, _ := json.Marshal(v1.PairingRequestPayload{Phone: phone})
	if err := c.write(newEnvelope(v1.TypePairingRequest, id, payload)); err != nil {
		return "", fmt.Errorf("transport: send pairing.request: %w", err)
	}

	timer := time.NewTimer(c.requestTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.code, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-c.done:
		return "", ErrClosed
	case <-timer.C:
		return "", errors.New("transport: pairing request timed out")
	}
}

// Close tells the bridge to drop the connection and releases the socket.
func (c *wsConn) Close() error {
	c.mu.Lock()
	already := c.closed
	c.mu.Unlock()

	if !already {
		ctx, cancel := context.WithTimeout(context.Background(), wsCloseWriteTimeout)
		b, err := json.Marshal(newEnvelope(v1.TypeSessionClose, "", json.RawMessage(`{}`)))
		if err == nil {
			_ = c.conn.Write(ctx, websocket.MessageText, b)
		}
		cancel()
	}

	c.shutdown()
	return nil
}

func (c *wsConn) shutdown() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		for id, ch := range c.pending {
			select {
			case ch <- pairingResult{err: ErrClosed}:
			default:
			}
			delete(c.pending, id)
		}
		c.mu.Unlock()

		close(c.done)
		c.cancel()
		_ = c.conn.CloseNow()
	})
}

func (c *wsConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *wsConn) readLoop() {
	for {
		data, err := c.read()
		if err != nil {
			if c.isClosed() {
				return
			}
			c.log.Info("transport.read.fail", "close_status", websocket.CloseStatus(err), "err", err)
			c.handlers.connectionUpdate(Update{
				Connection: StateClose,
				Reason:     reasonFromReadErr(err),
				Err:        err,
			})
			c.shutdown()
			return
		}

		var env v1.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Info("transport.envelope.bad_json", "err", err)
			continue
		}
		if err := env.Validate(); err != nil {
			c.log.Info("transport.envelope.invalid", "err", err)
			continue
		}

		if stop := c.dispatch(env); stop {
			c.shutdown()
			return
		}
	}
}

// dispatch routes one envelope; it returns true once the bridge closed the connection.
func (c *wsConn) dispatch(env v1.Envelope) bool {
	switch env.Type {
	case v1.TypeConnectionUpdate:
		var p v1.ConnectionUpdatePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			c.log.Info("transport.payload.invalid", "type", env.Type, "err", err)
			return false
		}
		u := Update{
			Connection: ConnectionState(p.Connection),
			QR:         p.QR,
			Reason:     DisconnectReason(p.Reason),
		}
		if p.Error != "" {
			u.Err = errors.New(p.Error)
		}
		c.handlers.connectionUpdate(u)
		return u.Connection == StateClose

	case v1.TypeCredsUpdate:
		var p v1.CredsUpdatePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || len(p.Creds) == 0 {
			c.log.Info("transport.payload.invalid", "type", env.Type, "err", err)
			return false
		}
		c.handlers.credentialsUpdate(p.Creds)

	case v1.TypeKeysUpdate:
		var p v1.KeysUpdatePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.Name == "" {
			c.log.Info("transport.payload.invalid", "type", env.Type, "err", err)
			return false
		}
		c.handlers.keysUpdate(p.Name, p.Data)

	case v1.TypePairingCode:
		var p v1.PairingCodePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			c.resolve(env.ID, pairingResult{err: fmt.Errorf("transport: invalid pairing.code payload: %w", err)})
			return false
		}
		c.resolve(env.ID, pairingResult{code: p.Code})

	case v1.TypeError:
		var p v1.ErrorPayload
		_ = json.Unmarshal(env.Payload, &p)
		berr := &BridgeError{Code: p.Code, Message: p.Message}
		if env.ID != "" && c.resolve(env.ID, pairingResult{err: berr}) {
			return false
		}
		// Unsolicited errors surface as fault-carrying updates.
		c.handlers.connectionUpdate(Update{Err: berr})

	default:
		c.log.Debug("transport.envelope.ignored", "type", env.Type)
	}
	return false
}

func (c *wsConn) resolve(id string, res pairingResult) bool {
	c.mu.Lock()
	ch, ok := c.pending[id]
	c.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- res:
	default:
	}
	return true
}

func (c *wsConn) read() ([]byte, error) {
	mt, data, err := c.conn.Read(c.ctx)
	if err != nil {
		return nil, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return nil, fmt.Errorf("unsupported message type: %v", mt)
	}
	return data, nil
}

func (c *wsConn) write(env v1.Envelope) error {
	ctx, cancel := context.WithTimeout(c.ctx, c.writeTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return c.conn.Write(ctx, websocket.MessageText, b)
}

func newEnvelope(typ, id string, payload json.RawMessage) v1.Envelope {
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      id,
		TS:      time.Now().UTC(),
		Payload: payload,
	}
}

func reasonFromReadErr(err error) DisconnectReason {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return ReasonConnectionClosed
	case websocket.StatusPolicyViolation:
		return ReasonForbidden
	default:
		return ReasonConnectionLost
	}
}
