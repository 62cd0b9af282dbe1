// Package enforcer is the WebSocket hub between the authority and the
// processes that act on its decisions. Tab connections receive ENFORCE
// instructions, the bridge connection receives INJECT requests, and any
// connection may send protocol requests and read back a RESULT.
package enforcer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/haukened/gracegate/internal/access/common/log"
	"github.com/haukened/gracegate/internal/access/domain"
	"github.com/haukened/gracegate/internal/access/gateways/wire"
	"github.com/haukened/gracegate/internal/access/services/authority"
)

var (
	// ErrNoReceiver is returned by Deliver when no connection owns the tab.
	ErrNoReceiver = errors.New("no enforcer connected for tab")
	// ErrNoBridge is returned by Inject when no bridge is connected.
	ErrNoBridge = errors.New("no bridge connected")
)

const roleClient = "client"

// Handler answers protocol requests; *authority.Authority satisfies it.
type Handler interface {
	Handle(ctx context.Context, msg domain.Message) domain.Response
}

// Observer is notified as connections come and go.
type Observer interface {
	ConnectionOpened(role string)
	ConnectionClosed(role string)
}

// Options configures a Hub.
type Options struct {
	Logger   log.Logger
	Observer Observer // optional
	// OriginPatterns are extra origins accepted on upgrade, e.g. "chrome-extension://*".
	OriginPatterns []string
	// WriteTimeout bounds each frame write; defaults to 5s.
	WriteTimeout time.Duration
}

// Hub tracks live connections by role and tab.
type Hub struct {
	logger       log.Logger
	observer     Observer
	origins      []string
	writeTimeout time.Duration

	mu      sync.RWMutex
	handler Handler
	tabs    map[int]*peer
	bridge  *peer
}

type peer struct {
	ws   *websocket.Conn
	role string
	tabs []int
}

var _ authority.Enforcer = (*Hub)(nil)

// NewHub returns a Hub with no connections and no handler bound.
func NewHub(opts Options) *Hub {
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	return &Hub{
		logger:       log.Component(opts.Logger, "enforcer"),
		observer:     opts.Observer,
		origins:      opts.OriginPatterns,
		writeTimeout: opts.WriteTimeout,
		tabs:         make(map[int]*peer),
	}
}

// Bind sets the request handler. The hub and the authority depend on each
// other, so binding happens after both exist.
func (h *Hub) Bind(handler Handler) {
	h.mu.Lock()
	h.handler = handler
	h.mu.Unlock()
}

// Deliver sends an ENFORCE frame to the connection owning e.TabID.
func (h *Hub) Deliver(ctx context.Context, e domain.Enforce) error {
	h.mu.RLock()
	p := h.tabs[e.TabID]
	h.mu.RUnlock()
	if p == nil {
		return fmt.Errorf("%w %d", ErrNoReceiver, e.TabID)
	}
	return h.write(ctx, p, wire.EnforceFrame(e))
}

// Inject asks the bridge to install an enforcer into tabID.
func (h *Hub) Inject(ctx context.Context, tabID int) error {
	h.mu.RLock()
	p := h.bridge
	h.mu.RUnlock()
	if p == nil {
		return ErrNoBridge
	}
	return h.write(ctx, p, wire.InjectFrame(tabID))
}

// Connected returns the registered tabs in ascending order and whether a
// bridge is attached.
func (h *Hub) Connected() (tabs []int, bridge bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for t := range h.tabs {
		tabs = append(tabs, t)
	}
	slices.Sort(tabs)
	return tabs, h.bridge != nil
}

func (h *Hub) write(ctx context.Context, p *peer, f wire.Frame) error {
	ctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, p.ws, f); err != nil {
		return fmt.Errorf("write %s: %w", f.Type, err)
	}
	return nil
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		h.logger.Warn(map[string]any{"remote": r.RemoteAddr, "err": err}, "websocket upgrade failed")
		return
	}
	p := &peer{ws: ws, role: roleClient}
	h.opened(p.role)
	defer func() {
		h.unregister(p)
		h.closed(p.role)
		_ = ws.Close(websocket.StatusNormalClosure, "closed")
	}()

	ctx := r.Context()
	for {
		var f wire.Frame
		if err := wsjson.Read(ctx, ws, &f); err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				h.logger.Debug(map[string]any{"role": p.role, "err": err}, "connection read failed")
			}
			return
		}
		if f.Type == wire.TypeHello {
			h.hello(p, f)
			continue
		}
		if err := h.write(ctx, p, h.answer(ctx, p, f)); err != nil {
			h.logger.Debug(map[string]any{"role": p.role, "err": err}, "reply failed")
			return
		}
	}
}

// answer turns one request frame into its RESULT or ERROR frame.
func (h *Hub) answer(ctx context.Context, p *peer, f wire.Frame) wire.Frame {
	h.mu.RLock()
	handler := h.handler
	var tab int
	if len(p.tabs) == 1 {
		tab = p.tabs[0]
	}
	h.mu.RUnlock()

	msg, err := f.Message(tab)
	if err != nil {
		return wire.Failure(f.ID, err)
	}
	if handler == nil {
		return wire.Failure(f.ID, errors.New("authority unavailable"))
	}
	res, err := wire.Result(f.ID, handler.Handle(ctx, msg))
	if err != nil {
		return wire.Failure(f.ID, err)
	}
	return res
}

// hello registers p in the role it announces. A later connection claiming
// the same tab or the bridge role replaces the earlier one.
func (h *Hub) hello(p *peer, f wire.Frame) {
	role := f.Role
	if role != wire.RoleTab && role != wire.RoleBridge {
		h.logger.Warn(map[string]any{"role": role}, "unknown role in hello")
		return
	}
	tabs := f.Tabs
	if f.Tab != 0 {
		tabs = append(tabs, f.Tab)
	}

	h.mu.Lock()
	prev := p.role
	p.role = role
	if role == wire.RoleBridge {
		h.bridge = p
	} else {
		for _, t := range tabs {
			if t == 0 || slices.Contains(p.tabs, t) {
				continue
			}
			h.tabs[t] = p
			p.tabs = append(p.tabs, t)
		}
	}
	h.mu.Unlock()

	if prev != role {
		h.closed(prev)
		h.opened(role)
	}
	h.logger.Debug(map[string]any{"role": role, "tabs": tabs}, "connection registered")
}

func (h *Hub) unregister(p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range p.tabs {
		if h.tabs[t] == p {
			delete(h.tabs, t)
		}
	}
	if h.bridge == p {
		h.bridge = nil
	}
}

func (h *Hub) opened(role string) {
	if h.observer != nil {
		h.observer.ConnectionOpened(role)
	}
}

func (h *Hub) closed(role string) {
	if h.observer != nil {
		h.observer.ConnectionClosed(role)
	}
}
