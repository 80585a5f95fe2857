package mesh

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/mbocsi/gomesh/proto"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

// WSTransport carries wire envelopes over WebSocket text frames, one
// envelope per frame.
type WSTransport struct {
	Addr         string
	server       *http.Server
	listener     net.Listener
	onMessage    func(Link, *proto.Variant)
	onConnect    func(Link) error
	onDisconnect func(Link)

	name        string
	description string
	links       map[string]Link
	lmu         sync.RWMutex

	maxLinks  int
	connected bool
}

func NewWSTransport(addr string) *WSTransport {
	return &WSTransport{
		Addr:     addr,
		maxLinks: 16,
		links:    make(map[string]Link),
	}
}

func (t *WSTransport) Start() error {
	slog.Info("Starting websocket transport", "addr", t.Addr)

	if t.onConnect == nil || t.onDisconnect == nil || t.onMessage == nil {
		return fmt.Errorf("The OnConnect, OnDisconnect, or OnMessage function is not defined. This transport is likely being started outside of a node.")
	}

	l, err := net.Listen("tcp", t.Addr)
	if err != nil {
		return err
	}
	t.listener = l

	mux := http.NewServeMux()
	mux.HandleFunc("/", t.handleWebSocket)

	t.server = &http.Server{Handler: mux}

	t.connected = true
	err = t.server.Serve(l)
	if err != nil && err != http.ErrServerClosed {
		t.connected = false
		return err
	}

	return nil
}

// ListenAddr returns the bound address once Start has taken effect, which
// matters when Addr requested port 0.
func (t *WSTransport) ListenAddr() string {
	if t.listener != nil {
		return t.listener.Addr().String()
	}
	return t.Addr
}

// Connect dials a neighbour's websocket endpoint and runs the link like an
// inbound one.
func (t *WSTransport) Connect(url string) (Link, error) {
	if t.onConnect == nil || t.onDisconnect == nil || t.onMessage == nil {
		return nil, fmt.Errorf("transport is not registered with a node")
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial neighbour %s: %w", url, err)
	}

	link := newWSLink(conn, t)
	go t.runLink(link, conn, url)
	return link, nil
}

func (t *WSTransport) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection", "error", err)
		return
	}

	t.lmu.RLock()
	linkCount := len(t.links)
	t.lmu.RUnlock()

	if linkCount >= t.maxLinks {
		slog.Warn("Max links reached, rejecting connection", "remote_addr", r.RemoteAddr)
		conn.Close()
		return
	}

	go t.runLink(newWSLink(conn, t), conn, r.RemoteAddr)
}

func (t *WSTransport) runLink(link *wsLink, conn *websocket.Conn, remoteAddr string) {
	slog.Info("WebSocket neighbour connected", "addr", remoteAddr)

	defer func() {
		t.lmu.Lock()
		delete(t.links, link.ID)
		t.lmu.Unlock()

		t.onDisconnect(link)

		conn.Close()
		slog.Info("WebSocket neighbour disconnected", "addr", remoteAddr, "id", link.ID)
	}()

	if err := t.onConnect(link); err != nil {
		slog.Error("Failed to register WebSocket neighbour", "addr", remoteAddr, "error", err.Error())
		return
	}

	t.lmu.Lock()
	t.links[link.ID] = link
	t.lmu.Unlock()

	for {
		_, messageBytes, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("WebSocket connection error", "addr", remoteAddr, "error", err)
			}
			break
		}

		v := proto.ParseVariant(messageBytes)
		if v.Err() != nil {
			slog.Warn("Invalid wire message received", "error", v.Err(), "data", string(messageBytes))
			continue
		}
		slog.Debug("WebSocket message received", "type", v.Type(), "dest", v.Dest(), "link", link.ID, "size", len(messageBytes))
		t.onMessage(link, v)
	}
}

func (t *WSTransport) Shutdown() error {
	slog.Info("Shutting down websocket transport", "addr", t.Addr)
	t.connected = false
	if t.server != nil {
		return t.server.Close()
	}
	return nil
}

func (t *WSTransport) OnMessage(fn func(Link, *proto.Variant)) {
	t.onMessage = fn
}

func (t *WSTransport) OnConnect(fn func(Link) error) {
	t.onConnect = fn
}

func (t *WSTransport) OnDisconnect(fn func(Link)) {
	t.onDisconnect = fn
}

func (t *WSTransport) Meta() TransportMetadata {
	t.lmu.RLock()
	links := make(map[string]Link, len(t.links))
	for id, l := range t.links {
		links[id] = l
	}
	t.lmu.RUnlock()
	return TransportMetadata{
		Name:        t.name,
		Description: t.description,
		Protocol:    "websocket",
		Address:     t.Addr,
		Links:       links,
		MaxLinks:    t.maxLinks,
		Connected:   t.connected,
	}
}

func (t *WSTransport) SetName(name string) {
	t.name = name
}

func (t *WSTransport) SetMaxLinks(n int) {
	t.maxLinks = n
}

func (t *WSTransport) SetDescription(description string) {
	t.description = description
}

type wsLink struct {
	LinkMetadata
	conn *websocket.Conn
	wmu  sync.Mutex
}

func newWSLink(conn *websocket.Conn, t Transport) *wsLink {
	return &wsLink{
		conn:         conn,
		LinkMetadata: LinkMetadata{ID: generateLinkID("ws"), Transport: t},
	}
}

func (l *wsLink) Send(v *proto.Variant) error {
	data, err := v.Bytes()
	if err != nil {
		return err
	}

	l.wmu.Lock()
	err = l.conn.WriteMessage(websocket.TextMessage, data)
	l.wmu.Unlock()
	if err != nil {
		return err
	}

	slog.Debug("Sent WebSocket message", "to", l.ID, "type", v.Type(), "dest", v.Dest(), "size", len(data))
	return nil
}

func (l *wsLink) Meta() *LinkMetadata {
	return &l.LinkMetadata
}
