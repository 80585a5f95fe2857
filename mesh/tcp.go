package mesh

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/mbocsi/gomesh/proto"
)

// TCPTransport carries newline-delimited wire envelopes over TCP. Links
// are symmetric: a node both listens for inbound neighbours and dials
// outbound ones, and both kinds of connection are handled identically.
type TCPTransport struct {
	Addr         string
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

func NewTCPTransport(addr string) *TCPTransport {
	return &TCPTransport{Addr: addr, maxLinks: 16, links: make(map[string]Link)}
}

func (t *TCPTransport) Start() error {
	slog.Info("Starting tcp transport", "addr", t.Addr)

	if t.onConnect == nil || t.onDisconnect == nil || t.onMessage == nil {
		return fmt.Errorf("The OnConnect, OnDisconnect, or OnMessage function is not defined. This transport is likely being started outside of a node.")
	}

	l, err := net.Listen("tcp", t.Addr)
	if err != nil {
		return err
	}
	t.listener = l
	t.connected = true
	defer func() {
		l.Close()
		t.connected = false
	}()

	for {
		conn, err := t.listener.Accept()
		if err != nil {
			return err // exits goroutine when listener is closed
		}

		t.lmu.RLock()
		linkCount := len(t.links)
		t.lmu.RUnlock()

		if linkCount >= t.maxLinks {
			slog.Warn("Max links reached, rejecting connection", "remote_addr", conn.RemoteAddr())
			conn.Close()
			continue
		}

		go t.handleConnection(conn)
	}
}

// Connect dials a neighbour and runs the link like an inbound one.
func (t *TCPTransport) Connect(addr string) (Link, error) {
	if t.onConnect == nil || t.onDisconnect == nil || t.onMessage == nil {
		return nil, fmt.Errorf("transport is not registered with a node")
	}

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial neighbour %s: %w", addr, err)
	}

	link := newTCPLink(conn, t)
	go t.runLink(link, conn)
	return link, nil
}

// ListenAddr returns the bound address once Start has taken effect, which
// matters when Addr requested port 0.
func (t *TCPTransport) ListenAddr() string {
	if t.listener != nil {
		return t.listener.Addr().String()
	}
	return t.Addr
}

func (t *TCPTransport) handleConnection(c net.Conn) {
	t.runLink(newTCPLink(c, t), c)
}

func (t *TCPTransport) runLink(link *tcpLink, c net.Conn) {
	ip := c.RemoteAddr().String()
	slog.Info("Neighbour connected", "addr", ip)

	defer func() {
		t.lmu.Lock()
		delete(t.links, link.ID)
		t.lmu.Unlock()

		t.onDisconnect(link)

		c.Close()
		slog.Info("Neighbour disconnected", "addr", ip, "id", link.ID)
	}()

	if err := t.onConnect(link); err != nil {
		slog.Error("Failed to register neighbour", "addr", ip, "error", err.Error())
		return
	}
	t.lmu.Lock()
	t.links[link.ID] = link
	t.lmu.Unlock()

	reader := bufio.NewScanner(c)
	for reader.Scan() {
		line := reader.Bytes()
		v := proto.ParseVariant(line)
		if v.Err() != nil {
			slog.Warn("Invalid wire message received", "error", v.Err(), "data", string(line))
			continue
		}
		slog.Debug("Message received", "type", v.Type(), "dest", v.Dest(), "link", link.ID, "size", len(line))
		t.onMessage(link, v)
	}

	if err := reader.Err(); err != nil {
		slog.Warn("Connection error", "addr", ip, "error", err)
	}
}

func (t *TCPTransport) Shutdown() error {
	slog.Info("Shutting down tcp transport", "addr", t.Addr)
	if t.listener != nil {
		return t.listener.Close()
	}
	return nil
}

func (t *TCPTransport) OnMessage(fn func(Link, *proto.Variant)) {
	t.onMessage = fn
}

func (t *TCPTransport) OnConnect(fn func(Link) error) {
	t.onConnect = fn
}

func (t *TCPTransport) OnDisconnect(fn func(Link)) {
	t.onDisconnect = fn
}

func (t *TCPTransport) Meta() TransportMetadata {
	t.lmu.RLock()
	links := make(map[string]Link, len(t.links))
	for id, l := range t.links {
		links[id] = l
	}
	t.lmu.RUnlock()
	return TransportMetadata{
		Name:        t.name,
		Description: t.description,
		Protocol:    "tcp",
		Address:     t.Addr,
		Links:       links,
		MaxLinks:    t.maxLinks,
		Connected:   t.connected,
	}
}

func (t *TCPTransport) SetName(name string) {
	t.name = name
}

func (t *TCPTransport) SetMaxLinks(n int) {
	t.maxLinks = n
}

func (t *TCPTransport) SetDescription(description string) {
	t.description = description
}

type tcpLink struct {
	LinkMetadata
	conn net.Conn
	wmu  sync.Mutex
}

func newTCPLink(conn net.Conn, t Transport) *tcpLink {
	return &tcpLink{
		conn:         conn,
		LinkMetadata: LinkMetadata{ID: generateLinkID("tcp"), Transport: t},
	}
}

func (l *tcpLink) Send(v *proto.Variant) error {
	data, err := v.Bytes()
	if err != nil {
		return err
	}
	data = append(data, '\n')

	l.wmu.Lock()
	_, err = l.conn.Write(data)
	l.wmu.Unlock()

	slog.Debug("Sent message", "to", l.ID, "type", v.Type(), "dest", v.Dest(), "size", len(data))
	return err
}

func (l *tcpLink) Meta() *LinkMetadata {
	return &l.LinkMetadata
}
