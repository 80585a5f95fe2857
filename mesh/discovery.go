package mesh

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/hashicorp/mdns"
)

const (
	tcpService = "_gomesh-tcp._tcp"
	wsService  = "_gomesh-ws._tcp"
)

// DiscoveredPeer represents a mesh neighbour found on the local network.
type DiscoveredPeer struct {
	ServiceName string
	Address     string
	Port        int
	Transport   string // "tcp" or "websocket"
	TXTRecords  []string
}

// Advertiser announces this node's transport endpoint over mDNS so
// nearby nodes can find it without configuration.
type Advertiser struct {
	server *mdns.Server
}

// Advertise publishes the given transport endpoint. The node id travels in
// the TXT records so peers can skip themselves.
func Advertise(nodeID uint32, transport string, port int) (*Advertiser, error) {
	service := tcpService
	if transport == "websocket" {
		service = wsService
	}

	instance := "gomesh-" + strconv.FormatUint(uint64(nodeID), 10)
	txt := []string{"nodeId=" + strconv.FormatUint(uint64(nodeID), 10)}

	zone, err := mdns.NewMDNSService(instance, service, "", "", port, nil, txt)
	if err != nil {
		return nil, fmt.Errorf("mdns service setup: %w", err)
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: zone})
	if err != nil {
		return nil, fmt.Errorf("mdns server start: %w", err)
	}

	slog.Info("Advertising mesh node", "service", service, "port", port, "nodeId", nodeID)
	return &Advertiser{server: server}, nil
}

func (a *Advertiser) Shutdown() error {
	return a.server.Shutdown()
}

// discoverPeer discovers a specific mesh service type using mDNS.
func discoverPeer(serviceType string, timeout time.Duration) (*DiscoveredPeer, error) {
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	entriesCh := make(chan *mdns.ServiceEntry, 4)

	// Start discovery in background
	go func() {
		defer close(entriesCh)
		mdns.Lookup(serviceType, entriesCh)
	}()

	// Wait for first result or timeout
	select {
	case entry := <-entriesCh:
		if entry == nil {
			return nil, fmt.Errorf("no %s service found", serviceType)
		}

		var address string
		if entry.AddrV4 != nil {
			address = entry.AddrV4.String()
		} else if entry.AddrV6 != nil {
			address = fmt.Sprintf("[%s]", entry.AddrV6.String())
		} else {
			return nil, fmt.Errorf("no valid address found for service")
		}

		var transport string
		if serviceType == tcpService {
			transport = "tcp"
		} else if serviceType == wsService {
			transport = "websocket"
		}

		peer := &DiscoveredPeer{
			ServiceName: entry.Name,
			Address:     address,
			Port:        entry.Port,
			Transport:   transport,
			TXTRecords:  entry.InfoFields,
		}

		slog.Info("Discovered mesh node",
			"service_name", peer.ServiceName,
			"address", peer.Address,
			"port", peer.Port,
			"transport", peer.Transport,
		)

		return peer, nil

	case <-time.After(timeout):
		return nil, fmt.Errorf("mDNS discovery timeout for %s", serviceType)
	}
}

// DiscoverTCPPeer discovers the first available TCP mesh neighbour.
func DiscoverTCPPeer(timeout time.Duration) (*DiscoveredPeer, error) {
	return discoverPeer(tcpService, timeout)
}

// DiscoverWebSocketPeer discovers the first available WebSocket mesh neighbour.
func DiscoverWebSocketPeer(timeout time.Duration) (*DiscoveredPeer, error) {
	return discoverPeer(wsService, timeout)
}
