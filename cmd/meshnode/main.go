package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mbocsi/gomesh/config"
	"github.com/mbocsi/gomesh/mcp"
	"github.com/mbocsi/gomesh/mesh"
	"github.com/mbocsi/gomesh/proto"
	"github.com/mbocsi/gomesh/web"
)

func setupLogger() {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	slog.SetDefault(slog.New(handler))
}

func main() {
	setupLogger()

	configPath := flag.String("config", "", "path to the node TOML config")
	serveMCP := flag.Bool("mcp", false, "serve mesh inspection tools over stdio MCP")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			slog.Error("Failed to load config", "path", *configPath, "error", err.Error())
			os.Exit(1)
		}
		cfg = loaded
	}

	node := mesh.NewNode(mesh.NodeOptions{
		ID:   cfg.NodeID,
		Root: cfg.Root,
		OnSingle: func(s proto.Single) {
			slog.Info("Received message", "from", s.From, "msg", s.Msg)
		},
		OnTimeOffset: func(peer, t0, t1, t2, t3 uint32) {
			offset := (int64(t1) - int64(t0) + int64(t2) - int64(t3)) / 2
			slog.Info("Clock offset measured", "peer", peer, "offset_us", offset)
		},
	})

	var tcpTransport *mesh.TCPTransport
	if cfg.TCPAddr != "" {
		tcpTransport = mesh.NewTCPTransport(cfg.TCPAddr)
		tcpTransport.SetName("Mesh TCP links")
		node.RegisterTransport(tcpTransport)
	}
	if cfg.WSAddr != "" {
		wsTransport := mesh.NewWSTransport(cfg.WSAddr)
		wsTransport.SetName("Mesh WebSocket links")
		node.RegisterTransport(wsTransport)
	}

	if cfg.WebAddr != "" {
		statusServer := web.NewServer(node)
		go func() {
			if err := statusServer.Start(cfg.WebAddr); err != nil {
				slog.Error("Status server exited", "error", err.Error())
			}
		}()
		defer statusServer.Shutdown()
	}

	if *serveMCP {
		mcpServer := mcp.NewMCPServer(node)
		go func() {
			if err := mcpServer.Start(); err != nil {
				slog.Error("MCP server exited", "error", err.Error())
			}
		}()
		defer mcpServer.Shutdown()
	}

	if cfg.Discovery && tcpTransport != nil {
		port := listenPort(cfg.TCPAddr)
		if adv, err := mesh.Advertise(cfg.NodeID, "tcp", port); err != nil {
			slog.Warn("Failed to advertise node", "error", err.Error())
		} else {
			defer adv.Shutdown()
		}
	}

	// Dial static peers once the listener is up.
	if tcpTransport != nil && len(cfg.Peers) > 0 {
		go func() {
			time.Sleep(time.Second)
			for _, peer := range cfg.Peers {
				if _, err := tcpTransport.Connect(peer); err != nil {
					slog.Warn("Failed to dial peer", "peer", peer, "error", err.Error())
				}
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		ticker := time.NewTicker(cfg.SyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				node.SyncAll()
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := node.Start(ctx); err != nil {
		slog.Error("Error running mesh node", "error", err.Error())
	}
}

func listenPort(addr string) int {
	idx := strings.LastIndex(addr, ":")
	if idx == -1 {
		return 0
	}
	port, err := strconv.Atoi(addr[idx+1:])
	if err != nil {
		return 0
	}
	return port
}
