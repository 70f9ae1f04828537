// Package config loads the flag/env settings for both binaries the way
// the donor wires its own cmd/hub and cmd/client mains: plain flag
// parsing with an environment-variable fallback, no config file or
// third-party flags library.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// HubConfig configures the hub binary. Relay, Sync and Mirror name the
// three optional modes §4.7 describes; LoadHubConfig's "-*-only" flags
// pick any combination of them, not just one.
type HubConfig struct {
	ListenAddrs   []string
	DataDir       string
	StoreBackend  string // "file" or "bolt"
	Relay         bool
	Sync          bool
	Mirror        bool
	TCPPort       int
	HTTPPort      int
	PinDelay      time.Duration
	RemoteLogPort int // 0 disables the operator remote-log TCP sink
}

// LoadHubConfig parses flags, falling back to environment variables for
// any flag left at its zero value, then to the hard-coded default.
//
// The three mode flags are additive, not exclusive, despite the "-only"
// naming: passing none of them enables all three modes (a full-stack
// hub), passing one or more enables exactly the modes named.
func LoadHubConfig(args []string) (*HubConfig, error) {
	fs := flag.NewFlagSet("hub", flag.ContinueOnError)

	tcpPort := fs.Int("tcp-port", envOrInt("TCP_PORT", envOrInt("PORT", 4001)), "libp2p TCP listen port")
	httpPort := fs.Int("http-port", envOrInt("HTTP_PORT", 8080), "HTTP block-upload listen port (mirror mode)")
	listen := fs.String("listen", "", "comma-separated libp2p listen multiaddrs; overrides -tcp-port if set")
	dataDir := fs.String("data-dir", envOr("DATA_DIR", "./data/hub"), "directory for identity key and room snapshots")
	storeBackend := fs.String("store", envOr("WC_HUB_STORE", "file"), `persistence backend: "file" or "bolt"`)
	relayOnly := fs.Bool("relay-only", false, "enable relay mode (circuit relay for NAT traversal)")
	mirrorOnly := fs.Bool("mirror-only", false, "enable mirror mode (content pinning + block upload)")
	syncOnly := fs.Bool("sync-only", false, "enable sync mode (the room sync protocol handler)")
	pinDelay := fs.Duration("pin-delay", envOrDuration("WC_HUB_PIN_DELAY", 0), "simulated fetch latency for the stub content client")
	remoteLogPort := fs.Int("remote-log-port", envOrInt("WC_HUB_REMOTE_LOG_PORT", 0), "TCP port operators can connect to and tail this hub's log; 0 disables it")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	relay, sync, mirror := *relayOnly, *syncOnly, *mirrorOnly
	if !relay && !sync && !mirror {
		relay, sync, mirror = true, true, true
	}

	listenAddrs := splitNonEmpty(*listen)
	if len(listenAddrs) == 0 {
		listenAddrs = []string{fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", *tcpPort)}
	}

	return &HubConfig{
		ListenAddrs:   listenAddrs,
		DataDir:       *dataDir,
		StoreBackend:  *storeBackend,
		Relay:         relay,
		Sync:          sync,
		Mirror:        mirror,
		TCPPort:       *tcpPort,
		HTTPPort:      *httpPort,
		PinDelay:      *pinDelay,
		RemoteLogPort: *remoteLogPort,
	}, nil
}

// PeerConfig configures the peer operator console.
type PeerConfig struct {
	ListenAddrs []string
	DataDir     string
	DisplayName string
	HubPeer     string // empty: gossip-only, no direct hub stream
}

func LoadPeerConfig(args []string) (*PeerConfig, error) {
	fs := flag.NewFlagSet("peer", flag.ContinueOnError)

	listen := fs.String("listen", envOr("WC_PEER_LISTEN", "/ip4/0.0.0.0/tcp/0"), "comma-separated libp2p listen multiaddrs")
	dataDir := fs.String("data-dir", envOr("WC_PEER_DATA_DIR", "./data/peer"), "directory for identity key and the room directory database")
	name := fs.String("name", envOr("WC_PEER_NAME", ""), "display name shown to other peers")
	hubPeer := fs.String("hub", envOr("WC_PEER_HUB", ""), "libp2p peer id of a hub to dial directly, in addition to gossip")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	return &PeerConfig{
		ListenAddrs: splitNonEmpty(*listen),
		DataDir:     *dataDir,
		DisplayName: *name,
		HubPeer:     *hubPeer,
	}, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envOrDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
