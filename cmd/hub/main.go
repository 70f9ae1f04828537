// Command hub runs an always-on aggregator peer: it hosts rooms on
// demand, bridges each room's gossip topic with any direct sync stream
// opened against it, and persists every room's state to disk.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"weftsync/internal/config"
	"weftsync/internal/content"
	"weftsync/internal/hub"
	"weftsync/internal/identity"
	"weftsync/internal/models"
	"weftsync/internal/store"
	"weftsync/internal/transport"
	"weftsync/internal/utils"
)

func main() {
	cfg, err := config.LoadHubConfig(os.Args[1:])
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := utils.NewTaggedLogger("HUB", os.Stdout)
	if cfg.RemoteLogPort != 0 {
		rl, rlErr := utils.NewRemoteLogger(cfg.RemoteLogPort)
		if rlErr != nil {
			logger.Printf("remote log listener: %v, continuing without it", rlErr)
		} else {
			logger = logger.AttachRemote(rl)
			logger.Printf("remote log listening on :%d", cfg.RemoteLogPort)
		}
	}

	id, err := identity.LoadOrCreate(filepath.Join(cfg.DataDir, "identity.key"))
	if err != nil {
		log.Fatalf("identity: %v", err)
	}
	logger.Printf("hub peer id: %s", id.PeerID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tr, err := transport.New(ctx, id.PrivKey, cfg.ListenAddrs, logger.With("transport"))
	if err != nil {
		log.Fatalf("transport: %v", err)
	}
	defer tr.Close()

	roomsDir := filepath.Join(cfg.DataDir, "ydocs")
	storeFactory := newStoreFactory(cfg.StoreBackend, roomsDir)

	if cfg.Relay {
		logger.Printf("relay mode requested: circuit relay for NAT traversal is out of core scope, ignoring")
	}

	var pinTracker *content.PinTracker
	if cfg.Mirror {
		client := content.NewStubClient(cfg.PinDelay)
		pinTracker = content.NewPinTracker(client, logger.With("pin"))
		logger.Printf("mirror mode enabled: every manifest entry seen will be pinned (http port %d, block upload out of core scope)", cfg.HTTPPort)
	}

	h := hub.New(tr, storeFactory, pinTracker, logger.With("hub"))
	if cfg.Sync {
		h.Start(ctx)
		logger.Printf("sync mode enabled: listening on %v", cfg.ListenAddrs)
	} else {
		logger.Printf("sync mode disabled: no direct-stream protocol handler registered, so no room is ever joined and mirror mode has nothing to pin")
	}

	<-ctx.Done()
	logger.Printf("shutting down")
}

// newStoreFactory selects the persistence back-end once at startup. A
// fresh store value is returned per room: Init stores the room's own
// path/key/handle on the instance, so two rooms can never share one.
func newStoreFactory(backend, dir string) func(models.RoomID) store.PersistentStore {
	switch backend {
	case "bolt":
		return func(models.RoomID) store.PersistentStore { return store.NewBoltStore(dir) }
	default:
		return func(models.RoomID) store.PersistentStore { return store.NewFileStore(dir) }
	}
}
