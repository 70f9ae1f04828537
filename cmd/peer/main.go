package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"weftsync/internal/config"
	"weftsync/internal/identity"
	"weftsync/internal/localstore"
	"weftsync/internal/models"
	"weftsync/internal/store"
	"weftsync/internal/sync"
	"weftsync/internal/transport"
	"weftsync/internal/ui"
	"weftsync/internal/utils"
)

func main() {
	cfg, err := config.LoadPeerConfig(os.Args[1:])
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := utils.NewTaggedLogger("PEER", os.Stdout)

	id, err := identity.LoadOrCreate(filepath.Join(cfg.DataDir, "identity.key"))
	if err != nil {
		log.Fatalf("identity: %v", err)
	}
	logger.Printf("peer id: %s", id.PeerID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr, err := transport.New(ctx, id.PrivKey, cfg.ListenAddrs, logger.With("transport"))
	if err != nil {
		log.Fatalf("transport: %v", err)
	}
	defer tr.Close()

	dirStore, err := localstore.Open(filepath.Join(cfg.DataDir, "rooms.db"))
	if err != nil {
		log.Fatalf("local store: %v", err)
	}
	defer dirStore.Close()

	storeFactory := func(roomID models.RoomID) store.PersistentStore {
		return store.NewFileStore(filepath.Join(cfg.DataDir, "ydocs"))
	}

	engine := sync.NewEngine(ctx, tr, storeFactory, logger.With("sync"))

	displayName := cfg.DisplayName
	if displayName == "" {
		displayName = string(tr.HostID())
	}

	var console *ui.Console
	var activeRoom *sync.RoomHandle

	handlers := ui.Handlers{
		Join: func(roomID, name string) error {
			if name != "" {
				displayName = name
			}
			room, joinErr := engine.Join(ctx, sync.JoinOptions{
				RoomID:  models.RoomID(roomID),
				HubPeer: transport.PeerID(cfg.HubPeer),
				OnManifestUpdate: func(m models.Manifest) {
					console.SetManifest(m)
				},
				OnNewChat: func(msg models.ChatMessage) {
					console.AppendChat(msg)
				},
			})
			if joinErr != nil {
				return joinErr
			}
			activeRoom = room
			if saveErr := dirStore.SaveRoom(models.RoomMeta{
				ID:       models.RoomID(roomID),
				Name:     roomID,
				LastSeen: time.Now().Unix(),
			}); saveErr != nil {
				logger.Printf("save room directory entry: %v", saveErr)
			}
			console.SetManifest(room.Manifest())
			for _, msg := range room.Chat() {
				console.AppendChat(msg)
			}
			return nil
		},
		SendChat: func(text string) {
			if activeRoom == nil {
				return
			}
			activeRoom.SendChat(models.ChatMessage{
				MsgID: fmt.Sprintf("%s-%s", tr.HostID(), utils.GenerateRandomID()),
				Text:  text,
				From:  models.PeerID(displayName),
				Ts:    time.Now().Unix(),
			})
		},
		SetManifest: func(paths []string) error {
			if activeRoom == nil {
				return utils.NewInvalidArgumentError("join a room before setting its manifest")
			}
			files := make([]models.FileEntry, 0, len(paths))
			for _, p := range paths {
				data, readErr := os.ReadFile(p)
				if readErr != nil {
					return readErr
				}
				size := uint64(len(data))
				files = append(files, models.FileEntry{
					Name: filepath.Base(p),
					Size: &size,
					CID:  models.ComputeContentID(data),
				})
			}
			activeRoom.SetManifest(models.Manifest{Files: files, UpdatedAt: time.Now().Unix()})
			return nil
		},
	}

	theme, themeErr := loadConsoleTheme(cfg.DataDir)
	if themeErr != nil {
		logger.Printf("theme: %v, using defaults", themeErr)
		theme = nil
	}
	console = ui.NewConsole(theme, handlers)

	go statusLoop(ctx, console, tr, func() *sync.RoomHandle { return activeRoom })

	if err := console.Run(); err != nil {
		log.Fatalf("console: %v", err)
	}
}

func statusLoop(ctx context.Context, console *ui.Console, tr transport.Transport, room func() *sync.RoomHandle) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r := room()
			if r == nil {
				continue
			}
			console.SetStatus(r.SyncState(), len(tr.GetPeers()), r.HubConnected())
		}
	}
}

func loadConsoleTheme(dataDir string) (*ui.Theme, error) {
	path := filepath.Join(dataDir, "theme.yaml")
	if _, err := os.Stat(path); err != nil {
		return nil, nil
	}
	return ui.LoadTheme(path)
}
