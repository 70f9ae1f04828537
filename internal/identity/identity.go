// Package identity provisions the Ed25519 libp2p host identity a
// Transport dials with, persisted as a single key file. It keeps the
// donor's generate-then-marshal idiom (internal/profile/profile.go)
// while dropping the password-derived-key and post-quantum envelope
// layers that protected it: this implementation assumes honest peers on
// a trusted topic, so an identity is a credential to keep stable across
// restarts, not a secret to gate behind a passphrase.
package identity

import (
	"os"
	"path/filepath"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"

	"weftsync/internal/utils"
)

// Identity wraps the libp2p private key and the PeerID it derives.
type Identity struct {
	PrivKey crypto.PrivKey
	PeerID  peer.ID
}

// LoadOrCreate reads an Ed25519 private key from keyPath, generating and
// persisting a fresh one if the file doesn't exist yet.
func LoadOrCreate(keyPath string) (*Identity, error) {
	data, err := os.ReadFile(keyPath)
	if err == nil {
		return fromBytes(data)
	}
	if !os.IsNotExist(err) {
		return nil, utils.NewFatalStartupError("read identity key").WithCause(err)
	}
	return generate(keyPath)
}

func generate(keyPath string) (*Identity, error) {
	priv, _, err := crypto.GenerateKeyPair(crypto.Ed25519, -1)
	if err != nil {
		return nil, utils.NewFatalStartupError("generate identity key").WithCause(err)
	}
	raw, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, utils.NewFatalStartupError("marshal identity key").WithCause(err)
	}
	if err := os.MkdirAll(filepath.Dir(keyPath), 0o755); err != nil {
		return nil, utils.NewFatalStartupError("create identity directory").WithCause(err)
	}
	if err := os.WriteFile(keyPath, raw, 0o600); err != nil {
		return nil, utils.NewFatalStartupError("write identity key").WithCause(err)
	}
	return fromPrivKey(priv)
}

func fromBytes(data []byte) (*Identity, error) {
	priv, err := crypto.UnmarshalPrivateKey(data)
	if err != nil {
		return nil, utils.NewFatalStartupError("unmarshal identity key").WithCause(err)
	}
	return fromPrivKey(priv)
}

func fromPrivKey(priv crypto.PrivKey) (*Identity, error) {
	pid, err := peer.IDFromPrivateKey(priv)
	if err != nil {
		return nil, utils.NewFatalStartupError("derive peer id").WithCause(err)
	}
	return &Identity{PrivKey: priv, PeerID: pid}, nil
}
