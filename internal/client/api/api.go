// Package api is the client's view of the vaultfs server: a narrow
// interface over the HTTP surface plus the wire types it exchanges.
// Everything sensitive in these types is already ciphertext or a wrapped
// key by the time it reaches this package.
package api

import (
	"context"

	"github.com/vaultfs/vaultfs/internal/keyring"
)

// Registration carries everything a new account needs server-side. The
// private-key envelope is sealed under the user's master key before it
// gets here.
type Registration struct {
	UserName      string `json:"username"`
	Salt          []byte `json:"salt"`
	Verifier      []byte `json:"verifier"`
	PublicKey     []byte `json:"public_key"`
	EncPrivateKey []byte `json:"enc_private_key"`
}

// LoginResult is what a successful login yields besides the session
// tokens the client keeps internal.
type LoginResult struct {
	PublicKey     []byte
	EncPrivateKey []byte
}

// Holder is one direct root-keyring holder of a node.
type Holder struct {
	UserName  string `json:"username"`
	PublicKey []byte `json:"public_key"`
}

// RotatedEntry is one rebuilt folder-keyring row of a rotation batch.
type RotatedEntry struct {
	TargetID   string `json:"target_id"`
	WrappedKey []byte `json:"wrapped_key"`
}

// RotatedNode carries the re-sealed material for one node of a rotated
// subtree: fresh-key name envelope, re-sealed body for files, rebuilt
// keyring entries for folders, and the fresh key re-wrapped for each of
// the node's remaining direct holders.
type RotatedNode struct {
	ID      string         `json:"id"`
	NameCT  []byte         `json:"name_ct"`
	Content []byte         `json:"content,omitempty"`
	Entries []RotatedEntry `json:"entries,omitempty"`
	Holders []HolderRewrap `json:"holders,omitempty"`
}

// HolderRewrap is a rotated key wrapped under one remaining holder's
// public key.
type HolderRewrap struct {
	UserName   string `json:"username"`
	WrappedKey []byte `json:"wrapped_key"`
}

// RevokeBatch is a fully client-computed subtree rotation, submitted for
// atomic server-side validation and application.
type RevokeBatch struct {
	NodeID           string        `json:"node_id"`
	RevokedUser      string        `json:"revoked_user"`
	ParentWrappedKey []byte        `json:"parent_wrapped_key,omitempty"`
	Nodes            []RotatedNode `json:"nodes"`
}

// Client is the engine's handle on the server.
type Client interface {
	Ping(ctx context.Context) error
	Register(ctx context.Context, reg *Registration) error
	GetSalt(ctx context.Context, userName string) ([]byte, error)
	Login(ctx context.Context, userName string, verifier []byte) (*LoginResult, error)
	ChangePassword(ctx context.Context, salt, verifier, encPrivateKey []byte) error
	GetPublicKey(ctx context.Context, userName string) ([]byte, error)

	GetKeyring(ctx context.Context) (*keyring.WireKeyring, error)
	CreateFolder(ctx context.Context, parentID string, nameCT, wrappedKey []byte) (string, error)
	UploadFile(ctx context.Context, parentID string, nameCT, wrappedKey, content []byte) (string, error)
	Download(ctx context.Context, nodeID string) ([]byte, error)
	WriteFile(ctx context.Context, nodeID string, content []byte) error
	DeleteNode(ctx context.Context, nodeID string) error

	GetHolders(ctx context.Context, nodeID string) ([]Holder, error)
	Share(ctx context.Context, nodeID, granteeName string, wrappedKey []byte, role string) error
	Revoke(ctx context.Context, batch *RevokeBatch) error
}
