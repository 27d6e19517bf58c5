// Package engine is the client-side keyring engine: it owns the only
// plaintext key material in the system and drives every operation that
// needs it. Unlock turns a password into the user's private key, the
// decrypted keyring tree is the session's working state, and all
// file/folder operations seal or open material locally before anything
// touches the server.
package engine

import (
	"context"
	"crypto/rsa"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vaultfs/vaultfs/internal/client/api"
	"github.com/vaultfs/vaultfs/internal/client/localstore"
	"github.com/vaultfs/vaultfs/internal/common"
	"github.com/vaultfs/vaultfs/internal/cryptox"
	"github.com/vaultfs/vaultfs/internal/keyring"
	"github.com/vaultfs/vaultfs/internal/keywrap"
)

// Role names accepted by the share endpoint. Owner is never grantable.
const (
	RoleRead  = "read"
	RoleWrite = "write"
)

const saltSize = 32

// Session is one unlocked identity. The private key and master key live
// here and nowhere else; Drop wipes both.
type Session struct {
	UserName string
	Offline  bool

	masterKey []byte
	priv      *rsa.PrivateKey
	pub       *rsa.PublicKey
	tree      *keyring.Tree
}

// Tree returns the decrypted keyring tree, nil for offline sessions.
func (s *Session) Tree() *keyring.Tree {
	return s.tree
}

// Engine drives the client's cryptographic operations against the
// server API, caching login material in the local store when one is
// configured.
type Engine struct {
	api     api.Client
	store   *localstore.Store
	session *Session
}

func New(client api.Client, store *localstore.Store) *Engine {
	return &Engine{api: client, store: store}
}

// Session returns the current session or nil when locked.
func (e *Engine) Session() *Session {
	return e.session
}

// Lock wipes the session's key material and forgets it.
func (e *Engine) Lock() {
	if e.session == nil {
		return
	}
	common.WipeByteArray(e.session.masterKey)
	e.session = nil
}

func (e *Engine) requireSession() (*Session, error) {
	if e.session == nil {
		return nil, common.ErrUnauthorized
	}
	return e.session, nil
}

func (e *Engine) requireOnline() (*Session, error) {
	s, err := e.requireSession()
	if err != nil {
		return nil, err
	}
	if s.Offline {
		return nil, fmt.Errorf("%w: operation requires a server connection", api.ErrUnavailable)
	}
	return s, nil
}

// Register creates a new account: fresh salt, Argon2id master key,
// verifier, RSA identity and the private-key envelope sealed under the
// master key. The password never leaves this function.
func (e *Engine) Register(ctx context.Context, userName, password string) error {
	salt := common.GenerateRandByteArray(saltSize)
	masterKey := cryptox.DeriveMasterKey([]byte(password), salt)
	defer common.WipeByteArray(masterKey)

	priv, err := keywrap.GenerateKeyPair()
	if err != nil {
		return fmt.Errorf("generating identity: %w", err)
	}

	pubDER, err := keywrap.MarshalPublicKey(&priv.PublicKey)
	if err != nil {
		return fmt.Errorf("encoding public key: %w", err)
	}

	privDER := keywrap.MarshalPrivateKey(priv)
	defer common.WipeByteArray(privDER)

	encPriv, err := cryptox.Seal(masterKey, privDER)
	if err != nil {
		return fmt.Errorf("sealing private key: %w", err)
	}

	return e.api.Register(ctx, &api.Registration{
		UserName:      userName,
		Salt:          salt,
		Verifier:      cryptox.MakeVerifier(masterKey),
		PublicKey:     pubDER,
		EncPrivateKey: encPriv,
	})
}

// Unlock logs in and bootstraps the session: derive the master key, open
// the private-key envelope, decrypt the keyring tree. When the server is
// unreachable it falls back to the locally cached login material and
// produces an offline session (identity only, no tree).
func (e *Engine) Unlock(ctx context.Context, userName, password string) error {
	salt, err := e.api.GetSalt(ctx, userName)
	if errors.Is(err, api.ErrUnavailable) {
		return e.unlockOffline(ctx, userName, password)
	}
	if err != nil {
		return err
	}

	masterKey := cryptox.DeriveMasterKey([]byte(password), salt)
	verifier := cryptox.MakeVerifier(masterKey)

	res, err := e.api.Login(ctx, userName, verifier)
	if errors.Is(err, api.ErrUnavailable) {
		common.WipeByteArray(masterKey)
		return e.unlockOffline(ctx, userName, password)
	}
	if err != nil {
		common.WipeByteArray(masterKey)
		// a rejected verifier is a wrong password, and a wrong password
		// must look exactly like a corrupted envelope
		if errors.Is(err, common.ErrUnauthorized) {
			return common.ErrBootstrap
		}
		return err
	}

	session, err := buildSession(userName, masterKey, res.PublicKey, res.EncPrivateKey)
	if err != nil {
		common.WipeByteArray(masterKey)
		return err
	}

	e.session = session
	if err := e.RefreshTree(ctx); err != nil {
		e.Lock()
		return err
	}

	if e.store != nil {
		// Best effort; a broken cache only costs offline logins.
		_ = e.store.SaveAccount(ctx, &localstore.Account{
			UserName:      userName,
			Salt:          salt,
			Verifier:      verifier,
			PublicKey:     res.PublicKey,
			EncPrivateKey: res.EncPrivateKey,
			LastLogin:     time.Now(),
		})
	}
	return nil
}

func (e *Engine) unlockOffline(ctx context.Context, userName, password string) error {
	if e.store == nil {
		return api.ErrUnavailable
	}
	acc, err := e.store.GetAccount(ctx, userName)
	if err != nil {
		return api.ErrUnavailable
	}

	masterKey := cryptox.DeriveMasterKey([]byte(password), acc.Salt)
	if subtle.ConstantTimeCompare(cryptox.MakeVerifier(masterKey), acc.Verifier) != 1 {
		common.WipeByteArray(masterKey)
		return common.ErrBootstrap
	}

	session, err := buildSession(userName, masterKey, acc.PublicKey, acc.EncPrivateKey)
	if err != nil {
		common.WipeByteArray(masterKey)
		return err
	}
	session.Offline = true
	e.session = session
	return nil
}

// buildSession opens the private-key envelope with the master key. Any
// authentication failure surfaces as ErrBootstrap; wrong password and
// corrupted envelope are deliberately indistinguishable.
func buildSession(userName string, masterKey, pubDER, encPriv []byte) (*Session, error) {
	privDER, err := cryptox.Open(masterKey, encPriv)
	if err != nil {
		return nil, common.ErrBootstrap
	}
	defer common.WipeByteArray(privDER)

	priv, err := keywrap.ParsePrivateKey(privDER)
	if err != nil {
		return nil, common.ErrBootstrap
	}

	pub, err := keywrap.ParsePublicKey(pubDER)
	if err != nil {
		return nil, common.ErrBootstrap
	}

	return &Session{UserName: userName, masterKey: masterKey, priv: priv, pub: pub}, nil
}

// RefreshTree re-fetches the wrapped keyring and decrypts it.
func (e *Engine) RefreshTree(ctx context.Context) error {
	s, err := e.requireOnline()
	if err != nil {
		return err
	}
	ring, err := e.api.GetKeyring(ctx)
	if err != nil {
		return err
	}
	tree, err := keyring.DecryptTree(s.priv, ring)
	if err != nil {
		return err
	}
	s.tree = tree
	return nil
}

// Resolve walks the decrypted tree along plaintext path segments.
func (e *Engine) Resolve(path []string) (*keyring.Node, error) {
	s, err := e.requireSession()
	if err != nil {
		return nil, err
	}
	if s.tree == nil || len(path) == 0 {
		return nil, common.ErrUnreachable
	}

	node := s.tree.FindRoot(path[0])
	if node == nil {
		return nil, common.ErrUnreachable
	}
	for _, seg := range path[1:] {
		node = node.FindChild(seg)
		if node == nil {
			return nil, common.ErrUnreachable
		}
	}
	return node, nil
}

// Mkdir creates a folder under parent (nil for a top-level folder): a
// fresh key, the name sealed under it, and the key wrapped under the
// parent folder's key or the user's own public key.
func (e *Engine) Mkdir(ctx context.Context, parent *keyring.Node, name string) (string, error) {
	s, err := e.requireOnline()
	if err != nil {
		return "", err
	}

	key := cryptox.NewKey()
	nameCT, err := cryptox.Seal(key, []byte(name))
	if err != nil {
		return "", err
	}
	wrapped, parentID, err := wrapForParent(s, parent, key)
	if err != nil {
		return "", err
	}

	id, err := e.api.CreateFolder(ctx, parentID, nameCT, wrapped)
	if err != nil {
		return "", err
	}
	return id, e.RefreshTree(ctx)
}

// Upload creates a file under parent with content sealed under a fresh key.
func (e *Engine) Upload(ctx context.Context, parent *keyring.Node, name string, content []byte) (string, error) {
	s, err := e.requireOnline()
	if err != nil {
		return "", err
	}

	key := cryptox.NewKey()
	nameCT, err := cryptox.Seal(key, []byte(name))
	if err != nil {
		return "", err
	}
	sealed, err := cryptox.Seal(key, content)
	if err != nil {
		return "", err
	}
	wrapped, parentID, err := wrapForParent(s, parent, key)
	if err != nil {
		return "", err
	}

	id, err := e.api.UploadFile(ctx, parentID, nameCT, wrapped, sealed)
	if err != nil {
		return "", err
	}
	return id, e.RefreshTree(ctx)
}

func wrapForParent(s *Session, parent *keyring.Node, key []byte) ([]byte, string, error) {
	if parent == nil {
		wrapped, err := keywrap.Wrap(s.pub, key)
		return wrapped, "", err
	}
	if !parent.Folder {
		return nil, "", common.ErrConflict
	}
	wrapped, err := cryptox.Seal(parent.Key, key)
	return wrapped, parent.ID.String(), err
}

// ReadFile downloads and opens a file's body with the node's key.
func (e *Engine) ReadFile(ctx context.Context, node *keyring.Node) ([]byte, error) {
	if _, err := e.requireOnline(); err != nil {
		return nil, err
	}
	if node.Folder {
		return nil, common.ErrNotFound
	}
	sealed, err := e.api.Download(ctx, node.ID.String())
	if err != nil {
		return nil, err
	}
	return cryptox.Open(node.Key, sealed)
}

// WriteFile seals content under the node's existing key and overwrites
// the stored body.
func (e *Engine) WriteFile(ctx context.Context, node *keyring.Node, content []byte) error {
	if _, err := e.requireOnline(); err != nil {
		return err
	}
	if node.Folder {
		return common.ErrNotFound
	}
	sealed, err := cryptox.Seal(node.Key, content)
	if err != nil {
		return err
	}
	if err := e.api.WriteFile(ctx, node.ID.String(), sealed); err != nil {
		return err
	}
	return e.RefreshTree(ctx)
}

// Remove deletes the node (and, for folders, its whole subtree) on the
// server.
func (e *Engine) Remove(ctx context.Context, node *keyring.Node) error {
	if _, err := e.requireOnline(); err != nil {
		return err
	}
	if err := e.api.DeleteNode(ctx, node.ID.String()); err != nil {
		return err
	}
	return e.RefreshTree(ctx)
}

// Share wraps the node's key under the grantee's public key and submits
// the grant. Sharing a folder implicitly shares its whole subtree; the
// grantee walks down through the folder's own keyring.
func (e *Engine) Share(ctx context.Context, node *keyring.Node, granteeName, role string) error {
	if _, err := e.requireOnline(); err != nil {
		return err
	}
	if role != RoleRead && role != RoleWrite {
		return common.ErrConflict
	}

	pubDER, err := e.api.GetPublicKey(ctx, granteeName)
	if err != nil {
		return err
	}
	granteePub, err := keywrap.ParsePublicKey(pubDER)
	if err != nil {
		return fmt.Errorf("grantee public key: %w", err)
	}

	wrapped, err := keywrap.Wrap(granteePub, node.Key)
	if err != nil {
		return err
	}
	return e.api.Share(ctx, node.ID.String(), granteeName, wrapped, role)
}

// ChangePassword re-seals the unchanged private key under a master key
// derived from the new password and replaces the stored envelope. No
// node keys change.
func (e *Engine) ChangePassword(ctx context.Context, newPassword string) error {
	s, err := e.requireOnline()
	if err != nil {
		return err
	}

	salt := common.GenerateRandByteArray(saltSize)
	masterKey := cryptox.DeriveMasterKey([]byte(newPassword), salt)
	verifier := cryptox.MakeVerifier(masterKey)

	privDER := keywrap.MarshalPrivateKey(s.priv)
	defer common.WipeByteArray(privDER)

	encPriv, err := cryptox.Seal(masterKey, privDER)
	if err != nil {
		common.WipeByteArray(masterKey)
		return err
	}

	if err := e.api.ChangePassword(ctx, salt, verifier, encPriv); err != nil {
		common.WipeByteArray(masterKey)
		return err
	}

	common.WipeByteArray(s.masterKey)
	s.masterKey = masterKey

	if e.store != nil {
		pubDER, err := keywrap.MarshalPublicKey(s.pub)
		if err == nil {
			_ = e.store.SaveAccount(ctx, &localstore.Account{
				UserName:      s.UserName,
				Salt:          salt,
				Verifier:      verifier,
				PublicKey:     pubDER,
				EncPrivateKey: encPriv,
				LastLogin:     time.Now(),
			})
		}
	}
	return nil
}

// parentOf returns the folder directly above id in the tree, or nil when
// id is one of the user's root mounts.
func parentOf(tree *keyring.Tree, id uuid.UUID) *keyring.Node {
	path := tree.PathTo(id)
	if len(path) < 2 {
		return nil
	}
	return tree.Find(path[len(path)-2])
}
