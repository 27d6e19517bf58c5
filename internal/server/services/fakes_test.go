package services

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/vaultfs/vaultfs/internal/common"
	"github.com/vaultfs/vaultfs/internal/dbx"
	"github.com/vaultfs/vaultfs/internal/logging"
	"github.com/vaultfs/vaultfs/internal/server/models"
	keyringsrepo "github.com/vaultfs/vaultfs/internal/server/repositories/keyrings"
	nodesrepo "github.com/vaultfs/vaultfs/internal/server/repositories/nodes"
	refreshtokensrepo "github.com/vaultfs/vaultfs/internal/server/repositories/refreshtokens"
	rightsrepo "github.com/vaultfs/vaultfs/internal/server/repositories/rights"
	usersrepo "github.com/vaultfs/vaultfs/internal/server/repositories/users"
)

// memWorld is shared in-memory state behind the fake repositories. It has
// no transactional behavior; tests that exercise rollback assert that
// validation fails before any mutation.
type memWorld struct {
	users    map[string]*models.User      // by id
	nodes    map[string]*models.Node      // by id
	rings    map[int64]map[string][]byte  // ring id -> target id -> wrapped key
	rights   map[string]map[string]string // username -> node id -> role
	tokens   map[string]*models.RefreshToken
	nextRing int64
	nextUser int

	locked []int64
}

func newMemWorld() *memWorld {
	return &memWorld{
		users:  map[string]*models.User{},
		nodes:  map[string]*models.Node{},
		rings:  map[int64]map[string][]byte{},
		rights: map[string]map[string]string{},
		tokens: map[string]*models.RefreshToken{},
	}
}

// addUser registers a user with a fresh root keyring and returns it.
func (w *memWorld) addUser(name string) *models.User {
	w.nextRing++
	w.rings[w.nextRing] = map[string][]byte{}
	w.nextUser++
	u := &models.User{
		ID:        fmt.Sprintf("user-%d", w.nextUser),
		UserName:  name,
		Salt:      []byte("salt-" + name),
		Verifier:  []byte("verifier-" + name),
		PublicKey: []byte("pub-" + name),
		KeyringID: w.nextRing,
	}
	w.users[u.ID] = u
	return u
}

// addFolder creates a folder node with its own ring, mounted in ring
// mount, owned by owner.
func (w *memWorld) addFolder(id string, mount int64, owner *models.User) *models.Node {
	w.nextRing++
	w.rings[w.nextRing] = map[string][]byte{}
	n := &models.Node{ID: id, NameCT: []byte("name-" + id), KeyringID: w.nextRing}
	w.nodes[id] = n
	w.rings[mount][id] = []byte("wrapped-" + id)
	w.grant(owner.UserName, id, models.RoleOwner)
	return n
}

func (w *memWorld) addFile(id string, mount int64, owner *models.User, content []byte) *models.Node {
	n := &models.Node{ID: id, NameCT: []byte("name-" + id), Content: content, Size: int64(len(content))}
	w.nodes[id] = n
	w.rings[mount][id] = []byte("wrapped-" + id)
	w.grant(owner.UserName, id, models.RoleOwner)
	return n
}

func (w *memWorld) grant(userName, nodeID, role string) {
	if w.rights[userName] == nil {
		w.rights[userName] = map[string]string{}
	}
	w.rights[userName][nodeID] = role
}

// --- users ---

type fakeUsersRepo struct{ w *memWorld }

func (f *fakeUsersRepo) Create(ctx context.Context, u *models.User) (*models.User, error) {
	for _, existing := range f.w.users {
		if existing.UserName == u.UserName {
			return nil, common.ErrConflict
		}
	}
	f.w.nextUser++
	u.ID = fmt.Sprintf("user-%d", f.w.nextUser)
	f.w.users[u.ID] = u
	return u, nil
}

func (f *fakeUsersRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := f.w.users[id]; ok {
		return u, nil
	}
	return nil, common.ErrNotFound
}

func (f *fakeUsersRepo) GetByUserName(ctx context.Context, name string) (*models.User, error) {
	for _, u := range f.w.users {
		if u.UserName == name {
			return u, nil
		}
	}
	return nil, common.ErrNotFound
}

func (f *fakeUsersRepo) GetPublicKey(ctx context.Context, name string) ([]byte, error) {
	u, err := f.GetByUserName(ctx, name)
	if err != nil {
		return nil, err
	}
	return u.PublicKey, nil
}

func (f *fakeUsersRepo) UpdateCredentials(ctx context.Context, userID string, salt, verifier, encPrivateKey []byte) error {
	u, ok := f.w.users[userID]
	if !ok {
		return common.ErrNotFound
	}
	u.Salt, u.Verifier, u.EncPrivateKey = salt, verifier, encPrivateKey
	return nil
}

// --- nodes ---

type fakeNodesRepo struct{ w *memWorld }

func (f *fakeNodesRepo) Create(ctx context.Context, n *models.Node) error {
	f.w.nodes[n.ID] = n
	return nil
}

func (f *fakeNodesRepo) Get(ctx context.Context, id string) (*models.Node, error) {
	if n, ok := f.w.nodes[id]; ok {
		return n, nil
	}
	return nil, common.ErrNotFound
}

func (f *fakeNodesRepo) GetMeta(ctx context.Context, id string) (*models.Node, error) {
	return f.Get(ctx, id)
}

func (f *fakeNodesRepo) UpdateCiphertext(ctx context.Context, id string, nameCT, content []byte, blobKey string, mtime int64) error {
	n, ok := f.w.nodes[id]
	if !ok {
		return common.ErrNotFound
	}
	n.NameCT = nameCT
	if content != nil {
		n.Content = content
	}
	if blobKey != "" {
		n.BlobKey = blobKey
	}
	n.Mtime = mtime
	return nil
}

func (f *fakeNodesRepo) UpdateContent(ctx context.Context, id string, content []byte, size, mtime int64) error {
	n, ok := f.w.nodes[id]
	if !ok {
		return common.ErrNotFound
	}
	n.Content, n.Size, n.Mtime = content, size, mtime
	return nil
}

func (f *fakeNodesRepo) Delete(ctx context.Context, id string) error {
	if _, ok := f.w.nodes[id]; !ok {
		return common.ErrNotFound
	}
	delete(f.w.nodes, id)
	return nil
}

// --- keyrings ---

type fakeKeyringsRepo struct{ w *memWorld }

func (f *fakeKeyringsRepo) CreateRing(ctx context.Context) (int64, error) {
	f.w.nextRing++
	f.w.rings[f.w.nextRing] = map[string][]byte{}
	return f.w.nextRing, nil
}

func (f *fakeKeyringsRepo) DeleteRing(ctx context.Context, id int64) error {
	delete(f.w.rings, id)
	return nil
}

func (f *fakeKeyringsRepo) Upsert(ctx context.Context, key *models.KeyringKey) error {
	ring, ok := f.w.rings[key.KeyringID]
	if !ok {
		return common.ErrNotFound
	}
	ring[key.TargetID] = key.WrappedKey
	return nil
}

func (f *fakeKeyringsRepo) Remove(ctx context.Context, keyringID int64, targetID string) error {
	if ring, ok := f.w.rings[keyringID]; ok {
		delete(ring, targetID)
	}
	return nil
}

func (f *fakeKeyringsRepo) List(ctx context.Context, keyringID int64) ([]*models.KeyringKey, error) {
	ring, ok := f.w.rings[keyringID]
	if !ok {
		return nil, nil
	}
	targets := make([]string, 0, len(ring))
	for t := range ring {
		targets = append(targets, t)
	}
	sort.Strings(targets)
	out := make([]*models.KeyringKey, 0, len(ring))
	for _, t := range targets {
		out = append(out, &models.KeyringKey{KeyringID: keyringID, TargetID: t, WrappedKey: ring[t]})
	}
	return out, nil
}

func (f *fakeKeyringsRepo) RemoveAllFor(ctx context.Context, targetID string) (int64, error) {
	var n int64
	for _, ring := range f.w.rings {
		if _, ok := ring[targetID]; ok {
			delete(ring, targetID)
			n++
		}
	}
	return n, nil
}

func (f *fakeKeyringsRepo) RootHolders(ctx context.Context, targetID string) ([]*keyringsrepo.Holder, error) {
	var out []*keyringsrepo.Holder
	for _, u := range f.w.users {
		if _, ok := f.w.rings[u.KeyringID][targetID]; ok {
			out = append(out, &keyringsrepo.Holder{UserName: u.UserName, KeyringID: u.KeyringID, PublicKey: u.PublicKey})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserName < out[j].UserName })
	return out, nil
}

func (f *fakeKeyringsRepo) ParentFolder(ctx context.Context, targetID string) (string, error) {
	for _, n := range f.w.nodes {
		if n.IsFolder() {
			if _, ok := f.w.rings[n.KeyringID][targetID]; ok {
				return n.ID, nil
			}
		}
	}
	return "", nil
}

func (f *fakeKeyringsRepo) Lock(ctx context.Context, ids []int64) error {
	f.w.locked = append(f.w.locked, ids...)
	return nil
}

// --- rights ---

type fakeRightsRepo struct{ w *memWorld }

func (f *fakeRightsRepo) Grant(ctx context.Context, r *models.Right) error {
	if cur, ok := f.w.rights[r.UserName][r.NodeID]; ok && cur == models.RoleOwner {
		return nil
	}
	f.w.grant(r.UserName, r.NodeID, r.Role)
	return nil
}

func (f *fakeRightsRepo) Get(ctx context.Context, userName, nodeID string) (*models.Right, error) {
	if role, ok := f.w.rights[userName][nodeID]; ok {
		return &models.Right{UserName: userName, NodeID: nodeID, Role: role}, nil
	}
	return nil, common.ErrNotFound
}

func (f *fakeRightsRepo) Revoke(ctx context.Context, userName, nodeID string) error {
	delete(f.w.rights[userName], nodeID)
	return nil
}

func (f *fakeRightsRepo) RevokeSubtree(ctx context.Context, userName string, nodeIDs []string) error {
	for _, id := range nodeIDs {
		delete(f.w.rights[userName], id)
	}
	return nil
}

func (f *fakeRightsRepo) DeleteForNode(ctx context.Context, nodeID string) error {
	for _, byNode := range f.w.rights {
		delete(byNode, nodeID)
	}
	return nil
}

// --- refresh tokens ---

type fakeRefreshRepo struct{ w *memWorld }

func (f *fakeRefreshRepo) Create(ctx context.Context, userID, token string, validity time.Duration) error {
	f.w.tokens[token] = &models.RefreshToken{Token: token, UserID: userID, Expires: time.Now().Add(validity)}
	return nil
}

func (f *fakeRefreshRepo) Find(ctx context.Context, token string) (*models.RefreshToken, error) {
	if t, ok := f.w.tokens[token]; ok {
		return t, nil
	}
	return nil, common.ErrNotFound
}

func (f *fakeRefreshRepo) Delete(ctx context.Context, token string) error {
	delete(f.w.tokens, token)
	return nil
}

// --- manager ---

type fakeRepoManager struct{ w *memWorld }

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *fakeRepoManager) Users(dbx.DBTX) usersrepo.Repository          { return &fakeUsersRepo{m.w} }
func (m *fakeRepoManager) RefreshTokens(dbx.DBTX) refreshtokensrepo.Repository {
	return &fakeRefreshRepo{m.w}
}
func (m *fakeRepoManager) Nodes(dbx.DBTX) nodesrepo.Repository       { return &fakeNodesRepo{m.w} }
func (m *fakeRepoManager) Keyrings(dbx.DBTX) keyringsrepo.Repository { return &fakeKeyringsRepo{m.w} }
func (m *fakeRepoManager) Rights(dbx.DBTX) rightsrepo.Repository     { return &fakeRightsRepo{m.w} }

// --- harness ---

type nopLogger struct{}

func (nopLogger) Debug(context.Context, string, ...any) {}
func (nopLogger) Info(context.Context, string, ...any)  {}
func (nopLogger) Warn(context.Context, string, ...any)  {}
func (nopLogger) Error(context.Context, string, ...any) {}
func (nopLogger) With(...any) logging.Logger            { return nopLogger{} }

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return db, mock
}

// newTxDB returns a sqlmock-backed *sql.DB that tolerates several
// transactions in any order; the fakes hold the actual state.
func newTxDB(t *testing.T) *sql.DB {
	t.Helper()
	db, mock := newSQLMockDB(t)
	t.Cleanup(func() { db.Close() })
	mock.MatchExpectationsInOrder(false)
	for i := 0; i < 8; i++ {
		mock.ExpectBegin()
		mock.ExpectCommit()
		mock.ExpectRollback()
	}
	return db
}
