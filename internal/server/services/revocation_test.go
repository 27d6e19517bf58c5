package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vaultfs/vaultfs/internal/common"
	"github.com/vaultfs/vaultfs/internal/server/config"
	"github.com/vaultfs/vaultfs/internal/server/models"
)

// revocationWorld builds the canonical fixture: alice owns folder F
// (mounted at her root) containing file X; bob holds a root entry for F
// with read rights.
func revocationWorld() (*memWorld, *models.User, *models.User, *models.Node, *models.Node) {
	w := newMemWorld()
	alice := w.addUser("alice")
	bob := w.addUser("bob")
	folder := w.addFolder("F", alice.KeyringID, alice)
	file := w.addFile("X", folder.KeyringID, alice, []byte("sealed-old"))
	w.rings[bob.KeyringID]["F"] = []byte("wrapped-F-for-bob")
	w.grant("bob", "F", models.RoleRead)
	return w, alice, bob, folder, file
}

func newRevocationService(t *testing.T, w *memWorld, policy string) *RevocationService {
	t.Helper()
	cfg := &config.Config{RevokePolicy: policy}
	return NewRevocationService(newTxDB(t), &fakeRepoManager{w}, nil, cfg, nopLogger{})
}

func validRotation() *RevokeBatch {
	return &RevokeBatch{
		NodeID:      "F",
		RevokedUser: "bob",
		Nodes: []RotatedNode{
			{
				ID: "F", NameCT: []byte("name-F-new"),
				Entries: []RotatedEntry{{TargetID: "X", WrappedKey: []byte("wrapped-X-new")}},
				Holders: []HolderRewrap{{UserName: "alice", WrappedKey: []byte("wrapped-F-new-alice")}},
			},
			{ID: "X", NameCT: []byte("name-X-new"), Content: []byte("sealed-new")},
		},
	}
}

func TestRevoke_RotatesSubtreeAndExpelsHolder(t *testing.T) {
	w, alice, bob, folder, _ := revocationWorld()
	s := newRevocationService(t, w, config.RevokePolicyOwner)

	err := s.Revoke(context.Background(), alice.ID, validRotation())
	require.NoError(t, err)

	// every ciphertext rotated
	assert.Equal(t, []byte("name-F-new"), w.nodes["F"].NameCT)
	assert.Equal(t, []byte("name-X-new"), w.nodes["X"].NameCT)
	assert.Equal(t, []byte("sealed-new"), w.nodes["X"].Content)

	// folder keyring rebuilt, remaining holder re-wrapped
	assert.Equal(t, []byte("wrapped-X-new"), w.rings[folder.KeyringID]["X"])
	assert.Equal(t, []byte("wrapped-F-new-alice"), w.rings[alice.KeyringID]["F"])

	// revoked holder fully expelled
	assert.NotContains(t, w.rings[bob.KeyringID], "F")
	assert.NotContains(t, w.rights["bob"], "F")
	assert.NotContains(t, w.rights["bob"], "X")

	// affected keyrings were row-locked
	assert.NotEmpty(t, w.locked)
}

func TestRevoke_BatchMissingDescendantRejected(t *testing.T) {
	w, alice, bob, _, _ := revocationWorld()
	s := newRevocationService(t, w, config.RevokePolicyOwner)

	batch := validRotation()
	batch.Nodes = batch.Nodes[:1] // drop X

	err := s.Revoke(context.Background(), alice.ID, batch)
	assert.ErrorIs(t, err, common.ErrConflict)

	// nothing changed
	assert.Equal(t, []byte("name-F"), w.nodes["F"].NameCT)
	assert.Contains(t, w.rings[bob.KeyringID], "F")
}

func TestRevoke_BatchWithForeignEntryRejected(t *testing.T) {
	w, alice, _, _, _ := revocationWorld()
	s := newRevocationService(t, w, config.RevokePolicyOwner)

	batch := validRotation()
	batch.Nodes[0].Entries = []RotatedEntry{{TargetID: "intruder", WrappedKey: []byte("x")}}

	err := s.Revoke(context.Background(), alice.ID, batch)
	assert.ErrorIs(t, err, common.ErrConflict)
}

func TestRevoke_MissingHolderRewrapRejected(t *testing.T) {
	w, alice, _, _, _ := revocationWorld()
	s := newRevocationService(t, w, config.RevokePolicyOwner)

	batch := validRotation()
	batch.Nodes[0].Holders = nil

	err := s.Revoke(context.Background(), alice.ID, batch)
	assert.ErrorIs(t, err, common.ErrConflict)
}

func TestRevoke_NonHolderCannotBeRevoked(t *testing.T) {
	w, alice, _, _, _ := revocationWorld()
	w.addUser("carol")
	s := newRevocationService(t, w, config.RevokePolicyOwner)

	batch := validRotation()
	batch.RevokedUser = "carol"
	batch.Nodes[0].Holders = []HolderRewrap{
		{UserName: "alice", WrappedKey: []byte("a")},
		{UserName: "bob", WrappedKey: []byte("b")},
	}

	err := s.Revoke(context.Background(), alice.ID, batch)
	assert.ErrorIs(t, err, common.ErrConflict)
}

func TestRevoke_OwnerPolicyBlocksMereHolder(t *testing.T) {
	w, _, bob, _, _ := revocationWorld()
	s := newRevocationService(t, w, config.RevokePolicyOwner)

	batch := validRotation()
	batch.RevokedUser = "alice"
	batch.Nodes[0].Holders = []HolderRewrap{{UserName: "bob", WrappedKey: []byte("b")}}

	err := s.Revoke(context.Background(), bob.ID, batch)
	assert.ErrorIs(t, err, common.ErrAccessDenied)
}

func TestRevoke_HolderPolicyAllowsAnyHolder(t *testing.T) {
	w, alice, bob, _, _ := revocationWorld()
	s := newRevocationService(t, w, config.RevokePolicyHolder)

	batch := validRotation()
	batch.RevokedUser = "alice"
	batch.Nodes[0].Holders = []HolderRewrap{{UserName: "bob", WrappedKey: []byte("wrapped-F-new-bob")}}

	err := s.Revoke(context.Background(), bob.ID, batch)
	require.NoError(t, err)
	assert.NotContains(t, w.rings[alice.KeyringID], "F")
	assert.Equal(t, []byte("wrapped-F-new-bob"), w.rings[bob.KeyringID]["F"])
}

func TestRevoke_NestedMountGetsParentRewrap(t *testing.T) {
	w := newMemWorld()
	alice := w.addUser("alice")
	bob := w.addUser("bob")
	outer := w.addFolder("P", alice.KeyringID, alice)
	w.addFolder("F", outer.KeyringID, alice)
	// bob holds F directly
	w.rings[bob.KeyringID]["F"] = []byte("wrapped-F-for-bob")
	w.grant("bob", "F", models.RoleRead)
	s := newRevocationService(t, w, config.RevokePolicyOwner)

	// alice reaches F through P, so bob is the only root holder and no
	// holder re-wraps remain after expelling him
	batch := &RevokeBatch{
		NodeID:      "F",
		RevokedUser: "bob",
		Nodes:       []RotatedNode{{ID: "F", NameCT: []byte("name-F-new")}},
	}

	// F is mounted inside P, so the batch must re-wrap F's new key under
	// P's key as well
	err := s.Revoke(context.Background(), alice.ID, batch)
	assert.ErrorIs(t, err, common.ErrConflict)

	batch.ParentWrappedKey = []byte("parent-new")
	err = s.Revoke(context.Background(), alice.ID, batch)
	require.NoError(t, err)
	assert.Equal(t, []byte("parent-new"), w.rings[outer.KeyringID]["F"])
}

func TestHolders_ListsDirectHoldersWithKeys(t *testing.T) {
	w, alice, _, folder, _ := revocationWorld()
	s := newRevocationService(t, w, config.RevokePolicyOwner)

	infos, err := s.Holders(context.Background(), alice.ID, folder.ID)
	require.NoError(t, err)

	require.Len(t, infos, 2)
	assert.Equal(t, "alice", infos[0].UserName)
	assert.Equal(t, []byte("pub-alice"), infos[0].PublicKey)
	assert.Equal(t, "bob", infos[1].UserName)
	assert.Equal(t, []byte("pub-bob"), infos[1].PublicKey)
}

func TestHolders_RequiresReadRight(t *testing.T) {
	w, _, _, folder, _ := revocationWorld()
	carol := w.addUser("carol")
	s := newRevocationService(t, w, config.RevokePolicyOwner)

	_, err := s.Holders(context.Background(), carol.ID, folder.ID)
	assert.ErrorIs(t, err, common.ErrAccessDenied)
}

func TestHolders_UnknownCaller(t *testing.T) {
	w, _, _, folder, _ := revocationWorld()
	s := newRevocationService(t, w, config.RevokePolicyOwner)

	_, err := s.Holders(context.Background(), "no-such-id", folder.ID)
	assert.ErrorIs(t, err, common.ErrUnauthorized)
}

func TestRevoke_DescendantGranteeMustBeRewrapped(t *testing.T) {
	w, alice, _, _, file := revocationWorld()
	carol := w.addUser("carol")
	w.rings[carol.KeyringID]["X"] = []byte("wrapped-X-for-carol")
	w.grant("carol", "X", models.RoleRead)
	s := newRevocationService(t, w, config.RevokePolicyOwner)

	// a batch that only re-wraps the top node leaves carol's direct
	// grant on X pointing at the dead key
	batch := validRotation()
	err := s.Revoke(context.Background(), alice.ID, batch)
	assert.ErrorIs(t, err, common.ErrConflict)

	batch = validRotation()
	batch.Nodes[1].Holders = []HolderRewrap{{UserName: "carol", WrappedKey: []byte("wrapped-X-new-carol")}}
	err = s.Revoke(context.Background(), alice.ID, batch)
	require.NoError(t, err)

	assert.Equal(t, []byte("wrapped-X-new-carol"), w.rings[carol.KeyringID]["X"])
	assert.Contains(t, w.rights["carol"], file.ID)
}

func TestRevoke_RemovesRevokedDescendantEntries(t *testing.T) {
	w, alice, bob, _, _ := revocationWorld()
	w.rings[bob.KeyringID]["X"] = []byte("wrapped-X-for-bob")
	w.grant("bob", "X", models.RoleRead)
	s := newRevocationService(t, w, config.RevokePolicyOwner)

	err := s.Revoke(context.Background(), alice.ID, validRotation())
	require.NoError(t, err)

	assert.NotContains(t, w.rings[bob.KeyringID], "F")
	assert.NotContains(t, w.rings[bob.KeyringID], "X")
	assert.NotContains(t, w.rights["bob"], "X")
}
