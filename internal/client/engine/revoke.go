package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vaultfs/vaultfs/internal/client/api"
	"github.com/vaultfs/vaultfs/internal/cryptox"
	"github.com/vaultfs/vaultfs/internal/keyring"
	"github.com/vaultfs/vaultfs/internal/keywrap"
)

// resealWorkers bounds the parallel download/re-seal of file bodies
// during a rotation.
const resealWorkers = 4

// Revoke cuts revokedUser's access to node by rotating the keys of the
// entire subtree under it. The whole batch is computed locally: fresh
// keys for every descendant, names and bodies re-sealed, folder keyrings
// rebuilt, the new top key re-wrapped for the parent mount, and each
// node's fresh key re-wrapped for that node's remaining direct holders.
// A user who was separately granted a descendant keeps exactly the
// access they had. The server applies the batch atomically or not at
// all.
//
// Rotating only the target's own key would not stop an adversary who
// cached descendant keys while authorized, which is why the subtree is
// rotated wholesale.
func (e *Engine) Revoke(ctx context.Context, node *keyring.Node, revokedUser string) error {
	s, err := e.requireOnline()
	if err != nil {
		return err
	}

	subtree := collectNodes(node, nil)
	newKeys := make(map[uuid.UUID][]byte, len(subtree))
	for _, n := range subtree {
		newKeys[n.ID] = cryptox.NewKey()
	}

	rotated := make([]api.RotatedNode, len(subtree))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(resealWorkers)
	for i, n := range subtree {
		g.Go(func() error {
			rn, err := e.rotateNode(gctx, n, newKeys, revokedUser)
			if err != nil {
				return fmt.Errorf("rotating %s: %w", n.Name, err)
			}
			rotated[i] = *rn
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	batch := &api.RevokeBatch{
		NodeID:      node.ID.String(),
		RevokedUser: revokedUser,
		Nodes:       rotated,
	}

	if parent := parentOf(s.tree, node.ID); parent != nil {
		batch.ParentWrappedKey, err = cryptox.Seal(parent.Key, newKeys[node.ID])
		if err != nil {
			return err
		}
	}

	if err := e.api.Revoke(ctx, batch); err != nil {
		return err
	}
	return e.RefreshTree(ctx)
}

// rotateNode produces the re-sealed material for one node under its
// fresh key: the name envelope, re-wraps for the node's remaining direct
// holders, rebuilt keyring entries for folders, and the
// downloaded-and-re-sealed body for files.
func (e *Engine) rotateNode(ctx context.Context, n *keyring.Node, newKeys map[uuid.UUID][]byte, revokedUser string) (*api.RotatedNode, error) {
	key := newKeys[n.ID]

	nameCT, err := cryptox.Seal(key, []byte(n.Name))
	if err != nil {
		return nil, err
	}
	rn := &api.RotatedNode{ID: n.ID.String(), NameCT: nameCT}

	holders, err := e.api.GetHolders(ctx, n.ID.String())
	if err != nil {
		return nil, err
	}
	for _, h := range holders {
		if h.UserName == revokedUser {
			continue
		}
		hpub, err := keywrap.ParsePublicKey(h.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("holder %s public key: %w", h.UserName, err)
		}
		wrapped, err := keywrap.Wrap(hpub, key)
		if err != nil {
			return nil, err
		}
		rn.Holders = append(rn.Holders, api.HolderRewrap{UserName: h.UserName, WrappedKey: wrapped})
	}

	if n.Folder {
		for _, c := range n.Children {
			wrapped, err := cryptox.Seal(key, newKeys[c.ID])
			if err != nil {
				return nil, err
			}
			rn.Entries = append(rn.Entries, api.RotatedEntry{TargetID: c.ID.String(), WrappedKey: wrapped})
		}
		return rn, nil
	}

	sealed, err := e.api.Download(ctx, n.ID.String())
	if err != nil {
		return nil, err
	}
	body, err := cryptox.Open(n.Key, sealed)
	if err != nil {
		return nil, err
	}
	rn.Content, err = cryptox.Seal(key, body)
	if err != nil {
		return nil, err
	}
	return rn, nil
}

func collectNodes(n *keyring.Node, dst []*keyring.Node) []*keyring.Node {
	dst = append(dst, n)
	for _, c := range n.Children {
		dst = collectNodes(c, dst)
	}
	return dst
}
