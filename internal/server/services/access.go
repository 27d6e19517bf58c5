package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/vaultfs/vaultfs/internal/common"
	"github.com/vaultfs/vaultfs/internal/dbx"
	"github.com/vaultfs/vaultfs/internal/server/models"
	"github.com/vaultfs/vaultfs/internal/server/repositories/repomanager"
)

// requireRight checks that userName holds at least role on nodeID.
//
// Rights rows exist only where a grant or a creation happened, so the
// check walks up the folder graph: an explicit row on the node wins,
// otherwise the nearest ancestor's row applies. A grant on a folder
// covers its whole subtree, matching the reachability the shared keyring
// entry provides. No row anywhere on the path means ErrAccessDenied.
func requireRight(ctx context.Context, m repomanager.RepositoryManager, db dbx.DBTX, userName, nodeID, role string) error {
	rightsRepo := m.Rights(db)
	ringsRepo := m.Keyrings(db)

	visited := map[string]bool{}
	for id := nodeID; id != ""; {
		if visited[id] {
			return common.ErrCycle
		}
		visited[id] = true

		right, err := rightsRepo.Get(ctx, userName, id)
		if err == nil {
			if right.Allows(role) {
				return nil
			}
			return common.ErrAccessDenied
		}
		if !errors.Is(err, common.ErrNotFound) {
			return fmt.Errorf("error loading rights: %w", err)
		}

		id, err = ringsRepo.ParentFolder(ctx, id)
		if err != nil {
			return fmt.Errorf("error walking to parent: %w", err)
		}
	}
	return common.ErrAccessDenied
}

// collectSubtree returns the node and every descendant, parents before
// children, walking folder keyrings depth-first. Revisiting a node means
// the stored graph is not a forest and surfaces as ErrCycle.
func collectSubtree(ctx context.Context, m repomanager.RepositoryManager, db dbx.DBTX, rootID string) ([]*models.Node, error) {
	nodesRepo := m.Nodes(db)
	ringsRepo := m.Keyrings(db)

	var out []*models.Node
	visited := map[string]bool{}

	var walk func(id string) error
	walk = func(id string) error {
		if visited[id] {
			return common.ErrCycle
		}
		visited[id] = true

		node, err := nodesRepo.GetMeta(ctx, id)
		if err != nil {
			return fmt.Errorf("error loading node %s: %w", id, err)
		}
		out = append(out, node)

		if !node.IsFolder() {
			return nil
		}
		entries, err := ringsRepo.List(ctx, node.KeyringID)
		if err != nil {
			return fmt.Errorf("error listing keyring %d: %w", node.KeyringID, err)
		}
		for _, e := range entries {
			if err := walk(e.TargetID); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(rootID); err != nil {
		return nil, err
	}
	return out, nil
}
