package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/arbor-backend/internal/data/repos/testutil"
	types "github.com/yungbote/arbor-backend/internal/domain"
	"github.com/yungbote/arbor-backend/internal/platform/dbctx"
)

func TestChatNodeRepo(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}

	repo := NewChatNodeRepo(db, testutil.Logger(t))
	topic := testutil.SeedTopic(t, ctx, tx, "node repo")

	base := time.Now().UTC().Add(-time.Minute)
	root, err := repo.Create(dbc, &types.ChatNode{
		TopicID:   topic.ID,
		Role:      types.RoleUser,
		Status:    types.NodeStatusCompleted,
		CreatedAt: base,
	})
	if err != nil {
		t.Fatalf("Create root: %v", err)
	}
	if root.ID == uuid.Nil {
		t.Fatalf("Create: id was not assigned")
	}
	if string(root.Blocks) != "[]" {
		t.Fatalf("Create: empty blocks should default to [], got %s", root.Blocks)
	}

	c1 := testutil.SeedNodeAt(t, ctx, tx, topic.ID, &root.ID, types.RoleAssistant, "first", base.Add(1*time.Second))
	c2 := testutil.SeedNodeAt(t, ctx, tx, topic.ID, &root.ID, types.RoleAssistant, "second", base.Add(2*time.Second))
	leaf := testutil.SeedNodeAt(t, ctx, tx, topic.ID, &c1.ID, types.RoleUser, "under c1", base.Add(3*time.Second))

	got, err := repo.GetByID(dbc, c1.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.ID != c1.ID || got.ParentID == nil || *got.ParentID != root.ID {
		t.Fatalf("GetByID: unexpected node %+v", got)
	}

	if _, err := repo.GetByID(dbc, uuid.New()); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("GetByID (missing): want ErrRecordNotFound, got %v", err)
	}

	batch, err := repo.GetByIDs(dbc, []uuid.UUID{root.ID, c2.ID})
	if err != nil {
		t.Fatalf("GetByIDs: %v", err)
	}
	if len(batch) != 2 {
		t.Fatalf("GetByIDs: expected 2 nodes, got %d", len(batch))
	}

	gotRoot, err := repo.GetRoot(dbc, topic.ID)
	if err != nil {
		t.Fatalf("GetRoot: %v", err)
	}
	if gotRoot == nil || gotRoot.ID != root.ID {
		t.Fatalf("GetRoot: expected %s, got %+v", root.ID, gotRoot)
	}

	emptyTopic := testutil.SeedTopic(t, ctx, tx, "empty")
	gotRoot, err = repo.GetRoot(dbc, emptyTopic.ID)
	if err != nil {
		t.Fatalf("GetRoot (empty topic): %v", err)
	}
	if gotRoot != nil {
		t.Fatalf("GetRoot (empty topic): expected nil, got %+v", gotRoot)
	}

	children, err := repo.ListChildren(dbc, root.ID)
	if err != nil {
		t.Fatalf("ListChildren: %v", err)
	}
	if len(children) != 2 || children[0].ID != c1.ID || children[1].ID != c2.ID {
		t.Fatalf("ListChildren: wrong order or members: %+v", children)
	}

	multi, err := repo.ListChildrenOf(dbc, []uuid.UUID{root.ID, c1.ID})
	if err != nil {
		t.Fatalf("ListChildrenOf: %v", err)
	}
	if len(multi) != 3 {
		t.Fatalf("ListChildrenOf: expected 3 nodes, got %d", len(multi))
	}

	count, err := repo.CountByTopic(dbc, topic.ID)
	if err != nil {
		t.Fatalf("CountByTopic: %v", err)
	}
	if count != 4 {
		t.Fatalf("CountByTopic: expected 4, got %d", count)
	}

	all, err := repo.ListByTopic(dbc, topic.ID, 0, 0)
	if err != nil {
		t.Fatalf("ListByTopic: %v", err)
	}
	if len(all) != 4 || all[0].ID != root.ID {
		t.Fatalf("ListByTopic: unexpected listing: %d nodes", len(all))
	}

	hasKids, err := repo.HasChildren(dbc, []uuid.UUID{root.ID, c1.ID, c2.ID, leaf.ID})
	if err != nil {
		t.Fatalf("HasChildren: %v", err)
	}
	if !hasKids[root.ID] || !hasKids[c1.ID] || hasKids[c2.ID] || hasKids[leaf.ID] {
		t.Fatalf("HasChildren: wrong map: %+v", hasKids)
	}

	if err := repo.UpdateFields(dbc, c1.ID, map[string]interface{}{"status": types.NodeStatusFailed}); err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}
	got, err = repo.GetByID(dbc, c1.ID)
	if err != nil {
		t.Fatalf("GetByID after update: %v", err)
	}
	if got.Status != types.NodeStatusFailed {
		t.Fatalf("UpdateFields: status not patched, got %q", got.Status)
	}
	if !got.UpdatedAt.After(c1.UpdatedAt) {
		t.Fatalf("UpdateFields: updated_at not bumped")
	}

	if err := repo.ReparentChildren(dbc, []uuid.UUID{leaf.ID}, c2.ID); err != nil {
		t.Fatalf("ReparentChildren: %v", err)
	}
	got, err = repo.GetByID(dbc, leaf.ID)
	if err != nil {
		t.Fatalf("GetByID after reparent: %v", err)
	}
	if got.ParentID == nil || *got.ParentID != c2.ID {
		t.Fatalf("ReparentChildren: parent not moved, got %+v", got.ParentID)
	}

	if err := repo.DeleteByIDs(dbc, []uuid.UUID{leaf.ID}); err != nil {
		t.Fatalf("DeleteByIDs: %v", err)
	}
	if _, err := repo.GetByID(dbc, leaf.ID); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("DeleteByIDs: node still visible, err=%v", err)
	}
	var unscoped int64
	if err := tx.Unscoped().Model(&types.ChatNode{}).Where("id = ?", leaf.ID).Count(&unscoped).Error; err != nil {
		t.Fatalf("unscoped count: %v", err)
	}
	if unscoped != 1 {
		t.Fatalf("DeleteByIDs: expected soft delete to keep the row, count=%d", unscoped)
	}

	deleted, err := repo.DeleteByTopic(dbc, topic.ID)
	if err != nil {
		t.Fatalf("DeleteByTopic: %v", err)
	}
	if deleted != 3 {
		t.Fatalf("DeleteByTopic: expected 3 live rows deleted, got %d", deleted)
	}
}

func TestChatNodeRepoGroupMembers(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}

	repo := NewChatNodeRepo(db, testutil.Logger(t))
	topic := testutil.SeedTopic(t, ctx, tx, "groups")

	base := time.Now().UTC().Add(-time.Minute)
	root := testutil.SeedNodeAt(t, ctx, tx, topic.ID, nil, types.RoleUser, "root", base)
	a := testutil.SeedNodeAt(t, ctx, tx, topic.ID, &root.ID, types.RoleAssistant, "a", base.Add(1*time.Second))
	b := testutil.SeedNodeAt(t, ctx, tx, topic.ID, &root.ID, types.RoleAssistant, "b", base.Add(2*time.Second))
	under := testutil.SeedNodeAt(t, ctx, tx, topic.ID, &a.ID, types.RoleAssistant, "c", base.Add(3*time.Second))

	for _, id := range []uuid.UUID{a.ID, b.ID, under.ID} {
		if err := repo.UpdateFields(dbc, id, map[string]interface{}{"siblings_group_id": 7}); err != nil {
			t.Fatalf("UpdateFields group: %v", err)
		}
	}

	members, err := repo.ListGroupMembers(dbc, topic.ID, []int{7, 0})
	if err != nil {
		t.Fatalf("ListGroupMembers: %v", err)
	}
	// The superset carries every node with group 7 regardless of parent;
	// group 0 must never be treated as a group.
	if len(members) != 3 {
		t.Fatalf("ListGroupMembers: expected 3 members, got %d", len(members))
	}

	members, err = repo.ListGroupMembers(dbc, topic.ID, []int{0})
	if err != nil {
		t.Fatalf("ListGroupMembers (only zero): %v", err)
	}
	if len(members) != 0 {
		t.Fatalf("ListGroupMembers: group 0 should load nothing, got %d", len(members))
	}
}

func TestChatNodeRepoRootIndexBackstop(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}

	repo := NewChatNodeRepo(db, testutil.Logger(t))
	topic := testutil.SeedTopic(t, ctx, tx, "root backstop")

	if _, err := repo.Create(dbc, &types.ChatNode{
		TopicID: topic.ID,
		Role:    types.RoleUser,
		Status:  types.NodeStatusCompleted,
	}); err != nil {
		t.Fatalf("Create first root: %v", err)
	}

	// A second live root must trip the partial unique index on both drivers,
	// and the violation must surface as invalid_operation.
	_, err := repo.Create(dbc, &types.ChatNode{
		TopicID: topic.ID,
		Role:    types.RoleUser,
		Status:  types.NodeStatusCompleted,
	})
	if err == nil {
		t.Fatalf("Create second root: expected a unique violation")
	}
	if mapped := MapError("node.create", err); !types.IsInvalidOperation(mapped) {
		t.Fatalf("second root should map to invalid_operation, got %v", mapped)
	}
}
