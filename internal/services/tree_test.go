package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/arbor-backend/internal/data/repos"
	"github.com/yungbote/arbor-backend/internal/data/repos/testutil"
	types "github.com/yungbote/arbor-backend/internal/domain"
	"github.com/yungbote/arbor-backend/internal/platform/dbctx"
	"github.com/yungbote/arbor-backend/internal/realtime"
)

type captureEmitter struct {
	mu   sync.Mutex
	msgs []realtime.SSEMessage
}

func (e *captureEmitter) Emit(_ context.Context, msg realtime.SSEMessage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.msgs = append(e.msgs, msg)
}

func (e *captureEmitter) events() []realtime.SSEEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]realtime.SSEEvent, 0, len(e.msgs))
	for _, m := range e.msgs {
		out = append(out, m.Event)
	}
	return out
}

func (e *captureEmitter) last() realtime.SSEMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.msgs) == 0 {
		return realtime.SSEMessage{}
	}
	return e.msgs[len(e.msgs)-1]
}

func (e *captureEmitter) reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.msgs = nil
}

type fixture struct {
	dbc     dbctx.Context
	tx      *gorm.DB
	topics  TopicService
	tree    TreeService
	topicRp repos.TopicRepo
	nodes   repos.ChatNodeRepo
	emitter *captureEmitter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)

	emitter := &captureEmitter{}
	notify := NewTreeNotifier(emitter)
	topicRepo := repos.NewTopicRepo(db, log)
	nodeRepo := repos.NewChatNodeRepo(db, log)
	treeRepo := repos.NewChatTreeRepo(db, log)

	return &fixture{
		dbc:     dbctx.Context{Ctx: context.Background(), Tx: tx},
		tx:      tx,
		topics:  NewTopicService(db, log, topicRepo, nodeRepo, notify),
		tree:    NewTreeService(db, log, topicRepo, nodeRepo, treeRepo, notify),
		topicRp: topicRepo,
		nodes:   nodeRepo,
		emitter: emitter,
	}
}

func (fx *fixture) topic(t *testing.T, title string) *types.Topic {
	t.Helper()
	return testutil.SeedTopic(t, fx.dbc.Ctx, fx.tx, title)
}

func (fx *fixture) setActive(t *testing.T, topicID uuid.UUID, nodeID interface{}) {
	t.Helper()
	if err := fx.topicRp.UpdateFields(fx.dbc, topicID, map[string]interface{}{"active_node_id": nodeID}); err != nil {
		t.Fatalf("set active: %v", err)
	}
}

func (fx *fixture) setGroup(t *testing.T, nodeID uuid.UUID, group int) {
	t.Helper()
	if err := fx.nodes.UpdateFields(fx.dbc, nodeID, map[string]interface{}{"siblings_group_id": group}); err != nil {
		t.Fatalf("set siblings group: %v", err)
	}
}

func (fx *fixture) activePointer(t *testing.T, topicID uuid.UUID) *uuid.UUID {
	t.Helper()
	topic, err := fx.topicRp.GetByID(fx.dbc, topicID)
	if err != nil {
		t.Fatalf("reload topic: %v", err)
	}
	return topic.ActiveNodeID
}

func textBlocks(s string) []types.ContentBlock {
	return []types.ContentBlock{{Type: types.BlockTypeText, Text: s}}
}

func TestCreateNodeAutoChain(t *testing.T) {
	fx := newFixture(t)
	topic := fx.topic(t, "auto chain")

	root, err := fx.tree.CreateNode(fx.dbc, topic.ID, CreateNodeInput{Blocks: textBlocks("root")})
	if err != nil {
		t.Fatalf("create root: %v", err)
	}
	if root.ParentID != nil {
		t.Fatalf("first node of an empty topic should be the root, got parent %v", root.ParentID)
	}
	if root.Role != types.RoleUser || root.Status != types.NodeStatusCompleted {
		t.Fatalf("defaults not applied: role=%q status=%q", root.Role, root.Status)
	}
	if ap := fx.activePointer(t, topic.ID); ap == nil || *ap != root.ID {
		t.Fatalf("active pointer should follow the new root, got %v", ap)
	}

	second, err := fx.tree.CreateNode(fx.dbc, topic.ID, CreateNodeInput{
		Role:   types.RoleAssistant,
		Blocks: textBlocks("reply"),
	})
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if second.ParentID == nil || *second.ParentID != root.ID {
		t.Fatalf("auto parent should resolve to the active node (root), got %v", second.ParentID)
	}

	third, err := fx.tree.CreateNode(fx.dbc, topic.ID, CreateNodeInput{Blocks: textBlocks("follow-up")})
	if err != nil {
		t.Fatalf("create third: %v", err)
	}
	if third.ParentID == nil || *third.ParentID != second.ID {
		t.Fatalf("auto parent should chain off the previous node, got %v", third.ParentID)
	}
	if ap := fx.activePointer(t, topic.ID); ap == nil || *ap != third.ID {
		t.Fatalf("active pointer should sit on the latest node, got %v", ap)
	}
}

func TestCreateNodeSetActiveFalse(t *testing.T) {
	fx := newFixture(t)
	topic := fx.topic(t, "set active false")

	root, err := fx.tree.CreateNode(fx.dbc, topic.ID, CreateNodeInput{Blocks: textBlocks("root")})
	if err != nil {
		t.Fatalf("create root: %v", err)
	}
	fx.emitter.reset()

	off := false
	branch, err := fx.tree.CreateNode(fx.dbc, topic.ID, CreateNodeInput{
		Parent:    types.ParentNode(root.ID),
		Blocks:    textBlocks("side branch"),
		SetActive: &off,
	})
	if err != nil {
		t.Fatalf("create branch: %v", err)
	}
	if branch.ParentID == nil || *branch.ParentID != root.ID {
		t.Fatalf("branch should hang off the requested parent, got %v", branch.ParentID)
	}
	if ap := fx.activePointer(t, topic.ID); ap == nil || *ap != root.ID {
		t.Fatalf("active pointer must not move when the caller opts out, got %v", ap)
	}

	got := fx.emitter.events()
	if len(got) != 1 || got[0] != realtime.SSEEventTreeNodeCreated {
		t.Fatalf("expected a single node_created event, got %v", got)
	}
	data, ok := fx.emitter.last().Data.(map[string]any)
	if !ok {
		t.Fatalf("event data should be a map, got %T", fx.emitter.last().Data)
	}
	if changed, _ := data["active_changed"].(bool); changed {
		t.Fatalf("event should carry active_changed=false")
	}

	// The next auto create chains off the untouched pointer, not the branch.
	next, err := fx.tree.CreateNode(fx.dbc, topic.ID, CreateNodeInput{Blocks: textBlocks("next")})
	if err != nil {
		t.Fatalf("create next: %v", err)
	}
	if next.ParentID == nil || *next.ParentID != root.ID {
		t.Fatalf("auto parent should still be the root, got %v", next.ParentID)
	}
}

func TestCreateNodeExplicitRoot(t *testing.T) {
	fx := newFixture(t)
	topic := fx.topic(t, "explicit root")

	root, err := fx.tree.CreateNode(fx.dbc, topic.ID, CreateNodeInput{
		Parent: types.ParentRoot(),
		Blocks: textBlocks("root"),
	})
	if err != nil {
		t.Fatalf("create explicit root: %v", err)
	}
	if root.ParentID != nil {
		t.Fatalf("explicit root should have no parent, got %v", root.ParentID)
	}

	if _, err := fx.tree.CreateNode(fx.dbc, topic.ID, CreateNodeInput{
		Parent: types.ParentRoot(),
		Blocks: textBlocks("second root"),
	}); !types.IsInvalidOperation(err) {
		t.Fatalf("second root: want invalid_operation, got %v", err)
	} else if types.KindOf(err) != types.KindParent {
		t.Fatalf("second root: want parent kind, got %q", types.KindOf(err))
	}
}

func TestCreateNodeAutoAmbiguous(t *testing.T) {
	fx := newFixture(t)
	topic := fx.topic(t, "ambiguous auto")

	if _, err := fx.tree.CreateNode(fx.dbc, topic.ID, CreateNodeInput{Blocks: textBlocks("root")}); err != nil {
		t.Fatalf("create root: %v", err)
	}

	// Cleared pointer: the topic has nodes but no anchor for auto.
	fx.setActive(t, topic.ID, nil)
	if _, err := fx.tree.CreateNode(fx.dbc, topic.ID, CreateNodeInput{Blocks: textBlocks("lost")}); !types.IsInvalidOperation(err) {
		t.Fatalf("auto with cleared pointer: want invalid_operation, got %v", err)
	}

	// Stale pointer behaves like a cleared one.
	fx.setActive(t, topic.ID, uuid.New())
	if _, err := fx.tree.CreateNode(fx.dbc, topic.ID, CreateNodeInput{Blocks: textBlocks("stale")}); !types.IsInvalidOperation(err) {
		t.Fatalf("auto with stale pointer: want invalid_operation, got %v", err)
	}
}

func TestCreateNodeValidation(t *testing.T) {
	fx := newFixture(t)
	topic := fx.topic(t, "create validation")
	other := fx.topic(t, "other topic")

	if _, err := fx.tree.CreateNode(fx.dbc, topic.ID, CreateNodeInput{Blocks: textBlocks("root")}); err != nil {
		t.Fatalf("create root: %v", err)
	}
	otherRoot, err := fx.tree.CreateNode(fx.dbc, other.ID, CreateNodeInput{Blocks: textBlocks("other root")})
	if err != nil {
		t.Fatalf("create other root: %v", err)
	}

	if _, err := fx.tree.CreateNode(fx.dbc, uuid.New(), CreateNodeInput{}); !types.IsNotFound(err) || types.KindOf(err) != types.KindTopic {
		t.Fatalf("missing topic: want topic not_found, got %v", err)
	}
	if _, err := fx.tree.CreateNode(fx.dbc, topic.ID, CreateNodeInput{Role: "moderator"}); !types.IsInvalidOperation(err) {
		t.Fatalf("unknown role: want invalid_operation, got %v", err)
	}
	if _, err := fx.tree.CreateNode(fx.dbc, topic.ID, CreateNodeInput{Status: "archived"}); !types.IsInvalidOperation(err) {
		t.Fatalf("unknown status: want invalid_operation, got %v", err)
	}
	if _, err := fx.tree.CreateNode(fx.dbc, topic.ID, CreateNodeInput{SiblingsGroupID: -1}); !types.IsInvalidOperation(err) {
		t.Fatalf("negative group: want invalid_operation, got %v", err)
	}
	if _, err := fx.tree.CreateNode(fx.dbc, topic.ID, CreateNodeInput{Parent: types.ParentNode(uuid.Nil)}); !types.IsInvalidOperation(err) {
		t.Fatalf("nil parent id: want invalid_operation, got %v", err)
	}
	if _, err := fx.tree.CreateNode(fx.dbc, topic.ID, CreateNodeInput{Parent: types.ParentNode(uuid.New())}); !types.IsNotFound(err) || types.KindOf(err) != types.KindParent {
		t.Fatalf("missing parent: want parent not_found, got %v", err)
	}
	if _, err := fx.tree.CreateNode(fx.dbc, topic.ID, CreateNodeInput{Parent: types.ParentNode(otherRoot.ID)}); !types.IsInvalidOperation(err) {
		t.Fatalf("cross-topic parent: want invalid_operation, got %v", err)
	}
}

func TestUpdateNodeFields(t *testing.T) {
	fx := newFixture(t)
	topic := fx.topic(t, "update fields")

	node, err := fx.tree.CreateNode(fx.dbc, topic.ID, CreateNodeInput{
		Blocks: textBlocks("original"),
		Status: types.NodeStatusPending,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	fx.emitter.reset()

	status := types.NodeStatusCompleted
	group := 4
	model := "claude-sonnet"
	updated, err := fx.tree.UpdateNode(fx.dbc, node.ID, UpdateNodeInput{
		Blocks:          textBlocks("revised"),
		Status:          &status,
		SiblingsGroupID: &group,
		ModelID:         &model,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Status != types.NodeStatusCompleted || updated.SiblingsGroupID != 4 || updated.ModelID != "claude-sonnet" {
		t.Fatalf("patch not applied: %+v", updated)
	}
	if updated.PreviewText(0) != "revised" {
		t.Fatalf("blocks not replaced, preview %q", updated.PreviewText(0))
	}
	if got := fx.emitter.events(); len(got) != 1 || got[0] != realtime.SSEEventTreeNodeUpdated {
		t.Fatalf("expected one node_updated event, got %v", got)
	}

	// An empty patch changes nothing and stays silent.
	fx.emitter.reset()
	same, err := fx.tree.UpdateNode(fx.dbc, node.ID, UpdateNodeInput{})
	if err != nil {
		t.Fatalf("empty update: %v", err)
	}
	if same.PreviewText(0) != "revised" {
		t.Fatalf("empty update should leave the node alone, got %q", same.PreviewText(0))
	}
	if got := fx.emitter.events(); len(got) != 0 {
		t.Fatalf("empty update should emit nothing, got %v", got)
	}

	bad := "archived"
	if _, err := fx.tree.UpdateNode(fx.dbc, node.ID, UpdateNodeInput{Status: &bad}); !types.IsInvalidOperation(err) {
		t.Fatalf("unknown status: want invalid_operation, got %v", err)
	}
	neg := -2
	if _, err := fx.tree.UpdateNode(fx.dbc, node.ID, UpdateNodeInput{SiblingsGroupID: &neg}); !types.IsInvalidOperation(err) {
		t.Fatalf("negative group: want invalid_operation, got %v", err)
	}
	if _, err := fx.tree.UpdateNode(fx.dbc, uuid.New(), UpdateNodeInput{Status: &status}); !types.IsNotFound(err) || types.KindOf(err) != types.KindNode {
		t.Fatalf("missing node: want node not_found, got %v", err)
	}
}

func TestUpdateNodeReparent(t *testing.T) {
	fx := newFixture(t)
	topic := fx.topic(t, "reparent")
	other := fx.topic(t, "reparent other")
	ctx := fx.dbc.Ctx

	base := time.Now().UTC().Add(-time.Minute)
	root := testutil.SeedNodeAt(t, ctx, fx.tx, topic.ID, nil, types.RoleUser, "root", base)
	a := testutil.SeedNodeAt(t, ctx, fx.tx, topic.ID, &root.ID, types.RoleAssistant, "a", base.Add(1*time.Second))
	b := testutil.SeedNodeAt(t, ctx, fx.tx, topic.ID, &root.ID, types.RoleAssistant, "b", base.Add(2*time.Second))
	aChild := testutil.SeedNodeAt(t, ctx, fx.tx, topic.ID, &a.ID, types.RoleUser, "under a", base.Add(3*time.Second))
	otherRoot := testutil.SeedNodeAt(t, ctx, fx.tx, other.ID, nil, types.RoleUser, "other root", base)

	// Move b (and implicitly its subtree) under a.
	move := types.ParentNode(a.ID)
	moved, err := fx.tree.UpdateNode(fx.dbc, b.ID, UpdateNodeInput{Parent: &move})
	if err != nil {
		t.Fatalf("reparent: %v", err)
	}
	if moved.ParentID == nil || *moved.ParentID != a.ID {
		t.Fatalf("reparent did not take, parent %v", moved.ParentID)
	}

	// Self, descendant, cross-topic, and auto are all rejected.
	self := types.ParentNode(a.ID)
	if _, err := fx.tree.UpdateNode(fx.dbc, a.ID, UpdateNodeInput{Parent: &self}); !types.IsInvalidOperation(err) {
		t.Fatalf("self parent: want invalid_operation, got %v", err)
	}
	cycle := types.ParentNode(aChild.ID)
	if _, err := fx.tree.UpdateNode(fx.dbc, a.ID, UpdateNodeInput{Parent: &cycle}); !types.IsInvalidOperation(err) {
		t.Fatalf("descendant parent: want invalid_operation, got %v", err)
	}
	cross := types.ParentNode(otherRoot.ID)
	if _, err := fx.tree.UpdateNode(fx.dbc, a.ID, UpdateNodeInput{Parent: &cross}); !types.IsInvalidOperation(err) {
		t.Fatalf("cross-topic parent: want invalid_operation, got %v", err)
	}
	auto := types.ParentAuto()
	if _, err := fx.tree.UpdateNode(fx.dbc, a.ID, UpdateNodeInput{Parent: &auto}); !types.IsInvalidOperation(err) {
		t.Fatalf("auto on update: want invalid_operation, got %v", err)
	}
	missing := types.ParentNode(uuid.New())
	if _, err := fx.tree.UpdateNode(fx.dbc, a.ID, UpdateNodeInput{Parent: &missing}); !types.IsNotFound(err) || types.KindOf(err) != types.KindParent {
		t.Fatalf("missing parent: want parent not_found, got %v", err)
	}

	// A failed reparent leaves the tree untouched.
	after, err := fx.tree.GetNodeByID(fx.dbc, a.ID)
	if err != nil {
		t.Fatalf("reload a: %v", err)
	}
	if after.ParentID == nil || *after.ParentID != root.ID {
		t.Fatalf("rejected moves must not change the parent, got %v", after.ParentID)
	}

	// Root slot requests: a no-op on the root, rejected on anything else.
	rootRef := types.ParentRoot()
	if _, err := fx.tree.UpdateNode(fx.dbc, root.ID, UpdateNodeInput{Parent: &rootRef}); err != nil {
		t.Fatalf("root keeping the root slot: %v", err)
	}
	if _, err := fx.tree.UpdateNode(fx.dbc, a.ID, UpdateNodeInput{Parent: &rootRef}); !types.IsInvalidOperation(err) {
		t.Fatalf("non-root to root slot: want invalid_operation, got %v", err)
	}
}

func TestDeleteNodeCascade(t *testing.T) {
	fx := newFixture(t)
	topic := fx.topic(t, "cascade delete")
	ctx := fx.dbc.Ctx

	base := time.Now().UTC().Add(-time.Minute)
	root := testutil.SeedNodeAt(t, ctx, fx.tx, topic.ID, nil, types.RoleUser, "root", base)
	a := testutil.SeedNodeAt(t, ctx, fx.tx, topic.ID, &root.ID, types.RoleAssistant, "a", base.Add(1*time.Second))
	b := testutil.SeedNodeAt(t, ctx, fx.tx, topic.ID, &a.ID, types.RoleUser, "b", base.Add(2*time.Second))
	c := testutil.SeedNodeAt(t, ctx, fx.tx, topic.ID, &b.ID, types.RoleAssistant, "c", base.Add(3*time.Second))
	d := testutil.SeedNodeAt(t, ctx, fx.tx, topic.ID, &b.ID, types.RoleAssistant, "d", base.Add(4*time.Second))
	e := testutil.SeedNodeAt(t, ctx, fx.tx, topic.ID, &root.ID, types.RoleAssistant, "e", base.Add(5*time.Second))
	fx.setActive(t, topic.ID, c.ID)

	res, err := fx.tree.DeleteNode(fx.dbc, a.ID, DeleteNodeOptions{Cascade: true})
	if err != nil {
		t.Fatalf("cascade delete: %v", err)
	}

	gone := map[uuid.UUID]bool{}
	for _, id := range res.DeletedIDs {
		gone[id] = true
	}
	for _, id := range []uuid.UUID{a.ID, b.ID, c.ID, d.ID} {
		if !gone[id] {
			t.Fatalf("cascade should report %s deleted, got %v", id, res.DeletedIDs)
		}
	}
	if len(res.DeletedIDs) != 4 {
		t.Fatalf("cascade should delete exactly the subtree, got %d ids", len(res.DeletedIDs))
	}
	if len(res.ReparentedIDs) != 0 {
		t.Fatalf("cascade must not reparent, got %v", res.ReparentedIDs)
	}

	for _, id := range []uuid.UUID{a.ID, b.ID, c.ID, d.ID} {
		if _, err := fx.tree.GetNodeByID(fx.dbc, id); !types.IsNotFound(err) {
			t.Fatalf("node %s should be gone, got %v", id, err)
		}
	}
	for _, id := range []uuid.UUID{root.ID, e.ID} {
		if _, err := fx.tree.GetNodeByID(fx.dbc, id); err != nil {
			t.Fatalf("node %s should survive: %v", id, err)
		}
	}

	// The active node sat inside the subtree; the pointer falls back to the
	// deleted node's former parent.
	if !res.ActiveChanged || res.NewActiveNodeID == nil || *res.NewActiveNodeID != root.ID {
		t.Fatalf("active should move to the former parent, got %+v", res)
	}
	if ap := fx.activePointer(t, topic.ID); ap == nil || *ap != root.ID {
		t.Fatalf("stored pointer should be the former parent, got %v", ap)
	}
}

func TestDeleteNodeReparentsChildren(t *testing.T) {
	fx := newFixture(t)
	topic := fx.topic(t, "splice delete")
	ctx := fx.dbc.Ctx

	base := time.Now().UTC().Add(-time.Minute)
	root := testutil.SeedNodeAt(t, ctx, fx.tx, topic.ID, nil, types.RoleUser, "root", base)
	mid := testutil.SeedNodeAt(t, ctx, fx.tx, topic.ID, &root.ID, types.RoleAssistant, "mid", base.Add(1*time.Second))
	c1 := testutil.SeedNodeAt(t, ctx, fx.tx, topic.ID, &mid.ID, types.RoleUser, "c1", base.Add(2*time.Second))
	c2 := testutil.SeedNodeAt(t, ctx, fx.tx, topic.ID, &mid.ID, types.RoleUser, "c2", base.Add(3*time.Second))
	fx.setActive(t, topic.ID, c1.ID)

	res, err := fx.tree.DeleteNode(fx.dbc, mid.ID, DeleteNodeOptions{})
	if err != nil {
		t.Fatalf("delete without cascade: %v", err)
	}
	if len(res.DeletedIDs) != 1 || res.DeletedIDs[0] != mid.ID {
		t.Fatalf("only the node itself should go, got %v", res.DeletedIDs)
	}
	reparented := map[uuid.UUID]bool{}
	for _, id := range res.ReparentedIDs {
		reparented[id] = true
	}
	if !reparented[c1.ID] || !reparented[c2.ID] || len(res.ReparentedIDs) != 2 {
		t.Fatalf("children should be reparented, got %v", res.ReparentedIDs)
	}

	for _, id := range []uuid.UUID{c1.ID, c2.ID} {
		n, err := fx.tree.GetNodeByID(fx.dbc, id)
		if err != nil {
			t.Fatalf("reload child: %v", err)
		}
		if n.ParentID == nil || *n.ParentID != root.ID {
			t.Fatalf("child should hang off the grandparent, got %v", n.ParentID)
		}
	}

	// The active node survived, so the pointer stays put.
	if res.ActiveChanged {
		t.Fatalf("active pointer should be untouched, got %+v", res)
	}
	if ap := fx.activePointer(t, topic.ID); ap == nil || *ap != c1.ID {
		t.Fatalf("stored pointer should still be c1, got %v", ap)
	}
}

func TestDeleteRootRequiresCascade(t *testing.T) {
	fx := newFixture(t)
	topic := fx.topic(t, "root delete")
	ctx := fx.dbc.Ctx

	base := time.Now().UTC().Add(-time.Minute)
	root := testutil.SeedNodeAt(t, ctx, fx.tx, topic.ID, nil, types.RoleUser, "root", base)
	child := testutil.SeedNodeAt(t, ctx, fx.tx, topic.ID, &root.ID, types.RoleAssistant, "child", base.Add(1*time.Second))
	fx.setActive(t, topic.ID, child.ID)

	if _, err := fx.tree.DeleteNode(fx.dbc, root.ID, DeleteNodeOptions{}); !types.IsInvalidOperation(err) {
		t.Fatalf("root without cascade: want invalid_operation, got %v", err)
	}

	res, err := fx.tree.DeleteNode(fx.dbc, root.ID, DeleteNodeOptions{Cascade: true})
	if err != nil {
		t.Fatalf("root with cascade: %v", err)
	}
	if len(res.DeletedIDs) != 2 {
		t.Fatalf("cascade from the root should empty the topic, got %v", res.DeletedIDs)
	}
	// The root has no parent to fall back to.
	if !res.ActiveChanged || res.NewActiveNodeID != nil {
		t.Fatalf("pointer should clear when the root goes, got %+v", res)
	}
	if ap := fx.activePointer(t, topic.ID); ap != nil {
		t.Fatalf("stored pointer should be null, got %v", ap)
	}

	// The root slot reopens.
	reborn, err := fx.tree.CreateNode(fx.dbc, topic.ID, CreateNodeInput{Blocks: textBlocks("again")})
	if err != nil {
		t.Fatalf("recreate root: %v", err)
	}
	if reborn.ParentID != nil {
		t.Fatalf("recreated node should be the new root, got %v", reborn.ParentID)
	}
}

func TestDeleteNodeActiveStrategyClear(t *testing.T) {
	fx := newFixture(t)
	topic := fx.topic(t, "clear strategy")
	ctx := fx.dbc.Ctx

	base := time.Now().UTC().Add(-time.Minute)
	root := testutil.SeedNodeAt(t, ctx, fx.tx, topic.ID, nil, types.RoleUser, "root", base)
	leaf := testutil.SeedNodeAt(t, ctx, fx.tx, topic.ID, &root.ID, types.RoleAssistant, "leaf", base.Add(1*time.Second))
	fx.setActive(t, topic.ID, leaf.ID)

	res, err := fx.tree.DeleteNode(fx.dbc, leaf.ID, DeleteNodeOptions{ActiveStrategy: ActiveStrategyClear})
	if err != nil {
		t.Fatalf("delete with clear strategy: %v", err)
	}
	if !res.ActiveChanged || res.NewActiveNodeID != nil {
		t.Fatalf("clear strategy should null the pointer, got %+v", res)
	}
	if ap := fx.activePointer(t, topic.ID); ap != nil {
		t.Fatalf("stored pointer should be null, got %v", ap)
	}

	if _, err := fx.tree.DeleteNode(fx.dbc, root.ID, DeleteNodeOptions{Cascade: true, ActiveStrategy: "newest"}); !types.IsInvalidOperation(err) {
		t.Fatalf("unknown strategy: want invalid_operation, got %v", err)
	}
	if _, err := fx.tree.DeleteNode(fx.dbc, uuid.New(), DeleteNodeOptions{}); !types.IsNotFound(err) {
		t.Fatalf("missing node: want not_found, got %v", err)
	}
}

func TestGetTreeDepthAndActivePath(t *testing.T) {
	fx := newFixture(t)
	topic := fx.topic(t, "depth projection")
	ctx := fx.dbc.Ctx

	// root -> a -> b -> c -> leaf, root -> side, b -> offPath.
	base := time.Now().UTC().Add(-time.Minute)
	root := testutil.SeedNodeAt(t, ctx, fx.tx, topic.ID, nil, types.RoleUser, "root", base)
	a := testutil.SeedNodeAt(t, ctx, fx.tx, topic.ID, &root.ID, types.RoleAssistant, "a", base.Add(1*time.Second))
	b := testutil.SeedNodeAt(t, ctx, fx.tx, topic.ID, &a.ID, types.RoleUser, "b", base.Add(2*time.Second))
	c := testutil.SeedNodeAt(t, ctx, fx.tx, topic.ID, &b.ID, types.RoleAssistant, "c", base.Add(3*time.Second))
	leaf := testutil.SeedNodeAt(t, ctx, fx.tx, topic.ID, &c.ID, types.RoleUser, "leaf", base.Add(4*time.Second))
	side := testutil.SeedNodeAt(t, ctx, fx.tx, topic.ID, &root.ID, types.RoleAssistant, "side", base.Add(5*time.Second))
	offPath := testutil.SeedNodeAt(t, ctx, fx.tx, topic.ID, &b.ID, types.RoleAssistant, "off path", base.Add(6*time.Second))
	grandchild := testutil.SeedNodeAt(t, ctx, fx.tx, topic.ID, &offPath.ID, types.RoleUser, "too deep", base.Add(7*time.Second))
	fx.setActive(t, topic.ID, leaf.ID)

	depth := 1
	res, err := fx.tree.GetTree(fx.dbc, topic.ID, GetTreeOptions{Depth: &depth})
	if err != nil {
		t.Fatalf("get tree: %v", err)
	}

	got := map[uuid.UUID]TreeNode{}
	for _, n := range res.Nodes {
		got[n.ID] = n
	}

	// Depth 1 covers root, a and side. The active path extends past the bound
	// down to the leaf, and path nodes stay navigable one level further, which
	// pulls in b's off-path child but not that child's own subtree.
	for _, want := range []uuid.UUID{root.ID, a.ID, side.ID, b.ID, c.ID, leaf.ID, offPath.ID} {
		if _, ok := got[want]; !ok {
			t.Fatalf("node %s missing from projection", want)
		}
	}
	if _, ok := got[grandchild.ID]; ok {
		t.Fatalf("grandchild of an off-path node leaked past the depth bound")
	}
	if res.ActiveNodeID == nil || *res.ActiveNodeID != leaf.ID {
		t.Fatalf("active node should be the leaf, got %v", res.ActiveNodeID)
	}
	if !got[root.ID].HasChildren || !got[offPath.ID].HasChildren {
		t.Fatalf("has_children flags wrong: root=%v offPath=%v", got[root.ID].HasChildren, got[offPath.ID].HasChildren)
	}
	if got[leaf.ID].HasChildren || got[side.ID].HasChildren {
		t.Fatalf("leaves should not claim children")
	}
	if got[leaf.ID].Preview != "leaf" {
		t.Fatalf("preview should surface block text, got %q", got[leaf.ID].Preview)
	}
}

func TestGetTreeSiblingGroups(t *testing.T) {
	fx := newFixture(t)
	topic := fx.topic(t, "sibling groups")
	ctx := fx.dbc.Ctx

	base := time.Now().UTC().Add(-time.Minute)
	root := testutil.SeedNodeAt(t, ctx, fx.tx, topic.ID, nil, types.RoleUser, "root", base)
	p1 := testutil.SeedNodeAt(t, ctx, fx.tx, topic.ID, &root.ID, types.RoleAssistant, "p1", base.Add(1*time.Second))
	p2 := testutil.SeedNodeAt(t, ctx, fx.tx, topic.ID, &root.ID, types.RoleAssistant, "p2", base.Add(2*time.Second))
	m1 := testutil.SeedNodeAt(t, ctx, fx.tx, topic.ID, &p1.ID, types.RoleAssistant, "first try", base.Add(3*time.Second))
	m2 := testutil.SeedNodeAt(t, ctx, fx.tx, topic.ID, &p1.ID, types.RoleAssistant, "second try", base.Add(4*time.Second))
	plain := testutil.SeedNodeAt(t, ctx, fx.tx, topic.ID, &p1.ID, types.RoleUser, "plain", base.Add(5*time.Second))
	lone := testutil.SeedNodeAt(t, ctx, fx.tx, topic.ID, &p2.ID, types.RoleAssistant, "lone", base.Add(6*time.Second))
	fx.setGroup(t, m1.ID, 7)
	fx.setGroup(t, m2.ID, 7)
	// Same numeric id under a different parent: unrelated, stays plain.
	fx.setGroup(t, lone.ID, 7)

	res, err := fx.tree.GetTree(fx.dbc, topic.ID, GetTreeOptions{})
	if err != nil {
		t.Fatalf("get tree: %v", err)
	}

	if len(res.SiblingsGroups) != 1 {
		t.Fatalf("expected exactly one group, got %d", len(res.SiblingsGroups))
	}
	g := res.SiblingsGroups[0]
	if g.ParentID == nil || *g.ParentID != p1.ID || g.SiblingsGroupID != 7 {
		t.Fatalf("group misattributed: %+v", g)
	}
	if len(g.Members) != 2 || g.Members[0].ID != m1.ID || g.Members[1].ID != m2.ID {
		t.Fatalf("members wrong or out of creation order: %+v", g.Members)
	}
	if g.Members[0].ParentID != nil {
		t.Fatalf("group members should not repeat the parent, got %v", g.Members[0].ParentID)
	}

	flat := map[uuid.UUID]bool{}
	for _, n := range res.Nodes {
		flat[n.ID] = true
	}
	for _, want := range []uuid.UUID{root.ID, p1.ID, p2.ID, plain.ID, lone.ID} {
		if !flat[want] {
			t.Fatalf("node %s missing from flat list", want)
		}
	}
	if flat[m1.ID] || flat[m2.ID] {
		t.Fatalf("grouped members must not appear in the flat list")
	}
}

func TestGetTreeViews(t *testing.T) {
	fx := newFixture(t)
	topic := fx.topic(t, "tree views")
	other := fx.topic(t, "tree views other")
	ctx := fx.dbc.Ctx

	res, err := fx.tree.GetTree(fx.dbc, topic.ID, GetTreeOptions{})
	if err != nil {
		t.Fatalf("empty topic: %v", err)
	}
	if len(res.Nodes) != 0 || len(res.SiblingsGroups) != 0 || res.ActiveNodeID != nil {
		t.Fatalf("empty topic should project an empty tree, got %+v", res)
	}

	base := time.Now().UTC().Add(-time.Minute)
	root := testutil.SeedNodeAt(t, ctx, fx.tx, topic.ID, nil, types.RoleUser, "root", base)
	mid := testutil.SeedNodeAt(t, ctx, fx.tx, topic.ID, &root.ID, types.RoleAssistant, "mid", base.Add(1*time.Second))
	under := testutil.SeedNodeAt(t, ctx, fx.tx, topic.ID, &mid.ID, types.RoleUser, "under", base.Add(2*time.Second))
	otherRoot := testutil.SeedNodeAt(t, ctx, fx.tx, other.ID, nil, types.RoleUser, "other", base)

	// A subtree view starts at the requested node.
	res, err = fx.tree.GetTree(fx.dbc, topic.ID, GetTreeOptions{RootID: &mid.ID})
	if err != nil {
		t.Fatalf("subtree view: %v", err)
	}
	seen := map[uuid.UUID]bool{}
	for _, n := range res.Nodes {
		seen[n.ID] = true
	}
	if !seen[mid.ID] || !seen[under.ID] || seen[root.ID] {
		t.Fatalf("subtree view wrong: %v", seen)
	}

	if _, err := fx.tree.GetTree(fx.dbc, topic.ID, GetTreeOptions{RootID: &otherRoot.ID}); !types.IsNotFound(err) {
		t.Fatalf("cross-topic root: want not_found, got %v", err)
	}
	bogus := uuid.New()
	if _, err := fx.tree.GetTree(fx.dbc, topic.ID, GetTreeOptions{FocusNodeID: &bogus}); !types.IsNotFound(err) {
		t.Fatalf("explicit missing focus: want not_found, got %v", err)
	}
	if _, err := fx.tree.GetTree(fx.dbc, uuid.New(), GetTreeOptions{}); !types.IsNotFound(err) || types.KindOf(err) != types.KindTopic {
		t.Fatalf("missing topic: want topic not_found, got %v", err)
	}

	// A stale stored pointer degrades to "no active node".
	fx.setActive(t, topic.ID, uuid.New())
	res, err = fx.tree.GetTree(fx.dbc, topic.ID, GetTreeOptions{})
	if err != nil {
		t.Fatalf("stale pointer: %v", err)
	}
	if res.ActiveNodeID != nil {
		t.Fatalf("stale pointer should not be reported, got %v", res.ActiveNodeID)
	}
}

func TestGetBranchMessages(t *testing.T) {
	fx := newFixture(t)
	topic := fx.topic(t, "branch messages")
	ctx := fx.dbc.Ctx

	chain := testutil.SeedChain(t, ctx, fx.tx, topic.ID, 6)
	tip := chain[5]
	sideBranch := testutil.SeedNodeAt(t, ctx, fx.tx, topic.ID, &chain[1].ID, types.RoleAssistant, "side", time.Now().UTC())

	res, err := fx.tree.GetBranchMessages(fx.dbc, topic.ID, BranchOptions{NodeID: &tip.ID})
	if err != nil {
		t.Fatalf("full branch: %v", err)
	}
	if len(res.Messages) != 6 {
		t.Fatalf("expected the whole path, got %d messages", len(res.Messages))
	}
	if res.Messages[0].Node.ID != chain[0].ID || res.Messages[5].Node.ID != tip.ID {
		t.Fatalf("branch should run root-first to the tip")
	}

	res, err = fx.tree.GetBranchMessages(fx.dbc, topic.ID, BranchOptions{NodeID: &tip.ID, Limit: 3})
	if err != nil {
		t.Fatalf("limited branch: %v", err)
	}
	if len(res.Messages) != 3 || res.Messages[0].Node.ID != chain[3].ID {
		t.Fatalf("limit should keep the newest window, got %d starting at %v", len(res.Messages), res.Messages[0].Node.ID)
	}

	res, err = fx.tree.GetBranchMessages(fx.dbc, topic.ID, BranchOptions{NodeID: &tip.ID, BeforeNodeID: &chain[3].ID})
	if err != nil {
		t.Fatalf("before cursor: %v", err)
	}
	if len(res.Messages) != 3 || res.Messages[2].Node.ID != chain[2].ID {
		t.Fatalf("before cursor should cut strictly above it, got %d messages", len(res.Messages))
	}

	res, err = fx.tree.GetBranchMessages(fx.dbc, topic.ID, BranchOptions{NodeID: &tip.ID, BeforeNodeID: &chain[5].ID, Limit: 2})
	if err != nil {
		t.Fatalf("before + limit: %v", err)
	}
	if len(res.Messages) != 2 || res.Messages[0].Node.ID != chain[3].ID || res.Messages[1].Node.ID != chain[4].ID {
		t.Fatalf("paged window wrong: %d messages", len(res.Messages))
	}

	// A cursor that is not an ancestor of the tip is a distinct failure.
	if _, err := fx.tree.GetBranchMessages(fx.dbc, topic.ID, BranchOptions{NodeID: &tip.ID, BeforeNodeID: &sideBranch.ID}); !types.IsNotFound(err) || types.KindOf(err) != types.KindBeforeNode {
		t.Fatalf("off-path cursor: want before_node not_found, got %v", err)
	}
	if _, err := fx.tree.GetBranchMessages(fx.dbc, topic.ID, BranchOptions{NodeID: &sideBranch.ID, BeforeNodeID: &chain[3].ID}); !types.IsNotFound(err) {
		t.Fatalf("cursor outside the side branch: want not_found, got %v", err)
	}
}

func TestGetBranchMessagesFocusAndSiblings(t *testing.T) {
	fx := newFixture(t)
	topic := fx.topic(t, "branch focus")
	ctx := fx.dbc.Ctx

	chain := testutil.SeedChain(t, ctx, fx.tx, topic.ID, 4)
	alt := testutil.SeedNodeAt(t, ctx, fx.tx, topic.ID, &chain[1].ID, types.RoleAssistant, "alternate", chain[2].CreatedAt.Add(500*time.Millisecond))
	fx.setGroup(t, chain[2].ID, 9)
	fx.setGroup(t, alt.ID, 9)

	// Without an explicit tip the stored pointer anchors the read.
	fx.setActive(t, topic.ID, chain[3].ID)
	res, err := fx.tree.GetBranchMessages(fx.dbc, topic.ID, BranchOptions{})
	if err != nil {
		t.Fatalf("pointer branch: %v", err)
	}
	if len(res.Messages) != 4 {
		t.Fatalf("pointer branch should cover the chain, got %d", len(res.Messages))
	}
	if res.ActiveNodeID == nil || *res.ActiveNodeID != chain[3].ID {
		t.Fatalf("result should echo the pointer, got %v", res.ActiveNodeID)
	}

	// Siblings ride along only when asked for.
	for _, m := range res.Messages {
		if m.Siblings != nil {
			t.Fatalf("siblings attached without the flag")
		}
	}
	res, err = fx.tree.GetBranchMessages(fx.dbc, topic.ID, BranchOptions{IncludeSiblings: true})
	if err != nil {
		t.Fatalf("siblings branch: %v", err)
	}
	var grouped *BranchMessage
	for i := range res.Messages {
		if res.Messages[i].Node.ID == chain[2].ID {
			grouped = &res.Messages[i]
		}
	}
	if grouped == nil {
		t.Fatalf("grouped node missing from branch")
	}
	if len(grouped.Siblings) != 1 || grouped.Siblings[0].ID != alt.ID {
		t.Fatalf("expected the alternate as the only sibling, got %+v", grouped.Siblings)
	}

	// A cleared pointer with no explicit tip yields an empty page.
	fx.setActive(t, topic.ID, nil)
	res, err = fx.tree.GetBranchMessages(fx.dbc, topic.ID, BranchOptions{})
	if err != nil {
		t.Fatalf("cleared pointer: %v", err)
	}
	if len(res.Messages) != 0 || res.ActiveNodeID != nil {
		t.Fatalf("cleared pointer should yield an empty page, got %+v", res)
	}

	// A stale pointer degrades the same way but still echoes the stored value.
	stale := uuid.New()
	fx.setActive(t, topic.ID, stale)
	res, err = fx.tree.GetBranchMessages(fx.dbc, topic.ID, BranchOptions{})
	if err != nil {
		t.Fatalf("stale pointer: %v", err)
	}
	if len(res.Messages) != 0 {
		t.Fatalf("stale pointer should yield an empty page, got %d messages", len(res.Messages))
	}
	if res.ActiveNodeID == nil || *res.ActiveNodeID != stale {
		t.Fatalf("stored pointer should be echoed as-is, got %v", res.ActiveNodeID)
	}

	otherTopic := fx.topic(t, "branch focus other")
	if _, err := fx.tree.GetBranchMessages(fx.dbc, otherTopic.ID, BranchOptions{NodeID: &chain[3].ID}); !types.IsNotFound(err) {
		t.Fatalf("tip in another topic: want not_found, got %v", err)
	}
}

func TestGetPathToNode(t *testing.T) {
	fx := newFixture(t)
	topic := fx.topic(t, "path")
	ctx := fx.dbc.Ctx

	chain := testutil.SeedChain(t, ctx, fx.tx, topic.ID, 5)
	path, err := fx.tree.GetPathToNode(fx.dbc, chain[4].ID)
	if err != nil {
		t.Fatalf("path: %v", err)
	}
	if len(path) != 5 {
		t.Fatalf("expected 5 path nodes, got %d", len(path))
	}
	for i, n := range path {
		if n.ID != chain[i].ID {
			t.Fatalf("path out of order at %d: want %s got %s", i, chain[i].ID, n.ID)
		}
	}

	if _, err := fx.tree.GetPathToNode(fx.dbc, uuid.New()); !types.IsNotFound(err) || types.KindOf(err) != types.KindNode {
		t.Fatalf("missing node: want node not_found, got %v", err)
	}
}

func TestTreeNotifications(t *testing.T) {
	fx := newFixture(t)
	topic := fx.topic(t, "notifications")

	if _, err := fx.tree.CreateNode(fx.dbc, topic.ID, CreateNodeInput{Blocks: textBlocks("root")}); err != nil {
		t.Fatalf("create root: %v", err)
	}
	got := fx.emitter.events()
	if len(got) != 2 || got[0] != realtime.SSEEventTreeNodeCreated || got[1] != realtime.SSEEventTreeActiveChanged {
		t.Fatalf("create should emit node_created then active_changed, got %v", got)
	}
	if ch := fx.emitter.last().Channel; ch != topic.ID.String() {
		t.Fatalf("events should ride the topic channel, got %q", ch)
	}

	child, err := fx.tree.CreateNode(fx.dbc, topic.ID, CreateNodeInput{Blocks: textBlocks("child")})
	if err != nil {
		t.Fatalf("create child: %v", err)
	}
	fx.setActive(t, topic.ID, child.ID)
	fx.emitter.reset()

	if _, err := fx.tree.DeleteNode(fx.dbc, child.ID, DeleteNodeOptions{}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got = fx.emitter.events()
	if len(got) != 2 || got[0] != realtime.SSEEventTreeNodesDeleted || got[1] != realtime.SSEEventTreeActiveChanged {
		t.Fatalf("delete of the active node should emit nodes_deleted then active_changed, got %v", got)
	}
}
