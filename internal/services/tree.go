package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/arbor-backend/internal/data/repos"
	types "github.com/yungbote/arbor-backend/internal/domain"
	"github.com/yungbote/arbor-backend/internal/observability"
	"github.com/yungbote/arbor-backend/internal/platform/ctxutil"
	"github.com/yungbote/arbor-backend/internal/platform/dbctx"
	"github.com/yungbote/arbor-backend/internal/platform/logger"
)

const (
	// defaultTreeDepth bounds getTree when the caller passes no depth.
	// Negative depth means unlimited.
	defaultTreeDepth = 20

	defaultBranchLimit = 100
	maxBranchLimit     = 500

	previewRunes = 80
)

// GetTreeOptions selects what getTree projects. RootID narrows the view to a
// subtree, FocusNodeID overrides the topic's active pointer, Depth bounds
// descent below the root.
type GetTreeOptions struct {
	RootID      *uuid.UUID
	FocusNodeID *uuid.UUID
	Depth       *int
}

// TreeNode is the summary shape getTree emits. ParentID is empty for nodes
// emitted inside a siblings group; the group carries the parent instead.
type TreeNode struct {
	ID          uuid.UUID  `json:"id"`
	ParentID    *uuid.UUID `json:"parent_id,omitempty"`
	Role        string     `json:"role"`
	Preview     string     `json:"preview"`
	Status      string     `json:"status"`
	HasChildren bool       `json:"has_children"`
}

// SiblingsGroup collapses alternate responses that share a parent and a
// non-zero group id into one unit with at least two members.
type SiblingsGroup struct {
	ParentID        *uuid.UUID `json:"parent_id"`
	SiblingsGroupID int        `json:"siblings_group_id"`
	Members         []TreeNode `json:"members"`
}

type TreeResult struct {
	Nodes          []TreeNode      `json:"nodes"`
	SiblingsGroups []SiblingsGroup `json:"siblings_groups"`
	ActiveNodeID   *uuid.UUID      `json:"active_node_id"`
}

type BranchOptions struct {
	NodeID          *uuid.UUID
	BeforeNodeID    *uuid.UUID
	Limit           int
	IncludeSiblings bool
}

type BranchMessage struct {
	Node     *types.ChatNode   `json:"node"`
	Siblings []*types.ChatNode `json:"siblings,omitempty"`
}

type BranchResult struct {
	Messages     []BranchMessage `json:"messages"`
	ActiveNodeID *uuid.UUID      `json:"active_node_id"`
}

type CreateNodeInput struct {
	Parent          types.ParentRef
	Role            string
	Blocks          []types.ContentBlock
	Status          string
	SiblingsGroupID int
	AssistantID     string
	ModelID         string
	TraceID         string
	Stats           datatypes.JSON

	// SetActive defaults to true: a new node becomes the topic's active node
	// unless the caller opts out.
	SetActive *bool
}

// UpdateNodeInput patches only the fields that are set. A nil Blocks slice
// means "leave blocks alone"; an empty non-nil slice clears them.
type UpdateNodeInput struct {
	Blocks          []types.ContentBlock
	Status          *string
	SiblingsGroupID *int
	AssistantID     *string
	ModelID         *string
	TraceID         *string
	Stats           datatypes.JSON
	Parent          *types.ParentRef
}

type ActiveStrategy string

const (
	// ActiveStrategyParent moves the pointer to the deleted node's former
	// parent (null when the root was deleted).
	ActiveStrategyParent ActiveStrategy = "parent"
	// ActiveStrategyClear nulls the pointer.
	ActiveStrategyClear ActiveStrategy = "clear"
)

type DeleteNodeOptions struct {
	Cascade        bool
	ActiveStrategy ActiveStrategy
}

type DeleteNodeResult struct {
	TopicID         uuid.UUID   `json:"topic_id"`
	DeletedIDs      []uuid.UUID `json:"deleted_ids"`
	ReparentedIDs   []uuid.UUID `json:"reparented_ids,omitempty"`
	NewActiveNodeID *uuid.UUID  `json:"new_active_node_id,omitempty"`
	ActiveChanged   bool        `json:"active_changed"`
}

type TreeService interface {
	// GetTree projects a depth-bounded view of the topic's tree. The active
	// path is always included regardless of depth, and alternate responses
	// sharing a parent and a non-zero group id are collapsed into groups.
	GetTree(dbc dbctx.Context, topicID uuid.UUID, opts GetTreeOptions) (*TreeResult, error)

	// GetBranchMessages materializes the root-to-node path as a flat message
	// list with optional before-cursor pagination and sibling attachments.
	GetBranchMessages(dbc dbctx.Context, topicID uuid.UUID, opts BranchOptions) (*BranchResult, error)

	GetNodeByID(dbc dbctx.Context, id uuid.UUID) (*types.ChatNode, error)

	// GetPathToNode returns the root-first ancestor chain ending at nodeID.
	GetPathToNode(dbc dbctx.Context, nodeID uuid.UUID) ([]*types.ChatNode, error)

	// CreateNode inserts a node under the parent the ParentRef resolves to
	// and, unless the caller opts out, moves the topic's active pointer to it.
	CreateNode(dbc dbctx.Context, topicID uuid.UUID, input CreateNodeInput) (*types.ChatNode, error)

	// UpdateNode patches the fields present in the input. Reparenting onto
	// the node itself or one of its descendants is rejected.
	UpdateNode(dbc dbctx.Context, nodeID uuid.UUID, input UpdateNodeInput) (*types.ChatNode, error)

	// DeleteNode removes a node. With cascade the whole subtree goes; without
	// it the node's children are reattached to its former parent first.
	// Deleting the root without cascade is rejected.
	DeleteNode(dbc dbctx.Context, nodeID uuid.UUID, opts DeleteNodeOptions) (*DeleteNodeResult, error)
}

type treeService struct {
	db     *gorm.DB
	log    *logger.Logger
	topics repos.TopicRepo
	nodes  repos.ChatNodeRepo
	tree   repos.ChatTreeRepo
	notify TreeNotifier
}

func NewTreeService(
	db *gorm.DB,
	baseLog *logger.Logger,
	topicRepo repos.TopicRepo,
	nodeRepo repos.ChatNodeRepo,
	treeRepo repos.ChatTreeRepo,
	notify TreeNotifier,
) TreeService {
	return &treeService{
		db:     db,
		log:    baseLog.With("service", "TreeService"),
		topics: topicRepo,
		nodes:  nodeRepo,
		tree:   treeRepo,
		notify: notify,
	}
}

// groupKey identifies a siblings group. Group ids are only meaningful in
// combination with the parent; equal ids under different parents are
// unrelated groups.
type groupKey struct {
	parent uuid.UUID
	group  int
}

func parentKeyOf(n *types.ChatNode) uuid.UUID {
	if n.ParentID == nil {
		return uuid.Nil
	}
	return *n.ParentID
}

func observeTreeOp(op string, start time.Time, err error) {
	m := observability.Current()
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = string(types.CodeOf(err))
	}
	m.ObserveTreeOp(op, status, time.Since(start))
}

func (s *treeService) GetTree(dbc dbctx.Context, topicID uuid.UUID, opts GetTreeOptions) (res *TreeResult, err error) {
	const op = "tree.get_tree"
	start := time.Now()
	defer func() { observeTreeOp(op, start, err) }()

	topic, err := s.getTopic(dbc, op, topicID)
	if err != nil {
		return nil, err
	}

	focus, focusFallback, err := s.resolveFocus(dbc, op, topic, opts.FocusNodeID)
	if err != nil {
		return nil, err
	}

	var root *types.ChatNode
	if opts.RootID != nil && *opts.RootID != uuid.Nil {
		root, err = s.getTopicNode(dbc, op, topicID, *opts.RootID)
		if err != nil {
			return nil, err
		}
	} else {
		root, err = s.nodes.GetRoot(dbc, topicID)
		if err != nil {
			return nil, repos.MapError(op, err)
		}
	}
	if root == nil {
		return &TreeResult{Nodes: []TreeNode{}, SiblingsGroups: []SiblingsGroup{}}, nil
	}

	depth := defaultTreeDepth
	if opts.Depth != nil {
		depth = *opts.Depth
	}
	unlimited := depth < 0

	var (
		pathNodes    []*types.ChatNode
		subtreeNodes []*types.ChatNode
	)
	eg, egctx := errgroup.WithContext(ctxutil.Default(dbc.Ctx))
	if dbc.Tx != nil {
		// A gorm transaction is a single connection; never fan out on it.
		eg.SetLimit(1)
	}
	egdbc := dbctx.Context{Ctx: egctx, Tx: dbc.Tx}
	if focus != nil {
		focusID := focus.ID
		eg.Go(func() error {
			rows, perr := s.tree.PathToRoot(egdbc, focusID)
			if perr != nil {
				if focusFallback && types.IsNotFound(perr) {
					return nil
				}
				return perr
			}
			pathNodes = rows
			return nil
		})
	}
	eg.Go(func() error {
		bound := depth
		if unlimited {
			bound = -1
		}
		rows, serr := s.tree.SubtreeToDepth(egdbc, root.ID, bound)
		if serr != nil {
			return serr
		}
		subtreeNodes = rows
		return nil
	})
	if werr := eg.Wait(); werr != nil {
		return nil, repos.MapError(op, werr)
	}

	byID := make(map[uuid.UUID]*types.ChatNode, len(subtreeNodes)+len(pathNodes))
	for _, n := range subtreeNodes {
		byID[n.ID] = n
	}
	onPath := make(map[uuid.UUID]bool, len(pathNodes))
	pathIDs := make([]uuid.UUID, 0, len(pathNodes))
	for _, n := range pathNodes {
		onPath[n.ID] = true
		pathIDs = append(pathIDs, n.ID)
		if _, ok := byID[n.ID]; !ok {
			byID[n.ID] = n
		}
	}
	// Nodes on the active path stay navigable one level past themselves even
	// when they sit beyond the depth bound.
	if len(pathIDs) > 0 {
		kids, lerr := s.nodes.ListChildrenOf(dbc, pathIDs)
		if lerr != nil {
			return nil, repos.MapError(op, lerr)
		}
		for _, n := range kids {
			if _, ok := byID[n.ID]; !ok {
				byID[n.ID] = n
			}
		}
	}

	ids := make([]uuid.UUID, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	hasKids, herr := s.nodes.HasChildren(dbc, ids)
	if herr != nil {
		return nil, repos.MapError(op, herr)
	}

	childrenOf := make(map[uuid.UUID][]*types.ChatNode)
	for _, n := range byID {
		key := parentKeyOf(n)
		childrenOf[key] = append(childrenOf[key], n)
	}
	for _, siblings := range childrenOf {
		sort.SliceStable(siblings, func(i, j int) bool {
			if siblings[i].CreatedAt.Equal(siblings[j].CreatedAt) {
				return siblings[i].ID.String() < siblings[j].ID.String()
			}
			return siblings[i].CreatedAt.Before(siblings[j].CreatedAt)
		})
	}

	out := &TreeResult{Nodes: []TreeNode{}, SiblingsGroups: []SiblingsGroup{}}
	if focus != nil {
		id := focus.ID
		out.ActiveNodeID = &id
	}

	seen := make(map[groupKey]bool)
	var walk func(n *types.ChatNode, level int)
	walk = func(n *types.ChatNode, level int) {
		if n.SiblingsGroupID != 0 {
			key := groupKey{parent: parentKeyOf(n), group: n.SiblingsGroupID}
			if !seen[key] {
				seen[key] = true
				var members []TreeNode
				for _, sib := range childrenOf[key.parent] {
					if sib.SiblingsGroupID == n.SiblingsGroupID {
						members = append(members, summarize(sib, hasKids, true))
					}
				}
				if len(members) >= 2 {
					out.SiblingsGroups = append(out.SiblingsGroups, SiblingsGroup{
						ParentID:        n.ParentID,
						SiblingsGroupID: n.SiblingsGroupID,
						Members:         members,
					})
				} else {
					out.Nodes = append(out.Nodes, summarize(n, hasKids, false))
				}
			}
		} else {
			out.Nodes = append(out.Nodes, summarize(n, hasKids, false))
		}
		if onPath[n.ID] || unlimited || level < depth {
			for _, c := range childrenOf[n.ID] {
				walk(c, level+1)
			}
		}
	}
	walk(root, 0)

	return out, nil
}

func summarize(n *types.ChatNode, hasKids map[uuid.UUID]bool, inGroup bool) TreeNode {
	t := TreeNode{
		ID:          n.ID,
		Role:        n.DisplayRole(),
		Preview:     n.PreviewText(previewRunes),
		Status:      n.Status,
		HasChildren: hasKids[n.ID],
	}
	if !inGroup {
		t.ParentID = n.ParentID
	}
	return t
}

func (s *treeService) GetBranchMessages(dbc dbctx.Context, topicID uuid.UUID, opts BranchOptions) (res *BranchResult, err error) {
	const op = "tree.get_branch"
	start := time.Now()
	defer func() { observeTreeOp(op, start, err) }()

	topic, err := s.getTopic(dbc, op, topicID)
	if err != nil {
		return nil, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultBranchLimit
	}
	if limit > maxBranchLimit {
		limit = maxBranchLimit
	}

	tip, tipFallback, err := s.resolveFocus(dbc, op, topic, opts.NodeID)
	if err != nil {
		return nil, err
	}
	if tip == nil {
		return &BranchResult{Messages: []BranchMessage{}, ActiveNodeID: topic.ActiveNodeID}, nil
	}

	path, perr := s.tree.PathToRoot(dbc, tip.ID)
	if perr != nil {
		if tipFallback && types.IsNotFound(perr) {
			return &BranchResult{Messages: []BranchMessage{}, ActiveNodeID: topic.ActiveNodeID}, nil
		}
		return nil, repos.MapError(op, perr)
	}

	window := path
	if opts.BeforeNodeID != nil && *opts.BeforeNodeID != uuid.Nil {
		cut := -1
		for i, n := range window {
			if n.ID == *opts.BeforeNodeID {
				cut = i
				break
			}
		}
		if cut < 0 {
			return nil, types.NotFoundError(op, types.KindBeforeNode, *opts.BeforeNodeID)
		}
		window = window[:cut]
	}
	if len(window) > limit {
		window = window[len(window)-limit:]
	}

	siblingsByKey := make(map[groupKey][]*types.ChatNode)
	if opts.IncludeSiblings {
		var groupIDs []int
		seen := make(map[int]bool)
		for _, n := range window {
			if n.SiblingsGroupID != 0 && !seen[n.SiblingsGroupID] {
				seen[n.SiblingsGroupID] = true
				groupIDs = append(groupIDs, n.SiblingsGroupID)
			}
		}
		if len(groupIDs) > 0 {
			rows, gerr := s.nodes.ListGroupMembers(dbc, topicID, groupIDs)
			if gerr != nil {
				return nil, repos.MapError(op, gerr)
			}
			for _, r := range rows {
				key := groupKey{parent: parentKeyOf(r), group: r.SiblingsGroupID}
				siblingsByKey[key] = append(siblingsByKey[key], r)
			}
		}
	}

	msgs := make([]BranchMessage, 0, len(window))
	for _, n := range window {
		bm := BranchMessage{Node: n}
		if opts.IncludeSiblings && n.SiblingsGroupID != 0 {
			key := groupKey{parent: parentKeyOf(n), group: n.SiblingsGroupID}
			for _, sib := range siblingsByKey[key] {
				if sib.ID != n.ID {
					bm.Siblings = append(bm.Siblings, sib)
				}
			}
		}
		msgs = append(msgs, bm)
	}

	return &BranchResult{Messages: msgs, ActiveNodeID: topic.ActiveNodeID}, nil
}

func (s *treeService) GetNodeByID(dbc dbctx.Context, id uuid.UUID) (node *types.ChatNode, err error) {
	const op = "tree.get_node"
	start := time.Now()
	defer func() { observeTreeOp(op, start, err) }()

	row, gerr := s.nodes.GetByID(dbc, id)
	if gerr != nil {
		if errors.Is(gerr, gorm.ErrRecordNotFound) {
			return nil, types.NotFoundError(op, types.KindNode, id)
		}
		return nil, repos.MapError(op, gerr)
	}
	return row, nil
}

func (s *treeService) GetPathToNode(dbc dbctx.Context, nodeID uuid.UUID) (path []*types.ChatNode, err error) {
	const op = "tree.get_path"
	start := time.Now()
	defer func() { observeTreeOp(op, start, err) }()

	rows, perr := s.tree.PathToRoot(dbc, nodeID)
	if perr != nil {
		return nil, repos.MapError(op, perr)
	}
	return rows, nil
}

func (s *treeService) CreateNode(dbc dbctx.Context, topicID uuid.UUID, input CreateNodeInput) (node *types.ChatNode, err error) {
	const op = "tree.create_node"
	start := time.Now()
	defer func() { observeTreeOp(op, start, err) }()

	role := strings.TrimSpace(input.Role)
	if role == "" {
		role = types.RoleUser
	}
	switch role {
	case types.RoleUser, types.RoleAssistant, types.RoleSystem:
	default:
		return nil, types.InvalidOperationError(op, types.KindNode, uuid.Nil, fmt.Sprintf("unknown role %q", role))
	}
	status := strings.TrimSpace(input.Status)
	if status == "" {
		status = types.NodeStatusCompleted
	}
	switch status {
	case types.NodeStatusPending, types.NodeStatusCompleted, types.NodeStatusFailed:
	default:
		return nil, types.InvalidOperationError(op, types.KindNode, uuid.Nil, fmt.Sprintf("unknown status %q", status))
	}
	if input.SiblingsGroupID < 0 {
		return nil, types.InvalidOperationError(op, types.KindNode, uuid.Nil, "siblings group id must not be negative")
	}

	setActive := true
	if input.SetActive != nil {
		setActive = *input.SetActive
	}

	transaction := dbc.Tx
	if transaction == nil {
		transaction = s.db
	}
	var created *types.ChatNode
	txErr := transaction.WithContext(ctxutil.Default(dbc.Ctx)).Transaction(func(txx *gorm.DB) error {
		inner := dbctx.Context{Ctx: dbc.Ctx, Tx: txx}

		topic, terr := s.topics.LockByID(inner, topicID)
		if terr != nil {
			if errors.Is(terr, gorm.ErrRecordNotFound) {
				return types.NotFoundError(op, types.KindTopic, topicID)
			}
			return terr
		}

		parentID, perr := s.resolveParent(inner, op, topic, input.Parent)
		if perr != nil {
			return perr
		}

		row := &types.ChatNode{
			TopicID:         topicID,
			ParentID:        parentID,
			Role:            role,
			Status:          status,
			SiblingsGroupID: input.SiblingsGroupID,
			AssistantID:     strings.TrimSpace(input.AssistantID),
			ModelID:         strings.TrimSpace(input.ModelID),
			TraceID:         strings.TrimSpace(input.TraceID),
			Stats:           input.Stats,
		}
		if berr := row.SetBlocks(input.Blocks); berr != nil {
			return berr
		}
		if _, cerr := s.nodes.Create(inner, row); cerr != nil {
			return cerr
		}

		fields := map[string]interface{}{"last_node_at": time.Now().UTC()}
		if setActive {
			fields["active_node_id"] = row.ID
		}
		if uerr := s.topics.UpdateFields(inner, topicID, fields); uerr != nil {
			return uerr
		}
		created = row
		return nil
	})
	if txErr != nil {
		return nil, repos.MapError(op, txErr)
	}

	s.log.Info("node created", "topic_id", topicID, "node_id", created.ID, "role", created.Role)
	s.notify.NodeCreated(topicID, created, setActive)
	return created, nil
}

// resolveParent maps a ParentRef onto a concrete parent id. Runs inside the
// mutation transaction with the topic row locked.
func (s *treeService) resolveParent(dbc dbctx.Context, op string, topic *types.Topic, ref types.ParentRef) (*uuid.UUID, error) {
	switch ref.Mode {
	case types.ParentModeAuto:
		root, err := s.nodes.GetRoot(dbc, topic.ID)
		if err != nil {
			return nil, err
		}
		if root == nil {
			return nil, nil
		}
		if topic.ActiveNodeID != nil && *topic.ActiveNodeID != uuid.Nil {
			active, err := s.nodes.GetByID(dbc, *topic.ActiveNodeID)
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, err
			}
			if err == nil && active.TopicID == topic.ID {
				id := active.ID
				return &id, nil
			}
		}
		return nil, types.InvalidOperationError(op, types.KindParent, uuid.Nil, "parent is ambiguous: topic has nodes but no active node")
	case types.ParentModeRoot:
		root, err := s.nodes.GetRoot(dbc, topic.ID)
		if err != nil {
			return nil, err
		}
		if root != nil {
			return nil, types.InvalidOperationError(op, types.KindParent, root.ID, "topic already has a root node")
		}
		return nil, nil
	case types.ParentModeNode:
		if ref.NodeID == uuid.Nil {
			return nil, types.InvalidOperationError(op, types.KindParent, uuid.Nil, "parent id is required")
		}
		parent, err := s.nodes.GetByID(dbc, ref.NodeID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, types.NotFoundError(op, types.KindParent, ref.NodeID)
			}
			return nil, err
		}
		if parent.TopicID != topic.ID {
			return nil, types.InvalidOperationError(op, types.KindParent, ref.NodeID, "parent belongs to a different topic")
		}
		id := parent.ID
		return &id, nil
	default:
		return nil, types.InvalidOperationError(op, types.KindParent, uuid.Nil, fmt.Sprintf("unknown parent mode %d", ref.Mode))
	}
}

func (s *treeService) UpdateNode(dbc dbctx.Context, nodeID uuid.UUID, input UpdateNodeInput) (node *types.ChatNode, err error) {
	const op = "tree.update_node"
	start := time.Now()
	defer func() { observeTreeOp(op, start, err) }()

	if input.Parent != nil {
		switch input.Parent.Mode {
		case types.ParentModeAuto:
			return nil, types.InvalidOperationError(op, types.KindParent, uuid.Nil, "parent mode auto is only valid on create")
		case types.ParentModeNode:
			if input.Parent.NodeID == uuid.Nil {
				return nil, types.InvalidOperationError(op, types.KindParent, uuid.Nil, "parent id is required")
			}
			if input.Parent.NodeID == nodeID {
				return nil, types.InvalidOperationError(op, types.KindParent, input.Parent.NodeID, "reparent would create a cycle")
			}
			// The cycle check runs outside the transaction on purpose. A
			// stale read can only reject a move that was legal an instant
			// ago; it can never let a descendant become the parent, because
			// the competing write was itself transactional.
			desc, derr := s.tree.DescendantIDs(dbc, nodeID)
			if derr != nil {
				return nil, repos.MapError(op, derr)
			}
			for _, id := range desc {
				if id == input.Parent.NodeID {
					return nil, types.InvalidOperationError(op, types.KindParent, input.Parent.NodeID, "reparent would create a cycle")
				}
			}
		}
	}

	transaction := dbc.Tx
	if transaction == nil {
		transaction = s.db
	}
	var (
		updated *types.ChatNode
		patched bool
	)
	txErr := transaction.WithContext(ctxutil.Default(dbc.Ctx)).Transaction(func(txx *gorm.DB) error {
		inner := dbctx.Context{Ctx: dbc.Ctx, Tx: txx}

		row, gerr := s.nodes.GetByID(inner, nodeID)
		if gerr != nil {
			if errors.Is(gerr, gorm.ErrRecordNotFound) {
				return types.NotFoundError(op, types.KindNode, nodeID)
			}
			return gerr
		}
		if _, lerr := s.topics.LockByID(inner, row.TopicID); lerr != nil {
			return lerr
		}
		// Re-read under the topic lock; the first fetch only located the topic.
		row, gerr = s.nodes.GetByID(inner, nodeID)
		if gerr != nil {
			if errors.Is(gerr, gorm.ErrRecordNotFound) {
				return types.NotFoundError(op, types.KindNode, nodeID)
			}
			return gerr
		}

		fields := map[string]interface{}{}
		if input.Blocks != nil {
			raw, merr := json.Marshal(input.Blocks)
			if merr != nil {
				return merr
			}
			fields["blocks"] = datatypes.JSON(raw)
		}
		if input.Status != nil {
			status := strings.TrimSpace(*input.Status)
			switch status {
			case types.NodeStatusPending, types.NodeStatusCompleted, types.NodeStatusFailed:
			default:
				return types.InvalidOperationError(op, types.KindNode, nodeID, fmt.Sprintf("unknown status %q", status))
			}
			fields["status"] = status
		}
		if input.SiblingsGroupID != nil {
			if *input.SiblingsGroupID < 0 {
				return types.InvalidOperationError(op, types.KindNode, nodeID, "siblings group id must not be negative")
			}
			fields["siblings_group_id"] = *input.SiblingsGroupID
		}
		if input.AssistantID != nil {
			fields["assistant_id"] = strings.TrimSpace(*input.AssistantID)
		}
		if input.ModelID != nil {
			fields["model_id"] = strings.TrimSpace(*input.ModelID)
		}
		if input.TraceID != nil {
			fields["trace_id"] = strings.TrimSpace(*input.TraceID)
		}
		if input.Stats != nil {
			fields["stats"] = input.Stats
		}
		if input.Parent != nil {
			switch input.Parent.Mode {
			case types.ParentModeRoot:
				if row.ParentID != nil {
					return types.InvalidOperationError(op, types.KindParent, uuid.Nil, "cannot turn an existing node into a root")
				}
			case types.ParentModeNode:
				parent, perr := s.nodes.GetByID(inner, input.Parent.NodeID)
				if perr != nil {
					if errors.Is(perr, gorm.ErrRecordNotFound) {
						return types.NotFoundError(op, types.KindParent, input.Parent.NodeID)
					}
					return perr
				}
				if parent.TopicID != row.TopicID {
					return types.InvalidOperationError(op, types.KindParent, parent.ID, "parent belongs to a different topic")
				}
				fields["parent_id"] = parent.ID
			}
		}

		if len(fields) == 0 {
			updated = row
			return nil
		}
		if uerr := s.nodes.UpdateFields(inner, nodeID, fields); uerr != nil {
			return uerr
		}
		row, gerr = s.nodes.GetByID(inner, nodeID)
		if gerr != nil {
			return gerr
		}
		updated = row
		patched = true
		return nil
	})
	if txErr != nil {
		return nil, repos.MapError(op, txErr)
	}

	if patched {
		s.notify.NodeUpdated(updated.TopicID, updated)
	}
	return updated, nil
}

func (s *treeService) DeleteNode(dbc dbctx.Context, nodeID uuid.UUID, opts DeleteNodeOptions) (res *DeleteNodeResult, err error) {
	const op = "tree.delete_node"
	start := time.Now()
	defer func() { observeTreeOp(op, start, err) }()

	strategy := opts.ActiveStrategy
	if strategy == "" {
		strategy = ActiveStrategyParent
	}
	switch strategy {
	case ActiveStrategyParent, ActiveStrategyClear:
	default:
		return nil, types.InvalidOperationError(op, types.KindNode, nodeID, fmt.Sprintf("unknown active strategy %q", strategy))
	}

	transaction := dbc.Tx
	if transaction == nil {
		transaction = s.db
	}
	var out *DeleteNodeResult
	txErr := transaction.WithContext(ctxutil.Default(dbc.Ctx)).Transaction(func(txx *gorm.DB) error {
		inner := dbctx.Context{Ctx: dbc.Ctx, Tx: txx}

		row, gerr := s.nodes.GetByID(inner, nodeID)
		if gerr != nil {
			if errors.Is(gerr, gorm.ErrRecordNotFound) {
				return types.NotFoundError(op, types.KindNode, nodeID)
			}
			return gerr
		}
		topic, lerr := s.topics.LockByID(inner, row.TopicID)
		if lerr != nil {
			return lerr
		}
		// Re-read under the topic lock; the first fetch only located the topic.
		row, gerr = s.nodes.GetByID(inner, nodeID)
		if gerr != nil {
			if errors.Is(gerr, gorm.ErrRecordNotFound) {
				return types.NotFoundError(op, types.KindNode, nodeID)
			}
			return gerr
		}

		if row.ParentID == nil && !opts.Cascade {
			return types.InvalidOperationError(op, types.KindNode, nodeID, "deleting the root requires cascade")
		}

		result := &DeleteNodeResult{TopicID: row.TopicID}
		if opts.Cascade {
			desc, derr := s.tree.DescendantIDs(inner, nodeID)
			if derr != nil {
				return derr
			}
			result.DeletedIDs = append([]uuid.UUID{nodeID}, desc...)
		} else {
			children, cerr := s.nodes.ListChildren(inner, nodeID)
			if cerr != nil {
				return cerr
			}
			if len(children) > 0 {
				childIDs := make([]uuid.UUID, 0, len(children))
				for _, c := range children {
					childIDs = append(childIDs, c.ID)
				}
				if rerr := s.nodes.ReparentChildren(inner, childIDs, *row.ParentID); rerr != nil {
					return rerr
				}
				result.ReparentedIDs = childIDs
			}
			result.DeletedIDs = []uuid.UUID{nodeID}
		}

		if derr := s.nodes.DeleteByIDs(inner, result.DeletedIDs); derr != nil {
			return derr
		}

		if topic.ActiveNodeID != nil {
			gone := make(map[uuid.UUID]bool, len(result.DeletedIDs))
			for _, id := range result.DeletedIDs {
				gone[id] = true
			}
			if gone[*topic.ActiveNodeID] {
				var newActive *uuid.UUID
				if strategy == ActiveStrategyParent && row.ParentID != nil {
					id := *row.ParentID
					newActive = &id
				}
				var value interface{}
				if newActive != nil {
					value = *newActive
				}
				if uerr := s.topics.UpdateFields(inner, topic.ID, map[string]interface{}{"active_node_id": value}); uerr != nil {
					return uerr
				}
				result.NewActiveNodeID = newActive
				result.ActiveChanged = true
			}
		}

		out = result
		return nil
	})
	if txErr != nil {
		return nil, repos.MapError(op, txErr)
	}

	if m := observability.Current(); m != nil {
		m.ObserveDeletedBatch(len(out.DeletedIDs))
	}
	s.log.Info("nodes deleted",
		"topic_id", out.TopicID,
		"deleted", len(out.DeletedIDs),
		"reparented", len(out.ReparentedIDs),
		"cascade", opts.Cascade,
	)
	s.notify.NodesDeleted(out.TopicID, out)
	return out, nil
}

func (s *treeService) getTopic(dbc dbctx.Context, op string, topicID uuid.UUID) (*types.Topic, error) {
	topic, err := s.topics.GetByID(dbc, topicID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.NotFoundError(op, types.KindTopic, topicID)
		}
		return nil, repos.MapError(op, err)
	}
	return topic, nil
}

// getTopicNode fetches a node that must live in the given topic. A node that
// exists under another topic is reported as missing rather than leaked.
func (s *treeService) getTopicNode(dbc dbctx.Context, op string, topicID, nodeID uuid.UUID) (*types.ChatNode, error) {
	row, err := s.nodes.GetByID(dbc, nodeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.NotFoundError(op, types.KindNode, nodeID)
		}
		return nil, repos.MapError(op, err)
	}
	if row.TopicID != topicID {
		return nil, types.NotFoundError(op, types.KindNode, nodeID)
	}
	return row, nil
}

// resolveFocus picks the node reads anchor on: the explicit id when given
// (it must exist in the topic), otherwise the topic's active pointer. The
// pointer is advisory; when it no longer resolves it is treated as absent.
func (s *treeService) resolveFocus(dbc dbctx.Context, op string, topic *types.Topic, explicit *uuid.UUID) (*types.ChatNode, bool, error) {
	if explicit != nil && *explicit != uuid.Nil {
		n, err := s.getTopicNode(dbc, op, topic.ID, *explicit)
		if err != nil {
			return nil, false, err
		}
		return n, false, nil
	}
	if topic.ActiveNodeID == nil || *topic.ActiveNodeID == uuid.Nil {
		return nil, false, nil
	}
	n, err := s.nodes.GetByID(dbc, *topic.ActiveNodeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, repos.MapError(op, err)
	}
	if n.TopicID != topic.ID {
		return nil, false, nil
	}
	return n, true, nil
}
