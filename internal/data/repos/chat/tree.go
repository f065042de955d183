package chat

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/arbor-backend/internal/domain"
	"github.com/yungbote/arbor-backend/internal/platform/dbctx"
	"github.com/yungbote/arbor-backend/internal/platform/logger"
)

// maxTraversalDepth bounds every recursive CTE so a corrupt parent chain
// cannot spin the recursion. Legitimate trees sit far below it.
const maxTraversalDepth = 10000

// ChatTreeRepo answers ancestry and subtree questions with recursive CTEs,
// so the cost of a read is O(path) or O(subtree), never O(topic). The SQL
// sticks to `?` placeholders and ANSI recursion and runs unchanged on
// postgres and sqlite.
type ChatTreeRepo interface {
	// PathToRoot returns the chain from the root down to nodeID inclusive.
	PathToRoot(dbc dbctx.Context, nodeID uuid.UUID) ([]*types.ChatNode, error)
	// DescendantIDs returns every id strictly below nodeID.
	DescendantIDs(dbc dbctx.Context, nodeID uuid.UUID) ([]uuid.UUID, error)
	// SubtreeToDepth returns nodeID's subtree to `depth` levels below it
	// (depth 0 = just the node); depth < 0 means the whole subtree.
	SubtreeToDepth(dbc dbctx.Context, rootID uuid.UUID, depth int) ([]*types.ChatNode, error)
}

type chatTreeRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChatTreeRepo(db *gorm.DB, log *logger.Logger) ChatTreeRepo {
	return &chatTreeRepo{db: db, log: log.With("repo", "ChatTreeRepo")}
}

func (r *chatTreeRepo) PathToRoot(dbc dbctx.Context, nodeID uuid.UUID) ([]*types.ChatNode, error) {
	if nodeID == uuid.Nil {
		return nil, fmt.Errorf("missing node_id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out []*types.ChatNode
	err := txx.WithContext(dbc.Ctx).Raw(`
		WITH RECURSIVE ancestors AS (
			SELECT *, 0 AS depth
			FROM chat_node
			WHERE id = ? AND deleted_at IS NULL
			UNION ALL
			SELECT n.*, a.depth + 1
			FROM chat_node n
			JOIN ancestors a ON n.id = a.parent_id
			WHERE n.deleted_at IS NULL AND a.depth < ?
		)
		SELECT * FROM ancestors ORDER BY depth DESC
	`, nodeID, maxTraversalDepth).Scan(&out).Error
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, types.NotFoundError("tree.path_to_root", types.KindNode, nodeID)
	}
	return out, nil
}

func (r *chatTreeRepo) DescendantIDs(dbc dbctx.Context, nodeID uuid.UUID) ([]uuid.UUID, error) {
	if nodeID == uuid.Nil {
		return nil, fmt.Errorf("missing node_id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out []uuid.UUID
	err := txx.WithContext(dbc.Ctx).Raw(`
		WITH RECURSIVE descendants AS (
			SELECT id, 0 AS depth
			FROM chat_node
			WHERE id = ? AND deleted_at IS NULL
			UNION ALL
			SELECT n.id, d.depth + 1
			FROM chat_node n
			JOIN descendants d ON n.parent_id = d.id
			WHERE n.deleted_at IS NULL AND d.depth < ?
		)
		SELECT id FROM descendants WHERE id <> ?
	`, nodeID, maxTraversalDepth, nodeID).Scan(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chatTreeRepo) SubtreeToDepth(dbc dbctx.Context, rootID uuid.UUID, depth int) ([]*types.ChatNode, error) {
	if rootID == uuid.Nil {
		return nil, fmt.Errorf("missing root_id")
	}
	bound := depth
	if depth < 0 {
		bound = maxTraversalDepth
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out []*types.ChatNode
	err := txx.WithContext(dbc.Ctx).Raw(`
		WITH RECURSIVE subtree AS (
			SELECT *, 0 AS depth
			FROM chat_node
			WHERE id = ? AND deleted_at IS NULL
			UNION ALL
			SELECT n.*, s.depth + 1
			FROM chat_node n
			JOIN subtree s ON n.parent_id = s.id
			WHERE n.deleted_at IS NULL AND s.depth < ?
		)
		SELECT * FROM subtree ORDER BY depth ASC, created_at ASC
	`, rootID, bound).Scan(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
