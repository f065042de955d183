package chat

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/arbor-backend/internal/domain"
	"github.com/yungbote/arbor-backend/internal/platform/dbctx"
	"github.com/yungbote/arbor-backend/internal/platform/logger"
)

type ChatNodeRepo interface {
	Create(dbc dbctx.Context, row *types.ChatNode) (*types.ChatNode, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.ChatNode, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.ChatNode, error)
	// GetRoot returns (nil, nil) for an empty topic; an absent root is a
	// normal state, not a lookup failure.
	GetRoot(dbc dbctx.Context, topicID uuid.UUID) (*types.ChatNode, error)
	ListChildren(dbc dbctx.Context, parentID uuid.UUID) ([]*types.ChatNode, error)
	ListChildrenOf(dbc dbctx.Context, parentIDs []uuid.UUID) ([]*types.ChatNode, error)
	ListByTopic(dbc dbctx.Context, topicID uuid.UUID, limit, offset int) ([]*types.ChatNode, error)
	CountByTopic(dbc dbctx.Context, topicID uuid.UUID) (int64, error)
	// ListGroupMembers loads every node of the topic carrying one of the
	// group ids. Callers split the superset by (parent_id, group id); two
	// groups under different parents may share a numeric id.
	ListGroupMembers(dbc dbctx.Context, topicID uuid.UUID, groupIDs []int) ([]*types.ChatNode, error)
	// HasChildren reports which of the given ids have at least one live
	// child, via a single DISTINCT parent_id probe.
	HasChildren(dbc dbctx.Context, ids []uuid.UUID) (map[uuid.UUID]bool, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	ReparentChildren(dbc dbctx.Context, childIDs []uuid.UUID, parentID uuid.UUID) error
	DeleteByIDs(dbc dbctx.Context, ids []uuid.UUID) error
	DeleteByTopic(dbc dbctx.Context, topicID uuid.UUID) (int64, error)
}

type chatNodeRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChatNodeRepo(db *gorm.DB, log *logger.Logger) ChatNodeRepo {
	return &chatNodeRepo{db: db, log: log.With("repo", "ChatNodeRepo")}
}

func (r *chatNodeRepo) Create(dbc dbctx.Context, row *types.ChatNode) (*types.ChatNode, error) {
	if row == nil {
		return nil, fmt.Errorf("missing node")
	}
	if row.TopicID == uuid.Nil {
		return nil, fmt.Errorf("missing topic_id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	now := time.Now().UTC()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	row.UpdatedAt = now
	if len(row.Blocks) == 0 {
		row.Blocks = []byte("[]")
	}
	if err := txx.WithContext(dbc.Ctx).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

func (r *chatNodeRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.ChatNode, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("missing id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out types.ChatNode
	if err := txx.WithContext(dbc.Ctx).
		Where("id = ?", id).
		Take(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *chatNodeRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.ChatNode, error) {
	if len(ids) == 0 {
		return []*types.ChatNode{}, nil
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out []*types.ChatNode
	if err := txx.WithContext(dbc.Ctx).
		Model(&types.ChatNode{}).
		Where("id IN ?", ids).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chatNodeRepo) GetRoot(dbc dbctx.Context, topicID uuid.UUID) (*types.ChatNode, error) {
	if topicID == uuid.Nil {
		return nil, fmt.Errorf("missing topic_id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out types.ChatNode
	err := txx.WithContext(dbc.Ctx).
		Where("topic_id = ? AND parent_id IS NULL", topicID).
		Take(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *chatNodeRepo) ListChildren(dbc dbctx.Context, parentID uuid.UUID) ([]*types.ChatNode, error) {
	if parentID == uuid.Nil {
		return nil, fmt.Errorf("missing parent_id")
	}
	return r.ListChildrenOf(dbc, []uuid.UUID{parentID})
}

func (r *chatNodeRepo) ListChildrenOf(dbc dbctx.Context, parentIDs []uuid.UUID) ([]*types.ChatNode, error) {
	if len(parentIDs) == 0 {
		return []*types.ChatNode{}, nil
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out []*types.ChatNode
	if err := txx.WithContext(dbc.Ctx).
		Model(&types.ChatNode{}).
		Where("parent_id IN ?", parentIDs).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chatNodeRepo) ListByTopic(dbc dbctx.Context, topicID uuid.UUID, limit, offset int) ([]*types.ChatNode, error) {
	if topicID == uuid.Nil {
		return nil, fmt.Errorf("missing topic_id")
	}
	if limit <= 0 || limit > 2000 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out []*types.ChatNode
	if err := txx.WithContext(dbc.Ctx).
		Model(&types.ChatNode{}).
		Where("topic_id = ?", topicID).
		Order("created_at ASC").
		Limit(limit).
		Offset(offset).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chatNodeRepo) CountByTopic(dbc dbctx.Context, topicID uuid.UUID) (int64, error) {
	if topicID == uuid.Nil {
		return 0, fmt.Errorf("missing topic_id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var n int64
	if err := txx.WithContext(dbc.Ctx).
		Model(&types.ChatNode{}).
		Where("topic_id = ?", topicID).
		Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

func (r *chatNodeRepo) ListGroupMembers(dbc dbctx.Context, topicID uuid.UUID, groupIDs []int) ([]*types.ChatNode, error) {
	if topicID == uuid.Nil {
		return nil, fmt.Errorf("missing topic_id")
	}
	ids := make([]int, 0, len(groupIDs))
	for _, g := range groupIDs {
		if g != 0 {
			ids = append(ids, g)
		}
	}
	if len(ids) == 0 {
		return []*types.ChatNode{}, nil
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out []*types.ChatNode
	if err := txx.WithContext(dbc.Ctx).
		Model(&types.ChatNode{}).
		Where("topic_id = ? AND siblings_group_id IN ?", topicID, ids).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chatNodeRepo) HasChildren(dbc dbctx.Context, ids []uuid.UUID) (map[uuid.UUID]bool, error) {
	out := make(map[uuid.UUID]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var parents []uuid.UUID
	if err := txx.WithContext(dbc.Ctx).
		Model(&types.ChatNode{}).
		Where("parent_id IN ?", ids).
		Distinct("parent_id").
		Pluck("parent_id", &parents).Error; err != nil {
		return nil, err
	}
	for _, p := range parents {
		out[p] = true
	}
	return out, nil
}

func (r *chatNodeRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return fmt.Errorf("missing id")
	}
	if len(updates) == 0 {
		return nil
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	updates["updated_at"] = time.Now().UTC()
	return txx.WithContext(dbc.Ctx).
		Model(&types.ChatNode{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *chatNodeRepo) ReparentChildren(dbc dbctx.Context, childIDs []uuid.UUID, parentID uuid.UUID) error {
	if len(childIDs) == 0 {
		return nil
	}
	if parentID == uuid.Nil {
		return fmt.Errorf("missing parent_id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	return txx.WithContext(dbc.Ctx).
		Model(&types.ChatNode{}).
		Where("id IN ?", childIDs).
		Updates(map[string]interface{}{
			"parent_id":  parentID,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (r *chatNodeRepo) DeleteByIDs(dbc dbctx.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	return txx.WithContext(dbc.Ctx).
		Where("id IN ?", ids).
		Delete(&types.ChatNode{}).Error
}

func (r *chatNodeRepo) DeleteByTopic(dbc dbctx.Context, topicID uuid.UUID) (int64, error) {
	if topicID == uuid.Nil {
		return 0, fmt.Errorf("missing topic_id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	res := txx.WithContext(dbc.Ctx).
		Where("topic_id = ?", topicID).
		Delete(&types.ChatNode{})
	return res.RowsAffected, res.Error
}
