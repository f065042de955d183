package chat

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/arbor-backend/internal/domain"
	"github.com/yungbote/arbor-backend/internal/platform/dbctx"
	"github.com/yungbote/arbor-backend/internal/platform/logger"
)

type TopicRepo interface {
	Create(dbc dbctx.Context, row *types.Topic) (*types.Topic, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Topic, error)
	// LockByID takes a row lock on the topic; it requires dbc.Tx. Mutations
	// lock the topic first so each topic has one writer at a time.
	LockByID(dbc dbctx.Context, id uuid.UUID) (*types.Topic, error)
	List(dbc dbctx.Context, limit, offset int) ([]*types.Topic, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	Delete(dbc dbctx.Context, id uuid.UUID) error
}

type topicRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTopicRepo(db *gorm.DB, log *logger.Logger) TopicRepo {
	return &topicRepo{db: db, log: log.With("repo", "TopicRepo")}
}

func (r *topicRepo) Create(dbc dbctx.Context, row *types.Topic) (*types.Topic, error) {
	if row == nil {
		return nil, fmt.Errorf("missing topic")
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
	if row.LastNodeAt.IsZero() {
		row.LastNodeAt = now
	}
	if err := txx.WithContext(dbc.Ctx).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

func (r *topicRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Topic, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("missing id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out types.Topic
	if err := txx.WithContext(dbc.Ctx).
		Where("id = ?", id).
		Take(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *topicRepo) LockByID(dbc dbctx.Context, id uuid.UUID) (*types.Topic, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("missing id")
	}
	if dbc.Tx == nil {
		return nil, fmt.Errorf("LockByID requires dbc.Tx")
	}
	var out types.Topic
	if err := dbc.Tx.WithContext(dbc.Ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		Take(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *topicRepo) List(dbc dbctx.Context, limit, offset int) ([]*types.Topic, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	var out []*types.Topic
	if err := txx.WithContext(dbc.Ctx).
		Model(&types.Topic{}).
		Order("updated_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *topicRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.Topic{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *topicRepo) Delete(dbc dbctx.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return fmt.Errorf("missing id")
	}
	txx := dbc.Tx
	if txx == nil {
		txx = r.db
	}
	return txx.WithContext(dbc.Ctx).
		Where("id = ?", id).
		Delete(&types.Topic{}).Error
}
