package services

import (
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/arbor-backend/internal/data/repos"
	types "github.com/yungbote/arbor-backend/internal/domain"
	"github.com/yungbote/arbor-backend/internal/platform/ctxutil"
	"github.com/yungbote/arbor-backend/internal/platform/dbctx"
	"github.com/yungbote/arbor-backend/internal/platform/logger"
)

type CreateTopicInput struct {
	Title    string
	Metadata datatypes.JSON
}

type DeleteTopicResult struct {
	TopicID      uuid.UUID `json:"topic_id"`
	DeletedNodes int64     `json:"deleted_nodes"`
}

type TopicService interface {
	CreateTopic(dbc dbctx.Context, input CreateTopicInput) (*types.Topic, error)
	GetTopic(dbc dbctx.Context, id uuid.UUID) (*types.Topic, error)
	ListTopics(dbc dbctx.Context, limit, offset int) ([]*types.Topic, error)
	RenameTopic(dbc dbctx.Context, id uuid.UUID, title string) (*types.Topic, error)

	// DeleteTopic removes the topic and all of its nodes in one transaction.
	DeleteTopic(dbc dbctx.Context, id uuid.UUID) (*DeleteTopicResult, error)
}

type topicService struct {
	db     *gorm.DB
	log    *logger.Logger
	topics repos.TopicRepo
	nodes  repos.ChatNodeRepo
	notify TreeNotifier
}

func NewTopicService(
	db *gorm.DB,
	baseLog *logger.Logger,
	topicRepo repos.TopicRepo,
	nodeRepo repos.ChatNodeRepo,
	notify TreeNotifier,
) TopicService {
	return &topicService{
		db:     db,
		log:    baseLog.With("service", "TopicService"),
		topics: topicRepo,
		nodes:  nodeRepo,
		notify: notify,
	}
}

func (s *topicService) CreateTopic(dbc dbctx.Context, input CreateTopicInput) (*types.Topic, error) {
	const op = "topic.create"

	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = "New Topic"
	}
	metadata := input.Metadata
	if metadata == nil {
		metadata = datatypes.JSON([]byte(`{}`))
	}

	row := &types.Topic{
		Title:    title,
		Metadata: metadata,
	}
	if _, err := s.topics.Create(dbc, row); err != nil {
		return nil, repos.MapError(op, err)
	}
	s.log.Info("topic created", "topic_id", row.ID, "title", row.Title)
	return row, nil
}

func (s *topicService) GetTopic(dbc dbctx.Context, id uuid.UUID) (*types.Topic, error) {
	const op = "topic.get"

	row, err := s.topics.GetByID(dbc, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.NotFoundError(op, types.KindTopic, id)
		}
		return nil, repos.MapError(op, err)
	}
	return row, nil
}

func (s *topicService) ListTopics(dbc dbctx.Context, limit, offset int) ([]*types.Topic, error) {
	const op = "topic.list"

	rows, err := s.topics.List(dbc, limit, offset)
	if err != nil {
		return nil, repos.MapError(op, err)
	}
	return rows, nil
}

func (s *topicService) RenameTopic(dbc dbctx.Context, id uuid.UUID, title string) (*types.Topic, error) {
	const op = "topic.rename"

	title = strings.TrimSpace(title)
	if title == "" {
		return nil, types.InvalidOperationError(op, types.KindTopic, id, "title is required")
	}

	if err := s.topics.UpdateFields(dbc, id, map[string]interface{}{"title": title}); err != nil {
		return nil, repos.MapError(op, err)
	}
	row, err := s.topics.GetByID(dbc, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.NotFoundError(op, types.KindTopic, id)
		}
		return nil, repos.MapError(op, err)
	}
	return row, nil
}

func (s *topicService) DeleteTopic(dbc dbctx.Context, id uuid.UUID) (*DeleteTopicResult, error) {
	const op = "topic.delete"

	transaction := dbc.Tx
	if transaction == nil {
		transaction = s.db
	}
	var out *DeleteTopicResult
	txErr := transaction.WithContext(ctxutil.Default(dbc.Ctx)).Transaction(func(txx *gorm.DB) error {
		inner := dbctx.Context{Ctx: dbc.Ctx, Tx: txx}

		if _, err := s.topics.LockByID(inner, id); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return types.NotFoundError(op, types.KindTopic, id)
			}
			return err
		}
		removed, err := s.nodes.DeleteByTopic(inner, id)
		if err != nil {
			return err
		}
		if err := s.topics.Delete(inner, id); err != nil {
			return err
		}
		out = &DeleteTopicResult{TopicID: id, DeletedNodes: removed}
		return nil
	})
	if txErr != nil {
		return nil, repos.MapError(op, txErr)
	}

	s.log.Info("topic deleted", "topic_id", id, "deleted_nodes", out.DeletedNodes)
	s.notify.TopicDeleted(id)
	return out, nil
}
