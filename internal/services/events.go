package services

import (
	"context"

	"github.com/google/uuid"

	types "github.com/yungbote/arbor-backend/internal/domain"
	"github.com/yungbote/arbor-backend/internal/observability"
	"github.com/yungbote/arbor-backend/internal/realtime"
	"github.com/yungbote/arbor-backend/internal/realtime/bus"
)

// SSEEmitter is the seam between services and the realtime transport. With a
// redis bus configured events fan out across instances; otherwise they go
// straight to the in-process hub.
type SSEEmitter interface {
	Emit(ctx context.Context, msg realtime.SSEMessage)
}

type HubEmitter struct{ Hub *realtime.SSEHub }

func (e *HubEmitter) Emit(ctx context.Context, msg realtime.SSEMessage) {
	e.Hub.Broadcast(msg)
}

type RedisEmitter struct{ Bus bus.Bus }

func (e *RedisEmitter) Emit(ctx context.Context, msg realtime.SSEMessage) {
	_ = e.Bus.Publish(ctx, msg)
}

// TreeNotifier publishes tree change events on the topic's channel. Services
// call it after their transaction commits, never inside it.
type TreeNotifier interface {
	NodeCreated(topicID uuid.UUID, node *types.ChatNode, activeChanged bool)
	NodeUpdated(topicID uuid.UUID, node *types.ChatNode)
	NodesDeleted(topicID uuid.UUID, result *DeleteNodeResult)
	ActiveChanged(topicID uuid.UUID, activeNodeID *uuid.UUID)
	TopicDeleted(topicID uuid.UUID)
}

type treeNotifier struct {
	emit SSEEmitter
}

func NewTreeNotifier(emit SSEEmitter) TreeNotifier {
	return &treeNotifier{emit: emit}
}

func (n *treeNotifier) NodeCreated(topicID uuid.UUID, node *types.ChatNode, activeChanged bool) {
	if n == nil || n.emit == nil || topicID == uuid.Nil || node == nil {
		return
	}
	n.emit.Emit(context.Background(), realtime.SSEMessage{
		Channel: topicID.String(),
		Event:   realtime.SSEEventTreeNodeCreated,
		Data: map[string]any{
			"topic_id":       topicID,
			"node":           node,
			"active_changed": activeChanged,
		},
	})
	if m := observability.Current(); m != nil {
		m.IncTreeEvent(string(realtime.SSEEventTreeNodeCreated))
	}
	if activeChanged {
		id := node.ID
		n.ActiveChanged(topicID, &id)
	}
}

func (n *treeNotifier) NodeUpdated(topicID uuid.UUID, node *types.ChatNode) {
	if n == nil || n.emit == nil || topicID == uuid.Nil || node == nil {
		return
	}
	n.emit.Emit(context.Background(), realtime.SSEMessage{
		Channel: topicID.String(),
		Event:   realtime.SSEEventTreeNodeUpdated,
		Data: map[string]any{
			"topic_id": topicID,
			"node":     node,
		},
	})
	if m := observability.Current(); m != nil {
		m.IncTreeEvent(string(realtime.SSEEventTreeNodeUpdated))
	}
}

func (n *treeNotifier) NodesDeleted(topicID uuid.UUID, result *DeleteNodeResult) {
	if n == nil || n.emit == nil || topicID == uuid.Nil || result == nil {
		return
	}
	n.emit.Emit(context.Background(), realtime.SSEMessage{
		Channel: topicID.String(),
		Event:   realtime.SSEEventTreeNodesDeleted,
		Data: map[string]any{
			"topic_id":       topicID,
			"deleted_ids":    result.DeletedIDs,
			"reparented_ids": result.ReparentedIDs,
		},
	})
	if m := observability.Current(); m != nil {
		m.IncTreeEvent(string(realtime.SSEEventTreeNodesDeleted))
	}
	if result.ActiveChanged {
		n.ActiveChanged(topicID, result.NewActiveNodeID)
	}
}

func (n *treeNotifier) ActiveChanged(topicID uuid.UUID, activeNodeID *uuid.UUID) {
	if n == nil || n.emit == nil || topicID == uuid.Nil {
		return
	}
	n.emit.Emit(context.Background(), realtime.SSEMessage{
		Channel: topicID.String(),
		Event:   realtime.SSEEventTreeActiveChanged,
		Data: map[string]any{
			"topic_id":       topicID,
			"active_node_id": activeNodeID,
		},
	})
	if m := observability.Current(); m != nil {
		m.IncTreeEvent(string(realtime.SSEEventTreeActiveChanged))
	}
}

func (n *treeNotifier) TopicDeleted(topicID uuid.UUID) {
	if n == nil || n.emit == nil || topicID == uuid.Nil {
		return
	}
	n.emit.Emit(context.Background(), realtime.SSEMessage{
		Channel: topicID.String(),
		Event:   realtime.SSEEventTreeTopicDeleted,
		Data:    map[string]any{"topic_id": topicID},
	})
	if m := observability.Current(); m != nil {
		m.IncTreeEvent(string(realtime.SSEEventTreeTopicDeleted))
	}
}
