package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/yungbote/arbor-backend/internal/domain"
)

func SeedTopic(tb testing.TB, ctx context.Context, tx *gorm.DB, title string) *types.Topic {
	tb.Helper()
	now := time.Now().UTC()
	topic := &types.Topic{
		ID:         uuid.New(),
		Title:      title,
		Metadata:   datatypes.JSON([]byte("{}")),
		LastNodeAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := tx.WithContext(ctx).Create(topic).Error; err != nil {
		tb.Fatalf("seed topic: %v", err)
	}
	return topic
}

// SeedNode inserts one node with a text block carrying `text`. parentID nil
// makes it the topic's root.
func SeedNode(tb testing.TB, ctx context.Context, tx *gorm.DB, topicID uuid.UUID, parentID *uuid.UUID, role, text string) *types.ChatNode {
	tb.Helper()
	return SeedNodeAt(tb, ctx, tx, topicID, parentID, role, text, time.Now().UTC())
}

// SeedNodeAt pins created_at, so tests that assert creation order never race
// the clock.
func SeedNodeAt(tb testing.TB, ctx context.Context, tx *gorm.DB, topicID uuid.UUID, parentID *uuid.UUID, role, text string, at time.Time) *types.ChatNode {
	tb.Helper()
	node := &types.ChatNode{
		ID:        uuid.New(),
		TopicID:   topicID,
		ParentID:  parentID,
		Role:      role,
		Status:    types.NodeStatusCompleted,
		Blocks:    datatypes.JSON([]byte(fmt.Sprintf(`[{"type":"text","text":%q}]`, text))),
		CreatedAt: at,
		UpdatedAt: at,
	}
	if err := tx.WithContext(ctx).Create(node).Error; err != nil {
		tb.Fatalf("seed node: %v", err)
	}
	return node
}

// SeedChain seeds root -> c1 -> c2 ... depth levels deep with strictly
// increasing created_at, returning the nodes root-first.
func SeedChain(tb testing.TB, ctx context.Context, tx *gorm.DB, topicID uuid.UUID, depth int) []*types.ChatNode {
	tb.Helper()
	base := time.Now().UTC().Add(-time.Duration(depth) * time.Second)
	out := make([]*types.ChatNode, 0, depth)
	var parent *uuid.UUID
	role := types.RoleUser
	for i := 0; i < depth; i++ {
		n := SeedNodeAt(tb, ctx, tx, topicID, parent, role, fmt.Sprintf("message %d", i), base.Add(time.Duration(i)*time.Second))
		out = append(out, n)
		parent = &n.ID
		if role == types.RoleUser {
			role = types.RoleAssistant
		} else {
			role = types.RoleUser
		}
	}
	return out
}
