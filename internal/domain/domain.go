package domain

import (
	"github.com/yungbote/arbor-backend/internal/domain/chat"
)

// Aliases so callers can import one package for the persisted model set.

type Topic = chat.Topic
type ChatNode = chat.ChatNode
type ContentBlock = chat.ContentBlock
type ParentRef = chat.ParentRef
type ParentMode = chat.ParentMode
type ParentField = chat.ParentField

const (
	RoleUser      = chat.RoleUser
	RoleAssistant = chat.RoleAssistant
	RoleSystem    = chat.RoleSystem

	NodeStatusPending   = chat.NodeStatusPending
	NodeStatusCompleted = chat.NodeStatusCompleted
	NodeStatusFailed    = chat.NodeStatusFailed

	ParentModeAuto = chat.ParentModeAuto
	ParentModeRoot = chat.ParentModeRoot
	ParentModeNode = chat.ParentModeNode

	BlockTypeText       = chat.BlockTypeText
	BlockTypeThinking   = chat.BlockTypeThinking
	BlockTypeToolUse    = chat.BlockTypeToolUse
	BlockTypeToolResult = chat.BlockTypeToolResult
)

// Error taxonomy re-exports, so data and service layers import one package.

type Error = chat.Error
type ErrorCode = chat.ErrorCode
type EntityKind = chat.EntityKind

const (
	CodeNotFound         = chat.CodeNotFound
	CodeInvalidOperation = chat.CodeInvalidOperation
	CodeInternal         = chat.CodeInternal

	KindTopic      = chat.KindTopic
	KindNode       = chat.KindNode
	KindParent     = chat.KindParent
	KindBeforeNode = chat.KindBeforeNode
)

var (
	NewError              = chat.NewError
	NotFoundError         = chat.NotFoundError
	InvalidOperationError = chat.InvalidOperationError
	Wrap                  = chat.Wrap
	IsCode                = chat.IsCode
	IsNotFound            = chat.IsNotFound
	IsInvalidOperation    = chat.IsInvalidOperation
	CodeOf                = chat.CodeOf
	KindOf                = chat.KindOf

	ParentAuto = chat.ParentAuto
	ParentRoot = chat.ParentRoot
	ParentNode = chat.ParentNode
)
