package chat

import (
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	types "github.com/yungbote/arbor-backend/internal/domain"
)

// RootIndexName is the partial unique index backstopping the one-live-root
// invariant. Violations of it surface as invalid_operation, not internal.
const RootIndexName = "idx_chat_node_topic_root"

// MapError translates storage faults into the tree error taxonomy. Anything
// it does not recognize passes through wrapped as internal, untouched and
// never retried here.
func MapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var treeErr *types.Error
	if errors.As(err, &treeErr) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.Wrap(types.CodeNotFound, op, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if strings.TrimSpace(pgErr.Code) == "23505" &&
			strings.Contains(pgErr.ConstraintName, RootIndexName) {
			return types.InvalidOperationError(op, types.KindParent, uuid.Nil,
				"topic already has a root node")
		}
		return types.Wrap(types.CodeInternal, op, err)
	}

	// The sqlite driver has no typed error surface worth matching. Column
	// indexes report the violated columns, expression indexes the index name;
	// chat_node.topic_id is only ever unique under the root index.
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "unique constraint failed") &&
		(strings.Contains(msg, "chat_node.topic_id") || strings.Contains(msg, RootIndexName)) {
		return types.InvalidOperationError(op, types.KindParent, uuid.Nil,
			"topic already has a root node")
	}

	return types.Wrap(types.CodeInternal, op, err)
}
