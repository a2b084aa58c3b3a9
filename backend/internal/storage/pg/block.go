package pg

import (
	"context"
	"fmt"

	"github.com/itchan-dev/itchat/shared/domain"
)

// =========================================================================
// Public Methods (satisfy service.BlockStorage)
// =========================================================================

func (s *Storage) BlockedUsers(ctx context.Context, actor domain.UserId) ([]domain.UserId, error) {
	return s.blockedUsers(ctx, s.db, actor)
}

// BlockUser is idempotent: blocking twice keeps the first timestamp.
func (s *Storage) BlockUser(ctx context.Context, edge domain.BlockEdge) error {
	return s.blockUser(ctx, s.db, edge)
}

func (s *Storage) UnblockUser(ctx context.Context, actor, target domain.UserId) error {
	return s.unblockUser(ctx, s.db, actor, target)
}

// =========================================================================
// Internal Methods
// =========================================================================

func (s *Storage) blockedUsers(ctx context.Context, q Querier, actor domain.UserId) ([]domain.UserId, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT blocked_user_id
		FROM user_blocks
		WHERE blocked_by = $1
		ORDER BY created_at DESC`,
		actor,
	)
	if err != nil {
		return nil, classify(err, "user", actor, "query blocked users")
	}
	defer rows.Close()

	userIds := []domain.UserId{}
	for rows.Next() {
		var id domain.UserId
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan blocked user: %w", err)
		}
		userIds = append(userIds, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return userIds, nil
}

func (s *Storage) blockUser(ctx context.Context, q Querier, edge domain.BlockEdge) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO user_blocks (blocked_by, blocked_user_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (blocked_by, blocked_user_id) DO NOTHING`,
		edge.BlockedBy, edge.BlockedUserId, edge.CreatedAt,
	)
	return classify(err, "user", edge.BlockedUserId, "block user")
}

func (s *Storage) unblockUser(ctx context.Context, q Querier, actor, target domain.UserId) error {
	_, err := q.ExecContext(ctx, `
		DELETE FROM user_blocks
		WHERE blocked_by = $1 AND blocked_user_id = $2`,
		actor, target,
	)
	return classify(err, "user", target, "unblock user")
}
