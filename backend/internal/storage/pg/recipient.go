package pg

import (
	"context"
	"fmt"
	"strings"

	"github.com/itchan-dev/itchat/shared/domain"

	"github.com/lib/pq"
)

// =========================================================================
// Public Methods (satisfy service.RecipientStorage)
// =========================================================================

// AccessibleFacilities returns facilities the actor owns or coordinates.
func (s *Storage) AccessibleFacilities(ctx context.Context, actor domain.UserId) ([]domain.FacilityId, error) {
	return s.accessibleFacilities(ctx, s.db, actor)
}

func (s *Storage) SearchUsersByName(ctx context.Context, fragment string) ([]domain.User, error) {
	return s.searchUsersByName(ctx, s.db, fragment)
}

func (s *Storage) ActiveEnrollments(ctx context.Context, childIds []domain.UserId, facilities []domain.FacilityId) ([]domain.Enrollment, error) {
	return s.activeEnrollments(ctx, s.db, childIds, facilities)
}

func (s *Storage) GuardiansOfChildren(ctx context.Context, childIds []domain.UserId) ([]domain.Guardianship, error) {
	return s.guardianships(ctx, s.db, "child_id", childIds)
}

func (s *Storage) ChildrenOfGuardians(ctx context.Context, guardianIds []domain.UserId) ([]domain.Guardianship, error) {
	return s.guardianships(ctx, s.db, "guardian_id", guardianIds)
}

func (s *Storage) UsersByIds(ctx context.Context, ids []domain.UserId) ([]domain.User, error) {
	return s.usersByIds(ctx, s.db, ids)
}

// =========================================================================
// Internal Methods
// =========================================================================

func (s *Storage) accessibleFacilities(ctx context.Context, q Querier, actor domain.UserId) ([]domain.FacilityId, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id FROM facilities WHERE owner_id = $1
		UNION
		SELECT facility_id FROM facility_coordinators WHERE user_id = $1`,
		actor,
	)
	if err != nil {
		return nil, classify(err, "user", actor, "query facilities")
	}
	defer rows.Close()

	ids := []domain.FacilityId{}
	for rows.Next() {
		var id domain.FacilityId
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan facility: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return ids, nil
}

// escapeLike quotes LIKE wildcards so the fragment matches literally.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

const userColumns = `id, display_name, email, role, COALESCE(scope_id::text, '')`

func (s *Storage) scanUsers(ctx context.Context, q Querier, query string, args ...any) ([]domain.User, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	users := []domain.User{}
	for rows.Next() {
		var u domain.User
		var role string
		if err := rows.Scan(&u.Id, &u.DisplayName, &u.Email, &role, &u.ScopeId); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		u.Role = domain.Role(role)
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return users, nil
}

func (s *Storage) searchUsersByName(ctx context.Context, q Querier, fragment string) ([]domain.User, error) {
	return s.scanUsers(ctx, q, `
		SELECT `+userColumns+`
		FROM users
		WHERE display_name ILIKE '%' || $1 || '%'
		ORDER BY lower(display_name), id
		LIMIT 200`,
		escapeLike(fragment),
	)
}

func (s *Storage) usersByIds(ctx context.Context, q Querier, ids []domain.UserId) ([]domain.User, error) {
	if len(ids) == 0 {
		return []domain.User{}, nil
	}
	return s.scanUsers(ctx, q, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = ANY($1::uuid[])`,
		pq.Array(ids),
	)
}

func (s *Storage) activeEnrollments(ctx context.Context, q Querier, childIds []domain.UserId, facilities []domain.FacilityId) ([]domain.Enrollment, error) {
	if len(childIds) == 0 || len(facilities) == 0 {
		return []domain.Enrollment{}, nil
	}
	rows, err := q.QueryContext(ctx, `
		SELECT child_id, facility_id, active
		FROM enrollments
		WHERE active AND child_id = ANY($1::uuid[]) AND facility_id = ANY($2::uuid[])`,
		pq.Array(childIds), pq.Array(facilities),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query enrollments: %w", err)
	}
	defer rows.Close()

	out := []domain.Enrollment{}
	for rows.Next() {
		var e domain.Enrollment
		if err := rows.Scan(&e.ChildId, &e.FacilityId, &e.Active); err != nil {
			return nil, fmt.Errorf("failed to scan enrollment: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return out, nil
}

// guardianships filters by column, which is one of two fixed names.
func (s *Storage) guardianships(ctx context.Context, q Querier, column string, ids []domain.UserId) ([]domain.Guardianship, error) {
	if len(ids) == 0 {
		return []domain.Guardianship{}, nil
	}
	rows, err := q.QueryContext(ctx, fmt.Sprintf(`
		SELECT guardian_id, child_id, responsible
		FROM guardianships
		WHERE %s = ANY($1::uuid[])`, pq.QuoteIdentifier(column)),
		pq.Array(ids),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query guardianships: %w", err)
	}
	defer rows.Close()

	out := []domain.Guardianship{}
	for rows.Next() {
		var g domain.Guardianship
		if err := rows.Scan(&g.GuardianId, &g.ChildId, &g.Responsible); err != nil {
			return nil, fmt.Errorf("failed to scan guardianship: %w", err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return out, nil
}
