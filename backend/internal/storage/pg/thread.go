package pg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/itchan-dev/itchat/shared/domain"

	"github.com/lib/pq"
)

// =========================================================================
// Public Methods (satisfy service.ThreadStorage)
// =========================================================================

func (s *Storage) ActorScope(ctx context.Context, actor domain.UserId) (domain.ScopeId, error) {
	return s.actorScope(ctx, s.db, actor)
}

func (s *Storage) ThreadsInScope(ctx context.Context, scope domain.ScopeId) ([]domain.Thread, error) {
	return s.threadsInScope(ctx, s.db, scope)
}

func (s *Storage) LatestMessages(ctx context.Context, threadIds []domain.ThreadId) ([]domain.Message, error) {
	return s.latestMessages(ctx, s.db, threadIds)
}

func (s *Storage) FindDirectThread(ctx context.Context, scope domain.ScopeId, a, b domain.UserId) (*domain.Thread, error) {
	return s.findDirectThread(ctx, s.db, scope, a, b)
}

// CreateThread inserts the thread and its participants in one transaction.
func (s *Storage) CreateThread(ctx context.Context, data domain.ThreadCreationData) (*domain.Thread, error) {
	var thread *domain.Thread
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		thread, err = s.createThread(ctx, tx, data)
		return err
	})
	if err != nil {
		return nil, err
	}
	return thread, nil
}

// =========================================================================
// Internal Methods
// =========================================================================

// directKey orders the pair so both sides produce the same key.
func directKey(a, b domain.UserId) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}

func (s *Storage) actorScope(ctx context.Context, q Querier, actor domain.UserId) (domain.ScopeId, error) {
	var scope sql.NullString
	err := q.QueryRowContext(ctx, `SELECT scope_id FROM users WHERE id = $1`, actor).Scan(&scope)
	if err != nil {
		return "", classify(err, "scope", actor, "resolve scope")
	}
	if !scope.Valid {
		return "", classify(sql.ErrNoRows, "scope", actor, "resolve scope")
	}
	return scope.String, nil
}

const threadColumns = `id, scope_id, title, is_group, is_predefined, is_active, created_at`

func scanThread(row interface{ Scan(...any) error }) (domain.Thread, error) {
	var t domain.Thread
	err := row.Scan(&t.Id, &t.ScopeId, &t.Title, &t.IsGroup, &t.IsPredefined, &t.IsActive, &t.CreatedAt)
	return t, err
}

func (s *Storage) threadsInScope(ctx context.Context, q Querier, scope domain.ScopeId) ([]domain.Thread, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+threadColumns+`
		FROM threads
		WHERE scope_id = $1
		ORDER BY created_at DESC, id`,
		scope,
	)
	if err != nil {
		return nil, classify(err, "scope", scope, "query threads")
	}
	defer rows.Close()

	threads := []domain.Thread{}
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan thread: %w", err)
		}
		threads = append(threads, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	if err := enrichThreadsWithParticipants(ctx, q, threads); err != nil {
		return nil, err
	}
	return threads, nil
}

// enrichThreadsWithParticipants fills Participants for every thread in one
// query.
func enrichThreadsWithParticipants(ctx context.Context, q Querier, threads []domain.Thread) error {
	if len(threads) == 0 {
		return nil
	}
	ids := make([]string, len(threads))
	idx := make(map[domain.ThreadId]int, len(threads))
	for i, t := range threads {
		ids[i] = t.Id
		idx[t.Id] = i
	}

	rows, err := q.QueryContext(ctx, `
		SELECT thread_id, user_id, status
		FROM thread_participants
		WHERE thread_id = ANY($1::uuid[])
		ORDER BY thread_id, user_id`,
		pq.Array(ids),
	)
	if err != nil {
		return fmt.Errorf("failed to fetch participants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Participant
		if err := rows.Scan(&p.ThreadId, &p.UserId, &p.Status); err != nil {
			return fmt.Errorf("failed to scan participant: %w", err)
		}
		if i, ok := idx[p.ThreadId]; ok {
			threads[i].Participants = append(threads[i].Participants, p)
		}
	}
	return rows.Err()
}

// latestMessages returns the newest message of each thread, newest first.
func (s *Storage) latestMessages(ctx context.Context, q Querier, threadIds []domain.ThreadId) ([]domain.Message, error) {
	if len(threadIds) == 0 {
		return []domain.Message{}, nil
	}
	rows, err := q.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM (
			SELECT DISTINCT ON (thread_id) `+messageColumns+`
			FROM messages
			WHERE thread_id = ANY($1::uuid[])
			ORDER BY thread_id, created_at DESC, id DESC
		) latest
		ORDER BY created_at DESC, id DESC`,
		pq.Array(threadIds),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch latest messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *Storage) threadById(ctx context.Context, q Querier, id domain.ThreadId) (*domain.Thread, error) {
	t, err := scanThread(q.QueryRowContext(ctx, `SELECT `+threadColumns+` FROM threads WHERE id = $1`, id))
	if err != nil {
		return nil, classify(err, "thread", id, "fetch thread")
	}
	threads := []domain.Thread{t}
	if err := enrichThreadsWithParticipants(ctx, q, threads); err != nil {
		return nil, err
	}
	return &threads[0], nil
}

func (s *Storage) findDirectThread(ctx context.Context, q Querier, scope domain.ScopeId, a, b domain.UserId) (*domain.Thread, error) {
	var id domain.ThreadId
	err := q.QueryRowContext(ctx, `
		SELECT id FROM threads
		WHERE scope_id = $1 AND direct_key = $2`,
		scope, directKey(a, b),
	).Scan(&id)
	if err != nil {
		return nil, classify(err, "direct thread", directKey(a, b), "find direct thread")
	}
	return s.threadById(ctx, q, id)
}

func (s *Storage) createThread(ctx context.Context, q Querier, data domain.ThreadCreationData) (*domain.Thread, error) {
	var key sql.NullString
	if !data.IsGroup {
		if len(data.Members) != 2 {
			return nil, fmt.Errorf("direct thread needs exactly two members, got %d", len(data.Members))
		}
		key = sql.NullString{String: directKey(data.Members[0], data.Members[1]), Valid: true}
	}

	t, err := scanThread(q.QueryRowContext(ctx, `
		INSERT INTO threads (scope_id, title, is_group, created_by, direct_key)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+threadColumns,
		data.ScopeId, data.Title, data.IsGroup, data.CreatedBy, key,
	))
	if err != nil {
		return nil, classify(err, "direct thread", key.String, "insert thread")
	}

	seen := make(map[domain.UserId]bool, len(data.Members))
	for _, member := range data.Members {
		if seen[member] {
			continue
		}
		seen[member] = true
		if _, err := q.ExecContext(ctx, `
			INSERT INTO thread_participants (thread_id, user_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING`,
			t.Id, member,
		); err != nil {
			return nil, classify(err, "user", member, "insert participant")
		}
		t.Participants = append(t.Participants, domain.Participant{ThreadId: t.Id, UserId: member, Status: "active"})
	}
	return &t, nil
}
