package pg

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/itchan-dev/itchat/shared/domain"
	internal_errors "github.com/itchan-dev/itchat/shared/errors"

	"github.com/lib/pq"
)

// =========================================================================
// Public Methods (satisfy service.PollStorage and service.PollMessageCreator)
// =========================================================================

func (s *Storage) PollsForMessages(ctx context.Context, msgIds []domain.MsgId) ([]domain.Poll, error) {
	return s.pollsForMessages(ctx, s.db, msgIds)
}

func (s *Storage) VotesForPolls(ctx context.Context, pollIds []domain.PollId) ([]domain.Vote, error) {
	return s.votesForPolls(ctx, s.db, pollIds)
}

func (s *Storage) CreatePoll(ctx context.Context, data domain.PollCreationData) (domain.PollId, error) {
	return s.createPoll(ctx, s.db, data)
}

func (s *Storage) CreatePollOptions(ctx context.Context, pollId domain.PollId, texts []string) ([]domain.PollOption, error) {
	return s.createPollOptions(ctx, s.db, pollId, texts)
}

func (s *Storage) InsertVote(ctx context.Context, vote domain.Vote) error {
	return s.insertVote(ctx, s.db, vote)
}

func (s *Storage) DeleteVote(ctx context.Context, vote domain.Vote) error {
	return s.deleteVote(ctx, s.db, vote)
}

// DeleteVotesByVoter clears every vote the voter has on the poll.
func (s *Storage) DeleteVotesByVoter(ctx context.Context, pollId domain.PollId, voter domain.UserId) error {
	return s.deleteVotesByVoter(ctx, s.db, pollId, voter)
}

// CreatePollMessage writes message, poll and options atomically.
func (s *Storage) CreatePollMessage(ctx context.Context, msg domain.MessageCreationData, question string, multipleChoice bool, options []string) (*domain.Message, error) {
	var out *domain.Message
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		m, err := s.createMessage(ctx, tx, msg)
		if err != nil {
			return err
		}
		pollId, err := s.createPoll(ctx, tx, domain.PollCreationData{
			MessageId:      m.Id,
			Question:       question,
			MultipleChoice: multipleChoice,
		})
		if err != nil {
			return err
		}
		opts, err := s.createPollOptions(ctx, tx, pollId, options)
		if err != nil {
			return err
		}
		m.Poll = &domain.Poll{
			Id:             pollId,
			MessageId:      m.Id,
			Question:       question,
			MultipleChoice: multipleChoice,
			Options:        opts,
		}
		out = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// =========================================================================
// Internal Methods
// =========================================================================

func (s *Storage) pollsForMessages(ctx context.Context, q Querier, msgIds []domain.MsgId) ([]domain.Poll, error) {
	if len(msgIds) == 0 {
		return []domain.Poll{}, nil
	}
	rows, err := q.QueryContext(ctx, `
		SELECT id, message_id, question, multiple_choice
		FROM polls
		WHERE message_id = ANY($1::uuid[])`,
		pq.Array(msgIds),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch polls: %w", err)
	}
	defer rows.Close()

	polls := []domain.Poll{}
	idx := make(map[domain.PollId]int)
	for rows.Next() {
		var p domain.Poll
		if err := rows.Scan(&p.Id, &p.MessageId, &p.Question, &p.MultipleChoice); err != nil {
			return nil, fmt.Errorf("failed to scan poll: %w", err)
		}
		idx[p.Id] = len(polls)
		polls = append(polls, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	if len(polls) == 0 {
		return polls, nil
	}

	if err := enrichPollsWithOptions(ctx, q, polls, idx); err != nil {
		return nil, err
	}
	return polls, nil
}

func enrichPollsWithOptions(ctx context.Context, q Querier, polls []domain.Poll, idx map[domain.PollId]int) error {
	ids := make([]string, len(polls))
	for i, p := range polls {
		ids[i] = p.Id
	}
	rows, err := q.QueryContext(ctx, `
		SELECT id, poll_id, position, text
		FROM poll_options
		WHERE poll_id = ANY($1::uuid[])
		ORDER BY poll_id, position`,
		pq.Array(ids),
	)
	if err != nil {
		return fmt.Errorf("failed to fetch poll options: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var o domain.PollOption
		if err := rows.Scan(&o.Id, &o.PollId, &o.Position, &o.Text); err != nil {
			return fmt.Errorf("failed to scan poll option: %w", err)
		}
		if i, ok := idx[o.PollId]; ok {
			polls[i].Options = append(polls[i].Options, o)
		}
	}
	return rows.Err()
}

func (s *Storage) votesForPolls(ctx context.Context, q Querier, pollIds []domain.PollId) ([]domain.Vote, error) {
	if len(pollIds) == 0 {
		return []domain.Vote{}, nil
	}
	rows, err := q.QueryContext(ctx, `
		SELECT poll_id, option_id, voter_id
		FROM poll_votes
		WHERE poll_id = ANY($1::uuid[])`,
		pq.Array(pollIds),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch votes: %w", err)
	}
	defer rows.Close()

	votes := []domain.Vote{}
	for rows.Next() {
		var v domain.Vote
		if err := rows.Scan(&v.PollId, &v.OptionId, &v.VoterId); err != nil {
			return nil, fmt.Errorf("failed to scan vote: %w", err)
		}
		votes = append(votes, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return votes, nil
}

func (s *Storage) createPoll(ctx context.Context, q Querier, data domain.PollCreationData) (domain.PollId, error) {
	var id domain.PollId
	err := q.QueryRowContext(ctx, `
		INSERT INTO polls (message_id, question, multiple_choice)
		VALUES ($1, $2, $3)
		RETURNING id`,
		data.MessageId, data.Question, data.MultipleChoice,
	).Scan(&id)
	if err != nil {
		return "", classify(err, "message", data.MessageId, "insert poll")
	}
	return id, nil
}

func (s *Storage) createPollOptions(ctx context.Context, q Querier, pollId domain.PollId, texts []string) ([]domain.PollOption, error) {
	positions := make([]int64, len(texts))
	for i := range texts {
		positions[i] = int64(i)
	}
	rows, err := q.QueryContext(ctx, `
		INSERT INTO poll_options (poll_id, position, text)
		SELECT $1::uuid, o.position, o.text
		FROM unnest($2::int[], $3::text[]) AS o(position, text)
		RETURNING id, poll_id, position, text`,
		pollId, pq.Array(positions), pq.Array(texts),
	)
	if err != nil {
		return nil, classify(err, "poll", pollId, "insert poll options")
	}
	defer rows.Close()

	options := make([]domain.PollOption, 0, len(texts))
	for rows.Next() {
		var o domain.PollOption
		if err := rows.Scan(&o.Id, &o.PollId, &o.Position, &o.Text); err != nil {
			return nil, fmt.Errorf("failed to scan poll option: %w", err)
		}
		options = append(options, o)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "poll", pollId, "insert poll options")
	}
	sort.Slice(options, func(i, j int) bool { return options[i].Position < options[j].Position })
	return options, nil
}

// insertVote relies on the primary key for repeated votes and on the
// single-choice trigger for a second option; both surface as ConflictError.
func (s *Storage) insertVote(ctx context.Context, q Querier, vote domain.Vote) error {
	res, err := q.ExecContext(ctx, `
		INSERT INTO poll_votes (poll_id, option_id, voter_id)
		SELECT o.poll_id, o.id, $3::uuid
		FROM poll_options o
		WHERE o.id = $2 AND o.poll_id = $1`,
		vote.PollId, vote.OptionId, vote.VoterId,
	)
	if err != nil {
		return classify(err, "vote", vote.OptionId, "insert vote")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &internal_errors.NotFoundError{Entity: "poll option", Id: vote.OptionId}
	}
	return nil
}

func (s *Storage) deleteVote(ctx context.Context, q Querier, vote domain.Vote) error {
	_, err := q.ExecContext(ctx, `
		DELETE FROM poll_votes
		WHERE poll_id = $1 AND option_id = $2 AND voter_id = $3`,
		vote.PollId, vote.OptionId, vote.VoterId,
	)
	return classify(err, "vote", vote.OptionId, "delete vote")
}

func (s *Storage) deleteVotesByVoter(ctx context.Context, q Querier, pollId domain.PollId, voter domain.UserId) error {
	_, err := q.ExecContext(ctx, `
		DELETE FROM poll_votes
		WHERE poll_id = $1 AND voter_id = $2`,
		pollId, voter,
	)
	return classify(err, "poll", pollId, "clear votes")
}
