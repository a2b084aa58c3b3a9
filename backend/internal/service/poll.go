package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/itchan-dev/itchat/shared/domain"
	internal_errors "github.com/itchan-dev/itchat/shared/errors"
	"github.com/itchan-dev/itchat/shared/logger"
)

type Polls struct {
	storage    PollStorage
	messages   MessageStorage
	maxOptions int
}

func NewPolls(storage PollStorage, messages MessageStorage, maxOptions int) *Polls {
	return &Polls{storage: storage, messages: messages, maxOptions: maxOptions}
}

// PollDraft is the user's input for a new poll.
type PollDraft struct {
	Question       string
	Options        []string
	MultipleChoice bool
}

// VoteRequest is the write plan input: which option, and what the voter's
// cached state says about it.
type VoteRequest struct {
	PollId         domain.PollId
	OptionId       domain.OptionId
	SelectedByMe   bool
	MultipleChoice bool
}

func (p *Polls) normalize(d PollDraft) (PollDraft, error) {
	d.Question = strings.TrimSpace(d.Question)
	if d.Question == "" {
		return d, &internal_errors.ValidationError{Message: "poll question is empty"}
	}
	options := make([]string, 0, len(d.Options))
	for _, o := range d.Options {
		if o = strings.TrimSpace(o); o != "" {
			options = append(options, o)
		}
	}
	if len(options) < 2 {
		return d, &internal_errors.ValidationError{Message: "poll needs at least two options"}
	}
	if p.maxOptions > 0 && len(options) > p.maxOptions {
		return d, &internal_errors.ValidationError{Message: fmt.Sprintf("poll allows at most %d options", p.maxOptions)}
	}
	d.Options = options
	return d, nil
}

// Resolve attaches polls with per-option counts and the viewer's own
// selection to the messages in place.
func (p *Polls) Resolve(ctx context.Context, msgs []domain.Message, viewer domain.UserId) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]domain.MsgId, len(msgs))
	for i := range msgs {
		ids[i] = msgs[i].Id
	}
	polls, err := p.storage.PollsForMessages(ctx, ids)
	if err != nil {
		return internal_errors.Transport("fetch polls", err)
	}
	if len(polls) == 0 {
		return nil
	}

	pollIds := make([]domain.PollId, len(polls))
	for i := range polls {
		pollIds[i] = polls[i].Id
	}
	votes, err := p.storage.VotesForPolls(ctx, pollIds)
	if err != nil {
		return internal_errors.Transport("fetch votes", err)
	}

	type tally struct {
		count int
		mine  bool
	}
	tallies := make(map[domain.OptionId]*tally)
	for _, v := range votes {
		t, ok := tallies[v.OptionId]
		if !ok {
			t = &tally{}
			tallies[v.OptionId] = t
		}
		t.count++
		if v.VoterId == viewer {
			t.mine = true
		}
	}

	byMessage := make(map[domain.MsgId]*domain.Poll, len(polls))
	for i := range polls {
		poll := polls[i].Clone()
		for j := range poll.Options {
			opt := &poll.Options[j]
			opt.VoteCount, opt.VotedByMe = 0, false
			if t, ok := tallies[opt.Id]; ok {
				opt.VoteCount, opt.VotedByMe = t.count, t.mine
			}
		}
		byMessage[poll.MessageId] = poll
	}
	for i := range msgs {
		if poll, ok := byMessage[msgs[i].Id]; ok {
			msgs[i].Poll = poll
		}
	}
	return nil
}

// Create writes the message, the poll and its options. Stores implementing
// PollMessageCreator do it atomically. Otherwise the three creates run in
// sequence and a failure after the first leaves an empty message behind,
// reported as PartialWriteError.
func (p *Polls) Create(ctx context.Context, threadId domain.ThreadId, sender domain.UserId, draft PollDraft) (*domain.Message, error) {
	draft, err := p.normalize(draft)
	if err != nil {
		return nil, err
	}
	msgData := domain.MessageCreationData{ThreadId: threadId, SenderId: sender}

	if tx, ok := p.storage.(PollMessageCreator); ok {
		msg, err := tx.CreatePollMessage(ctx, msgData, draft.Question, draft.MultipleChoice, draft.Options)
		if err != nil {
			return nil, internal_errors.Transport("create poll message", err)
		}
		return msg, nil
	}

	msg, err := p.messages.CreateMessage(ctx, msgData)
	if err != nil {
		return nil, internal_errors.Transport("create poll message", err)
	}

	pollId, err := p.storage.CreatePoll(ctx, domain.PollCreationData{
		MessageId:      msg.Id,
		Question:       draft.Question,
		MultipleChoice: draft.MultipleChoice,
	})
	if err != nil {
		return msg, p.partial("poll", msg.Id, err)
	}

	options, err := p.storage.CreatePollOptions(ctx, pollId, draft.Options)
	if err != nil {
		return msg, p.partial("options", msg.Id, err)
	}

	msg.Poll = &domain.Poll{
		Id:             pollId,
		MessageId:      msg.Id,
		Question:       draft.Question,
		MultipleChoice: draft.MultipleChoice,
		Options:        options,
	}
	return msg, nil
}

func (p *Polls) partial(step string, msgId domain.MsgId, err error) error {
	logger.Log.Error("poll creation left an orphaned message",
		"component", "poll",
		"step", step,
		"message_id", msgId,
		"error", err)
	return &internal_errors.PartialWriteError{Step: step, MessageId: msgId, Err: err}
}

// Vote executes the write plan: a selected option is withdrawn; otherwise
// single-choice polls clear the voter's rows first and then insert.
func (p *Polls) Vote(ctx context.Context, voter domain.UserId, req VoteRequest) error {
	vote := domain.Vote{PollId: req.PollId, OptionId: req.OptionId, VoterId: voter}
	if req.SelectedByMe {
		return internal_errors.Transport("delete vote", p.storage.DeleteVote(ctx, vote))
	}
	if !req.MultipleChoice {
		if err := p.storage.DeleteVotesByVoter(ctx, req.PollId, voter); err != nil {
			return internal_errors.Transport("clear votes", err)
		}
	}
	return internal_errors.Transport("insert vote", p.storage.InsertVote(ctx, vote))
}

// applyVote flips the option on a cached poll the way the store will once
// the vote lands, and returns the request describing the pre-flip state.
func applyVote(poll *domain.Poll, optionId domain.OptionId) (VoteRequest, error) {
	opt := poll.Option(optionId)
	if opt == nil {
		return VoteRequest{}, &internal_errors.NotFoundError{Entity: "poll option", Id: optionId}
	}
	req := VoteRequest{
		PollId:         poll.Id,
		OptionId:       optionId,
		SelectedByMe:   opt.VotedByMe,
		MultipleChoice: poll.MultipleChoice,
	}

	if opt.VotedByMe {
		opt.VotedByMe = false
		opt.VoteCount = max(opt.VoteCount-1, 0)
		return req, nil
	}

	if !poll.MultipleChoice {
		for i := range poll.Options {
			other := &poll.Options[i]
			if other.Id != optionId && other.VotedByMe {
				other.VotedByMe = false
				other.VoteCount = max(other.VoteCount-1, 0)
			}
		}
	}
	opt.VotedByMe = true
	opt.VoteCount++
	return req, nil
}
