package service

import (
	"context"

	"github.com/itchan-dev/itchat/shared/domain"
)

// ThreadStorage serves the thread directory.
type ThreadStorage interface {
	// ActorScope returns NotFoundError when the actor has no scope.
	ActorScope(ctx context.Context, actor domain.UserId) (domain.ScopeId, error)
	// ThreadsInScope embeds participants.
	ThreadsInScope(ctx context.Context, scope domain.ScopeId) ([]domain.Thread, error)
	// LatestMessages returns rows for the given threads ordered newest first.
	LatestMessages(ctx context.Context, threadIds []domain.ThreadId) ([]domain.Message, error)
	FindDirectThread(ctx context.Context, scope domain.ScopeId, a, b domain.UserId) (*domain.Thread, error)
	// CreateThread returns ConflictError when a direct thread for the pair exists.
	CreateThread(ctx context.Context, data domain.ThreadCreationData) (*domain.Thread, error)
}

type MessageStorage interface {
	// ListMessages returns the thread's messages newest first. A viewer
	// outside the thread gets AccessError.
	ListMessages(ctx context.Context, threadId domain.ThreadId, viewer domain.UserId) ([]domain.Message, error)
	// CreateMessage refuses senders outside the thread with AccessError.
	CreateMessage(ctx context.Context, data domain.MessageCreationData) (*domain.Message, error)
	// CheckParticipant returns NotFoundError for a missing thread and
	// AccessError when user is not in it.
	CheckParticipant(ctx context.Context, threadId domain.ThreadId, user domain.UserId) error
}

type PollStorage interface {
	PollsForMessages(ctx context.Context, msgIds []domain.MsgId) ([]domain.Poll, error)
	VotesForPolls(ctx context.Context, pollIds []domain.PollId) ([]domain.Vote, error)
	CreatePoll(ctx context.Context, data domain.PollCreationData) (domain.PollId, error)
	CreatePollOptions(ctx context.Context, pollId domain.PollId, texts []string) ([]domain.PollOption, error)
	InsertVote(ctx context.Context, vote domain.Vote) error
	DeleteVote(ctx context.Context, vote domain.Vote) error
	DeleteVotesByVoter(ctx context.Context, pollId domain.PollId, voter domain.UserId) error
}

// PollMessageCreator is implemented by stores that can write a message, its
// poll and the options in one transaction. Polls prefers it over the three
// sequential creates.
type PollMessageCreator interface {
	CreatePollMessage(ctx context.Context, msg domain.MessageCreationData, question string, multipleChoice bool, options []string) (*domain.Message, error)
}

type ReadCursorStorage interface {
	// UpsertReadCursor refuses users outside the thread with AccessError.
	UpsertReadCursor(ctx context.Context, cursor domain.ReadCursor) error
	ReadCursors(ctx context.Context, threadId domain.ThreadId) ([]domain.ReadCursor, error)
	ReadCursorsForUser(ctx context.Context, user domain.UserId, threadIds []domain.ThreadId) ([]domain.ReadCursor, error)
}

type BlockStorage interface {
	BlockedUsers(ctx context.Context, actor domain.UserId) ([]domain.UserId, error)
	BlockUser(ctx context.Context, edge domain.BlockEdge) error
	UnblockUser(ctx context.Context, actor, target domain.UserId) error
}

type RecipientStorage interface {
	// AccessibleFacilities is owned ∪ coordinated.
	AccessibleFacilities(ctx context.Context, actor domain.UserId) ([]domain.FacilityId, error)
	SearchUsersByName(ctx context.Context, fragment string) ([]domain.User, error)
	ActiveEnrollments(ctx context.Context, childIds []domain.UserId, facilities []domain.FacilityId) ([]domain.Enrollment, error)
	GuardiansOfChildren(ctx context.Context, childIds []domain.UserId) ([]domain.Guardianship, error)
	ChildrenOfGuardians(ctx context.Context, guardianIds []domain.UserId) ([]domain.Guardianship, error)
	UsersByIds(ctx context.Context, ids []domain.UserId) ([]domain.User, error)
}

// Storage is everything the messenger needs from the durable store.
type Storage interface {
	ThreadStorage
	MessageStorage
	PollStorage
	ReadCursorStorage
	BlockStorage
	RecipientStorage
}

// MediaStorage accepts upload bytes and returns a reference to them.
type MediaStorage interface {
	Upload(ctx context.Context, data []byte, contentType string) (string, error)
	// Delete removes an upload by reference. Missing objects are not an error.
	Delete(ctx context.Context, ref string) error
}

// ChangeFeed delivers push notifications for one thread until ctx is done,
// then closes the channel.
type ChangeFeed interface {
	Subscribe(ctx context.Context, threadId domain.ThreadId) (<-chan domain.ChangeEvent, error)
}
