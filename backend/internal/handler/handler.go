package handler

import (
	"context"
	"net/http"

	"github.com/itchan-dev/itchat/backend/internal/service"
	"github.com/itchan-dev/itchat/shared/config"
	"github.com/itchan-dev/itchat/shared/domain"
	mw "github.com/itchan-dev/itchat/shared/middleware"
	"github.com/itchan-dev/itchat/shared/utils"
)

// Messenger is the per-actor session the handlers drive.
type Messenger interface {
	ListThreads(ctx context.Context) ([]domain.ThreadSummary, error)
	StartDirect(ctx context.Context, target domain.UserId) (*domain.Thread, error)
	CreateGroup(ctx context.Context, title domain.ThreadTitle, members []domain.UserId) (*domain.Thread, error)
	SearchRecipients(ctx context.Context, query string) ([]domain.Recipient, error)

	LoadMessages(ctx context.Context, threadId domain.ThreadId) ([]domain.Message, error)
	MarkRead(ctx context.Context, threadId domain.ThreadId, msgId domain.MsgId) error
	Follow(ctx context.Context, threadId domain.ThreadId, onChange func([]domain.Message)) (View, error)

	SendText(ctx context.Context, threadId domain.ThreadId, text string) (*domain.Message, error)
	SendTextTo(ctx context.Context, target domain.UserId, text string) (*domain.Thread, *domain.Message, error)
	SendAttachment(ctx context.Context, threadId domain.ThreadId, file domain.PendingFile) (*domain.Message, error)
	SendPoll(ctx context.Context, threadId domain.ThreadId, draft service.PollDraft) (*domain.Message, error)
	Vote(ctx context.Context, threadId domain.ThreadId, pollId domain.PollId, optionId domain.OptionId) error

	Block(ctx context.Context, target domain.UserId) error
	Unblock(ctx context.Context, target domain.UserId) error
	BlockedUsers() []domain.UserId

	Draft(threadId domain.ThreadId) string
	SetDraft(threadId domain.ThreadId, text string)
	PendingOperations() []service.Operation
}

// View is an open thread followed by an event stream.
type View interface {
	Messages() []domain.Message
	Done() <-chan struct{}
	Close()
}

// Sessions resolves the messenger of the authenticated actor.
type Sessions interface {
	Session(ctx context.Context, actor domain.UserId) (Messenger, error)
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checks names the dependencies probed by Ready.
type Checks map[string]Pinger

type Handler struct {
	sessions Sessions
	checks   Checks
	cfg      *config.Config
}

func New(sessions Sessions, checks Checks, cfg *config.Config) *Handler {
	return &Handler{sessions: sessions, checks: checks, cfg: cfg}
}

// session returns nil after writing the error response.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) Messenger {
	actor := mw.GetActorFromContext(r)
	if actor == "" {
		http.Error(w, "Not authorized", http.StatusUnauthorized)
		return nil
	}
	m, err := h.sessions.Session(r.Context(), actor)
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return nil
	}
	return m
}

type registrySessions struct {
	registry *service.Registry
}

// FromRegistry serves sessions out of a service.Registry.
func FromRegistry(registry *service.Registry) Sessions {
	return registrySessions{registry: registry}
}

func (s registrySessions) Session(ctx context.Context, actor domain.UserId) (Messenger, error) {
	m, err := s.registry.For(ctx, actor)
	if err != nil {
		return nil, err
	}
	return registryMessenger{m}, nil
}

type registryMessenger struct {
	*service.Messenger
}

func (m registryMessenger) Follow(ctx context.Context, threadId domain.ThreadId, onChange func([]domain.Message)) (View, error) {
	v, err := m.OpenThread(ctx, threadId, onChange)
	if err != nil {
		return nil, err
	}
	return v, nil
}
