package service

import (
	"context"
	"sort"

	"github.com/itchan-dev/itchat/backend/internal/service/utils"
	"github.com/itchan-dev/itchat/shared/domain"
	internal_errors "github.com/itchan-dev/itchat/shared/errors"
	"github.com/itchan-dev/itchat/shared/logger"
)

// Directory lists the threads visible to an actor and finds or creates
// conversations.
type Directory struct {
	storage       ThreadStorage
	cursors       ReadCursorStorage
	blocks        *BlockList
	previewLength int
}

func NewDirectory(storage ThreadStorage, cursors ReadCursorStorage, blocks *BlockList, previewLength int) *Directory {
	return &Directory{storage: storage, cursors: cursors, blocks: blocks, previewLength: previewLength}
}

func (d *Directory) scope(ctx context.Context, actor domain.UserId) (domain.ScopeId, error) {
	scope, err := d.storage.ActorScope(ctx, actor)
	if err != nil {
		if internal_errors.Is[*internal_errors.NotFoundError](err) {
			return "", &internal_errors.AccessError{ActorId: actor, Reason: "actor has no scope", Err: err}
		}
		return "", internal_errors.Transport("resolve scope", err)
	}
	return scope, nil
}

// inScope refuses members that do not belong to the actor's scope.
func (d *Directory) inScope(ctx context.Context, actor domain.UserId, scope domain.ScopeId, members []domain.UserId) error {
	for _, u := range members {
		if u == actor {
			continue
		}
		s, err := d.storage.ActorScope(ctx, u)
		if err != nil && !internal_errors.Is[*internal_errors.NotFoundError](err) {
			return internal_errors.Transport("resolve member scope", err)
		}
		if err != nil || s != scope {
			return &internal_errors.AccessError{ActorId: actor, Reason: "user " + u + " is outside the actor's scope"}
		}
	}
	return nil
}

// List returns the actor's threads, most recent activity first. Disabled
// predefined groups, threads the actor is not in and direct threads with a
// blocked counterpart are left out.
func (d *Directory) List(ctx context.Context, actor domain.UserId) ([]domain.ThreadSummary, error) {
	scope, err := d.scope(ctx, actor)
	if err != nil {
		return nil, err
	}
	threads, err := d.storage.ThreadsInScope(ctx, scope)
	if err != nil {
		return nil, internal_errors.Transport("fetch threads", err)
	}

	candidates := make([]domain.Thread, 0, len(threads))
	for _, t := range threads {
		if t.Disabled() || !t.HasParticipant(actor) {
			continue
		}
		if other, ok := t.OtherParticipant(actor); ok && d.blocks.IsBlocked(other) {
			continue
		}
		candidates = append(candidates, t)
	}
	if len(candidates) == 0 {
		return []domain.ThreadSummary{}, nil
	}

	ids := make([]domain.ThreadId, len(candidates))
	for i, t := range candidates {
		ids[i] = t.Id
	}
	latest, err := d.storage.LatestMessages(ctx, ids)
	if err != nil {
		return nil, internal_errors.Transport("fetch latest messages", err)
	}
	// rows come newest first, so the first one seen per thread wins
	last := make(map[domain.ThreadId]domain.Message, len(candidates))
	for _, m := range latest {
		if _, ok := last[m.ThreadId]; !ok {
			last[m.ThreadId] = m
		}
	}

	readMark := make(map[domain.ThreadId]domain.MsgId, len(candidates))
	cursors, err := d.cursors.ReadCursorsForUser(ctx, actor, ids)
	if err != nil {
		// the unread flag is cosmetic
		logger.Log.Warn("failed to fetch read cursors for directory",
			"component", "directory",
			"actor", actor,
			"error", err)
	}
	for _, c := range cursors {
		readMark[c.ThreadId] = c.LastReadMessageId
	}

	out := make([]domain.ThreadSummary, 0, len(candidates))
	for _, t := range candidates {
		sum := domain.ThreadSummary{Thread: t}
		if m, ok := last[t.Id]; ok {
			sum.LastMessage = &m
			sum.Preview = d.preview(&m)
			sum.Unread = m.SenderId != actor && readMark[t.Id] != m.Id
		}
		out = append(out, sum)
	}
	sortSummaries(out)
	return out, nil
}

func (d *Directory) preview(m *domain.Message) string {
	if m.Body != "" {
		return utils.Preview(m.Body, d.previewLength)
	}
	if len(m.Attachments) > 0 {
		return m.Attachments[0].Name
	}
	return ""
}

func sortSummaries(s []domain.ThreadSummary) {
	sort.SliceStable(s, func(i, j int) bool {
		ai, aj := s[i].ActivityAt(), s[j].ActivityAt()
		if !ai.Equal(aj) {
			return ai.After(aj)
		}
		return s[i].Id < s[j].Id
	})
}

// StartDirect returns the direct thread between actor and target, creating
// it when missing. The target must share the actor's scope. Losing a creation race to the other side yields the
// winner's thread.
func (d *Directory) StartDirect(ctx context.Context, actor, target domain.UserId) (*domain.Thread, error) {
	if target == "" || target == actor {
		return nil, &internal_errors.ValidationError{Message: "direct thread needs another participant"}
	}
	if d.blocks.IsBlocked(target) {
		return nil, &internal_errors.AccessError{ActorId: actor, Reason: "target is blocked"}
	}
	scope, err := d.scope(ctx, actor)
	if err != nil {
		return nil, err
	}
	if err := d.inScope(ctx, actor, scope, []domain.UserId{target}); err != nil {
		return nil, err
	}

	thread, err := d.storage.FindDirectThread(ctx, scope, actor, target)
	if err == nil {
		return thread, nil
	}
	if !internal_errors.Is[*internal_errors.NotFoundError](err) {
		return nil, internal_errors.Transport("find direct thread", err)
	}

	thread, err = d.storage.CreateThread(ctx, domain.ThreadCreationData{
		ScopeId:   scope,
		CreatedBy: actor,
		Members:   []domain.UserId{actor, target},
	})
	if err == nil {
		return thread, nil
	}
	if !internal_errors.Is[*internal_errors.ConflictError](err) {
		return nil, internal_errors.Transport("create direct thread", err)
	}

	logger.Log.Info("direct thread created concurrently, using existing one",
		"component", "directory",
		"actor", actor,
		"target", target)
	thread, err = d.storage.FindDirectThread(ctx, scope, actor, target)
	if err != nil {
		return nil, internal_errors.Transport("find direct thread", err)
	}
	return thread, nil
}

// CreateGroup makes a new group thread; the actor is always a member.
func (d *Directory) CreateGroup(ctx context.Context, actor domain.UserId, title domain.ThreadTitle, members []domain.UserId) (*domain.Thread, error) {
	title = domain.ThreadTitle(utils.SanitizeBody(string(title)))
	if title == "" {
		return nil, &internal_errors.ValidationError{Message: "group title is empty"}
	}
	seen := map[domain.UserId]bool{actor: true}
	all := []domain.UserId{actor}
	for _, m := range members {
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		all = append(all, m)
	}
	if len(all) < 2 {
		return nil, &internal_errors.ValidationError{Message: "group needs at least one other member"}
	}

	scope, err := d.scope(ctx, actor)
	if err != nil {
		return nil, err
	}
	if err := d.inScope(ctx, actor, scope, all); err != nil {
		return nil, err
	}
	thread, err := d.storage.CreateThread(ctx, domain.ThreadCreationData{
		Title:     title,
		IsGroup:   true,
		ScopeId:   scope,
		CreatedBy: actor,
		Members:   all,
	})
	if err != nil {
		return nil, internal_errors.Transport("create group", err)
	}
	return thread, nil
}
