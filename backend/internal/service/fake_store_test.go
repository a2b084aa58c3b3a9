package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/itchan-dev/itchat/shared/domain"
	internal_errors "github.com/itchan-dev/itchat/shared/errors"
)

// fakeStore is an in-memory Storage, MediaStorage and ChangeFeed. fail maps
// a method name to the error it returns; before runs at the start of every
// call so tests can look at the cache mid-operation.
type fakeStore struct {
	mu  sync.Mutex
	seq int
	now time.Time

	scopes        map[domain.UserId]domain.ScopeId
	threads       map[domain.ThreadId]*domain.Thread
	messages      []domain.Message
	polls         map[domain.PollId]*domain.Poll
	votes         []domain.Vote
	cursors       map[string]domain.ReadCursor
	blocks        map[domain.UserId]map[domain.UserId]bool
	users         map[domain.UserId]domain.User
	facilities    map[domain.UserId][]domain.FacilityId
	enrollments   []domain.Enrollment
	guardianships []domain.Guardianship
	uploads       map[string][]byte

	subscribers map[domain.ThreadId][]chan domain.ChangeEvent

	fail   map[string]error
	calls  map[string]int
	before func(method string)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		now:         time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		scopes:      make(map[domain.UserId]domain.ScopeId),
		threads:     make(map[domain.ThreadId]*domain.Thread),
		polls:       make(map[domain.PollId]*domain.Poll),
		cursors:     make(map[string]domain.ReadCursor),
		blocks:      make(map[domain.UserId]map[domain.UserId]bool),
		users:       make(map[domain.UserId]domain.User),
		facilities:  make(map[domain.UserId][]domain.FacilityId),
		uploads:     make(map[string][]byte),
		subscribers: make(map[domain.ThreadId][]chan domain.ChangeEvent),
		fail:        make(map[string]error),
		calls:       make(map[string]int),
	}
}

// enter records the call and returns the injected error, if any. The caller
// holds no lock; enter takes and releases it.
func (f *fakeStore) enter(method string) error {
	f.mu.Lock()
	f.calls[method]++
	err := f.fail[method]
	hook := f.before
	f.mu.Unlock()
	if hook != nil {
		hook(method)
	}
	return err
}

func (f *fakeStore) setFail(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fail, method)
		return
	}
	f.fail[method] = err
}

func (f *fakeStore) setBefore(hook func(method string)) {
	f.mu.Lock()
	f.before = hook
	f.mu.Unlock()
}

func (f *fakeStore) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeStore) nextId(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s%d", prefix, f.seq)
}

func (f *fakeStore) tick() time.Time {
	f.now = f.now.Add(time.Second)
	return f.now
}

// --- seeding ---

func (f *fakeStore) seedUser(id domain.UserId, name string, role domain.Role, scope domain.ScopeId) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[id] = domain.User{Id: id, DisplayName: name, Email: strings.ToLower(name) + "@example.org", Role: role, ScopeId: scope}
	if scope != "" {
		f.scopes[id] = scope
	}
}

func (f *fakeStore) seedThread(id domain.ThreadId, scope domain.ScopeId, group bool, members ...domain.UserId) *domain.Thread {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &domain.Thread{Id: id, ScopeId: scope, IsGroup: group, IsActive: true, CreatedAt: f.tick()}
	for _, u := range members {
		t.Participants = append(t.Participants, domain.Participant{ThreadId: id, UserId: u})
	}
	f.threads[id] = t
	return t
}

func (f *fakeStore) seedMessage(threadId domain.ThreadId, sender domain.UserId, body string) domain.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg := domain.Message{Id: f.nextId("m"), ThreadId: threadId, SenderId: sender, Body: body, CreatedAt: f.tick()}
	f.messages = append(f.messages, msg)
	return msg
}

func (f *fakeStore) seedPoll(msgId domain.MsgId, question string, multiple bool, options ...string) *domain.Poll {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &domain.Poll{Id: f.nextId("p"), MessageId: msgId, Question: question, MultipleChoice: multiple}
	for i, text := range options {
		p.Options = append(p.Options, domain.PollOption{Id: f.nextId("o"), PollId: p.Id, Position: i, Text: text})
	}
	f.polls[p.Id] = p
	return p.Clone()
}

func (f *fakeStore) votesOf(pollId domain.PollId, voter domain.UserId) []domain.Vote {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Vote
	for _, v := range f.votes {
		if v.PollId == pollId && v.VoterId == voter {
			out = append(out, v)
		}
	}
	return out
}

func (f *fakeStore) pollOf(msgId domain.MsgId) *domain.Poll {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.polls {
		if p.MessageId == msgId {
			return p.Clone()
		}
	}
	return nil
}

func (f *fakeStore) messageCount(threadId domain.ThreadId) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.messages {
		if m.ThreadId == threadId {
			n++
		}
	}
	return n
}

// --- ThreadStorage ---

func (f *fakeStore) ActorScope(ctx context.Context, actor domain.UserId) (domain.ScopeId, error) {
	if err := f.enter("ActorScope"); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	scope, ok := f.scopes[actor]
	if !ok {
		return "", &internal_errors.NotFoundError{Entity: "scope", Id: actor}
	}
	return scope, nil
}

func (f *fakeStore) ThreadsInScope(ctx context.Context, scope domain.ScopeId) ([]domain.Thread, error) {
	if err := f.enter("ThreadsInScope"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Thread
	for _, t := range f.threads {
		if t.ScopeId == scope {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })
	return out, nil
}

func (f *fakeStore) sortedMessages(keep func(domain.Message) bool) []domain.Message {
	var out []domain.Message
	for i := len(f.messages) - 1; i >= 0; i-- {
		if keep(f.messages[i]) {
			m := f.messages[i]
			m.Attachments = append([]domain.Attachment(nil), m.Attachments...)
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (f *fakeStore) LatestMessages(ctx context.Context, threadIds []domain.ThreadId) ([]domain.Message, error) {
	if err := f.enter("LatestMessages"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	want := make(map[domain.ThreadId]bool, len(threadIds))
	for _, id := range threadIds {
		want[id] = true
	}
	return f.sortedMessages(func(m domain.Message) bool { return want[m.ThreadId] }), nil
}

func (f *fakeStore) findDirect(scope domain.ScopeId, a, b domain.UserId) *domain.Thread {
	for _, t := range f.threads {
		if t.IsGroup || t.ScopeId != scope || len(t.Participants) != 2 {
			continue
		}
		if t.HasParticipant(a) && t.HasParticipant(b) {
			return t
		}
	}
	return nil
}

func (f *fakeStore) FindDirectThread(ctx context.Context, scope domain.ScopeId, a, b domain.UserId) (*domain.Thread, error) {
	if err := f.enter("FindDirectThread"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if t := f.findDirect(scope, a, b); t != nil {
		c := *t
		return &c, nil
	}
	return nil, &internal_errors.NotFoundError{Entity: "direct thread"}
}

func (f *fakeStore) CreateThread(ctx context.Context, data domain.ThreadCreationData) (*domain.Thread, error) {
	if err := f.enter("CreateThread"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !data.IsGroup && len(data.Members) == 2 && f.findDirect(data.ScopeId, data.Members[0], data.Members[1]) != nil {
		return nil, &internal_errors.ConflictError{Entity: "direct thread"}
	}
	t := &domain.Thread{
		Id:        f.nextId("t"),
		Title:     data.Title,
		IsGroup:   data.IsGroup,
		ScopeId:   data.ScopeId,
		IsActive:  true,
		CreatedAt: f.tick(),
	}
	for _, u := range data.Members {
		t.Participants = append(t.Participants, domain.Participant{ThreadId: t.Id, UserId: u})
	}
	f.threads[t.Id] = t
	c := *t
	return &c, nil
}

// --- MessageStorage ---

func (f *fakeStore) ListMessages(ctx context.Context, threadId domain.ThreadId, viewer domain.UserId) ([]domain.Message, error) {
	if err := f.enter("ListMessages"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.member(threadId, viewer); err != nil {
		return nil, err
	}
	return f.sortedMessages(func(m domain.Message) bool { return m.ThreadId == threadId }), nil
}

// member expects f.mu held.
func (f *fakeStore) member(threadId domain.ThreadId, user domain.UserId) error {
	t, ok := f.threads[threadId]
	if !ok {
		return &internal_errors.NotFoundError{Entity: "thread", Id: threadId}
	}
	if !t.HasParticipant(user) {
		return &internal_errors.AccessError{ActorId: user, Reason: "not a participant"}
	}
	return nil
}

func (f *fakeStore) CheckParticipant(ctx context.Context, threadId domain.ThreadId, user domain.UserId) error {
	if err := f.enter("CheckParticipant"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.member(threadId, user)
}

func (f *fakeStore) CreateMessage(ctx context.Context, data domain.MessageCreationData) (*domain.Message, error) {
	if err := f.enter("CreateMessage"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.member(data.ThreadId, data.SenderId); err != nil {
		return nil, err
	}
	msg := domain.Message{
		Id:          f.nextId("m"),
		ThreadId:    data.ThreadId,
		SenderId:    data.SenderId,
		Body:        data.Body,
		Attachments: append([]domain.Attachment(nil), data.Attachments...),
		CreatedAt:   f.tick(),
	}
	f.messages = append(f.messages, msg)
	return msg.Clone(), nil
}

// --- PollStorage ---

func (f *fakeStore) PollsForMessages(ctx context.Context, msgIds []domain.MsgId) ([]domain.Poll, error) {
	if err := f.enter("PollsForMessages"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	want := make(map[domain.MsgId]bool, len(msgIds))
	for _, id := range msgIds {
		want[id] = true
	}
	var out []domain.Poll
	for _, p := range f.polls {
		if want[p.MessageId] {
			out = append(out, *p.Clone())
		}
	}
	return out, nil
}

func (f *fakeStore) VotesForPolls(ctx context.Context, pollIds []domain.PollId) ([]domain.Vote, error) {
	if err := f.enter("VotesForPolls"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	want := make(map[domain.PollId]bool, len(pollIds))
	for _, id := range pollIds {
		want[id] = true
	}
	var out []domain.Vote
	for _, v := range f.votes {
		if want[v.PollId] {
			out = append(out, v)
		}
	}
	return out, nil
}

func (f *fakeStore) CreatePoll(ctx context.Context, data domain.PollCreationData) (domain.PollId, error) {
	if err := f.enter("CreatePoll"); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &domain.Poll{Id: f.nextId("p"), MessageId: data.MessageId, Question: data.Question, MultipleChoice: data.MultipleChoice}
	f.polls[p.Id] = p
	return p.Id, nil
}

func (f *fakeStore) CreatePollOptions(ctx context.Context, pollId domain.PollId, texts []string) ([]domain.PollOption, error) {
	if err := f.enter("CreatePollOptions"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.polls[pollId]
	if !ok {
		return nil, &internal_errors.NotFoundError{Entity: "poll", Id: pollId}
	}
	for i, text := range texts {
		p.Options = append(p.Options, domain.PollOption{Id: f.nextId("o"), PollId: pollId, Position: i, Text: text})
	}
	return append([]domain.PollOption(nil), p.Options...), nil
}

func (f *fakeStore) InsertVote(ctx context.Context, vote domain.Vote) error {
	if err := f.enter("InsertVote"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.polls[vote.PollId]
	if !ok {
		return &internal_errors.NotFoundError{Entity: "poll", Id: vote.PollId}
	}
	for _, v := range f.votes {
		if v.PollId != vote.PollId || v.VoterId != vote.VoterId {
			continue
		}
		if v.OptionId == vote.OptionId || !p.MultipleChoice {
			return &internal_errors.ConflictError{Entity: "vote"}
		}
	}
	f.votes = append(f.votes, vote)
	return nil
}

func (f *fakeStore) DeleteVote(ctx context.Context, vote domain.Vote) error {
	if err := f.enter("DeleteVote"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.votes[:0]
	for _, v := range f.votes {
		if v != vote {
			kept = append(kept, v)
		}
	}
	f.votes = kept
	return nil
}

func (f *fakeStore) DeleteVotesByVoter(ctx context.Context, pollId domain.PollId, voter domain.UserId) error {
	if err := f.enter("DeleteVotesByVoter"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.votes[:0]
	for _, v := range f.votes {
		if v.PollId != pollId || v.VoterId != voter {
			kept = append(kept, v)
		}
	}
	f.votes = kept
	return nil
}

// --- ReadCursorStorage ---

func cursorKey(threadId domain.ThreadId, userId domain.UserId) string {
	return threadId + "/" + userId
}

func (f *fakeStore) UpsertReadCursor(ctx context.Context, cursor domain.ReadCursor) error {
	if err := f.enter("UpsertReadCursor"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.member(cursor.ThreadId, cursor.UserId); err != nil {
		return err
	}
	f.cursors[cursorKey(cursor.ThreadId, cursor.UserId)] = cursor
	return nil
}

func (f *fakeStore) ReadCursors(ctx context.Context, threadId domain.ThreadId) ([]domain.ReadCursor, error) {
	if err := f.enter("ReadCursors"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.ReadCursor
	for _, c := range f.cursors {
		if c.ThreadId == threadId {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeStore) ReadCursorsForUser(ctx context.Context, user domain.UserId, threadIds []domain.ThreadId) ([]domain.ReadCursor, error) {
	if err := f.enter("ReadCursorsForUser"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.ReadCursor
	for _, id := range threadIds {
		if c, ok := f.cursors[cursorKey(id, user)]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// --- BlockStorage ---

func (f *fakeStore) BlockedUsers(ctx context.Context, actor domain.UserId) ([]domain.UserId, error) {
	if err := f.enter("BlockedUsers"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.UserId
	for id := range f.blocks[actor] {
		out = append(out, id)
	}
	return out, nil
}

func (f *fakeStore) BlockUser(ctx context.Context, edge domain.BlockEdge) error {
	if err := f.enter("BlockUser"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.blocks[edge.BlockedBy] == nil {
		f.blocks[edge.BlockedBy] = make(map[domain.UserId]bool)
	}
	f.blocks[edge.BlockedBy][edge.BlockedUserId] = true
	return nil
}

func (f *fakeStore) UnblockUser(ctx context.Context, actor, target domain.UserId) error {
	if err := f.enter("UnblockUser"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.blocks[actor], target)
	return nil
}

// --- RecipientStorage ---

func (f *fakeStore) AccessibleFacilities(ctx context.Context, actor domain.UserId) ([]domain.FacilityId, error) {
	if err := f.enter("AccessibleFacilities"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.FacilityId(nil), f.facilities[actor]...), nil
}

func (f *fakeStore) SearchUsersByName(ctx context.Context, fragment string) ([]domain.User, error) {
	if err := f.enter("SearchUsersByName"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.User
	for _, u := range f.users {
		if strings.Contains(strings.ToLower(u.DisplayName), strings.ToLower(fragment)) {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *fakeStore) ActiveEnrollments(ctx context.Context, childIds []domain.UserId, facilities []domain.FacilityId) ([]domain.Enrollment, error) {
	if err := f.enter("ActiveEnrollments"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	children := make(map[domain.UserId]bool)
	for _, id := range childIds {
		children[id] = true
	}
	allowed := make(map[domain.FacilityId]bool)
	for _, id := range facilities {
		allowed[id] = true
	}
	var out []domain.Enrollment
	for _, e := range f.enrollments {
		if e.Active && children[e.ChildId] && allowed[e.FacilityId] {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) GuardiansOfChildren(ctx context.Context, childIds []domain.UserId) ([]domain.Guardianship, error) {
	if err := f.enter("GuardiansOfChildren"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	want := make(map[domain.UserId]bool)
	for _, id := range childIds {
		want[id] = true
	}
	var out []domain.Guardianship
	for _, g := range f.guardianships {
		if want[g.ChildId] {
			out = append(out, g)
		}
	}
	return out, nil
}

func (f *fakeStore) ChildrenOfGuardians(ctx context.Context, guardianIds []domain.UserId) ([]domain.Guardianship, error) {
	if err := f.enter("ChildrenOfGuardians"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	want := make(map[domain.UserId]bool)
	for _, id := range guardianIds {
		want[id] = true
	}
	var out []domain.Guardianship
	for _, g := range f.guardianships {
		if want[g.GuardianId] {
			out = append(out, g)
		}
	}
	return out, nil
}

func (f *fakeStore) UsersByIds(ctx context.Context, ids []domain.UserId) ([]domain.User, error) {
	if err := f.enter("UsersByIds"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.User
	for _, id := range ids {
		if u, ok := f.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

// --- MediaStorage ---

func (f *fakeStore) Upload(ctx context.Context, data []byte, contentType string) (string, error) {
	if err := f.enter("Upload"); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ref := "/media/" + f.nextId("f")
	f.uploads[ref] = append([]byte(nil), data...)
	return ref, nil
}

func (f *fakeStore) Delete(ctx context.Context, ref string) error {
	if err := f.enter("Delete"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.uploads, ref)
	return nil
}

// --- ChangeFeed ---

func (f *fakeStore) Subscribe(ctx context.Context, threadId domain.ThreadId) (<-chan domain.ChangeEvent, error) {
	if err := f.enter("Subscribe"); err != nil {
		return nil, err
	}
	ch := make(chan domain.ChangeEvent, 16)
	f.mu.Lock()
	f.subscribers[threadId] = append(f.subscribers[threadId], ch)
	f.mu.Unlock()
	go func() {
		<-ctx.Done()
		f.mu.Lock()
		defer f.mu.Unlock()
		subs := f.subscribers[threadId]
		for i, c := range subs {
			if c == ch {
				f.subscribers[threadId] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

func (f *fakeStore) push(ev domain.ChangeEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subscribers[ev.ThreadId] {
		ch <- ev
	}
}

// atomicStore adds the transactional poll path on top of fakeStore.
type atomicStore struct {
	*fakeStore
}

func (a atomicStore) CreatePollMessage(ctx context.Context, msg domain.MessageCreationData, question string, multipleChoice bool, options []string) (*domain.Message, error) {
	if err := a.enter("CreatePollMessage"); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.member(msg.ThreadId, msg.SenderId); err != nil {
		return nil, err
	}
	m := domain.Message{Id: a.nextId("m"), ThreadId: msg.ThreadId, SenderId: msg.SenderId, CreatedAt: a.tick()}
	p := &domain.Poll{Id: a.nextId("p"), MessageId: m.Id, Question: question, MultipleChoice: multipleChoice}
	for i, text := range options {
		p.Options = append(p.Options, domain.PollOption{Id: a.nextId("o"), PollId: p.Id, Position: i, Text: text})
	}
	a.messages = append(a.messages, m)
	a.polls[p.Id] = p
	m.Poll = p.Clone()
	return &m, nil
}

var (
	_ Storage            = (*fakeStore)(nil)
	_ MediaStorage       = (*fakeStore)(nil)
	_ ChangeFeed         = (*fakeStore)(nil)
	_ PollMessageCreator = atomicStore{}
)
