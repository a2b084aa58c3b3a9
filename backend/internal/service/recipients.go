package service

import (
	"context"
	"sort"
	"strings"

	"github.com/itchan-dev/itchat/shared/domain"
	internal_errors "github.com/itchan-dev/itchat/shared/errors"
)

// Recipients finds who the actor may start a conversation with: guardians
// tied to a child actively enrolled at one of the actor's facilities.
type Recipients struct {
	storage RecipientStorage
}

func NewRecipients(storage RecipientStorage) *Recipients {
	return &Recipients{storage: storage}
}

// Search matches query against display names. A matched child resolves to
// its responsible guardians, or to any guardian when none is responsible.
// A matched guardian qualifies through any enrolled child. The actor never
// appears in the result.
func (r *Recipients) Search(ctx context.Context, actor domain.UserId, query string) ([]domain.Recipient, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []domain.Recipient{}, nil
	}

	facilities, err := r.storage.AccessibleFacilities(ctx, actor)
	if err != nil {
		return nil, internal_errors.Transport("fetch facilities", err)
	}
	if len(facilities) == 0 {
		return []domain.Recipient{}, nil
	}

	matches, err := r.storage.SearchUsersByName(ctx, query)
	if err != nil {
		return nil, internal_errors.Transport("search users", err)
	}
	var children, guardians []domain.UserId
	for _, u := range matches {
		if u.Id == actor {
			continue
		}
		switch u.Role {
		case domain.RoleChild:
			children = append(children, u.Id)
		case domain.RoleGuardian:
			guardians = append(guardians, u.Id)
		}
	}

	accepted := make(map[domain.UserId]bool)
	if len(children) > 0 {
		enrolled, err := r.enrolled(ctx, children, facilities)
		if err != nil {
			return nil, err
		}
		if len(enrolled) > 0 {
			links, err := r.storage.GuardiansOfChildren(ctx, keys(enrolled))
			if err != nil {
				return nil, internal_errors.Transport("fetch guardians", err)
			}
			for _, id := range guardiansFor(links) {
				accepted[id] = true
			}
		}
	}

	if len(guardians) > 0 {
		links, err := r.storage.ChildrenOfGuardians(ctx, guardians)
		if err != nil {
			return nil, internal_errors.Transport("fetch children", err)
		}
		kids := make(map[domain.UserId]bool)
		for _, l := range links {
			kids[l.ChildId] = true
		}
		if len(kids) > 0 {
			enrolled, err := r.enrolled(ctx, keys(kids), facilities)
			if err != nil {
				return nil, err
			}
			for _, l := range links {
				if enrolled[l.ChildId] {
					accepted[l.GuardianId] = true
				}
			}
		}
	}

	delete(accepted, actor)
	if len(accepted) == 0 {
		return []domain.Recipient{}, nil
	}

	users, err := r.storage.UsersByIds(ctx, keys(accepted))
	if err != nil {
		return nil, internal_errors.Transport("fetch users", err)
	}
	out := make([]domain.Recipient, 0, len(users))
	seen := make(map[domain.UserId]bool, len(users))
	for _, u := range users {
		if !accepted[u.Id] || seen[u.Id] {
			continue
		}
		seen[u.Id] = true
		out = append(out, domain.Recipient{Id: u.Id, DisplayName: u.DisplayName, Email: u.Email})
	}
	sort.Slice(out, func(i, j int) bool {
		ni, nj := strings.ToLower(out[i].DisplayName), strings.ToLower(out[j].DisplayName)
		if ni != nj {
			return ni < nj
		}
		return out[i].Id < out[j].Id
	})
	return out, nil
}

func (r *Recipients) enrolled(ctx context.Context, children []domain.UserId, facilities []domain.FacilityId) (map[domain.UserId]bool, error) {
	rows, err := r.storage.ActiveEnrollments(ctx, children, facilities)
	if err != nil {
		return nil, internal_errors.Transport("fetch enrollments", err)
	}
	allowed := make(map[domain.FacilityId]bool, len(facilities))
	for _, f := range facilities {
		allowed[f] = true
	}
	out := make(map[domain.UserId]bool, len(rows))
	for _, e := range rows {
		if e.Active && allowed[e.FacilityId] {
			out[e.ChildId] = true
		}
	}
	return out, nil
}

// guardiansFor picks, per child, the responsible guardians or all of them
// when none is flagged responsible.
func guardiansFor(links []domain.Guardianship) []domain.UserId {
	byChild := make(map[domain.UserId][]domain.Guardianship)
	for _, l := range links {
		byChild[l.ChildId] = append(byChild[l.ChildId], l)
	}
	var out []domain.UserId
	for _, ls := range byChild {
		var responsible []domain.UserId
		for _, l := range ls {
			if l.Responsible {
				responsible = append(responsible, l.GuardianId)
			}
		}
		if len(responsible) == 0 {
			for _, l := range ls {
				responsible = append(responsible, l.GuardianId)
			}
		}
		out = append(out, responsible...)
	}
	return out
}

func keys(m map[domain.UserId]bool) []domain.UserId {
	out := make([]domain.UserId, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
