package service

import (
	"context"

	"github.com/aussiebroadwan/lapse/internal/auth/domain"
)

// Directory answers whether an identity may sign in at all. Unknown
// identities get the same response as known ones, they just never
// receive an email.
type Directory interface {
	Known(ctx context.Context, id domain.Identity) (bool, error)
}

// AllowList is a Directory backed by a fixed set of addresses. An empty
// list knows everyone.
type AllowList struct {
	members map[domain.Identity]struct{}
}

func NewAllowList(emails []string) *AllowList {
	members := make(map[domain.Identity]struct{}, len(emails))
	for _, e := range emails {
		if id := domain.NormalizeIdentity(e); id != "" {
			members[id] = struct{}{}
		}
	}
	return &AllowList{members: members}
}

func (a *AllowList) Known(_ context.Context, id domain.Identity) (bool, error) {
	if len(a.members) == 0 {
		return true, nil
	}
	_, ok := a.members[id]
	return ok, nil
}
