package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	domainuser "storefront/internal/domain/user"
)

// UserRepository stores users in memory.
type UserRepository struct {
	mu      sync.RWMutex
	byID    map[domainuser.ID]*domainuser.User
	byEmail map[string]domainuser.ID
}

func NewUserRepository() *UserRepository {
	return &UserRepository{
		byID:    make(map[domainuser.ID]*domainuser.User),
		byEmail: make(map[string]domainuser.ID),
	}
}

func (r *UserRepository) ByID(_ context.Context, id domainuser.ID) (*domainuser.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if u, ok := r.byID[id]; ok {
		return cloneUser(u), nil
	}
	return nil, domainuser.ErrNotFound
}

func (r *UserRepository) ByEmail(_ context.Context, email string) (*domainuser.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[domainuser.NormalizeEmail(email)]
	if !ok {
		return nil, domainuser.ErrNotFound
	}
	return cloneUser(r.byID[id]), nil
}

func (r *UserRepository) Save(_ context.Context, u *domainuser.User) error {
	if u == nil || strings.TrimSpace(string(u.ID)) == "" {
		return domainuser.ErrIDRequired
	}
	emailKey := domainuser.NormalizeEmail(u.Email)
	if emailKey == "" {
		return domainuser.ErrEmailRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existingID, ok := r.byEmail[emailKey]; ok && existingID != u.ID {
		return domainuser.ErrEmailAlreadyUsed
	}
	if prev, ok := r.byID[u.ID]; ok && prev.Email != emailKey {
		delete(r.byEmail, prev.Email)
	}
	stored := cloneUser(u)
	stored.Email = emailKey
	r.byEmail[emailKey] = u.ID
	r.byID[u.ID] = stored
	return nil
}

func (r *UserRepository) List(_ context.Context, params domainuser.ListParams) ([]*domainuser.User, int, error) {
	r.mu.RLock()
	matched := make([]*domainuser.User, 0, len(r.byID))
	query := strings.ToLower(strings.TrimSpace(params.Query))
	for _, u := range r.byID {
		if params.Role != "" && u.Role != params.Role {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(u.Name), query) && !strings.Contains(u.Email, query) {
			continue
		}
		matched = append(matched, cloneUser(u))
	}
	r.mu.RUnlock()

	sortByCreation(matched)
	total := len(matched)
	return page(matched, params.Offset, params.Limit), total, nil
}

func (r *UserRepository) ByRole(ctx context.Context, role domainuser.Role, limit int) ([]*domainuser.User, error) {
	users, _, err := r.List(ctx, domainuser.ListParams{Role: role, Limit: limit})
	return users, err
}

func sortByCreation(users []*domainuser.User) {
	sort.Slice(users, func(i, j int) bool {
		if !users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].CreatedAt.Before(users[j].CreatedAt)
		}
		return users[i].ID < users[j].ID
	})
}

func page[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func cloneUser(u *domainuser.User) *domainuser.User {
	if u == nil {
		return nil
	}
	out := *u
	return &out
}

var _ domainuser.Repository = (*UserRepository)(nil)
