package service

import (
	"sync"

	"github.com/example/authgate/internal/domain"
	"github.com/example/authgate/internal/repository"
)

// fakeUserRepository is a map-backed UserRepository for service tests.
type fakeUserRepository struct {
	mu     sync.Mutex
	nextID uint
	users  map[uint]*domain.User
}

func newFakeUserRepository() *fakeUserRepository {
	return &fakeUserRepository{nextID: 1, users: make(map[uint]*domain.User)}
}

func (r *fakeUserRepository) Create(u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u.ID = r.nextID
	r.nextID++
	clone := *u
	r.users[u.ID] = &clone
	return nil
}

func (r *fakeUserRepository) FindByID(id uint) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	clone := *u
	return &clone, nil
}

func (r *fakeUserRepository) FindByEmail(email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			clone := *u
			return &clone, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (r *fakeUserRepository) FindByProviderIdentity(provider, providerUserID string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Provider == provider && u.ProviderUserID != nil && *u.ProviderUserID == providerUserID {
			clone := *u
			return &clone, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (r *fakeUserRepository) Update(u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[u.ID]; !ok {
		return repository.ErrUserNotFound
	}
	clone := *u
	r.users[u.ID] = &clone
	return nil
}
