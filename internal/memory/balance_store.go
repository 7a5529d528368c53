package memory

import (
	"context"
	"sync"

	"evcs/internal"
	"evcs/models"
)

type BalanceStore struct {
	userTags map[string]*models.UserTag
	mux      sync.Mutex
}

func NewBalanceStore() *BalanceStore {
	return &BalanceStore{
		userTags: make(map[string]*models.UserTag),
	}
}

func (s *BalanceStore) GetUserTag(_ context.Context, idTag string) (*models.UserTag, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	userTag, ok := s.userTags[idTag]
	if !ok {
		return nil, internal.ErrNotFound
	}
	copied := *userTag
	return &copied, nil
}

// AddUserTag provisions a tag; the balance of an existing tag is left untouched
func (s *BalanceStore) AddUserTag(_ context.Context, userTag *models.UserTag) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	copied := *userTag
	if existing, ok := s.userTags[userTag.IdTag]; ok {
		copied.Balance = existing.Balance
		copied.DateRegistered = existing.DateRegistered
	}
	s.userTags[userTag.IdTag] = &copied
	return nil
}

func (s *BalanceStore) DecreaseBalance(_ context.Context, idTag string, amount float64) (float64, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	userTag, ok := s.userTags[idTag]
	if !ok {
		return 0, internal.ErrNotFound
	}
	before := userTag.Balance
	userTag.Balance -= amount
	return before, nil
}

func (s *BalanceStore) IncreaseBalance(_ context.Context, idTag string, amount float64) (float64, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	userTag, ok := s.userTags[idTag]
	if !ok {
		return 0, internal.ErrNotFound
	}
	userTag.Balance += amount
	return userTag.Balance, nil
}
