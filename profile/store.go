// Package profile stores the user-entered onboarding record.
package profile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when no profile exists for an id.
var ErrNotFound = errors.New("profile not found")

// Profile is the onboarding record: a display name and birthdate fields.
type Profile struct {
	Name  string `json:"name"`
	Day   string `json:"day"`
	Month string `json:"month"`
	Year  string `json:"year"`
}

// Store keeps profiles in Redis, falling back to an in-process map when
// Redis is unavailable (the server tolerates a missing Redis the same
// way the session registry does).
type Store struct {
	redis *redis.Client

	mu    sync.RWMutex
	local map[string]Profile
}

// NewStore creates a store. rdb may be nil.
func NewStore(rdb *redis.Client) *Store {
	return &Store{
		redis: rdb,
		local: make(map[string]Profile),
	}
}

// Get retrieves a profile by id.
func (s *Store) Get(ctx context.Context, id string) (*Profile, error) {
	if id == "" {
		return nil, fmt.Errorf("empty profile id")
	}

	if s.redis != nil {
		fields, err := s.redis.HGetAll(ctx, "profile:"+id).Result()
		if err != nil {
			return nil, fmt.Errorf("profile lookup: %w", err)
		}
		if len(fields) == 0 {
			return nil, ErrNotFound
		}
		return &Profile{
			Name:  fields["name"],
			Day:   fields["day"],
			Month: fields["month"],
			Year:  fields["year"],
		}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.local[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

// Put saves a profile. The name must be non-empty.
func (s *Store) Put(ctx context.Context, id string, p Profile) error {
	if id == "" {
		return fmt.Errorf("empty profile id")
	}
	if p.Name == "" {
		return fmt.Errorf("profile name is required")
	}

	if s.redis != nil {
		if err := s.redis.HSet(ctx, "profile:"+id, map[string]interface{}{
			"name":       p.Name,
			"day":        p.Day,
			"month":      p.Month,
			"year":       p.Year,
			"updated_at": time.Now().Format(time.RFC3339),
		}).Err(); err != nil {
			return fmt.Errorf("profile save: %w", err)
		}
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.local[id] = p
	return nil
}
