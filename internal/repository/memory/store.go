// Package memory holds in-process implementations of the repository
// interfaces. It backs STORE_DRIVER=memory and the service tests.
package memory

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"unitalk/internal/model"
)

// Store is the shared state behind every in-memory repository.
type Store struct {
	mu            sync.RWMutex
	users         map[string]*model.User
	profileImages map[string]*string
	contacts      map[string][]string
	devices       map[string]*model.Device // by device id
	conversations map[string]*model.Conversation
	groups        map[string]bool
	members       map[string][]model.GroupMember
	messages      map[string]*model.Message
	messageOrder  []string

	now func() time.Time
}

func NewStore() *Store {
	return &Store{
		users:         make(map[string]*model.User),
		profileImages: make(map[string]*string),
		contacts:      make(map[string][]string),
		devices:       make(map[string]*model.Device),
		conversations: make(map[string]*model.Conversation),
		groups:        make(map[string]bool),
		members:       make(map[string][]model.GroupMember),
		messages:      make(map[string]*model.Message),
		now:           time.Now,
	}
}

// Seeding helpers. The core never writes users, contacts or groups.

func (s *Store) AddUser(u model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.LanguageCode == "" {
		u.LanguageCode = "en"
	}
	s.users[u.ID] = &u
}

func (s *Store) AddContact(userID, contactUserID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.contacts[userID] {
		if id == contactUserID {
			return
		}
	}
	s.contacts[userID] = append(s.contacts[userID], contactUserID)
}

func (s *Store) AddGroup(groupID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[groupID] = true
}

func (s *Store) AddGroupMember(groupID, userID, role string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[groupID] = true
	for _, m := range s.members[groupID] {
		if m.UserID == userID {
			return
		}
	}
	s.members[groupID] = append(s.members[groupID], model.GroupMember{
		GroupID:  groupID,
		UserID:   userID,
		Role:     role,
		JoinedAt: s.now(),
	})
}

func newID() string {
	return uuid.NewString()
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
