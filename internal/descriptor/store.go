// Package descriptor holds the registered command descriptors and loads them
// from YAML or TOML files.
package descriptor

import (
	"sort"
	"sync"

	apperrors "github.com/msageha/termcmd/internal/errors"
	"github.com/msageha/termcmd/internal/model"
	"github.com/msageha/termcmd/internal/text"
)

// Store looks up command descriptors by id.
type Store interface {
	FindByID(id string) (*model.CommandDescriptor, bool)
}

// MemoryStore is a concurrency-safe Store. Ids are compared with the text
// handler's comparison rule.
type MemoryStore struct {
	mu    sync.RWMutex
	text  *text.Handler
	byKey map[string]*model.CommandDescriptor
}

// NewMemoryStore creates an empty store. A nil handler means case-sensitive
// comparison.
func NewMemoryStore(h *text.Handler) *MemoryStore {
	if h == nil {
		h = text.Default()
	}
	return &MemoryStore{
		text:  h,
		byKey: make(map[string]*model.CommandDescriptor),
	}
}

// FindByID returns the descriptor registered under id.
func (s *MemoryStore) FindByID(id string) (*model.CommandDescriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.byKey[s.text.Key(id)]
	return d, ok
}

// Register validates and adds descriptors. The whole call fails if any
// descriptor conflicts with the store or with another descriptor in the call.
func (s *MemoryStore) Register(descriptors ...model.CommandDescriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := make([]model.CommandDescriptor, 0, len(s.byKey)+len(descriptors))
	for _, d := range s.byKey {
		merged = append(merged, *d)
	}
	merged = append(merged, descriptors...)

	index, err := buildIndex(s.text, merged)
	if err != nil {
		return err
	}
	s.byKey = index
	return nil
}

// Replace validates descriptors and swaps them in as the full contents of the
// store. On error the store is unchanged.
func (s *MemoryStore) Replace(descriptors []model.CommandDescriptor) error {
	index, err := buildIndex(s.text, descriptors)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.byKey = index
	s.mu.Unlock()
	return nil
}

// All returns every descriptor sorted by id.
func (s *MemoryStore) All() []*model.CommandDescriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*model.CommandDescriptor, 0, len(s.byKey))
	for _, d := range s.byKey {
		all = append(all, d)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all
}

// Count returns the number of registered descriptors.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byKey)
}

func buildIndex(h *text.Handler, descriptors []model.CommandDescriptor) (map[string]*model.CommandDescriptor, error) {
	if err := Validate(h, descriptors); err != nil {
		return nil, err
	}
	index := make(map[string]*model.CommandDescriptor, len(descriptors))
	for i := range descriptors {
		d := descriptors[i]
		if d.Type == "" {
			d.Type = model.CommandTypeRoot
			if len(d.OwnerIDs) > 0 {
				d.Type = model.CommandTypeSubCommand
			}
		}
		index[h.Key(d.ID)] = &d
	}
	return index, nil
}

// Validate checks the descriptor set as a whole: unique ids, ownership rules,
// and unique option ids and aliases per command.
func Validate(h *text.Handler, descriptors []model.CommandDescriptor) error {
	if h == nil {
		h = text.Default()
	}

	ids := make(map[string]bool, len(descriptors))
	for _, d := range descriptors {
		if d.ID == "" {
			return invalid("the command id is required. name=%s", d.Name)
		}
		key := h.Key(d.ID)
		if ids[key] {
			return invalid("the command id is registered more than once. command=%s", d.ID)
		}
		ids[key] = true
	}

	for _, d := range descriptors {
		if d.Type != "" && !d.Type.Valid() {
			return invalid("the command type is not valid. command=%s type=%s", d.ID, d.Type)
		}
		if d.Type == model.CommandTypeRoot && len(d.OwnerIDs) > 0 {
			return invalid("the root command cannot have owners. command=%s", d.ID)
		}
		if d.Type != "" && d.Type != model.CommandTypeRoot && len(d.OwnerIDs) == 0 {
			return invalid("the non-root command must have at least one owner. command=%s", d.ID)
		}
		for _, owner := range d.OwnerIDs {
			if !ids[h.Key(owner)] {
				return invalid("the command owner is not registered. command=%s owner=%s", d.ID, owner)
			}
			if h.Equal(owner, d.ID) {
				return invalid("the command cannot own itself. command=%s", d.ID)
			}
		}

		argIDs := make(map[string]bool, len(d.Arguments))
		for _, a := range d.Arguments {
			if a.ID == "" {
				return invalid("the argument id is required. command=%s", d.ID)
			}
			if argIDs[a.ID] {
				return invalid("the argument id is declared more than once. command=%s argument=%s", d.ID, a.ID)
			}
			argIDs[a.ID] = true
		}

		names := make(map[string]bool, 2*len(d.Options))
		for _, o := range d.Options {
			if o.ID == "" {
				return invalid("the option id is required. command=%s", d.ID)
			}
			for _, n := range []string{o.ID, o.Alias} {
				if n == "" {
					continue
				}
				if names[n] {
					return invalid("the option id or alias is declared more than once. command=%s option=%s", d.ID, n)
				}
				names[n] = true
			}
		}
	}
	return nil
}

func invalid(format string, args ...any) error {
	return apperrors.New(apperrors.CodeInvalidConfiguration, format, args...)
}
