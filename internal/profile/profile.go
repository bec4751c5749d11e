// Package profile owns the rule list and the global scroll toggles.
//
// The engine reads the profile through Store.Current on every event. Writers
// build a new Snapshot and swap it in atomically, so readers never lock and
// never observe a half-applied edit.
package profile

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"mousebrainz/internal/input"
)

var (
	ErrRuleNotFound  = errors.New("rule not found")
	ErrDuplicateRule = errors.New("duplicate rule id")
)

// Snapshot is an immutable view of the profile. The Rules slice is shared
// between readers and must not be modified.
type Snapshot struct {
	Rules           []input.Rule
	InvertScrolling bool
	SmoothScrolling bool
}

// Match returns the first enabled rule matching t.
func (s Snapshot) Match(t input.Trigger) (input.Rule, bool) {
	return input.FirstMatch(s.Rules, t)
}

// Rule looks a rule up by id.
func (s Snapshot) Rule(id string) (input.Rule, int, bool) {
	for i, r := range s.Rules {
		if r.ID == id {
			return r, i, true
		}
	}
	return input.Rule{}, -1, false
}

// Validate checks every rule and the uniqueness of ids.
func (s Snapshot) Validate() error {
	seen := make(map[string]struct{}, len(s.Rules))
	for i, r := range s.Rules {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("rules[%d]: %w", i, err)
		}
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("rules[%d]: %w: %s", i, ErrDuplicateRule, r.ID)
		}
		seen[r.ID] = struct{}{}
	}
	return nil
}

func (s Snapshot) clone() Snapshot {
	out := s
	out.Rules = append([]input.Rule(nil), s.Rules...)
	return out
}

// ChangeSource tells subscribers why the profile changed.
type ChangeSource string

const (
	SourceLoad   ChangeSource = "load"
	SourceEdit   ChangeSource = "edit"
	SourceReload ChangeSource = "reload"
)

// Store holds the live profile. A Store with an empty path is memory-only.
type Store struct {
	path   string
	logger *slog.Logger

	cur atomic.Pointer[Snapshot]

	// mu serializes writers and guards lastData.
	mu       sync.Mutex
	lastData []byte

	subsMu sync.Mutex
	subs   []func(Snapshot, ChangeSource)
}

// NewStore creates a store holding an empty profile.
func NewStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{path: path, logger: logger}
	s.cur.Store(&Snapshot{})
	return s
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Current returns the live snapshot. Safe to call from any goroutine.
func (s *Store) Current() Snapshot {
	return *s.cur.Load()
}

// Rules returns the live rule list.
func (s *Store) Rules() []input.Rule {
	return s.cur.Load().Rules
}

func (s *Store) InvertScrolling() bool { return s.cur.Load().InvertScrolling }

func (s *Store) SmoothScrolling() bool { return s.cur.Load().SmoothScrolling }

// OnChange registers fn to be called after every successful swap.
// Callbacks run on the goroutine that made the change.
func (s *Store) OnChange(fn func(Snapshot, ChangeSource)) {
	s.subsMu.Lock()
	s.subs = append(s.subs, fn)
	s.subsMu.Unlock()
}

func (s *Store) notify(snap Snapshot, src ChangeSource) {
	s.subsMu.Lock()
	subs := slices.Clone(s.subs)
	s.subsMu.Unlock()
	for _, fn := range subs {
		fn(snap, src)
	}
}

// Replace validates snap, persists it and makes it live.
func (s *Store) Replace(snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitLocked(snap.clone(), SourceEdit)
}

// commitLocked validates, persists and swaps. Caller holds s.mu.
func (s *Store) commitLocked(next Snapshot, src ChangeSource) error {
	if err := next.Validate(); err != nil {
		return err
	}
	if s.path != "" && src == SourceEdit {
		data, err := encode(next)
		if err != nil {
			return err
		}
		if err := writeFileAtomic(s.path, data); err != nil {
			return fmt.Errorf("save profile: %w", err)
		}
		s.lastData = data
	}
	s.cur.Store(&next)
	s.logger.Debug("profile swapped", "source", src, "rules", len(next.Rules))
	s.notify(next, src)
	return nil
}

// edit applies fn to a private copy of the current snapshot and commits it.
func (s *Store) edit(fn func(*Snapshot) error) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cur.Load().clone()
	if err := fn(&next); err != nil {
		return Snapshot{}, err
	}
	if err := s.commitLocked(next, SourceEdit); err != nil {
		return Snapshot{}, err
	}
	return next, nil
}

// AddRule appends r. A rule without an id gets a fresh one.
func (s *Store) AddRule(r input.Rule) (input.Rule, error) {
	if r.ID == "" {
		r.ID = input.NewRuleID()
	}
	_, err := s.edit(func(snap *Snapshot) error {
		if _, _, ok := snap.Rule(r.ID); ok {
			return fmt.Errorf("%w: %s", ErrDuplicateRule, r.ID)
		}
		snap.Rules = append(snap.Rules, r)
		return nil
	})
	if err != nil {
		return input.Rule{}, err
	}
	return r, nil
}

// UpdateRule replaces the rule with the same id, keeping its position.
func (s *Store) UpdateRule(r input.Rule) error {
	_, err := s.edit(func(snap *Snapshot) error {
		_, i, ok := snap.Rule(r.ID)
		if !ok {
			return fmt.Errorf("%w: %s", ErrRuleNotFound, r.ID)
		}
		snap.Rules[i] = r
		return nil
	})
	return err
}

// RemoveRule deletes a rule by id.
func (s *Store) RemoveRule(id string) error {
	_, err := s.edit(func(snap *Snapshot) error {
		_, i, ok := snap.Rule(id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
		}
		snap.Rules = append(snap.Rules[:i], snap.Rules[i+1:]...)
		return nil
	})
	return err
}

// SetEnabled flips the enabled flag of a rule.
func (s *Store) SetEnabled(id string, enabled bool) error {
	_, err := s.edit(func(snap *Snapshot) error {
		_, i, ok := snap.Rule(id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
		}
		snap.Rules[i].Enabled = enabled
		return nil
	})
	return err
}

// MoveRule moves a rule to index, which is clamped to the list bounds.
func (s *Store) MoveRule(id string, index int) error {
	_, err := s.edit(func(snap *Snapshot) error {
		r, i, ok := snap.Rule(id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
		}
		rules := append(snap.Rules[:i:i], snap.Rules[i+1:]...)
		if index < 0 {
			index = 0
		}
		if index > len(rules) {
			index = len(rules)
		}
		rules = append(rules, input.Rule{})
		copy(rules[index+1:], rules[index:])
		rules[index] = r
		snap.Rules = rules
		return nil
	})
	return err
}

// SetToggles updates the global toggles. Nil pointers leave a toggle as is.
func (s *Store) SetToggles(invert, smooth *bool) (Snapshot, error) {
	return s.edit(func(snap *Snapshot) error {
		if invert != nil {
			snap.InvertScrolling = *invert
		}
		if smooth != nil {
			snap.SmoothScrolling = *smooth
		}
		return nil
	})
}
