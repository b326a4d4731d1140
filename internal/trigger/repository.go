// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package trigger

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sync"
)

// OverridesKey is the kv-store key holding the persisted override table.
const OverridesKey = "trigger/overrides"

var (
	// ErrBuiltinImmutable is returned when a built-in is edited or deleted
	// individually.
	ErrBuiltinImmutable = errors.New("built-in triggers are immutable; remove by category or shadow with a custom trigger")

	// ErrUnknownTrigger is returned when a named trigger does not exist.
	ErrUnknownTrigger = errors.New("unknown trigger")

	// ErrInvalidCategory is returned for categories outside the closed set.
	ErrInvalidCategory = errors.New("invalid trigger category")
)

// KV is the slice of the durable store the repository needs.
type KV interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
}

// overridesDoc is the persisted override table.
type overridesDoc struct {
	// Definitions are the override entries in insertion order. An entry
	// whose key collides with a built-in shadows it (custom wins).
	Definitions []*Definition `json:"definitions"`

	// RemovedCategories lists built-in categories the user deleted.
	RemovedCategories []Category `json:"removed_categories,omitempty"`
}

// =============================================================================
// REPOSITORY
// =============================================================================

// Repository holds the merged trigger table: the fixed built-in table merged
// with the persisted override table, custom definitions winning on key
// collisions. All mutations persist synchronously through the injected KV.
type Repository struct {
	mu       sync.RWMutex
	kv       KV
	defs     []*Definition // merged table, in table order
	patterns map[string]*regexp.Regexp
	doc      overridesDoc
}

// NewRepository loads the merged table from the built-ins and the persisted
// overrides.
func NewRepository(kv KV) (*Repository, error) {
	r := &Repository{kv: kv}

	if raw, ok, err := kv.Get(OverridesKey); err != nil {
		return nil, fmt.Errorf("loading trigger overrides: %w", err)
	} else if ok {
		if err := json.Unmarshal([]byte(raw), &r.doc); err != nil {
			return nil, fmt.Errorf("parsing trigger overrides: %w", err)
		}
	}

	r.rebuild()
	return r, nil
}

// rebuild recomputes the merged table and pattern cache. Caller holds the
// write lock (or has exclusive access during construction).
func (r *Repository) rebuild() {
	removed := make(map[Category]bool)
	for _, c := range r.doc.RemovedCategories {
		removed[c] = true
	}
	shadow := make(map[string]*Definition)
	for _, d := range r.doc.Definitions {
		shadow[d.Key()] = d
	}

	var defs []*Definition
	for _, b := range builtins {
		if removed[b.Category] {
			continue
		}
		if o, ok := shadow[b.Key()]; ok {
			defs = append(defs, o.Clone())
			delete(shadow, b.Key())
			continue
		}
		defs = append(defs, b.Clone())
	}
	// Remaining overrides are custom additions, kept in insertion order.
	for _, d := range r.doc.Definitions {
		if _, ok := shadow[d.Key()]; ok {
			defs = append(defs, d.Clone())
		}
	}

	patterns := make(map[string]*regexp.Regexp, len(defs))
	for _, d := range defs {
		p, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(d.Trigger) + `\b`)
		if err != nil {
			continue // unmatchable phrase, leave it out of detection
		}
		patterns[d.Key()] = p
	}

	r.defs = defs
	r.patterns = patterns
}

// persist writes the override document. Caller holds the write lock.
func (r *Repository) persist() error {
	raw, err := json.Marshal(r.doc)
	if err != nil {
		return fmt.Errorf("encoding trigger overrides: %w", err)
	}
	if err := r.kv.Set(OverridesKey, string(raw)); err != nil {
		return fmt.Errorf("persisting trigger overrides: %w", err)
	}
	return nil
}

// =============================================================================
// READS
// =============================================================================

// List returns the merged table in table order.
func (r *Repository) List() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Definition, len(r.defs))
	for i, d := range r.defs {
		out[i] = d.Clone()
	}
	return out
}

// Get returns the definition for the given trigger name.
func (r *Repository) Get(name string) (*Definition, error) {
	key := folder.String(name)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.defs {
		if d.Key() == key {
			return d.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%q: %w", name, ErrUnknownTrigger)
}

// =============================================================================
// MUTATIONS
// =============================================================================

// Upsert adds or replaces a custom definition. A definition whose key matches
// a built-in shadows it.
func (r *Repository) Upsert(def *Definition) error {
	if !def.Category.Valid() {
		return fmt.Errorf("%q: %w", def.Category, ErrInvalidCategory)
	}
	def = def.Clone()
	def.Custom = true

	r.mu.Lock()
	defer r.mu.Unlock()

	replaced := false
	for i, d := range r.doc.Definitions {
		if d.Key() == def.Key() {
			r.doc.Definitions[i] = def
			replaced = true
			break
		}
	}
	if !replaced {
		r.doc.Definitions = append(r.doc.Definitions, def)
	}
	if err := r.persist(); err != nil {
		return err
	}
	r.rebuild()
	return nil
}

// Remove deletes a custom definition. Built-ins cannot be removed
// individually.
func (r *Repository) Remove(name string) error {
	key := folder.String(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	for i, d := range r.doc.Definitions {
		if d.Key() == key {
			r.doc.Definitions = append(r.doc.Definitions[:i], r.doc.Definitions[i+1:]...)
			if err := r.persist(); err != nil {
				return err
			}
			r.rebuild()
			return nil
		}
	}
	for _, b := range builtins {
		if b.Key() == key {
			return ErrBuiltinImmutable
		}
	}
	return fmt.Errorf("%q: %w", name, ErrUnknownTrigger)
}

// RemoveCategory deletes every built-in of the given category. Custom
// definitions in that category are untouched.
func (r *Repository) RemoveCategory(c Category) error {
	if !c.Valid() {
		return fmt.Errorf("%q: %w", c, ErrInvalidCategory)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.doc.RemovedCategories {
		if existing == c {
			return nil
		}
	}
	r.doc.RemovedCategories = append(r.doc.RemovedCategories, c)
	if err := r.persist(); err != nil {
		return err
	}
	r.rebuild()
	return nil
}

// Reset drops every override, restoring the pristine built-in table.
func (r *Repository) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.doc = overridesDoc{}
	if err := r.persist(); err != nil {
		return err
	}
	r.rebuild()
	return nil
}
