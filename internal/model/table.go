package model

import (
	"fmt"
	"regexp"
	"sort"
)

// Table names a document collection. Values only come out of a TableSet, so
// a Table held by the store is always allow-listed.
type Table string

func (t Table) String() string { return string(t) }

const (
	ProfilePrompts = "prompts"
	ProfilePOS     = "pos"
)

// Profiles maps a profile name to the collections its front-end uses.
var Profiles = map[string][]string{
	ProfilePrompts: {"prompts", "users", "comments", "likes", "remixes", "categories", "bookmarks"},
	ProfilePOS:     {"menu_items", "orders", "transactions", "waiters", "config", "cash_closures"},
}

// reservedTables collide with fixed routes under /api.
var reservedTables = map[string]struct{}{
	"auth":    {},
	"changes": {},
}

var tableNameRegex = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// TableSet is the closed set of collections a process serves.
type TableSet struct {
	order []Table
	index map[Table]struct{}
}

func NewTableSet(names ...string) (TableSet, error) {
	set := TableSet{index: make(map[Table]struct{}, len(names))}
	for _, name := range names {
		if !tableNameRegex.MatchString(name) {
			return TableSet{}, fmt.Errorf("invalid table name %q", name)
		}
		if _, ok := reservedTables[name]; ok {
			return TableSet{}, fmt.Errorf("table name %q is reserved", name)
		}
		t := Table(name)
		if _, dup := set.index[t]; dup {
			continue
		}
		set.index[t] = struct{}{}
		set.order = append(set.order, t)
	}
	if len(set.order) == 0 {
		return TableSet{}, fmt.Errorf("no tables configured")
	}
	return set, nil
}

func ProfileTableSet(profile string) (TableSet, error) {
	names, ok := Profiles[profile]
	if !ok {
		known := make([]string, 0, len(Profiles))
		for k := range Profiles {
			known = append(known, k)
		}
		sort.Strings(known)
		return TableSet{}, fmt.Errorf("unknown profile %q (known: %v)", profile, known)
	}
	return NewTableSet(names...)
}

// MustTableSet is NewTableSet for fixed, known-good names.
func MustTableSet(names ...string) TableSet {
	set, err := NewTableSet(names...)
	if err != nil {
		panic(err)
	}
	return set
}

// Lookup resolves a raw name (e.g. a URL segment) into an allow-listed Table.
func (s TableSet) Lookup(name string) (Table, bool) {
	t := Table(name)
	_, ok := s.index[t]
	return t, ok
}

func (s TableSet) Contains(t Table) bool {
	_, ok := s.index[t]
	return ok
}

func (s TableSet) Tables() []Table {
	out := make([]Table, len(s.order))
	copy(out, s.order)
	return out
}
