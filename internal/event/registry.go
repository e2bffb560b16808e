package event

import (
	"sort"
	"sync/atomic"

	"github.com/evcron/evcron/internal/calendar"
	"github.com/evcron/evcron/internal/snapshot"
	"github.com/evcron/evcron/internal/subst"
)

// EventList is one user's event-name -> Event map, rebuilt wholesale
// on every load/reload (never mutated in place).
type EventList struct {
	Username string
	Events   map[string]Event
}

// Test returns every accepted event whose compiled schedule matches dm.
func (l *EventList) Test(dm calendar.DateMasks) []Event {
	var out []Event
	for _, e := range l.Events {
		if e.Accepted() && calendar.Match(e.Schedule, dm) {
			out = append(out, e)
		}
	}
	return out
}

// Get looks up one event by name.
func (l *EventList) Get(name string) (Event, bool) {
	e, ok := l.Events[name]
	return e, ok
}

// DumpLines renders the per-user dump file content: one
// "accepted::<name>" or "rejected:<reason>:<name>" line per event,
// names in deterministic order.
func (l *EventList) DumpLines() []string {
	names := make([]string, 0, len(l.Events))
	for name := range l.Events {
		names = append(names, name)
	}
	sort.Strings(names)

	lines := make([]string, 0, len(names))
	for _, name := range names {
		e := l.Events[name]
		if e.Accepted() {
			lines = append(lines, "accepted::"+name)
		} else {
			lines = append(lines, "rejected:"+string(e.Reject)+":"+name)
		}
	}
	return lines
}

// LoadUser builds a fresh EventList for username from tree, enforcing
// maxEventsPerUser: events beyond the cap (in sorted-name order) are
// kept but forced to RejectMaxEventsReached.
func LoadUser(username string, tree snapshot.Tree, seed subst.Vars, maxEventsPerUser int) *EventList {
	names := SortedNames(tree)
	events := make(map[string]Event, len(names))

	for i, name := range names {
		body := tree[name]
		ev := Load(name, username, body, tree, seed)
		if maxEventsPerUser > 0 && i >= maxEventsPerUser {
			ev.Reject = RejectMaxEventsReached
		}
		events[name] = ev
	}

	return &EventList{Username: username, Events: events}
}

// TreeLoader fetches the resolved snapshot tree for one user, e.g. by
// reading and parsing their installed snapshot file.
type TreeLoader func(username string) (snapshot.Tree, error)

// SeedFunc builds the early-substitution variable seed for one user.
type SeedFunc func(username string) subst.Vars

// Registry is the scheduler's single source of truth for event state:
// {username -> EventList}. Mutated only by Load/Reload/Remove, which
// publish a new immutable map via atomic pointer swap so the hot
// match path (Test) never takes a lock -- a single-writer registry.
type Registry struct {
	ptr              atomic.Pointer[map[string]*EventList]
	loadTree         TreeLoader
	seed             SeedFunc
	maxEventsPerUser int
}

// NewRegistry constructs an empty registry.
func NewRegistry(loadTree TreeLoader, seed SeedFunc, maxEventsPerUser int) *Registry {
	r := &Registry{loadTree: loadTree, seed: seed, maxEventsPerUser: maxEventsPerUser}
	empty := map[string]*EventList{}
	r.ptr.Store(&empty)
	return r
}

func (r *Registry) snapshotMap() map[string]*EventList {
	p := r.ptr.Load()
	if p == nil {
		return nil
	}
	return *p
}

func (r *Registry) buildUser(username string) (*EventList, error) {
	tree, err := r.loadTree(username)
	if err != nil {
		return nil, err
	}
	var seed subst.Vars
	if r.seed != nil {
		seed = r.seed(username)
	}
	return LoadUser(username, tree, seed, r.maxEventsPerUser), nil
}

// Load rebuilds the registry for exactly the given user set. Users
// whose snapshot cannot be read are skipped (kept absent, not
// present-but-empty), and their errors are returned together as a
// LoadErrors.
func (r *Registry) Load(users []string) error {
	next := make(map[string]*EventList, len(users))
	var errs LoadErrors
	for _, u := range users {
		el, err := r.buildUser(u)
		if err != nil {
			errs = append(errs, UserLoadError{Username: u, Err: err})
			continue
		}
		next[u] = el
	}
	r.ptr.Store(&next)
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Reload rebuilds a single user's EventList, leaving every other
// user's list untouched, then publishes the merged map atomically.
func (r *Registry) Reload(username string) error {
	el, err := r.buildUser(username)
	if err != nil {
		return err
	}
	old := r.snapshotMap()
	next := make(map[string]*EventList, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[username] = el
	r.ptr.Store(&next)
	return nil
}

// Remove drops a user's EventList entirely (e.g. no longer allow-listed).
func (r *Registry) Remove(username string) {
	old := r.snapshotMap()
	if _, ok := old[username]; !ok {
		return
	}
	next := make(map[string]*EventList, len(old))
	for k, v := range old {
		if k != username {
			next[k] = v
		}
	}
	r.ptr.Store(&next)
}

// Match pairs a matched event with its owning user.
type Match struct {
	Username string
	Event    Event
}

// Test matches dm against every user's EventList.
func (r *Registry) Test(dm calendar.DateMasks) []Match {
	var out []Match
	for username, el := range r.snapshotMap() {
		for _, e := range el.Test(dm) {
			out = append(out, Match{Username: username, Event: e})
		}
	}
	return out
}

// Lookup resolves one (username, event name) pair, used when expanding
// next/failover chains.
func (r *Registry) Lookup(username, name string) (Event, bool) {
	el, ok := r.snapshotMap()[username]
	if !ok {
		return Event{}, false
	}
	return el.Get(name)
}

// DumpLines returns one user's dump-file lines, or nil if the user has
// no loaded EventList.
func (r *Registry) DumpLines(username string) []string {
	el, ok := r.snapshotMap()[username]
	if !ok {
		return nil
	}
	return el.DumpLines()
}

// Users returns the currently loaded usernames.
func (r *Registry) Users() []string {
	m := r.snapshotMap()
	out := make([]string, 0, len(m))
	for u := range m {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// UserLoadError pairs a username with the error loading its snapshot.
type UserLoadError struct {
	Username string
	Err      error
}

func (e UserLoadError) Error() string { return e.Username + ": " + e.Err.Error() }

// LoadErrors aggregates per-user load failures from Registry.Load.
type LoadErrors []UserLoadError

func (e LoadErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	s := e[0].Error()
	for _, more := range e[1:] {
		s += "; " + more.Error()
	}
	return s
}
