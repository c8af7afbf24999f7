// Package registry tracks which owners (connections or users) are interested in which symbols
// and which global groups they joined.
package registry

import (
	"sort"
	"strings"
	"sync"

	"quote_pulse/internal/domain"
)

// globalPrefix separates global group keys from symbol keys; '#' is never valid in a symbol.
const globalPrefix = "#"

type ownerEntry struct {
	mu     sync.Mutex
	groups map[string]struct{}
	dead   bool // removed from the registry; callers must reload
}

type groupEntry struct {
	mu      sync.RWMutex
	members map[domain.Owner]struct{}
	dead    bool
}

// Registry maps owners to groups and groups to owners.
//
// Every owner and every group has its own lock, so operations on unrelated keys never
// contend. Locks are always taken owner first, then group. A membership is only added
// while holding a live owner entry, and teardown removes the owner entry under the same
// lock, so no group is left holding a member that the owner side no longer knows about.
type Registry struct {
	owners sync.Map // domain.Owner -> *ownerEntry
	groups sync.Map // group key -> *groupEntry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{}
}

func globalKey(group string) string {
	return globalPrefix + group
}

func isGlobal(key string) bool {
	return strings.HasPrefix(key, globalPrefix)
}

// Subscribe adds symbol to owner's interest set. Returns false if already present.
func (r *Registry) Subscribe(owner domain.Owner, symbol string) bool {
	return r.add(owner, symbol)
}

// Unsubscribe removes a membership. Returns false if it was absent.
func (r *Registry) Unsubscribe(owner domain.Owner, symbol string) bool {
	return r.remove(owner, symbol)
}

// JoinGroup adds owner to a global group such as domain.GroupPopular.
func (r *Registry) JoinGroup(owner domain.Owner, group string) bool {
	return r.add(owner, globalKey(group))
}

// LeaveGroup removes owner from a global group.
func (r *Registry) LeaveGroup(owner domain.Owner, group string) bool {
	return r.remove(owner, globalKey(group))
}

// OnConnectionClosed drops every membership held by owner, symbol groups and global groups alike.
// Unknown owners are ignored.
func (r *Registry) OnConnectionClosed(owner domain.Owner) {
	v, ok := r.owners.Load(owner)
	if !ok {
		return
	}
	oe := v.(*ownerEntry)

	oe.mu.Lock()
	defer oe.mu.Unlock()
	if oe.dead {
		return
	}
	for key := range oe.groups {
		r.detach(key, owner)
	}
	oe.groups = nil
	oe.dead = true
	r.owners.CompareAndDelete(owner, oe)
}

// SubscribersOf returns the current members of a symbol group.
func (r *Registry) SubscribersOf(symbol string) []domain.Owner {
	return r.members(symbol)
}

// MembersOf returns the current members of a global group.
func (r *Registry) MembersOf(group string) []domain.Owner {
	return r.members(globalKey(group))
}

// WatchedSymbols returns, sorted, every symbol with at least one subscriber.
// Global group membership does not count.
func (r *Registry) WatchedSymbols() []string {
	var symbols []string
	r.groups.Range(func(key, value any) bool {
		k := key.(string)
		if isGlobal(k) {
			return true
		}
		ge := value.(*groupEntry)
		ge.mu.RLock()
		if !ge.dead && len(ge.members) > 0 {
			symbols = append(symbols, k)
		}
		ge.mu.RUnlock()
		return true
	})
	sort.Strings(symbols)
	return symbols
}

// SymbolsOf returns, sorted, the symbols owner is subscribed to.
func (r *Registry) SymbolsOf(owner domain.Owner) []string {
	v, ok := r.owners.Load(owner)
	if !ok {
		return nil
	}
	oe := v.(*ownerEntry)
	oe.mu.Lock()
	defer oe.mu.Unlock()

	symbols := make([]string, 0, len(oe.groups))
	for key := range oe.groups {
		if !isGlobal(key) {
			symbols = append(symbols, key)
		}
	}
	sort.Strings(symbols)
	return symbols
}

// Stats is a point-in-time count of registry entries.
type Stats struct {
	Owners int `json:"owners"`
	Groups int `json:"groups"`
}

// Stats counts live owners and non-empty groups.
func (r *Registry) Stats() Stats {
	var st Stats
	r.owners.Range(func(_, _ any) bool {
		st.Owners++
		return true
	})
	r.groups.Range(func(_, _ any) bool {
		st.Groups++
		return true
	})
	return st
}

// Close tears down every owner. Used at service shutdown.
func (r *Registry) Close() {
	r.owners.Range(func(key, _ any) bool {
		r.OnConnectionClosed(key.(domain.Owner))
		return true
	})
}

func (r *Registry) add(owner domain.Owner, key string) bool {
	for {
		v, _ := r.owners.LoadOrStore(owner, &ownerEntry{groups: make(map[string]struct{})})
		oe := v.(*ownerEntry)

		oe.mu.Lock()
		if oe.dead {
			oe.mu.Unlock()
			continue
		}
		if _, exists := oe.groups[key]; exists {
			oe.mu.Unlock()
			return false
		}
		r.attach(key, owner)
		oe.groups[key] = struct{}{}
		oe.mu.Unlock()
		return true
	}
}

func (r *Registry) remove(owner domain.Owner, key string) bool {
	v, ok := r.owners.Load(owner)
	if !ok {
		return false
	}
	oe := v.(*ownerEntry)

	oe.mu.Lock()
	defer oe.mu.Unlock()
	if oe.dead {
		return false
	}
	if _, exists := oe.groups[key]; !exists {
		return false
	}
	r.detach(key, owner)
	delete(oe.groups, key)

	if len(oe.groups) == 0 {
		oe.dead = true
		r.owners.CompareAndDelete(owner, oe)
	}
	return true
}

// attach must be called with the owner lock held.
func (r *Registry) attach(key string, owner domain.Owner) {
	for {
		v, _ := r.groups.LoadOrStore(key, &groupEntry{members: make(map[domain.Owner]struct{})})
		ge := v.(*groupEntry)

		ge.mu.Lock()
		if ge.dead {
			ge.mu.Unlock()
			continue
		}
		ge.members[owner] = struct{}{}
		ge.mu.Unlock()
		return
	}
}

// detach must be called with the owner lock held.
func (r *Registry) detach(key string, owner domain.Owner) {
	v, ok := r.groups.Load(key)
	if !ok {
		return
	}
	ge := v.(*groupEntry)

	ge.mu.Lock()
	defer ge.mu.Unlock()
	delete(ge.members, owner)
	if len(ge.members) == 0 && !ge.dead {
		ge.dead = true
		r.groups.CompareAndDelete(key, ge)
	}
}

func (r *Registry) members(key string) []domain.Owner {
	v, ok := r.groups.Load(key)
	if !ok {
		return nil
	}
	ge := v.(*groupEntry)

	ge.mu.RLock()
	defer ge.mu.RUnlock()
	if ge.dead {
		return nil
	}
	owners := make([]domain.Owner, 0, len(ge.members))
	for o := range ge.members {
		owners = append(owners, o)
	}
	sort.Slice(owners, func(i, j int) bool { return owners[i] < owners[j] })
	return owners
}
