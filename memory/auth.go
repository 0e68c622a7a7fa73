package memory

import (
	"sort"
	"strings"
	"sync"
)

// AllowList is the set of user identifiers permitted to write global
// knowledge. It is safe for concurrent use and can be replaced at runtime
// when the configuration file changes.
type AllowList struct {
	mu    sync.RWMutex
	users map[string]struct{}
}

// NewAllowList creates an allow-list from user identifiers. Identifiers are
// trimmed; empty entries are ignored.
func NewAllowList(users ...string) *AllowList {
	a := &AllowList{}
	a.Replace(users)
	return a
}

// Contains reports whether userID is authorized.
func (a *AllowList) Contains(userID string) bool {
	if a == nil || userID == "" {
		return false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.users[strings.TrimSpace(userID)]
	return ok
}

// Replace swaps the full set of authorized users.
func (a *AllowList) Replace(users []string) {
	set := make(map[string]struct{}, len(users))
	for _, u := range users {
		u = strings.TrimSpace(u)
		if u != "" {
			set[u] = struct{}{}
		}
	}
	a.mu.Lock()
	a.users = set
	a.mu.Unlock()
}

// Users returns the authorized users in sorted order.
func (a *AllowList) Users() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.users))
	for u := range a.users {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}
