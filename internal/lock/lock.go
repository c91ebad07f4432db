// Package lock guards exchange balances claimed by an in-flight execution.
package lock

import (
	"context"
	"sort"
	"strings"
	"time"
)

// Key identifies a balance: one asset on one exchange.
type Key struct {
	Exchange string
	Asset    string
}

func (k Key) String() string {
	return strings.ToLower(k.Exchange) + ":" + strings.ToUpper(k.Asset)
}

// Locker acquires all keys or none. A key already held yields a
// CapitalLocked error. release is safe to call more than once.
type Locker interface {
	Acquire(ctx context.Context, keys []Key, ttl time.Duration) (release func(), err error)
}

// normalize dedupes keys and sorts them so every caller locks in the same order.
func normalize(keys []Key) []string {
	seen := make(map[string]bool, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		s := k.String()
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func exchangeOf(key string) string {
	ex, _, _ := strings.Cut(key, ":")
	return ex
}
