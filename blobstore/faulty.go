package blobstore

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrInjected is the default error of a Fault.
var ErrInjected = errors.New("injected fault")

// Fault defines the failure behavior of matching blobs.
type Fault struct {
	// FailPuts is the number of writes that fail before writes succeed
	// again. -1 fails every write.
	FailPuts int
	// FailOpen fails every read.
	FailOpen bool
	Err      error
}

// FaultyStore is a BlobStore wrapper that can inject errors.
type FaultyStore struct {
	BlobStore

	mu    sync.Mutex
	rules map[string]*Fault // name prefix -> fault
	puts  int
}

// NewFaultyStore wraps s.
func NewFaultyStore(s BlobStore) *FaultyStore {
	return &FaultyStore{BlobStore: s, rules: make(map[string]*Fault)}
}

// AddRule injects fault into every blob whose name has prefix. A later
// rule for the same prefix replaces the earlier one.
func (f *FaultyStore) AddRule(prefix string, fault Fault) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if fault.Err == nil {
		fault.Err = ErrInjected
	}
	f.rules[prefix] = &fault
}

// Clear removes every rule.
func (f *FaultyStore) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()

	clear(f.rules)
}

// Puts returns the number of writes that reached the wrapped store.
func (f *FaultyStore) Puts() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.puts
}

// match returns the rule with the longest matching prefix. Callers hold f.mu.
func (f *FaultyStore) match(name string) *Fault {
	var best *Fault
	bestLen := -1
	for prefix, rule := range f.rules {
		if strings.HasPrefix(name, prefix) && len(prefix) > bestLen {
			best, bestLen = rule, len(prefix)
		}
	}
	return best
}

func (f *FaultyStore) Open(ctx context.Context, name string) (Blob, error) {
	f.mu.Lock()
	rule := f.match(name)
	f.mu.Unlock()

	if rule != nil && rule.FailOpen {
		return nil, rule.Err
	}
	return f.BlobStore.Open(ctx, name)
}

func (f *FaultyStore) Put(ctx context.Context, name string, data []byte) error {
	f.mu.Lock()
	if rule := f.match(name); rule != nil && rule.FailPuts != 0 {
		if rule.FailPuts > 0 {
			rule.FailPuts--
		}
		err := rule.Err
		f.mu.Unlock()
		return err
	}
	f.puts++
	f.mu.Unlock()

	return f.BlobStore.Put(ctx, name, data)
}
