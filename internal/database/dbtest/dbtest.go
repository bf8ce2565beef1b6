// Package dbtest provides document stores for tests: an in-memory SQLite
// store and a wrapper that injects failures into chosen operations.
package dbtest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/charlie0129/daytracker/internal/database"
)

// ErrInjected is the cause of every injected failure.
var ErrInjected = errors.New("injected failure")

// NewStore returns an in-memory SQLite store closed at test cleanup.
func NewStore(t *testing.T) *database.SQLite {
	t.Helper()
	s, err := database.NewSQLiteMemory()
	if err != nil {
		t.Fatalf("new memory store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// Rule decides whether a call of op on path fails. Rules are invoked under
// the wrapper's lock and may keep state.
type Rule func(op, path string) bool

// FailOn fails only the n-th (1-based) call of op whose path contains substr.
func FailOn(op, substr string, n int) Rule {
	seen := 0
	return func(gotOp, path string) bool {
		if gotOp != op || !strings.Contains(path, substr) {
			return false
		}
		seen++
		return seen == n
	}
}

// FailAlways fails every call of op whose path contains substr.
func FailAlways(op, substr string) Rule {
	return func(gotOp, path string) bool {
		return gotOp == op && strings.Contains(path, substr)
	}
}

// Faulty wraps a store and fails calls matched by its rules with a
// *database.StoreError.
type Faulty struct {
	database.Store

	mu    sync.Mutex
	rules []Rule
	calls map[string]int
}

func NewFaulty(inner database.Store, rules ...Rule) *Faulty {
	return &Faulty{Store: inner, rules: rules, calls: map[string]int{}}
}

// Reset clears all rules so the wrapped store behaves normally again.
func (f *Faulty) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = nil
}

// Add appends rules.
func (f *Faulty) Add(rules ...Rule) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, rules...)
}

// Calls reports how many times op was invoked.
func (f *Faulty) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *Faulty) check(op, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	for _, rule := range f.rules {
		if rule(op, path) {
			return &database.StoreError{Op: op, Path: path, Err: ErrInjected}
		}
	}
	return nil
}

func (f *Faulty) Get(ctx context.Context, docPath string) (database.Document, error) {
	if err := f.check("get", docPath); err != nil {
		return nil, err
	}
	return f.Store.Get(ctx, docPath)
}

func (f *Faulty) Set(ctx context.Context, docPath string, doc database.Document) error {
	if err := f.check("set", docPath); err != nil {
		return err
	}
	return f.Store.Set(ctx, docPath, doc)
}

func (f *Faulty) Delete(ctx context.Context, docPath string) error {
	if err := f.check("delete", docPath); err != nil {
		return err
	}
	return f.Store.Delete(ctx, docPath)
}

func (f *Faulty) List(ctx context.Context, collection string) ([]database.Snapshot, error) {
	if err := f.check("list", collection); err != nil {
		return nil, err
	}
	return f.Store.List(ctx, collection)
}
