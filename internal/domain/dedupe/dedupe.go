// Package dedupe remembers idempotency keys of stat mutations so a retried
// request returns the original result instead of writing twice.
package dedupe

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/okian/soccer-tracker/internal/domain/model"
)

// ErrInProgress reports a key whose first request has not finished yet.
var ErrInProgress = errors.New("mutation with this idempotency key is in progress")

// Deduper tracks idempotency keys.
type Deduper interface {
	// Claim reserves key. It returns the remembered record and true when a
	// previous request with key completed, or ErrInProgress while one runs.
	Claim(ctx context.Context, key string) (model.StatRecord, bool, error)
	// Complete stores the outcome of a claimed key.
	Complete(ctx context.Context, key string, rec model.StatRecord)
	// Release forgets a claimed key after a failed write so it can be retried.
	Release(ctx context.Context, key string)
	Size() int64
}

type entry struct {
	key  string
	rec  model.StatRecord
	done bool
}

// inMemoryDeduper keeps at most maxSize keys, evicting the least recently claimed.
type inMemoryDeduper struct {
	mu      sync.Mutex
	order   *list.List
	keys    map[string]*list.Element
	maxSize int
	size    atomic.Int64
}

// NewInMemoryDeduper creates a bounded deduper; WithMaxSize(0) makes it unbounded.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: 10000,
		order:   list.New(),
		keys:    make(map[string]*list.Element),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *inMemoryDeduper) Claim(_ context.Context, key string) (model.StatRecord, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.keys[key]; ok {
		e := el.Value.(*entry)
		if !e.done {
			return model.StatRecord{}, false, ErrInProgress
		}
		d.order.MoveToFront(el)
		return e.rec, true, nil
	}

	if d.maxSize > 0 && d.order.Len() >= d.maxSize {
		d.evictOldest()
	}
	d.keys[key] = d.order.PushFront(&entry{key: key})
	d.size.Add(1)
	return model.StatRecord{}, false, nil
}

func (d *inMemoryDeduper) Complete(_ context.Context, key string, rec model.StatRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if el, ok := d.keys[key]; ok {
		e := el.Value.(*entry)
		e.rec, e.done = rec, true
	}
}

func (d *inMemoryDeduper) Release(_ context.Context, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if el, ok := d.keys[key]; ok {
		d.order.Remove(el)
		delete(d.keys, key)
		d.size.Add(-1)
	}
}

// evictOldest drops the tail. Callers hold d.mu.
func (d *inMemoryDeduper) evictOldest() {
	el := d.order.Back()
	if el == nil {
		return
	}
	d.order.Remove(el)
	delete(d.keys, el.Value.(*entry).key)
	d.size.Add(-1)
}

func (d *inMemoryDeduper) Size() int64 {
	return d.size.Load()
}
