package catalog

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"smartdeals/internal/model"
	"smartdeals/internal/normalize"
)

// ErrStaleWrite is returned by UpsertAt when a full snapshot replaced the
// cache after the caller read its generation.
var ErrStaleWrite = errors.New("stale write: catalog replaced since generation")

// Subscriber receives the full ordered list after every change.
type Subscriber func([]model.Product)

// Result summarizes a ReplaceAll.
type Result struct {
	Generation uint64
	Count      int
	Dropped    int
}

// Cache owns the canonical ordered product list and its id index.
//
// Writes are serialized by writeMu, which is held across the swap and the
// subscriber notifications so listeners observe changes in arrival order.
// Readers only take mu.
type Cache struct {
	writeMu sync.Mutex

	mu         sync.RWMutex
	list       []model.Product
	index      map[string]int
	generation uint64
	seq        uint64

	subMu     sync.Mutex
	subs      map[int]Subscriber
	nextSubID int

	ready     chan struct{}
	readyOnce sync.Once

	norm *normalize.Normalizer
	log  zerolog.Logger
}

// New creates an empty cache that normalizes with norm.
func New(norm *normalize.Normalizer, log zerolog.Logger) *Cache {
	if norm == nil {
		norm = normalize.New(normalize.IDContent)
	}
	return &Cache{
		index: make(map[string]int),
		subs:  make(map[int]Subscriber),
		ready: make(chan struct{}),
		norm:  norm,
		log:   log.With().Str("component", "catalog").Logger(),
	}
}

type pending struct {
	raw     model.RawProduct
	created time.Time
}

// ReplaceAll swaps the whole catalog for raws, newest first. Records that fail
// normalization are dropped; the rest are still cached. Subscribers are
// notified exactly once.
func (c *Cache) ReplaceAll(raws []model.RawProduct) Result {
	return c.ReplaceAllWith(c.norm.Batch(), raws)
}

// ReplaceAllWith is ReplaceAll with an explicit batch, used when the id mode
// differs per source.
func (c *Cache) ReplaceAllWith(b *normalize.Batch, raws []model.RawProduct) Result {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	dropped := 0
	items := make([]pending, 0, len(raws))
	for _, r := range raws {
		created, err := b.CreatedAt(r)
		if err != nil {
			dropped++
			c.log.Warn().Err(err).Str("name", r.DisplayName()).Msg("skipping record with unusable timestamp")
			continue
		}
		items = append(items, pending{raw: r, created: created})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].created.After(items[j].created) })

	list := make([]model.Product, 0, len(items))
	index := make(map[string]int, len(items))
	for _, it := range items {
		p, err := b.Normalize(it.raw)
		if err != nil {
			dropped++
			c.log.Warn().Err(err).Str("name", it.raw.DisplayName()).Msg("skipping malformed record")
			continue
		}
		if pos, ok := index[p.ID]; ok {
			// Duplicate id inside one snapshot: the newer record already holds the slot.
			c.log.Debug().Str("id", p.ID).Int("position", pos).Msg("duplicate id in snapshot")
			continue
		}
		index[p.ID] = len(list)
		list = append(list, p)
	}

	c.mu.Lock()
	c.list = list
	c.index = index
	c.seq++
	c.generation = c.seq
	gen := c.generation
	snapshot := cloneList(list)
	c.mu.Unlock()

	c.readyOnce.Do(func() { close(c.ready) })
	c.notify(snapshot)
	c.log.Info().Uint64("generation", gen).Int("count", len(list)).Int("dropped", dropped).Msg("catalog replaced")
	return Result{Generation: gen, Count: len(list), Dropped: dropped}
}

// Upsert normalizes raw and replaces the entry with the same id in place, or
// prepends it as the newest entry.
func (c *Cache) Upsert(raw model.RawProduct) (model.Product, error) {
	return c.upsert(0, false, raw)
}

// UpsertAt is Upsert guarded by a generation read earlier from Generation.
// It fails with ErrStaleWrite when a ReplaceAll happened in between.
func (c *Cache) UpsertAt(generation uint64, raw model.RawProduct) (model.Product, error) {
	return c.upsert(generation, true, raw)
}

func (c *Cache) upsert(generation uint64, guarded bool, raw model.RawProduct) (model.Product, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	p, err := c.norm.Normalize(raw)
	if err != nil {
		return model.Product{}, err
	}

	c.mu.Lock()
	if guarded && generation < c.generation {
		cur := c.generation
		c.mu.Unlock()
		c.log.Warn().Str("id", p.ID).Uint64("generation", generation).Uint64("current", cur).Msg("rejecting stale upsert")
		return model.Product{}, ErrStaleWrite
	}
	if pos, ok := c.index[p.ID]; ok {
		list := make([]model.Product, len(c.list))
		copy(list, c.list)
		list[pos] = p
		c.list = list
	} else {
		list := make([]model.Product, 0, len(c.list)+1)
		list = append(list, p)
		list = append(list, c.list...)
		index := make(map[string]int, len(list))
		for i, e := range list {
			index[e.ID] = i
		}
		c.list = list
		c.index = index
	}
	c.seq++
	snapshot := cloneList(c.list)
	c.mu.Unlock()

	c.notify(snapshot)
	return p.Clone(), nil
}

// GetByID looks up a product by exact id.
func (c *Cache) GetByID(id string) (model.Product, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pos, ok := c.index[id]
	if !ok {
		return model.Product{}, false
	}
	return c.list[pos].Clone(), true
}

// GetAll returns a copy of the ordered list.
func (c *Cache) GetAll() []model.Product {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneList(c.list)
}

// Len is the number of cached products.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.list)
}

// Generation is bumped by every ReplaceAll.
func (c *Cache) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// Seq is bumped by every mutation, full or single-record.
func (c *Cache) Seq() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.seq
}

// Ready is closed after the first ReplaceAll.
func (c *Cache) Ready() <-chan struct{} { return c.ready }

// Subscribe registers fn for change notifications. Callbacks run on the
// writing goroutine and must not write to the cache. The returned func
// removes the subscription.
func (c *Cache) Subscribe(fn Subscriber) (unsubscribe func()) {
	c.subMu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.subs[id] = fn
	c.subMu.Unlock()
	return func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}
}

// Await waits for the first load, then for changes, until id is present or
// ctx is done.
func (c *Cache) Await(ctx context.Context, id string) (model.Product, bool) {
	select {
	case <-c.ready:
	case <-ctx.Done():
		return model.Product{}, false
	}
	changed := make(chan struct{}, 1)
	unsub := c.Subscribe(func([]model.Product) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsub()
	for {
		if p, ok := c.GetByID(id); ok {
			return p, true
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return model.Product{}, false
		}
	}
}

func (c *Cache) notify(list []model.Product) {
	c.subMu.Lock()
	subs := make([]Subscriber, 0, len(c.subs))
	ids := make([]int, 0, len(c.subs))
	for id := range c.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		subs = append(subs, c.subs[id])
	}
	c.subMu.Unlock()
	for _, fn := range subs {
		fn(cloneList(list))
	}
}

func cloneList(in []model.Product) []model.Product {
	out := make([]model.Product, len(in))
	for i, p := range in {
		out[i] = p.Clone()
	}
	return out
}
