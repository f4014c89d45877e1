// Package mediagroup collects the photos of a Telegram album, which arrive as
// separate updates, into one batch.
package mediagroup

import (
	"fmt"
	"sync"
	"time"
)

// MaxItems is the largest album Telegram delivers.
const MaxItems = 10

type Item struct {
	ChatID       int64
	Username     string
	MediaGroupID string
	Caption      string
	FileID       string
}

// Batch is a complete album: every file ID in arrival order and the caption of
// whichever photo carried one.
type Batch struct {
	ChatID   int64
	Username string
	Caption  string
	FileIDs  []string
}

type Options struct {
	Debounce time.Duration
	OnFlush  func(Batch)
}

type Aggregator struct {
	mu       sync.Mutex
	debounce time.Duration
	onFlush  func(Batch)
	pending  map[string]*pending
	closed   bool
}

type pending struct {
	batch Batch
	timer *time.Timer
}

func New(opts Options) *Aggregator {
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = 1200 * time.Millisecond
	}

	return &Aggregator{
		debounce: debounce,
		onFlush:  opts.OnFlush,
		pending:  make(map[string]*pending),
	}
}

// Add queues item. The batch flushes once no new photo arrived for the
// debounce window, or immediately when it reaches MaxItems.
func (a *Aggregator) Add(item Item) {
	if item.MediaGroupID == "" || item.FileID == "" {
		return
	}
	key := fmt.Sprintf("%d:%s", item.ChatID, item.MediaGroupID)

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}

	p, ok := a.pending[key]
	if !ok {
		p = &pending{batch: Batch{ChatID: item.ChatID, Username: item.Username}}
		a.pending[key] = p
	}
	p.batch.FileIDs = append(p.batch.FileIDs, item.FileID)
	if item.Caption != "" {
		p.batch.Caption = item.Caption
	}

	if p.timer != nil {
		p.timer.Stop()
	}
	if len(p.batch.FileIDs) >= MaxItems {
		delete(a.pending, key)
		a.mu.Unlock()
		a.emit(p.batch)
		return
	}
	p.timer = time.AfterFunc(a.debounce, func() { a.flush(key) })
	a.mu.Unlock()
}

// Pending reports how many albums are still collecting.
func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Close drops every unflushed album and ignores later items.
func (a *Aggregator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.closed = true
	for key, p := range a.pending {
		if p.timer != nil {
			p.timer.Stop()
		}
		delete(a.pending, key)
	}
}

func (a *Aggregator) flush(key string) {
	a.mu.Lock()
	p, ok := a.pending[key]
	if ok {
		delete(a.pending, key)
	}
	a.mu.Unlock()

	if ok {
		a.emit(p.batch)
	}
}

func (a *Aggregator) emit(b Batch) {
	if a.onFlush != nil {
		a.onFlush(b)
	}
}
