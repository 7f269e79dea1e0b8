package carexpert

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Cross-process logout broadcast
// ============================================================================

// logoutSignalKey is the ephemeral storage key used by the fallback delivery
// path. It is written on publish and cleared shortly after.
const logoutSignalKey = "carexpert-logout-sync"

// staleSignalFactor bounds, in poll intervals, how old a polled signal may be
// before it is discarded rather than delivered.
const staleSignalFactor = 10

// LogoutEvent announces that a peer invalidated the shared session.
type LogoutEvent struct {
	ID     string `json:"id"`
	Origin string `json:"origin"`
	Reason string `json:"reason,omitempty"`
	At     int64  `json:"at"`
}

// Broadcaster is a best-effort pub/sub channel between processes (or store
// instances) sharing one session. ChannelBroadcaster is the primary delivery
// path; StorageBroadcaster is the fallback for peers that only share the
// durable storage.
type Broadcaster interface {
	Publish(ev LogoutEvent)
	Subscribe(fn func(LogoutEvent)) (cancel func())
}

// ----------------------------------------------------------------------------
// ChannelBroadcaster
// ----------------------------------------------------------------------------

// ChannelBroadcaster delivers events to every subscriber in the same process.
type ChannelBroadcaster struct {
	mu     sync.Mutex
	subs   map[int]func(LogoutEvent)
	nextID int
}

// NewChannelBroadcaster creates an in-process broadcaster.
func NewChannelBroadcaster() *ChannelBroadcaster {
	return &ChannelBroadcaster{subs: make(map[int]func(LogoutEvent))}
}

func (b *ChannelBroadcaster) Publish(ev LogoutEvent) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	b.mu.Lock()
	handlers := make([]func(LogoutEvent), 0, len(b.subs))
	for _, fn := range b.subs {
		handlers = append(handlers, fn)
	}
	b.mu.Unlock()

	for _, fn := range handlers {
		deliver(fn, ev)
	}
}

func (b *ChannelBroadcaster) Subscribe(fn func(LogoutEvent)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// ----------------------------------------------------------------------------
// StorageBroadcaster
// ----------------------------------------------------------------------------

// StorageBroadcaster signals through the shared durable storage: publish
// writes the event under logoutSignalKey and clears it after two poll
// intervals; subscribers poll the key, deduplicate by event ID, and discard
// signals older than staleSignalFactor intervals (orphaned by a publisher
// that exited before clearing them). Delivery is "within one poll interval",
// not synchronous.
type StorageBroadcaster struct {
	storage  Storage
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	subs    map[int]func(LogoutEvent)
	nextID  int
	seen    map[string]struct{}
	stopCh  chan struct{}
	started bool
	closed  bool
}

// NewStorageBroadcaster creates the fallback broadcaster over the shared
// storage. The poll loop starts lazily with the first subscriber.
func NewStorageBroadcaster(storage Storage, interval time.Duration, logger *slog.Logger) *StorageBroadcaster {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StorageBroadcaster{
		storage:  storage,
		interval: interval,
		logger:   logger,
		subs:     make(map[int]func(LogoutEvent)),
		seen:     make(map[string]struct{}),
		stopCh:   make(chan struct{}),
	}
}

func (b *StorageBroadcaster) Publish(ev LogoutEvent) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At == 0 {
		ev.At = time.Now().UnixMilli()
	}

	// Never re-deliver our own event locally through the poll loop.
	b.mu.Lock()
	b.seen[ev.ID] = struct{}{}
	b.mu.Unlock()

	raw, err := json.Marshal(ev)
	if err != nil {
		b.logger.Warn("broadcast: cannot marshal event", "error", err)
		return
	}
	if err := b.storage.SetItem(logoutSignalKey, string(raw)); err != nil {
		b.logger.Warn("broadcast: cannot write signal", "error", err)
		return
	}

	// Clear the ephemeral signal once every poller has had a chance to see it.
	time.AfterFunc(2*b.interval, func() {
		if err := b.storage.RemoveItem(logoutSignalKey); err != nil {
			b.logger.Warn("broadcast: cannot clear signal", "error", err)
		}
	})
}

func (b *StorageBroadcaster) Subscribe(fn func(LogoutEvent)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	if !b.started && !b.closed {
		b.started = true
		go b.pollLoop()
	}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Close stops the poll loop. Subsequent Subscribe calls register handlers
// that will never fire.
func (b *StorageBroadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	if b.started {
		close(b.stopCh)
	}
}

func (b *StorageBroadcaster) pollLoop() {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			b.pollOnce()
		}
	}
}

func (b *StorageBroadcaster) pollOnce() {
	raw, ok, err := b.storage.GetItem(logoutSignalKey)
	if err != nil {
		b.logger.Warn("broadcast: cannot read signal", "error", err)
		return
	}
	if !ok {
		return
	}

	var ev LogoutEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil || ev.ID == "" {
		return
	}

	// The publisher clears the signal two intervals after writing it, but
	// that cleanup dies with the publishing process. A signal well past its
	// delivery window was orphaned by a dead publisher; delivering it now
	// would log a later session out. Discard and clear it instead.
	if ev.At == 0 || time.Since(time.UnixMilli(ev.At)) > staleSignalFactor*b.interval {
		if err := b.storage.RemoveItem(logoutSignalKey); err != nil {
			b.logger.Warn("broadcast: cannot clear stale signal", "error", err)
		}
		return
	}

	b.mu.Lock()
	if _, dup := b.seen[ev.ID]; dup {
		b.mu.Unlock()
		return
	}
	b.seen[ev.ID] = struct{}{}
	handlers := make([]func(LogoutEvent), 0, len(b.subs))
	for _, fn := range b.subs {
		handlers = append(handlers, fn)
	}
	b.mu.Unlock()

	for _, fn := range handlers {
		deliver(fn, ev)
	}
}

// deliver invokes one handler, isolating panics so a bad subscriber cannot
// break delivery to the rest.
func deliver(fn func(LogoutEvent), ev LogoutEvent) {
	defer func() {
		if r := recover(); r != nil {
			slog.Default().Error("broadcast: subscriber panicked", "panic", r)
		}
	}()
	fn(ev)
}
