package usecase

import (
	"context"
	"sort"
	"sync"
	"time"

	"classifieds/internal/domain/entity"
	"classifieds/pkg/logger"
)

const DefaultDebounce = 500 * time.Millisecond

// CountsObserver receives every broadcast for the user it subscribed to.
// A returned error or panic is logged and does not affect other observers.
type CountsObserver func(counts entity.NotificationCounts) error

// CountSource computes fresh counts. NotificationCounter implements it.
type CountSource interface {
	Counts(ctx context.Context, userID string) (unread, wishlist CountResult)
}

// NotificationHub is the single authority for a user's badge counts.
// Observers, the debounce clock and the last snapshot are kept per user.
// A user without observers is forgotten once its debounce window has passed
// and no recomputation for it is running.
type NotificationHub struct {
	counter  CountSource
	debounce time.Duration
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	users   map[string]*hubUser
	nextID  uint64
	timers  map[uint64]*time.Timer
	closed    bool
	polling   bool
	lastSweep time.Time
}

type hubUser struct {
	observers   map[uint64]CountsObserver
	lastRefresh time.Time
	snapshot    *entity.NotificationCounts
	// compute serialises recompute-and-broadcast for this user.
	compute sync.Mutex
	// inflight counts claimed recomputations that have not finished.
	inflight int
}

func NewNotificationHub(counter CountSource, debounce time.Duration) *NotificationHub {
	if debounce < 0 {
		debounce = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &NotificationHub{
		counter:  counter,
		debounce: debounce,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		users:    make(map[string]*hubUser),
		timers:   make(map[uint64]*time.Timer),
	}
}

// Subscribe registers observer for userID and returns its disposer. The
// observer is called immediately with the last known snapshot, if there is one.
func (h *NotificationHub) Subscribe(userID string, observer CountsObserver) (unsubscribe func()) {
	h.mu.Lock()
	u := h.user(userID)
	h.nextID++
	id := h.nextID
	u.observers[id] = observer
	var snapshot *entity.NotificationCounts
	if u.snapshot != nil {
		s := *u.snapshot
		snapshot = &s
	}
	h.mu.Unlock()

	if snapshot != nil {
		h.notify(userID, observer, *snapshot)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if u, ok := h.users[userID]; ok {
				delete(u.observers, id)
				h.evictIfIdle(userID, u, h.now())
			}
		})
	}
}

// Refresh recomputes and broadcasts userID's counts unless the previous
// refresh started less than the debounce window ago. The boolean reports
// whether a recomputation ran.
func (h *NotificationHub) Refresh(ctx context.Context, userID string) (entity.NotificationCounts, bool) {
	u, ok := h.claim(userID, false)
	if !ok {
		return entity.NotificationCounts{}, false
	}
	return h.recompute(ctx, userID, u), true
}

// ForceRefresh bypasses the debounce once. If a recomputation is in flight it
// waits for it and then recomputes, so the result never predates the call.
func (h *NotificationHub) ForceRefresh(ctx context.Context, userID string) entity.NotificationCounts {
	u, _ := h.claim(userID, true)
	return h.recompute(ctx, userID, u)
}

// RefreshWithDelay schedules a Refresh after delay. Pending refreshes are
// dropped when the hub is closed.
func (h *NotificationHub) RefreshWithDelay(userID string, delay time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}

	h.nextID++
	id := h.nextID
	// The callback takes h.mu first, so it cannot run before the timer is stored.
	h.timers[id] = time.AfterFunc(delay, func() {
		h.mu.Lock()
		delete(h.timers, id)
		closed := h.closed
		h.mu.Unlock()
		if !closed {
			h.Refresh(h.ctx, userID)
		}
	})
}

// Snapshot returns the last broadcast counts for userID.
func (h *NotificationHub) Snapshot(userID string) (entity.NotificationCounts, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	u, ok := h.users[userID]
	if !ok || u.snapshot == nil {
		return entity.NotificationCounts{}, false
	}
	return *u.snapshot, true
}

func (h *NotificationHub) ObserverCount(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if u, ok := h.users[userID]; ok {
		return len(u.observers)
	}
	return 0
}

// StartPolling refreshes every user with at least one observer on each tick,
// until ctx is done or the hub is closed.
func (h *NotificationHub) StartPolling(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	h.mu.Lock()
	if h.polling || h.closed {
		h.mu.Unlock()
		return
	}
	h.polling = true
	h.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				for _, userID := range h.watchedUsers() {
					h.Refresh(ctx, userID)
				}
			case <-ctx.Done():
				return
			case <-h.ctx.Done():
				return
			}
		}
	}()
}

// Close stops pending delayed refreshes and the poller.
func (h *NotificationHub) Close() {
	h.mu.Lock()
	h.closed = true
	for id, t := range h.timers {
		t.Stop()
		delete(h.timers, id)
	}
	h.mu.Unlock()
	h.cancel()
}

// watchedUsers lists users with observers and drops idle entries.
func (h *NotificationHub) watchedUsers() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sweep(h.now())
	ids := make([]string, 0, len(h.users))
	for id, u := range h.users {
		if len(u.observers) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// evictIfIdle must be called with h.mu held.
func (h *NotificationHub) evictIfIdle(userID string, u *hubUser, now time.Time) {
	if h.users[userID] != u || len(u.observers) > 0 || u.inflight > 0 {
		return
	}
	if now.Sub(u.lastRefresh) >= h.debounce {
		delete(h.users, userID)
	}
}

// sweep evicts idle users, at most once per debounce window. It must be
// called with h.mu held.
func (h *NotificationHub) sweep(now time.Time) {
	// Without a window, idle users are already evicted as they go idle.
	if h.debounce == 0 {
		return
	}
	if !h.lastSweep.IsZero() && now.Sub(h.lastSweep) < h.debounce {
		return
	}
	h.lastSweep = now
	for id, u := range h.users {
		h.evictIfIdle(id, u, now)
	}
}

// UserCount returns how many users the hub currently keeps state for.
func (h *NotificationHub) UserCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.users)
}

// claim applies the debounce. The timestamp is taken at call start so
// concurrent callers inside the window back off before any store call.
func (h *NotificationHub) claim(userID string, force bool) (*hubUser, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	h.sweep(now)
	u := h.user(userID)
	if !force && !u.lastRefresh.IsZero() && now.Sub(u.lastRefresh) < h.debounce {
		return nil, false
	}
	u.lastRefresh = now
	u.inflight++
	return u, true
}

func (h *NotificationHub) recompute(ctx context.Context, userID string, u *hubUser) entity.NotificationCounts {
	u.compute.Lock()
	defer u.compute.Unlock()

	unread, wishlist := h.counter.Counts(ctx, userID)

	h.mu.Lock()
	u.inflight--
	counts, publish := mergeCounts(u.snapshot, unread, wishlist)
	if publish {
		s := counts
		u.snapshot = &s
	}
	h.evictIfIdle(userID, u, h.now())
	ids := make([]uint64, 0, len(u.observers))
	for id := range u.observers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	observers := make([]CountsObserver, 0, len(ids))
	for _, id := range ids {
		observers = append(observers, u.observers[id])
	}
	h.mu.Unlock()

	if !publish {
		logger.Warn("NotificationHub: counts for user %s unavailable, keeping last snapshot", userID)
		return counts
	}
	for _, observer := range observers {
		h.notify(userID, observer, counts)
	}
	return counts
}

// mergeCounts fills unknown fields from the previous snapshot and marks them
// stale. Nothing is published when neither count is known.
func mergeCounts(previous *entity.NotificationCounts, unread, wishlist CountResult) (entity.NotificationCounts, bool) {
	var counts entity.NotificationCounts
	if previous != nil {
		counts.UnreadMessages = previous.UnreadMessages
		counts.Wishlist = previous.Wishlist
	}
	if unread.Known {
		counts.UnreadMessages = unread.Value
	} else {
		counts.Stale = append(counts.Stale, entity.CountUnreadMessages)
	}
	if wishlist.Known {
		counts.Wishlist = wishlist.Value
	} else {
		counts.Stale = append(counts.Stale, entity.CountWishlist)
	}
	return counts, unread.Known || wishlist.Known
}

func (h *NotificationHub) notify(userID string, observer CountsObserver, counts entity.NotificationCounts) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("NotificationHub: observer for user %s panicked: %v", userID, r)
		}
	}()
	if err := observer(counts); err != nil {
		logger.Warn("NotificationHub: observer for user %s failed: %v", userID, err)
	}
}

// user must be called with h.mu held.
func (h *NotificationHub) user(userID string) *hubUser {
	u, ok := h.users[userID]
	if !ok {
		u = &hubUser{observers: make(map[uint64]CountsObserver)}
		h.users[userID] = u
	}
	return u
}
