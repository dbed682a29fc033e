package kitchen

import (
	"context"
	"errors"
	"sync"
	"time"

	"cravvr/internal/models"
	"cravvr/internal/realtime"
	"cravvr/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HighlightDuration is how long a newly inserted order stays flagged as new
const HighlightDuration = 3 * time.Second

// ErrFeedRunning is returned by Start on a feed that has not been stopped
var ErrFeedRunning = errors.New("feed already started")

// OrderFetcher loads orders with their customer names
type OrderFetcher interface {
	GetOrder(ctx context.Context, id uuid.UUID) (*models.OrderView, error)
	ListActiveOrders(ctx context.Context, truckID uuid.UUID) ([]models.OrderView, error)
}

// Event is a realtime change: OrderInserted or OrderUpdated
type Event interface {
	order() models.Order
}

type OrderInserted struct {
	Order models.Order
}

type OrderUpdated struct {
	Order models.Order
}

func (e OrderInserted) order() models.Order { return e.Order }
func (e OrderUpdated) order() models.Order  { return e.Order }

// EventFromChange types a change event; unknown change types yield nil
func EventFromChange(ch models.OrderChangeEvent) Event {
	rec := ch.Record
	if rec.Version == 0 {
		rec.Version = ch.Version
	}
	switch ch.Type {
	case models.ChangeTypeInsert:
		return OrderInserted{Order: rec}
	case models.ChangeTypeUpdate:
		return OrderUpdated{Order: rec}
	}
	return nil
}

// FeedHooks are notified from the feed's goroutines; they must not block
type FeedHooks struct {
	// OnChange fires after local state changes
	OnChange func()
	// OnNewOrder fires when the pending count rises above its previous value
	OnNewOrder func()
}

// Feed keeps a truck's active orders in sync with the realtime channel.
// It is the subscription handle: Start opens exactly one subscription and Stop closes it.
type Feed struct {
	fetcher    OrderFetcher
	subscriber realtime.Subscriber
	hooks      FeedHooks
	highlight  time.Duration
	logger     *zap.Logger

	mu          sync.Mutex
	truckID     uuid.UUID
	entries     []Entry
	timers      map[uuid.UUID]*time.Timer
	loaded      bool
	prevPending int
	generation  uint64
	running     bool
	sub         realtime.Subscription
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewFeed creates a stopped feed
func NewFeed(fetcher OrderFetcher, subscriber realtime.Subscriber, hooks FeedHooks) *Feed {
	return &Feed{
		fetcher:    fetcher,
		subscriber: subscriber,
		hooks:      hooks,
		highlight:  HighlightDuration,
		logger:     util.GetLogger(),
		timers:     make(map[uuid.UUID]*time.Timer),
	}
}

// Start subscribes to the truck and loads its active orders.
// The subscription is opened before the load so no change committed in between is lost.
func (f *Feed) Start(ctx context.Context, truckID uuid.UUID) error {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return ErrFeedRunning
	}
	f.running = true
	f.generation++
	f.truckID = truckID
	f.mu.Unlock()

	sub, err := f.subscriber.Subscribe(ctx, truckID)
	if err != nil {
		f.mu.Lock()
		f.running = false
		f.mu.Unlock()
		return err
	}

	views, err := f.fetcher.ListActiveOrders(ctx, truckID)
	if err != nil {
		sub.Close()
		f.mu.Lock()
		f.running = false
		f.mu.Unlock()
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	f.mu.Lock()
	f.sub = sub
	f.cancel = cancel
	f.done = done
	f.entries = EntriesFromViews(views)
	f.prevPending = f.pendingLocked()
	f.loaded = true
	f.mu.Unlock()

	go f.run(runCtx, sub, done)

	f.logger.Info("kitchen feed started", zap.String("truck_id", truckID.String()), zap.Int("orders", len(views)))
	f.notify()
	return nil
}

// Stop closes the subscription and cancels pending highlight timers. It is safe to call on a stopped feed.
func (f *Feed) Stop() {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return
	}
	f.running = false
	f.generation++
	sub, cancel, done := f.sub, f.cancel, f.done
	f.sub, f.cancel, f.done = nil, nil, nil
	for id, t := range f.timers {
		t.Stop()
		delete(f.timers, id)
	}
	f.entries = nil
	f.loaded = false
	f.prevPending = 0
	f.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sub != nil {
		if err := sub.Close(); err != nil {
			f.logger.Warn("failed to close realtime subscription", zap.Error(err))
		}
	}
	if done != nil {
		<-done
	}
}

// TruckID returns the truck the feed was last started for
func (f *Feed) TruckID() uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.truckID
}

// Running reports whether the feed holds an open subscription
func (f *Feed) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

// Entries returns a copy of the current orders, newest first
func (f *Feed) Entries() []Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Entry, len(f.entries))
	copy(out, f.entries)
	return out
}

// Board builds the lane view of the current orders
func (f *Feed) Board(now time.Time) Board {
	f.mu.Lock()
	truckID := f.truckID
	f.mu.Unlock()
	return BuildBoard(truckID, f.Entries(), now)
}

func (f *Feed) run(ctx context.Context, sub realtime.Subscription, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case ch, ok := <-sub.Events():
			if !ok {
				return
			}
			if ev := EventFromChange(ch); ev != nil {
				f.Apply(ctx, ev)
			}
		}
	}
}

// Apply merges one realtime event into local state
func (f *Feed) Apply(ctx context.Context, ev Event) {
	switch e := ev.(type) {
	case OrderInserted:
		f.applyInsert(ctx, e.Order)
	case OrderUpdated:
		f.applyUpdate(e.Order)
	}
}

func (f *Feed) applyInsert(ctx context.Context, rec models.Order) {
	view := models.OrderView{Order: rec}
	fetched, err := f.fetcher.GetOrder(ctx, rec.ID)
	if err != nil {
		f.logger.Warn("failed to fetch inserted order, using event record", zap.String("order_id", rec.ID.String()), zap.Error(err))
	} else {
		view = *fetched
	}

	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return
	}
	if i := f.indexLocked(rec.ID); i >= 0 {
		f.mergeLocked(i, view.Order)
	} else if !view.Status.Terminal() {
		f.entries = append([]Entry{{Order: view, New: true}}, f.entries...)
		f.scheduleClearLocked(rec.ID)
	}
	cue := f.checkPendingLocked()
	f.mu.Unlock()

	f.fire(cue)
}

func (f *Feed) applyUpdate(rec models.Order) {
	f.mu.Lock()
	i := f.indexLocked(rec.ID)
	if !f.running || i < 0 {
		f.mu.Unlock()
		return
	}
	changed := f.mergeLocked(i, rec)
	cue := f.checkPendingLocked()
	f.mu.Unlock()

	if changed {
		f.fire(cue)
	}
}

// Merge applies a committed order returned by the API, subject to the same version check as realtime updates
func (f *Feed) Merge(rec models.Order) {
	f.applyUpdate(rec)
}

// mergeLocked replaces entry i with rec when rec is newer. Orders reaching a terminal status leave the feed.
func (f *Feed) mergeLocked(i int, rec models.Order) bool {
	current := f.entries[i].Order
	if rec.Version <= current.Version {
		return false
	}
	if rec.Status.Terminal() {
		f.removeLocked(i)
		return true
	}
	f.entries[i].Order.Order = rec
	return true
}

func (f *Feed) removeLocked(i int) {
	id := f.entries[i].Order.ID
	if t, ok := f.timers[id]; ok {
		t.Stop()
		delete(f.timers, id)
	}
	f.entries = append(f.entries[:i], f.entries[i+1:]...)
}

func (f *Feed) scheduleClearLocked(id uuid.UUID) {
	gen := f.generation
	f.timers[id] = time.AfterFunc(f.highlight, func() {
		f.mu.Lock()
		if f.generation != gen {
			f.mu.Unlock()
			return
		}
		delete(f.timers, id)
		i := f.indexLocked(id)
		if i >= 0 {
			f.entries[i].New = false
		}
		f.mu.Unlock()
		if i >= 0 {
			f.notify()
		}
	})
}

// setLocalStatus shows status on an order before the server confirms it.
// The pending baseline follows the visible board so a new order arriving meanwhile still cues.
// The returned restore undoes the change only if nothing newer replaced it meanwhile.
func (f *Feed) setLocalStatus(id uuid.UUID, status models.OrderStatus) (restore func(), ok bool) {
	f.mu.Lock()
	i := f.indexLocked(id)
	if i < 0 {
		f.mu.Unlock()
		return func() {}, false
	}
	prev := f.entries[i].Order.Status
	version := f.entries[i].Order.Version
	f.entries[i].Order.Status = status
	f.prevPending = f.pendingLocked()
	f.mu.Unlock()
	f.notify()

	return func() {
		f.mu.Lock()
		j := f.indexLocked(id)
		reverted := j >= 0 && f.entries[j].Order.Version == version && f.entries[j].Order.Status == status
		if reverted {
			f.entries[j].Order.Status = prev
			f.prevPending = f.pendingLocked()
		}
		f.mu.Unlock()
		if reverted {
			f.notify()
		}
	}, true
}

func (f *Feed) status(id uuid.UUID) (models.OrderStatus, bool) {
	e, ok := f.entry(id)
	return e.Order.Status, ok
}

func (f *Feed) entry(id uuid.UUID) (Entry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.indexLocked(id)
	if i < 0 {
		return Entry{}, false
	}
	return f.entries[i], true
}

func (f *Feed) indexLocked(id uuid.UUID) int {
	for i, e := range f.entries {
		if e.Order.ID == id {
			return i
		}
	}
	return -1
}

func (f *Feed) pendingLocked() int {
	n := 0
	for _, e := range f.entries {
		if e.Order.Status == models.OrderStatusPending {
			n++
		}
	}
	return n
}

// checkPendingLocked compares the pending count with the stored previous count
func (f *Feed) checkPendingLocked() bool {
	n := f.pendingLocked()
	cue := f.loaded && n > f.prevPending
	f.prevPending = n
	return cue
}

func (f *Feed) fire(cue bool) {
	if cue && f.hooks.OnNewOrder != nil {
		f.hooks.OnNewOrder()
	}
	f.notify()
}

func (f *Feed) notify() {
	if f.hooks.OnChange != nil {
		f.hooks.OnChange()
	}
}
