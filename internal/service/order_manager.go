package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"venue_sync/internal/domain"
	"venue_sync/internal/event"
	"venue_sync/internal/infra"

	"github.com/google/uuid"
)

// Action is the in-flight request sub-state of a tracked order.
type Action int

const (
	ActionNone Action = iota
	// ActionSubmitting means the create request is in flight and the server id is unknown.
	ActionSubmitting
	// ActionCancelling means a cancel was issued and confirmation is pending.
	ActionCancelling
)

func (a Action) String() string {
	switch a {
	case ActionSubmitting:
		return "submitting"
	case ActionCancelling:
		return "cancelling"
	default:
		return "none"
	}
}

// TrackedOrder is an order plus its request sub-state.
type TrackedOrder struct {
	domain.Order
	Action Action `json:"action"`
}

type orderEntry struct {
	order  domain.Order
	action Action
	// prev is restored when a cancel request fails
	prev Action

	cancelCtx      context.Context
	cancelDeferred bool
	// every caller waiting on the cancel in flight
	cancelWaiters []func(error)
}

// OrderManager tracks the user's non-terminal orders with optimistic submit and cancel.
// Every method must run on the engine loop.
type OrderManager struct {
	source  domain.SnapshotSource
	poster  domain.Poster
	metrics *infra.Metrics
	logger  *slog.Logger

	// keyed by correlation id
	orders     map[string]*orderEntry
	byServerID map[string]string

	sub      *event.Subscription
	onChange func()

	newID func() string
	now   func() time.Time
}

// NewOrderManager creates an order manager that issues requests through source
// and posts their completions back via poster.
func NewOrderManager(source domain.SnapshotSource, poster domain.Poster, metrics *infra.Metrics) *OrderManager {
	if metrics == nil {
		metrics = infra.GlobalMetrics
	}
	return &OrderManager{
		source:     source,
		poster:     poster,
		metrics:    metrics,
		logger:     slog.Default().With("module", "orders"),
		orders:     make(map[string]*orderEntry),
		byServerID: make(map[string]string),
		newID:      uuid.NewString,
		now:        time.Now,
	}
}

// Attach subscribes to ORDER_UPDATE. Orders are account-wide, so the
// subscription is not tied to the active symbol.
func (m *OrderManager) Attach(sub event.Subscriber) {
	if m.sub != nil {
		m.sub.Unsubscribe()
	}
	m.sub = sub.Subscribe(event.TypeOrderUpdate, func(env *event.Envelope) {
		update, err := event.Decode[domain.Order](env)
		if err != nil {
			m.logger.Warn("Dropping malformed order update", slog.Any("error", err))
			return
		}
		m.Apply(update)
	})
}

// Detach drops the ORDER_UPDATE subscription.
func (m *OrderManager) Detach() {
	if m.sub != nil {
		m.sub.Unsubscribe()
		m.sub = nil
	}
}

// OnChange registers fn to run after every applied mutation.
func (m *OrderManager) OnChange(fn func()) {
	m.onChange = fn
}

// Submit validates spec, inserts a pending record and issues the create request.
// A validation error is returned before anything is mutated. done, if set,
// runs on the loop once the request resolves.
func (m *OrderManager) Submit(ctx context.Context, spec domain.OrderSpec, done func(domain.Order, error)) (domain.Order, error) {
	if err := spec.Validate(); err != nil {
		return domain.Order{}, err
	}

	cid := m.newID()
	order := domain.Order{
		ClientOrderID: cid,
		Symbol:        spec.Symbol,
		Side:          spec.Side,
		Kind:          spec.Kind,
		Price:         spec.Price,
		Quantity:      spec.Quantity,
		Status:        domain.OrderStatusPending,
		CreatedAt:     m.now(),
	}
	m.orders[cid] = &orderEntry{order: order, action: ActionSubmitting}
	m.changed()

	req := domain.OrderRequest{OrderSpec: spec, ClientOrderID: cid}
	go func() {
		resp, err := m.source.SubmitOrder(ctx, req)
		m.poster.Post(func() { m.completeSubmit(cid, resp, err, done) })
	}()

	return order, nil
}

func (m *OrderManager) completeSubmit(cid string, resp domain.Order, err error, done func(domain.Order, error)) {
	entry, ok := m.orders[cid]

	if err != nil {
		if ok {
			delete(m.orders, cid)
			if entry.order.ID != "" {
				delete(m.byServerID, entry.order.ID)
			}
			m.changed()
			m.finishDeferredCancel(entry, err)
		}
		m.logger.Warn("Order submit failed, rolled back", slog.String("client_oid", cid), slog.Any("error", err))
		if done != nil {
			done(domain.Order{}, err)
		}
		return
	}

	if !ok {
		// already terminal through the stream
		if done != nil {
			done(resp, nil)
		}
		return
	}

	if entry.order.ID == "" {
		entry.order.ID = resp.ID
		m.byServerID[resp.ID] = cid
	}
	if entry.action == ActionSubmitting {
		entry.action = ActionNone
	}
	if entry.prev == ActionSubmitting {
		entry.prev = ActionNone
	}

	if resp.Status.IsTerminal() {
		m.retire(cid, entry, resp.Status)
	} else {
		if resp.Status.Valid() {
			entry.order.Status = resp.Status
		}
		if entry.cancelDeferred {
			entry.cancelDeferred = false
			m.issueCancel(cid, entry)
		}
	}
	m.changed()

	if done != nil {
		done(entry.order, nil)
	}
}

// Cancel hides the order from Active immediately and issues the cancel request.
// If the server id is not known yet the request waits for the submit to finish.
// done, if set, runs on the loop once the request resolves.
func (m *OrderManager) Cancel(ctx context.Context, id string, done func(error)) error {
	cid, entry := m.lookup(id, id)
	if entry == nil {
		return fmt.Errorf("cancel %s: %w", id, domain.ErrOrderNotFound)
	}
	if done != nil {
		entry.cancelWaiters = append(entry.cancelWaiters, done)
	}
	if entry.action == ActionCancelling {
		// joins the request already in flight
		return nil
	}

	entry.prev = entry.action
	entry.action = ActionCancelling
	entry.cancelCtx = ctx
	m.changed()

	if entry.order.ID == "" {
		entry.cancelDeferred = true
		m.logger.Debug("Cancel deferred until submit completes", slog.String("client_oid", cid))
		return nil
	}
	m.issueCancel(cid, entry)
	return nil
}

func (m *OrderManager) issueCancel(cid string, entry *orderEntry) {
	ctx := entry.cancelCtx
	if ctx == nil {
		ctx = context.Background()
	}
	serverID := entry.order.ID
	entry.cancelCtx = nil

	go func() {
		err := m.source.CancelOrder(ctx, serverID)
		m.poster.Post(func() { m.completeCancel(cid, entry, err) })
	}()
}

// completeCancel resolves the waiters on entry even if a terminal update
// already retired it.
func (m *OrderManager) completeCancel(cid string, entry *orderEntry, err error) {
	if err != nil {
		if current, ok := m.orders[cid]; ok && current == entry && entry.action == ActionCancelling {
			entry.action = entry.prev
			m.changed()
		}
		m.logger.Warn("Order cancel failed, reverted", slog.String("client_oid", cid), slog.Any("error", err))
	}
	// on success the order stays cancelling until a terminal update arrives
	m.resolveCancel(entry, err)
}

// Apply reconciles an ORDER_UPDATE. Updates are matched by server id, then by
// client order id; unknown orders are ignored.
func (m *OrderManager) Apply(update domain.Order) {
	cid, entry := m.lookup(update.ID, update.ClientOrderID)
	if entry == nil {
		m.logger.Debug("Ignoring update for untracked order", slog.String("id", update.ID), slog.String("status", string(update.Status)))
		return
	}

	if entry.order.ID == "" && update.ID != "" {
		entry.order.ID = update.ID
		m.byServerID[update.ID] = cid
	}

	if update.Status.IsTerminal() {
		m.retire(cid, entry, update.Status)
		m.changed()
		return
	}

	if update.Status.Valid() {
		entry.order.Status = update.Status
	}
	if update.Symbol != "" {
		entry.order.Symbol = update.Symbol
	}
	if update.Side.Valid() {
		entry.order.Side = update.Side
	}
	if update.Kind.Valid() {
		entry.order.Kind = update.Kind
	}
	if update.Price != nil {
		entry.order.Price = update.Price
	}
	if !update.Quantity.IsZero() {
		entry.order.Quantity = update.Quantity
	}
	m.changed()
}

// retire removes a terminal order; it never comes back.
func (m *OrderManager) retire(cid string, entry *orderEntry, status domain.OrderStatus) {
	delete(m.orders, cid)
	if entry.order.ID != "" {
		delete(m.byServerID, entry.order.ID)
	}

	switch status {
	case domain.OrderStatusFilled:
		m.metrics.RecordOrderFilled()
	case domain.OrderStatusRejected:
		m.metrics.RecordOrderRejected()
	}
	m.logger.Info("Order closed",
		slog.String("id", entry.order.ID),
		slog.String("symbol", entry.order.Symbol),
		slog.String("status", string(status)),
	)

	m.finishDeferredCancel(entry, fmt.Errorf("order already %s: %w", status, domain.ErrOrderNotFound))
}

func (m *OrderManager) finishDeferredCancel(entry *orderEntry, err error) {
	if !entry.cancelDeferred {
		return
	}
	entry.cancelDeferred = false
	m.resolveCancel(entry, err)
}

func (m *OrderManager) resolveCancel(entry *orderEntry, err error) {
	waiters := entry.cancelWaiters
	entry.cancelWaiters = nil
	for _, done := range waiters {
		done(err)
	}
}

func (m *OrderManager) lookup(serverID, clientID string) (string, *orderEntry) {
	if serverID != "" {
		if cid, ok := m.byServerID[serverID]; ok {
			return cid, m.orders[cid]
		}
	}
	if clientID != "" {
		if entry, ok := m.orders[clientID]; ok {
			return clientID, entry
		}
	}
	return "", nil
}

// Active returns the open orders the user should see, oldest first.
// Orders with a cancel in flight are excluded.
func (m *OrderManager) Active() []domain.Order {
	return m.ActiveFor("")
}

// ActiveFor is Active limited to one symbol; an empty symbol means all.
func (m *OrderManager) ActiveFor(symbol string) []domain.Order {
	tracked := m.Tracked()
	out := make([]domain.Order, 0, len(tracked))
	for _, t := range tracked {
		if t.Action == ActionCancelling {
			continue
		}
		if symbol != "" && t.Symbol != symbol {
			continue
		}
		out = append(out, t.Order)
	}
	return out
}

// Tracked returns every non-terminal order with its sub-state, oldest first.
func (m *OrderManager) Tracked() []TrackedOrder {
	out := make([]TrackedOrder, 0, len(m.orders))
	for _, e := range m.orders {
		out = append(out, TrackedOrder{Order: e.order, Action: e.action})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ClientOrderID < out[j].ClientOrderID
	})
	return out
}

func (m *OrderManager) changed() {
	if m.onChange != nil {
		m.onChange()
	}
}
