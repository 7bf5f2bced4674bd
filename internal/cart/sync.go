// Package cart implements the cart synchronizer: the single owner of cart
// state. Mutations apply optimistically to the in-memory cart and are
// reconciled against the remote authoritative cart by a single worker, so
// at most one snapshot is ever in flight and rapid mutations coalesce into
// one submission.
package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/packlane/storefront-sync/internal/api"
	"github.com/packlane/storefront-sync/internal/store"
	pkgerrors "github.com/packlane/storefront-sync/pkg/errors"
	"github.com/packlane/storefront-sync/pkg/logger"
	"github.com/packlane/storefront-sync/pkg/metrics"
	"github.com/shopspring/decimal"
)

const defaultMaxQuantityPerLine = 99

type remoteCart interface {
	GetCart(ctx context.Context) (*api.CartSnapshot, error)
	ReplaceCart(ctx context.Context, snapshot api.CartSnapshot) (*api.CartSnapshot, error)
	CreateOrder(ctx context.Context, req api.CreateOrderRequest) (*api.OrderConfirmation, error)
}

// Params bundles the dependencies required to build a synchronizer.
type Params struct {
	UserID  string
	Remote  remoteCart
	Durable store.Store
	Logger  *logger.Logger
	Metrics *metrics.SyncMetrics

	// OnSyncError receives reconcile failures applied by the worker.
	// Optional; Flush reports the last error either way.
	OnSyncError func(error)

	// MaxQuantityPerLine caps a line's quantity client-side; exceeding it
	// fails fast with a validation error before any network call.
	MaxQuantityPerLine int

	// Debounce is how long the worker waits after a mutation before
	// snapshotting, so rapid mutations collapse into one submission.
	Debounce time.Duration
}

// Synchronizer owns the cart. All reads go through Lines/Totals snapshots;
// all writes go through the mutation methods.
type Synchronizer struct {
	mu        sync.Mutex
	cond      *sync.Cond
	lines     []api.CartLine
	canonical []api.CartLine
	dirty     bool
	inflight  bool
	lastErr   error
	closed    bool

	userID      string
	remote      remoteCart
	durable     store.Store
	log         *logger.Logger
	metrics     *metrics.SyncMetrics
	onSyncError func(error)
	maxQuantity int
	debounce    time.Duration

	wake chan struct{}
	done chan struct{}
}

// NewSynchronizer wires the synchronizer and starts its reconcile worker.
func NewSynchronizer(params Params) (*Synchronizer, error) {
	if params.UserID == "" {
		return nil, fmt.Errorf("user id required")
	}
	if params.Remote == nil {
		return nil, fmt.Errorf("remote cart client required")
	}
	if params.Durable == nil {
		return nil, fmt.Errorf("durable store required")
	}
	maxQuantity := params.MaxQuantityPerLine
	if maxQuantity <= 0 {
		maxQuantity = defaultMaxQuantityPerLine
	}
	debounce := params.Debounce
	if debounce <= 0 {
		debounce = 25 * time.Millisecond
	}

	s := &Synchronizer{
		userID:      params.UserID,
		remote:      params.Remote,
		durable:     params.Durable,
		log:         params.Logger,
		metrics:     params.Metrics,
		onSyncError: params.OnSyncError,
		maxQuantity: maxQuantity,
		debounce:    debounce,
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)

	go s.run()
	return s, nil
}

// Load initializes cart state on session start: the remote authoritative
// cart wins; on network failure the locally cached snapshot is used; with
// neither, the cart starts empty.
func (s *Synchronizer) Load(ctx context.Context) error {
	snapshot, err := s.remote.GetCart(ctx)
	if err != nil {
		if !pkgerrors.Retryable(err) {
			return err
		}
		s.warn(ctx, "remote cart unavailable, loading cached snapshot", err)
		cached := s.cachedLines(ctx)
		s.mu.Lock()
		s.lines = cached
		s.canonical = cloneLines(cached)
		s.mu.Unlock()
		return nil
	}

	s.mu.Lock()
	s.lines = cloneLines(snapshot.Lines)
	s.canonical = cloneLines(snapshot.Lines)
	s.mu.Unlock()
	s.persistCanonical(ctx, snapshot.Lines)
	return nil
}

// AddLine increments the quantity for the item, appending a new line with
// quantity 1 when the item is not in the cart yet.
func (s *Synchronizer) AddLine(entry api.CatalogEntry, variant api.CartLineVariant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return pkgerrors.New(pkgerrors.CodeInternal, "cart synchronizer is closed")
	}

	for i := range s.lines {
		if s.lines[i].ItemID == entry.ID {
			if s.lines[i].Quantity >= s.maxQuantity {
				return pkgerrors.New(pkgerrors.CodeValidation, "quantity cap reached for item").
					WithDetails(map[string]any{"item_id": entry.ID, "max": s.maxQuantity})
			}
			s.lines[i].Quantity++
			s.scheduleLocked()
			return nil
		}
	}

	s.lines = append(s.lines, api.CartLine{
		ItemID:    entry.ID,
		Name:      entry.Name,
		UnitPrice: entry.Price,
		Quantity:  1,
		Variant:   variant,
	})
	s.scheduleLocked()
	return nil
}

// DecreaseLine decrements the quantity for the item; a line that would
// drop below 1 is removed instead of stored at zero.
func (s *Synchronizer) DecreaseLine(itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return pkgerrors.New(pkgerrors.CodeInternal, "cart synchronizer is closed")
	}

	for i := range s.lines {
		if s.lines[i].ItemID != itemID {
			continue
		}
		s.lines[i].Quantity--
		if s.lines[i].Quantity < 1 {
			s.lines = append(s.lines[:i], s.lines[i+1:]...)
		}
		s.scheduleLocked()
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeNotFound, "item not in cart")
}

// RemoveLine deletes the line unconditionally.
func (s *Synchronizer) RemoveLine(itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return pkgerrors.New(pkgerrors.CodeInternal, "cart synchronizer is closed")
	}

	for i := range s.lines {
		if s.lines[i].ItemID != itemID {
			continue
		}
		s.lines = append(s.lines[:i], s.lines[i+1:]...)
		s.scheduleLocked()
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeNotFound, "item not in cart")
}

// Lines returns a copy of the current cart lines.
func (s *Synchronizer) Lines() []api.CartLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneLines(s.lines)
}

// Subtotal sums unit price times quantity over all lines.
func (s *Synchronizer) Subtotal() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := decimal.Zero
	for _, line := range s.lines {
		total = total.Add(line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	return total
}

// Flush blocks until the reconcile queue has drained and returns the
// error of the last submission, if any.
func (s *Synchronizer) Flush(ctx context.Context) error {
	drained := make(chan error, 1)
	go func() {
		s.mu.Lock()
		for (s.dirty || s.inflight) && !s.closed {
			s.cond.Wait()
		}
		err := s.lastErr
		s.mu.Unlock()
		drained <- err
	}()

	select {
	case err := <-drained:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Checkout drains pending reconciles, creates the order carrying the cart
// and profile, then empties the cart remotely and adopts the empty
// canonical state. On failure the cart is left untouched.
func (s *Synchronizer) Checkout(ctx context.Context, paymentMethod string, profile api.Profile) (*api.OrderConfirmation, error) {
	if paymentMethod == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment method required")
	}
	if err := s.Flush(ctx); err != nil && !pkgerrors.Retryable(err) {
		return nil, err
	}

	s.mu.Lock()
	if len(s.lines) == 0 {
		s.mu.Unlock()
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
	}
	snapshot := api.CartSnapshot{Lines: cloneLines(s.lines)}
	s.mu.Unlock()

	confirmation, err := s.remote.CreateOrder(ctx, api.CreateOrderRequest{
		PaymentMethod: paymentMethod,
		Cart:          snapshot,
		Profile:       profile,
	})
	if err != nil {
		return nil, err
	}

	cleared, clearErr := s.remote.ReplaceCart(ctx, api.CartSnapshot{Lines: []api.CartLine{}})
	s.mu.Lock()
	if clearErr != nil {
		// the order exists; adopt the empty cart locally and let the
		// worker push it until the remote agrees
		s.lines = []api.CartLine{}
		s.scheduleLocked()
		s.mu.Unlock()
		s.warn(ctx, "clearing remote cart after checkout failed, retrying in background", clearErr)
	} else {
		s.lines = cloneLines(cleared.Lines)
		s.canonical = cloneLines(cleared.Lines)
		s.mu.Unlock()
		s.persistCanonical(ctx, cleared.Lines)
	}
	return confirmation, nil
}

// Clear resets local state and removes the cached snapshot; used on
// logout.
func (s *Synchronizer) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.lines = nil
	s.canonical = nil
	s.dirty = false
	s.lastErr = nil
	s.mu.Unlock()
	return s.durable.Delete(ctx, store.CartSnapshotKey(s.userID))
}

// Close stops the reconcile worker. Idempotent.
func (s *Synchronizer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	s.cond.Broadcast()
	s.mu.Unlock()
	return nil
}

func (s *Synchronizer) scheduleLocked() {
	s.dirty = true
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Synchronizer) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		// let rapid mutations land before snapshotting
		timer := time.NewTimer(s.debounce)
		select {
		case <-s.done:
			timer.Stop()
			return
		case <-timer.C:
		}

		for {
			s.mu.Lock()
			if !s.dirty || s.closed {
				s.mu.Unlock()
				break
			}
			s.dirty = false
			s.inflight = true
			snapshot := api.CartSnapshot{Lines: cloneLines(s.lines)}
			s.mu.Unlock()

			s.submit(snapshot)
		}
	}
}

// submit sends one snapshot and applies the outcome. The canonical
// response replaces local state wholesale unless newer mutations arrived
// while the call was in flight; a failure rolls local state back to the
// last canonical cart.
func (s *Synchronizer) submit(snapshot api.CartSnapshot) {
	ctx := context.Background()
	started := time.Now()
	s.metrics.IncReconcile()

	canonical, err := s.remote.ReplaceCart(ctx, snapshot)
	s.metrics.ObserveReconcileDuration(time.Since(started))

	s.mu.Lock()
	s.inflight = false
	if err != nil {
		s.metrics.IncReconcileFailure()
		if !s.dirty {
			s.lines = cloneLines(s.canonical)
		}
		s.lastErr = pkgerrors.Wrap(pkgerrors.CodeNetwork, err, "cart reconcile failed")
		if pkgerrors.As(err) != nil {
			s.lastErr = err
		}
		callback := s.onSyncError
		lastErr := s.lastErr
		s.cond.Broadcast()
		s.mu.Unlock()

		s.warn(ctx, "cart reconcile failed, rolled back to canonical state", err)
		if callback != nil {
			callback(lastErr)
		}
		return
	}

	s.canonical = cloneLines(canonical.Lines)
	if !s.dirty {
		s.lines = cloneLines(canonical.Lines)
	}
	s.lastErr = nil
	s.cond.Broadcast()
	s.mu.Unlock()

	s.persistCanonical(ctx, canonical.Lines)
}

func (s *Synchronizer) cachedLines(ctx context.Context) []api.CartLine {
	raw, err := s.durable.Get(ctx, store.CartSnapshotKey(s.userID))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.warn(ctx, "reading cached cart snapshot failed", err)
		}
		return []api.CartLine{}
	}
	var lines []api.CartLine
	if err := json.Unmarshal(raw, &lines); err != nil {
		s.warn(ctx, "cached cart snapshot is corrupt, discarding", err)
		return []api.CartLine{}
	}
	return lines
}

func (s *Synchronizer) persistCanonical(ctx context.Context, lines []api.CartLine) {
	encoded, err := json.Marshal(lines)
	if err != nil {
		s.warn(ctx, "encoding cart snapshot failed", err)
		return
	}
	if err := s.durable.Set(ctx, store.CartSnapshotKey(s.userID), encoded); err != nil {
		s.warn(ctx, "persisting cart snapshot failed", err)
	}
}

func (s *Synchronizer) warn(ctx context.Context, msg string, err error) {
	if s.log == nil {
		return
	}
	s.log.Warn(s.log.WithField(ctx, "error", err.Error()), msg)
}

func cloneLines(lines []api.CartLine) []api.CartLine {
	out := make([]api.CartLine, len(lines))
	copy(out, lines)
	return out
}
