package service

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"vendor-payouts/internal/core/domain"
	"vendor-payouts/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// memStore is an in-memory stand-in for the Postgres repositories with
// read-committed semantics. A transaction buffers its writes until Commit.
// Rows read FOR UPDATE, updated or inserted stay locked by the transaction
// until it ends, and an insert racing an uncommitted insert of the same
// unique key waits for it. Reads outside a transaction see committed rows.
type memStore struct {
	mu    sync.Mutex // guards data, locks, accounts and profiles
	cond  *sync.Cond // signalled whenever a row lock is released
	data  memData
	locks map[string]*memTx

	accounts map[uuid.UUID]domain.PayoutAccount
	profiles map[uuid.UUID]domain.VendorProfile
}

type memData struct {
	balances     map[uuid.UUID]domain.VendorBalance
	reservations map[uuid.UUID]domain.Reservation
	credits      map[string]domain.BalanceCredit
	payouts      map[uuid.UUID]domain.PayoutRequest
	transitions  []domain.PayoutTransition
	events       map[string]domain.WebhookEvent
	schedules    map[uuid.UUID]domain.PayoutSchedule
}

func newMemData() memData {
	return memData{
		balances:     make(map[uuid.UUID]domain.VendorBalance),
		reservations: make(map[uuid.UUID]domain.Reservation),
		credits:      make(map[string]domain.BalanceCredit),
		payouts:      make(map[uuid.UUID]domain.PayoutRequest),
		events:       make(map[string]domain.WebhookEvent),
		schedules:    make(map[uuid.UUID]domain.PayoutSchedule),
	}
}

func newMemStore() *memStore {
	s := &memStore{
		data:     newMemData(),
		locks:    make(map[string]*memTx),
		accounts: make(map[uuid.UUID]domain.PayoutAccount),
		profiles: make(map[uuid.UUID]domain.VendorProfile),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// errCheckViolation mirrors the vendor_balances CHECK constraints.
var errCheckViolation = errors.New("vendor_balances check constraint violated")

// rowOf returns the row visible to a transaction: its own write, else the
// committed row.
func rowOf[K comparable, V any](writes, committed map[K]V, k K) (V, bool) {
	if v, ok := writes[k]; ok {
		return v, true
	}
	v, ok := committed[k]
	return v, ok
}

// rowsOf merges a transaction's writes over the committed rows.
func rowsOf[K comparable, V any](writes, committed map[K]V) map[K]V {
	out := make(map[K]V, len(committed)+len(writes))
	for k, v := range committed {
		out[k] = v
	}
	for k, v := range writes {
		out[k] = v
	}
	return out
}

func balanceLock(vendorID uuid.UUID) string  { return "balance:" + vendorID.String() }
func reservationLock(id uuid.UUID) string     { return "reservation:" + id.String() }
func creditLock(sourceRef string) string      { return "credit:" + sourceRef }
func payoutLock(id uuid.UUID) string          { return "payout:" + id.String() }
func payoutKeyLock(key string) string         { return "payout_key:" + key }
func eventLock(kind domain.ProcessorKind, id string) string {
	return "event:" + eventKey(kind, id)
}

// --- Transactor ---

type memTx struct {
	pgx.Tx
	store  *memStore
	writes memData
	held   []string
	done   bool
}

func (s *memStore) Begin(ctx context.Context) (pgx.Tx, error) {
	return &memTx{store: s, writes: newMemData()}, nil
}

func (t *memTx) Commit(ctx context.Context) error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	for k, v := range t.writes.balances {
		s.data.balances[k] = v
	}
	for k, v := range t.writes.reservations {
		s.data.reservations[k] = v
	}
	for k, v := range t.writes.credits {
		s.data.credits[k] = v
	}
	for k, v := range t.writes.payouts {
		s.data.payouts[k] = v
	}
	for k, v := range t.writes.events {
		s.data.events[k] = v
	}
	s.data.transitions = append(s.data.transitions, t.writes.transitions...)
	s.releaseAll(t)
	return nil
}

func (t *memTx) Rollback(ctx context.Context) error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	s.releaseAll(t)
	return nil
}

func (s *memStore) txOf(tx pgx.Tx) *memTx {
	return tx.(*memTx)
}

// pending returns the uncommitted writes visible through tx.
func (s *memStore) pending(tx pgx.Tx) memData {
	if t, ok := tx.(*memTx); ok && t != nil {
		return t.writes
	}
	return memData{}
}

// lockRow blocks until t owns key and reports whether this call took it.
// Callers hold s.mu.
func (s *memStore) lockRow(t *memTx, key string) bool {
	for {
		owner, held := s.locks[key]
		if !held {
			break
		}
		if owner == t {
			return false
		}
		s.cond.Wait()
	}
	s.locks[key] = t
	t.held = append(t.held, key)
	return true
}

// unlockRow gives back a lock taken only to wait out a racing insert.
// Callers hold s.mu.
func (s *memStore) unlockRow(t *memTx, key string) {
	delete(s.locks, key)
	t.held = slices.DeleteFunc(t.held, func(k string) bool { return k == key })
	s.cond.Broadcast()
}

func (s *memStore) releaseAll(t *memTx) {
	for _, key := range t.held {
		delete(s.locks, key)
	}
	t.held = nil
	s.cond.Broadcast()
}

// --- Seeding and inspection ---

func (s *memStore) seedBalance(vendorID uuid.UUID, available int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.balances[vendorID] = domain.VendorBalance{
		VendorID:    vendorID,
		Currency:    "USD",
		Available:   available,
		TotalEarned: available,
	}
}

func (s *memStore) seedAccount(vendorID uuid.UUID, kind domain.ProcessorKind, status domain.VerificationStatus) domain.PayoutAccount {
	acc := domain.PayoutAccount{
		ID:                 uuid.New(),
		VendorID:           vendorID,
		ProcessorKind:      kind,
		AccountToken:       "tok_" + vendorID.String()[:8],
		VerificationStatus: status,
		IsPrimary:          true,
		CreatedAt:          time.Now().UTC(),
	}
	s.mu.Lock()
	s.accounts[acc.ID] = acc
	s.mu.Unlock()
	return acc
}

func (s *memStore) seedSchedule(sched domain.PayoutSchedule) {
	s.mu.Lock()
	s.data.schedules[sched.VendorID] = sched
	s.mu.Unlock()
}

func (s *memStore) account(id uuid.UUID) domain.PayoutAccount {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[id]
}

func (s *memStore) balance(vendorID uuid.UUID) domain.VendorBalance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.balances[vendorID]
}

func (s *memStore) payout(id uuid.UUID) domain.PayoutRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.payouts[id]
}

func (s *memStore) payoutCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data.payouts)
}

func (s *memStore) reservation(id uuid.UUID) domain.Reservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.reservations[id]
}

func (s *memStore) activeReservations(vendorID uuid.UUID) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum int64
	for _, r := range s.data.reservations {
		if r.VendorID == vendorID && r.IsActive() {
			sum += r.Amount
		}
	}
	return sum
}

func (s *memStore) pendingCredits(vendorID uuid.UUID) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum int64
	for _, c := range s.data.credits {
		if c.VendorID == vendorID && c.State == domain.CreditPending {
			sum += c.Net
		}
	}
	return sum
}

func (s *memStore) transitionsOf(payoutID uuid.UUID) []domain.PayoutTransition {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.PayoutTransition
	for _, t := range s.data.transitions {
		if t.PayoutID == payoutID {
			out = append(out, t)
		}
	}
	return out
}

// --- Repositories ---

type memBalanceRepo struct{ s *memStore }

func (r memBalanceRepo) Get(ctx context.Context, vendorID uuid.UUID) (*domain.VendorBalance, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.data.balances[vendorID]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

// EnsureExists behaves like INSERT ... ON CONFLICT DO NOTHING: only a row
// it actually inserts stays locked.
func (r memBalanceRepo) EnsureExists(ctx context.Context, tx pgx.Tx, vendorID uuid.UUID, currency string) error {
	t := r.s.txOf(tx)
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := rowOf(t.writes.balances, r.s.data.balances, vendorID); ok {
		return nil
	}
	key := balanceLock(vendorID)
	fresh := r.s.lockRow(t, key)
	if _, ok := r.s.data.balances[vendorID]; ok {
		if fresh {
			r.s.unlockRow(t, key)
		}
		return nil
	}
	t.writes.balances[vendorID] = domain.VendorBalance{VendorID: vendorID, Currency: currency}
	return nil
}

func (r memBalanceRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, vendorID uuid.UUID) (*domain.VendorBalance, error) {
	t := r.s.txOf(tx)
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := rowOf(t.writes.balances, r.s.data.balances, vendorID); !ok {
		return nil, nil
	}
	r.s.lockRow(t, balanceLock(vendorID))
	b, _ := rowOf(t.writes.balances, r.s.data.balances, vendorID)
	return &b, nil
}

func (r memBalanceRepo) Update(ctx context.Context, tx pgx.Tx, b *domain.VendorBalance) error {
	if b.Available < 0 || b.Pending < 0 || b.Reserved < 0 {
		return errCheckViolation
	}
	t := r.s.txOf(tx)
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.lockRow(t, balanceLock(b.VendorID))
	t.writes.balances[b.VendorID] = *b
	return nil
}

type memReservationRepo struct{ s *memStore }

func (r memReservationRepo) Create(ctx context.Context, tx pgx.Tx, res *domain.Reservation) error {
	t := r.s.txOf(tx)
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.lockRow(t, reservationLock(res.ID))
	t.writes.reservations[res.ID] = *res
	return nil
}

func (r memReservationRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Reservation, error) {
	t := r.s.txOf(tx)
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := rowOf(t.writes.reservations, r.s.data.reservations, id); !ok {
		return nil, nil
	}
	r.s.lockRow(t, reservationLock(id))
	res, _ := rowOf(t.writes.reservations, r.s.data.reservations, id)
	return &res, nil
}

func (r memReservationRepo) UpdateState(ctx context.Context, tx pgx.Tx, id uuid.UUID, state domain.ReservationState) error {
	t := r.s.txOf(tx)
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.lockRow(t, reservationLock(id))
	res, _ := rowOf(t.writes.reservations, r.s.data.reservations, id)
	res.State = state
	t.writes.reservations[id] = res
	return nil
}

type memCreditRepo struct{ s *memStore }

func (r memCreditRepo) Insert(ctx context.Context, tx pgx.Tx, c *domain.BalanceCredit) (bool, error) {
	t := r.s.txOf(tx)
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := rowOf(t.writes.credits, r.s.data.credits, c.SourceRef); ok {
		return false, nil
	}
	key := creditLock(c.SourceRef)
	fresh := r.s.lockRow(t, key)
	if _, ok := r.s.data.credits[c.SourceRef]; ok {
		if fresh {
			r.s.unlockRow(t, key)
		}
		return false, nil
	}
	t.writes.credits[c.SourceRef] = *c
	return true, nil
}

func (r memCreditRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, sourceRef string) (*domain.BalanceCredit, error) {
	t := r.s.txOf(tx)
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := rowOf(t.writes.credits, r.s.data.credits, sourceRef); !ok {
		return nil, nil
	}
	r.s.lockRow(t, creditLock(sourceRef))
	c, _ := rowOf(t.writes.credits, r.s.data.credits, sourceRef)
	return &c, nil
}

func (r memCreditRepo) UpdateState(ctx context.Context, tx pgx.Tx, sourceRef string, state domain.CreditState) error {
	t := r.s.txOf(tx)
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.lockRow(t, creditLock(sourceRef))
	c, _ := rowOf(t.writes.credits, r.s.data.credits, sourceRef)
	c.State = state
	t.writes.credits[sourceRef] = c
	return nil
}

type memPayoutRepo struct{ s *memStore }

func (r memPayoutRepo) keyTaken(t *memTx, key string) bool {
	for _, p := range rowsOf(t.writes.payouts, r.s.data.payouts) {
		if p.IdempotencyKey == key {
			return true
		}
	}
	return false
}

func (r memPayoutRepo) Create(ctx context.Context, tx pgx.Tx, p *domain.PayoutRequest) (bool, error) {
	t := r.s.txOf(tx)
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.keyTaken(t, p.IdempotencyKey) {
		return false, nil
	}
	key := payoutKeyLock(p.IdempotencyKey)
	fresh := r.s.lockRow(t, key)
	if r.keyTaken(t, p.IdempotencyKey) {
		if fresh {
			r.s.unlockRow(t, key)
		}
		return false, nil
	}
	r.s.lockRow(t, payoutLock(p.ID))
	t.writes.payouts[p.ID] = *p
	return true, nil
}

func (r memPayoutRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.PayoutRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.data.payouts[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r memPayoutRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.PayoutRequest, error) {
	return r.lockWhere(tx, func(p domain.PayoutRequest) bool { return p.ID == id }), nil
}

// lockWhere locks the first visible payout matching match and re-reads it
// once the lock is held, dropping it if it no longer matches.
func (r memPayoutRepo) lockWhere(tx pgx.Tx, match func(domain.PayoutRequest) bool) *domain.PayoutRequest {
	t := r.s.txOf(tx)
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var found *domain.PayoutRequest
	for _, p := range rowsOf(t.writes.payouts, r.s.data.payouts) {
		if match(p) {
			found = &p
			break
		}
	}
	if found == nil {
		return nil
	}
	r.s.lockRow(t, payoutLock(found.ID))
	p, ok := rowOf(t.writes.payouts, r.s.data.payouts, found.ID)
	if !ok || !match(p) {
		return nil
	}
	return &p
}

func (r memPayoutRepo) GetByIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) (*domain.PayoutRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range rowsOf(r.s.pending(tx).payouts, r.s.data.payouts) {
		if p.IdempotencyKey == key {
			return &p, nil
		}
	}
	return nil, nil
}

func (r memPayoutRepo) GetByTransferIDForUpdate(ctx context.Context, tx pgx.Tx, kind domain.ProcessorKind, transferID string) (*domain.PayoutRequest, error) {
	return r.lockWhere(tx, func(p domain.PayoutRequest) bool {
		return p.ProcessorKind == kind && p.TransferID != nil && *p.TransferID == transferID
	}), nil
}

func (r memPayoutRepo) GetByReferenceForUpdate(ctx context.Context, tx pgx.Tx, reference string) (*domain.PayoutRequest, error) {
	return r.lockWhere(tx, func(p domain.PayoutRequest) bool { return p.Reference == reference }), nil
}

func (r memPayoutRepo) Update(ctx context.Context, tx pgx.Tx, p *domain.PayoutRequest) error {
	t := r.s.txOf(tx)
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.lockRow(t, payoutLock(p.ID))
	t.writes.payouts[p.ID] = *p
	return nil
}

func (r memPayoutRepo) List(ctx context.Context, params ports.PayoutListParams) ([]domain.PayoutRequest, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.PayoutRequest
	for _, p := range r.s.data.payouts {
		if params.VendorID != nil && p.VendorID != *params.VendorID {
			continue
		}
		if params.State != nil && p.State != *params.State {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := int64(len(out))
	start := (params.Page - 1) * params.PageSize
	if start > len(out) {
		start = len(out)
	}
	end := start + params.PageSize
	if end > len(out) {
		end = len(out)
	}
	return out[start:end], total, nil
}

func (r memPayoutRepo) ListStale(ctx context.Context, state domain.PayoutState, olderThan time.Time, limit int) ([]domain.PayoutRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.PayoutRequest
	for _, p := range r.s.data.payouts {
		if p.State == state && p.UpdatedAt.Before(olderThan) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memTransitionRepo struct{ s *memStore }

func (r memTransitionRepo) Create(ctx context.Context, tx pgx.Tx, tr *domain.PayoutTransition) error {
	t := r.s.txOf(tx)
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t.writes.transitions = append(t.writes.transitions, *tr)
	return nil
}

func (r memTransitionRepo) ListByPayout(ctx context.Context, payoutID uuid.UUID) ([]domain.PayoutTransition, error) {
	return r.s.transitionsOf(payoutID), nil
}

type memEventRepo struct{ s *memStore }

func eventKey(kind domain.ProcessorKind, eventID string) string {
	return string(kind) + "/" + eventID
}

func (r memEventRepo) Insert(ctx context.Context, tx pgx.Tx, e *domain.WebhookEvent) (bool, error) {
	t := r.s.txOf(tx)
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := eventKey(e.ProcessorKind, e.EventID)
	if _, ok := rowOf(t.writes.events, r.s.data.events, key); ok {
		return false, nil
	}
	lock := eventLock(e.ProcessorKind, e.EventID)
	fresh := r.s.lockRow(t, lock)
	if _, ok := r.s.data.events[key]; ok {
		if fresh {
			r.s.unlockRow(t, lock)
		}
		return false, nil
	}
	t.writes.events[key] = *e
	return true, nil
}

func (r memEventRepo) RecordRedelivery(ctx context.Context, tx pgx.Tx, kind domain.ProcessorKind, eventID string) (*domain.WebhookEvent, error) {
	t := r.s.txOf(tx)
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := eventKey(kind, eventID)
	if _, ok := rowOf(t.writes.events, r.s.data.events, key); !ok {
		return nil, nil
	}
	r.s.lockRow(t, eventLock(kind, eventID))
	e, _ := rowOf(t.writes.events, r.s.data.events, key)
	e.DeliveryCount++
	t.writes.events[key] = e
	return &e, nil
}

func (r memEventRepo) MarkProcessed(ctx context.Context, tx pgx.Tx, e *domain.WebhookEvent) error {
	t := r.s.txOf(tx)
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.lockRow(t, eventLock(e.ProcessorKind, e.EventID))
	t.writes.events[eventKey(e.ProcessorKind, e.EventID)] = *e
	return nil
}

func (s *memStore) event(kind domain.ProcessorKind, eventID string) domain.WebhookEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.events[eventKey(kind, eventID)]
}

type memAccountRepo struct{ s *memStore }

func (r memAccountRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.PayoutAccount, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.accounts[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (r memAccountRepo) GetPrimary(ctx context.Context, vendorID uuid.UUID) (*domain.PayoutAccount, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, a := range r.s.accounts {
		if a.VendorID == vendorID && a.IsPrimary {
			return &a, nil
		}
	}
	return nil, nil
}

func (r memAccountRepo) ListUnverified(ctx context.Context, limit int) ([]domain.PayoutAccount, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.PayoutAccount
	for _, a := range r.s.accounts {
		if a.VerificationStatus == domain.VerificationUnverified {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memAccountRepo) UpdateVerification(ctx context.Context, id uuid.UUID, expected domain.VerificationStatus, v domain.AccountVerification, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.accounts[id]
	if !ok || a.VerificationStatus != expected {
		return false, nil
	}
	a.ApplyVerification(v, at)
	r.s.accounts[id] = a
	return true, nil
}

type memProfileRepo struct{ s *memStore }

func (r memProfileRepo) Get(ctx context.Context, vendorID uuid.UUID) (*domain.VendorProfile, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.profiles[vendorID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

type memScheduleRepo struct{ s *memStore }

func (r memScheduleRepo) Get(ctx context.Context, vendorID uuid.UUID) (*domain.PayoutSchedule, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sched, ok := r.s.data.schedules[vendorID]
	if !ok {
		return nil, nil
	}
	return &sched, nil
}

func (r memScheduleRepo) Upsert(ctx context.Context, sched *domain.PayoutSchedule) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.data.schedules[sched.VendorID] = *sched
	return nil
}

func (r memScheduleRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.PayoutSchedule, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.PayoutSchedule
	for _, sched := range r.s.data.schedules {
		if sched.IsDue(now) {
			out = append(out, sched)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memScheduleRepo) Advance(ctx context.Context, vendorID uuid.UUID, expected time.Time, next *time.Time, processedAt time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sched, ok := r.s.data.schedules[vendorID]
	if !ok || sched.NextPayoutDate == nil || !sched.NextPayoutDate.Equal(expected) {
		return false, nil
	}
	sched.NextPayoutDate = next
	sched.LastProcessedAt = &processedAt
	r.s.data.schedules[vendorID] = sched
	return true, nil
}

// memCache is an IdempotencyCache without expiry.
type memCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string][]byte)}
}

func (c *memCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[key], nil
}

func (c *memCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
	return nil
}
