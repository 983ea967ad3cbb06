// Package memstore keeps sign requests, items, logs and mail deliveries in process memory. It backs the
// "memory" database driver and the usecase tests. Transactions are not rolled back, so
// callers validate before they write.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"sign-vrtl/internal/domain/entity"
	"sign-vrtl/internal/domain/repository"
)

type Store struct {
	mu       sync.RWMutex
	requests map[int64]*entity.SignRequest
	items    map[int64]*entity.SignRequestItem
	logs     map[int64][]*entity.SignLog
	mails    map[int64][]*entity.MailDelivery

	lastRequestID  int64
	lastItemID     int64
	lastLogID      int64
	lastDeliveryID int64
}

func NewStore() *Store {
	return &Store{
		requests: make(map[int64]*entity.SignRequest),
		items:    make(map[int64]*entity.SignRequestItem),
		logs:     make(map[int64][]*entity.SignLog),
		mails:    make(map[int64][]*entity.MailDelivery),
	}
}

// WithinTx runs fn directly; per-request serialization comes from the locker
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func NewTransactor(s *Store) repository.Transactor { return s }

func cloneRequest(r *entity.SignRequest) *entity.SignRequest {
	c := *r
	if r.CCEmails != nil {
		c.CCEmails = append([]string(nil), r.CCEmails...)
	}
	if r.Validity != nil {
		v := *r.Validity
		c.Validity = &v
	}
	if r.CompletionDate != nil {
		d := *r.CompletionDate
		c.CompletionDate = &d
	}
	return &c
}

func cloneItem(i *entity.SignRequestItem) *entity.SignRequestItem {
	c := *i
	if i.SigningDate != nil {
		d := *i.SigningDate
		c.SigningDate = &d
	}
	return &c
}

func cloneLog(l *entity.SignLog) *entity.SignLog {
	c := *l
	return &c
}

type requestRepository struct{ store *Store }

func NewSignRequestRepository(s *Store) repository.SignRequestRepository {
	return &requestRepository{store: s}
}

func (r *requestRepository) Create(ctx context.Context, req *entity.SignRequest) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	r.store.lastRequestID++
	req.ID = r.store.lastRequestID
	now := time.Now()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	req.UpdatedAt = now
	r.store.requests[req.ID] = cloneRequest(req)
	return nil
}

func (r *requestRepository) FindByID(ctx context.Context, id int64) (*entity.SignRequest, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	req, ok := r.store.requests[id]
	if !ok {
		return nil, entity.NewNotFoundError("sign request %d not found", id)
	}
	return cloneRequest(req), nil
}

func (r *requestRepository) LockByID(ctx context.Context, id int64) (*entity.SignRequest, error) {
	return r.FindByID(ctx, id)
}

func (r *requestRepository) Update(ctx context.Context, req *entity.SignRequest) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.requests[req.ID]; !ok {
		return entity.NewNotFoundError("sign request %d not found", req.ID)
	}
	req.UpdatedAt = time.Now()
	r.store.requests[req.ID] = cloneRequest(req)
	return nil
}

func (r *requestRepository) ListIDsByState(ctx context.Context, state entity.RequestState) ([]int64, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var ids []int64
	for id, req := range r.store.requests {
		if req.State == state && req.Active {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (r *requestRepository) ListByIDs(ctx context.Context, ids []int64) ([]*entity.SignRequest, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []*entity.SignRequest
	for _, id := range ids {
		if req, ok := r.store.requests[id]; ok {
			out = append(out, cloneRequest(req))
		}
	}
	return out, nil
}

type itemRepository struct{ store *Store }

func NewSignRequestItemRepository(s *Store) repository.SignRequestItemRepository {
	return &itemRepository{store: s}
}

func (r *itemRepository) Create(ctx context.Context, item *entity.SignRequestItem) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.requests[item.RequestID]; !ok {
		return entity.NewNotFoundError("sign request %d not found", item.RequestID)
	}
	r.store.lastItemID++
	item.ID = r.store.lastItemID
	now := time.Now()
	item.CreatedAt = now
	item.UpdatedAt = now
	r.store.items[item.ID] = cloneItem(item)
	return nil
}

func (r *itemRepository) FindByID(ctx context.Context, id int64) (*entity.SignRequestItem, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	item, ok := r.store.items[id]
	if !ok {
		return nil, entity.NewNotFoundError("sign request item %d not found", id)
	}
	return cloneItem(item), nil
}

func (r *itemRepository) ListByRequest(ctx context.Context, requestID int64) ([]*entity.SignRequestItem, error) {
	return r.list(func(i *entity.SignRequestItem) bool { return i.RequestID == requestID }), nil
}

func (r *itemRepository) ListByPartner(ctx context.Context, partnerID int64) ([]*entity.SignRequestItem, error) {
	return r.list(func(i *entity.SignRequestItem) bool { return i.PartnerID == partnerID }), nil
}

func (r *itemRepository) list(match func(*entity.SignRequestItem) bool) []*entity.SignRequestItem {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []*entity.SignRequestItem
	for _, item := range r.store.items {
		if match(item) {
			out = append(out, cloneItem(item))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *itemRepository) Update(ctx context.Context, item *entity.SignRequestItem) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.items[item.ID]; !ok {
		return entity.NewNotFoundError("sign request item %d not found", item.ID)
	}
	item.UpdatedAt = time.Now()
	r.store.items[item.ID] = cloneItem(item)
	return nil
}

type logRepository struct{ store *Store }

func NewSignLogRepository(s *Store) repository.SignLogRepository {
	return &logRepository{store: s}
}

// AppendChained holds the store lock across read-last and insert
func (r *logRepository) AppendChained(ctx context.Context, log *entity.SignLog) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	chain := r.store.logs[log.RequestID]
	var last *entity.SignLog
	if len(chain) > 0 {
		last = chain[len(chain)-1]
	}
	if err := log.SealAfter(last); err != nil {
		return err
	}
	r.store.lastLogID++
	log.ID = r.store.lastLogID
	r.store.logs[log.RequestID] = append(chain, cloneLog(log))
	return nil
}

func (r *logRepository) ListByRequest(ctx context.Context, requestID int64) ([]*entity.SignLog, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	chain := r.store.logs[requestID]
	out := make([]*entity.SignLog, 0, len(chain))
	for _, l := range chain {
		out = append(out, cloneLog(l))
	}
	entity.SortLogs(out)
	return out, nil
}

type deliveryRepository struct{ store *Store }

func NewMailDeliveryRepository(s *Store) repository.MailDeliveryRepository {
	return &deliveryRepository{store: s}
}

func (r *deliveryRepository) Save(ctx context.Context, d *entity.MailDelivery) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	r.store.lastDeliveryID++
	d.ID = r.store.lastDeliveryID
	c := *d
	c.Recipients = append([]string(nil), d.Recipients...)
	r.store.mails[d.RequestID] = append(r.store.mails[d.RequestID], &c)
	return nil
}

func (r *deliveryRepository) ListByRequest(ctx context.Context, requestID int64) ([]*entity.MailDelivery, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	stored := r.store.mails[requestID]
	out := make([]*entity.MailDelivery, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		c := *stored[i]
		out = append(out, &c)
	}
	return out, nil
}

// Tamper overwrites a stored entry in place. It exists for integrity checks in tests
// and is not reachable through the repository interfaces.
func (s *Store) Tamper(requestID, logID int64, mutate func(*entity.SignLog)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, l := range s.logs[requestID] {
		if l.ID == logID {
			mutate(l)
			return true
		}
	}
	return false
}
