package repository

import (
	"context"

	"sign-vrtl/internal/domain/entity"
)

// Transactor runs fn inside a transaction carried by the context. Nested calls join
// the outer transaction.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type SignRequestRepository interface {
	// Create inserts the request and sets its ID
	Create(ctx context.Context, req *entity.SignRequest) error

	// FindByID returns entity.ErrNotFound when no request exists
	FindByID(ctx context.Context, id int64) (*entity.SignRequest, error)

	// LockByID loads the request and holds a row lock until the surrounding transaction ends
	LockByID(ctx context.Context, id int64) (*entity.SignRequest, error)

	Update(ctx context.Context, req *entity.SignRequest) error

	// ListIDsByState returns active request ids in the given state, oldest first
	ListIDsByState(ctx context.Context, state entity.RequestState) ([]int64, error)

	ListByIDs(ctx context.Context, ids []int64) ([]*entity.SignRequest, error)
}

type SignRequestItemRepository interface {
	Create(ctx context.Context, item *entity.SignRequestItem) error
	FindByID(ctx context.Context, id int64) (*entity.SignRequestItem, error)
	ListByRequest(ctx context.Context, requestID int64) ([]*entity.SignRequestItem, error)
	ListByPartner(ctx context.Context, partnerID int64) ([]*entity.SignRequestItem, error)
	Update(ctx context.Context, item *entity.SignRequestItem) error
}

// SignLogRepository is append-only; entries are never updated or deleted.
type SignLogRepository interface {
	// AppendChained reads the last entry of the request's chain, seals log after it and
	// inserts it as one atomic step per request.
	AppendChained(ctx context.Context, log *entity.SignLog) error

	// ListByRequest returns the chain ordered by (date, id)
	ListByRequest(ctx context.Context, requestID int64) ([]*entity.SignLog, error)
}

// MailDeliveryRepository keeps the dispatch history of notifications
type MailDeliveryRepository interface {
	Save(ctx context.Context, delivery *entity.MailDelivery) error

	// ListByRequest returns the request's deliveries, newest first
	ListByRequest(ctx context.Context, requestID int64) ([]*entity.MailDelivery, error)
}
