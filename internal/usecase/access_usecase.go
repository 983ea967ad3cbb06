package usecase

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"sign-vrtl/internal/domain/entity"
	"sign-vrtl/internal/domain/repository"
	"sign-vrtl/internal/infrastructure/document"
	"sign-vrtl/internal/infrastructure/geoip"
)

// DocumentView is what a token holder is shown after their token was accepted
type DocumentView struct {
	Request *entity.SignRequest       `json:"request"`
	Items   []*entity.SignRequestItem `json:"items"`
	Stats   entity.RequestStats       `json:"stats"`
	Signer  *entity.SignRequestItem   `json:"signer,omitempty"`
}

type CompletedFile struct {
	Name        string
	ContentType string
	Data        []byte
}

type AccessUsecase interface {
	// OpenByRequestToken accepts the request token or the token of a signer still expected to sign
	OpenByRequestToken(ctx context.Context, requestID int64, token string, actor entity.ActorContext) (*DocumentView, error)

	// OpenBySignedLink accepts a signer token together with the expiring link parameters from the access mail
	OpenBySignedLink(ctx context.Context, requestID int64, token string, link SignedLink, actor entity.ActorContext) (*DocumentView, error)

	// Save acknowledges a draft by the signer without changing any state
	Save(ctx context.Context, requestID int64, token string, actor entity.ActorContext) error

	CompletedDocument(ctx context.Context, requestID int64, token string, actor entity.ActorContext) (*CompletedFile, error)
}

type accessUsecase struct {
	requests repository.SignRequestRepository
	items    repository.SignRequestItemRepository
	runner   *TxRunner
	audit    AuditUsecase
	links    LinkSigner
	geo      geoip.Resolver
	store    document.AttachmentStore
	clock    Clock
	logger   *zap.Logger
}

func NewAccessUsecase(
	requests repository.SignRequestRepository,
	items repository.SignRequestItemRepository,
	runner *TxRunner,
	audit AuditUsecase,
	links LinkSigner,
	geo geoip.Resolver,
	store document.AttachmentStore,
	clock Clock,
	logger *zap.Logger,
) AccessUsecase {
	return &accessUsecase{
		requests: requests,
		items:    items,
		runner:   runner,
		audit:    audit,
		links:    links,
		geo:      geo,
		store:    store,
		clock:    clock,
		logger:   logger,
	}
}

// deny hides why a token was rejected. Unknown requests look the same as wrong tokens.
func (u *accessUsecase) deny(requestID int64, actor entity.ActorContext, err error) error {
	if errors.Is(err, entity.ErrNotFound) || errors.Is(err, entity.ErrAccessDenied) {
		u.logger.Warn("Document access denied",
			zap.Int64("request_id", requestID),
			zap.String("ip", actor.RemoteIP()),
		)
		return entity.ErrAccessDenied
	}
	return err
}

func (u *accessUsecase) view(req *entity.SignRequest, items []*entity.SignRequestItem, signer *entity.SignRequestItem) *DocumentView {
	return &DocumentView{
		Request: req,
		Items:   items,
		Stats:   entity.ComputeStats(items),
		Signer:  signer,
	}
}

// open records the visit and pins the signer's location on their first visit
func (u *accessUsecase) open(ctx context.Context, req *entity.SignRequest, item *entity.SignRequestItem, viaLink bool, actor entity.ActorContext) error {
	if item != nil {
		changed := item.PinLocation(u.geo.Resolve(ctx, actor.RemoteIP()))
		if viaLink && !item.AccessViaLink {
			item.AccessViaLink = true
			changed = true
		}
		if changed {
			if err := u.items.Update(ctx, item); err != nil {
				return err
			}
		}
	}
	_, err := u.audit.Record(ctx, entity.LogActionOpen, req, item, actor)
	return err
}

func (u *accessUsecase) OpenByRequestToken(ctx context.Context, requestID int64, token string, actor entity.ActorContext) (*DocumentView, error) {
	var view *DocumentView
	err := u.runner.WithRequest(ctx, requestID, func(ctx context.Context, req *entity.SignRequest) error {
		items, err := u.items.ListByRequest(ctx, requestID)
		if err != nil {
			return err
		}

		var signer *entity.SignRequestItem
		if !req.AccessToken.Matches(token) {
			signer = entity.FindItemByToken(items, token)
			if signer == nil {
				return entity.ErrAccessDenied
			}
			if err := signer.CheckAccess(token); err != nil {
				return err
			}
		}

		if err := u.open(ctx, req, signer, false, actor); err != nil {
			return err
		}
		view = u.view(req, items, signer)
		return nil
	})
	if err != nil {
		return nil, u.deny(requestID, actor, err)
	}
	return view, nil
}

func (u *accessUsecase) OpenBySignedLink(ctx context.Context, requestID int64, token string, link SignedLink, actor entity.ActorContext) (*DocumentView, error) {
	var view *DocumentView
	err := u.runner.WithRequest(ctx, requestID, func(ctx context.Context, req *entity.SignRequest) error {
		items, err := u.items.ListByRequest(ctx, requestID)
		if err != nil {
			return err
		}

		signer := entity.FindItemByToken(items, token)
		if signer == nil {
			return entity.ErrAccessDenied
		}
		if err := signer.CheckAccess(token); err != nil {
			return err
		}
		if err := u.links.Verify(signer.ID, link.Timestamp, link.Signature, u.clock.Now()); err != nil {
			return err
		}

		if err := u.open(ctx, req, signer, true, actor); err != nil {
			return err
		}
		view = u.view(req, items, signer)
		return nil
	})
	if err != nil {
		return nil, u.deny(requestID, actor, err)
	}
	return view, nil
}

func (u *accessUsecase) Save(ctx context.Context, requestID int64, token string, actor entity.ActorContext) error {
	err := u.runner.WithRequest(ctx, requestID, func(ctx context.Context, req *entity.SignRequest) error {
		items, err := u.items.ListByRequest(ctx, requestID)
		if err != nil {
			return err
		}
		signer := entity.FindItemByToken(items, token)
		if signer == nil {
			return entity.ErrAccessDenied
		}
		if err := signer.CheckAccess(token); err != nil {
			return err
		}
		if req.State != entity.RequestStateSent {
			return entity.NewStateConflictError("sign request %d is %s", req.ID, req.State)
		}
		_, err = u.audit.Record(ctx, entity.LogActionSave, req, signer, actor)
		return err
	})
	return u.deny(requestID, actor, err)
}

func (u *accessUsecase) CompletedDocument(ctx context.Context, requestID int64, token string, actor entity.ActorContext) (*CompletedFile, error) {
	var ref, name string
	err := u.runner.WithRequest(ctx, requestID, func(ctx context.Context, req *entity.SignRequest) error {
		if !req.AccessToken.Matches(token) {
			return entity.ErrAccessDenied
		}
		if req.State != entity.RequestStateSigned || req.CompletedDocument == "" {
			return entity.NewStateConflictError("sign request %d has no completed document yet", req.ID)
		}
		ref, name = req.CompletedDocument, req.Reference+".pdf"
		_, err := u.audit.Record(ctx, entity.LogActionOpen, req, nil, actor)
		return err
	})
	if err != nil {
		return nil, u.deny(requestID, actor, err)
	}

	data, err := u.store.Load(ctx, ref)
	if err != nil {
		return nil, err
	}
	return &CompletedFile{Name: name, ContentType: "application/pdf", Data: data}, nil
}
