// internal/application/usecase/recipient_usecase.go
package usecase

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"savinggrace/internal/domain/common"
	"savinggrace/internal/domain/permission"
	recipientdom "savinggrace/internal/domain/recipient"
)

type RecipientUsecase struct {
	repo recipientdom.RepositoryPort
}

func NewRecipientUsecase(repo recipientdom.RepositoryPort) *RecipientUsecase {
	return &RecipientUsecase{repo: repo}
}

// CreateRecipientInput は登録フォームの入力
type CreateRecipientInput struct {
	Name                string
	Email               string
	Phone               string
	Address             string
	HouseholdSize       int
	DietaryRestrictions []string
	Notes               string
}

func (uc *RecipientUsecase) Create(ctx context.Context, in CreateRecipientInput) (recipientdom.Recipient, error) {
	if uc == nil || uc.repo == nil {
		return recipientdom.Recipient{}, errors.New("recipient usecase/repo is nil")
	}
	actor, err := requireActor(ctx, permission.RecipientsCreate)
	if err != nil {
		return recipientdom.Recipient{}, err
	}

	r, err := recipientdom.New("", in.Name, in.Email, in.Phone, in.Address, in.HouseholdSize, in.DietaryRestrictions, in.Notes, actor.ID, time.Now().UTC())
	if err != nil {
		return recipientdom.Recipient{}, err
	}

	created, err := uc.repo.Create(ctx, r)
	if err != nil {
		return recipientdom.Recipient{}, err
	}

	log.Printf("[recipient_uc] created recipientId=%s name=%q by=%s", created.ID, created.Name, actor.ID)
	return created, nil
}

func (uc *RecipientUsecase) Update(ctx context.Context, id string, p recipientdom.Patch) (recipientdom.Recipient, error) {
	if uc == nil || uc.repo == nil {
		return recipientdom.Recipient{}, errors.New("recipient usecase/repo is nil")
	}
	if _, err := requireActor(ctx, permission.RecipientsUpdate); err != nil {
		return recipientdom.Recipient{}, err
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return recipientdom.Recipient{}, recipientdom.ErrInvalidID
	}

	r, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return recipientdom.Recipient{}, err
	}
	if err := r.Apply(p, time.Now().UTC()); err != nil {
		return recipientdom.Recipient{}, err
	}
	return uc.repo.Update(ctx, r)
}

// Deactivate は論理削除（status=inactive）。配布履歴は recipientId 参照のまま残ります。
func (uc *RecipientUsecase) Deactivate(ctx context.Context, id string) (recipientdom.Recipient, error) {
	if uc == nil || uc.repo == nil {
		return recipientdom.Recipient{}, errors.New("recipient usecase/repo is nil")
	}
	actor, err := requireActor(ctx, permission.RecipientsDelete)
	if err != nil {
		return recipientdom.Recipient{}, err
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return recipientdom.Recipient{}, recipientdom.ErrInvalidID
	}

	r, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return recipientdom.Recipient{}, err
	}
	r.Deactivate(time.Now().UTC())

	updated, err := uc.repo.Update(ctx, r)
	if err != nil {
		return recipientdom.Recipient{}, err
	}
	log.Printf("[recipient_uc] deactivated recipientId=%s by=%s", updated.ID, actor.ID)
	return updated, nil
}

func (uc *RecipientUsecase) GetByID(ctx context.Context, id string) (recipientdom.Recipient, error) {
	if uc == nil || uc.repo == nil {
		return recipientdom.Recipient{}, errors.New("recipient usecase/repo is nil")
	}
	if _, err := requireActor(ctx, permission.RecipientsRead); err != nil {
		return recipientdom.Recipient{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return recipientdom.Recipient{}, recipientdom.ErrInvalidID
	}
	return uc.repo.GetByID(ctx, id)
}

func (uc *RecipientUsecase) List(ctx context.Context, filter recipientdom.Filter, sort common.Sort, page common.Page) (common.PageResult[recipientdom.Recipient], error) {
	if uc == nil || uc.repo == nil {
		return common.PageResult[recipientdom.Recipient]{}, errors.New("recipient usecase/repo is nil")
	}
	if _, err := requireActor(ctx, permission.RecipientsRead); err != nil {
		return common.PageResult[recipientdom.Recipient]{}, err
	}
	return uc.repo.List(ctx, filter, sort, page)
}
