// internal/application/usecase/donor_usecase.go
package usecase

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"savinggrace/internal/domain/common"
	donordom "savinggrace/internal/domain/donor"
	"savinggrace/internal/domain/permission"
)

type DonorUsecase struct {
	repo donordom.RepositoryPort
}

func NewDonorUsecase(repo donordom.RepositoryPort) *DonorUsecase {
	return &DonorUsecase{repo: repo}
}

// CreateDonorInput は登録フォームの入力
type CreateDonorInput struct {
	Name        string
	ContactName string
	Email       string
	Phone       string
	Address     string
	Notes       string
}

func (uc *DonorUsecase) Create(ctx context.Context, in CreateDonorInput) (donordom.Donor, error) {
	if uc == nil || uc.repo == nil {
		return donordom.Donor{}, errors.New("donor usecase/repo is nil")
	}
	actor, err := requireActor(ctx, permission.DonorsCreate)
	if err != nil {
		return donordom.Donor{}, err
	}

	d, err := donordom.New("", in.Name, in.ContactName, in.Email, in.Phone, in.Address, in.Notes, actor.ID, time.Now().UTC())
	if err != nil {
		return donordom.Donor{}, err
	}

	created, err := uc.repo.Create(ctx, d)
	if err != nil {
		return donordom.Donor{}, err
	}

	log.Printf("[donor_uc] created donorId=%s name=%q by=%s", created.ID, created.Name, actor.ID)
	return created, nil
}

func (uc *DonorUsecase) Update(ctx context.Context, id string, p donordom.Patch) (donordom.Donor, error) {
	if uc == nil || uc.repo == nil {
		return donordom.Donor{}, errors.New("donor usecase/repo is nil")
	}
	if _, err := requireActor(ctx, permission.DonorsUpdate); err != nil {
		return donordom.Donor{}, err
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return donordom.Donor{}, donordom.ErrInvalidID
	}

	d, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return donordom.Donor{}, err
	}
	if err := d.Apply(p, time.Now().UTC()); err != nil {
		return donordom.Donor{}, err
	}
	return uc.repo.Update(ctx, d)
}

// Deactivate は論理削除（status=inactive）。寄付履歴は donorId 参照のまま残ります。
func (uc *DonorUsecase) Deactivate(ctx context.Context, id string) (donordom.Donor, error) {
	if uc == nil || uc.repo == nil {
		return donordom.Donor{}, errors.New("donor usecase/repo is nil")
	}
	actor, err := requireActor(ctx, permission.DonorsDelete)
	if err != nil {
		return donordom.Donor{}, err
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return donordom.Donor{}, donordom.ErrInvalidID
	}

	d, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return donordom.Donor{}, err
	}
	d.Deactivate(time.Now().UTC())

	updated, err := uc.repo.Update(ctx, d)
	if err != nil {
		return donordom.Donor{}, err
	}
	log.Printf("[donor_uc] deactivated donorId=%s by=%s", updated.ID, actor.ID)
	return updated, nil
}

func (uc *DonorUsecase) GetByID(ctx context.Context, id string) (donordom.Donor, error) {
	if uc == nil || uc.repo == nil {
		return donordom.Donor{}, errors.New("donor usecase/repo is nil")
	}
	if _, err := requireActor(ctx, permission.DonorsRead); err != nil {
		return donordom.Donor{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return donordom.Donor{}, donordom.ErrInvalidID
	}
	return uc.repo.GetByID(ctx, id)
}

func (uc *DonorUsecase) List(ctx context.Context, filter donordom.Filter, sort common.Sort, page common.Page) (common.PageResult[donordom.Donor], error) {
	if uc == nil || uc.repo == nil {
		return common.PageResult[donordom.Donor]{}, errors.New("donor usecase/repo is nil")
	}
	if _, err := requireActor(ctx, permission.DonorsRead); err != nil {
		return common.PageResult[donordom.Donor]{}, err
	}
	return uc.repo.List(ctx, filter, sort, page)
}
