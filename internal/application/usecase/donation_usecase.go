// internal/application/usecase/donation_usecase.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"savinggrace/internal/domain/audit"
	"savinggrace/internal/domain/common"
	donationdom "savinggrace/internal/domain/donation"
	donordom "savinggrace/internal/domain/donor"
	lotdom "savinggrace/internal/domain/lot"
	"savinggrace/internal/domain/permission"
)

// ReceiptStore は領収書オブジェクト用の署名付き URL を発行する出力ポート。
// GCS 実装は adapters/out/gcs 側。オブジェクトパスの組み立ても実装側が行います。
type ReceiptStore interface {
	// IssueSignedUploadURL returns (uploadURL, objectPath).
	IssueSignedUploadURL(ctx context.Context, donationID, fileName, contentType string, expiresIn time.Duration) (string, string, error)
	IssueSignedDownloadURL(ctx context.Context, objectPath string, expiresIn time.Duration) (string, error)
}

const receiptURLExpiry = 15 * time.Minute

var (
	ErrReceiptStoreNotConfigured = errors.New("donation usecase: receipt store not configured")
	ErrNoReceipt                 = errors.New("donation usecase: no receipt attached")
)

type DonationUsecase struct {
	donations donationdom.RepositoryPort
	donors    donordom.RepositoryPort
	lots      lotdom.RepositoryPort
	receipts  ReceiptStore // nil でも受付自体は動く
	audit     *audit.Service
	now       func() time.Time
}

func NewDonationUsecase(
	donations donationdom.RepositoryPort,
	donors donordom.RepositoryPort,
	lots lotdom.RepositoryPort,
	receipts ReceiptStore,
	auditSvc *audit.Service,
) *DonationUsecase {
	return &DonationUsecase{
		donations: donations,
		donors:    donors,
		lots:      lots,
		receipts:  receipts,
		audit:     auditSvc,
		now:       time.Now,
	}
}

func (uc *DonationUsecase) WithNow(now func() time.Time) *DonationUsecase {
	uc.now = now
	return uc
}

// DonationItemInput は受付フォームの品目 1 行
type DonationItemInput struct {
	Name            string
	Category        string
	Quantity        int64
	Unit            string
	ExpirationDate  *time.Time
	StorageLocation string
}

type RecordDonationInput struct {
	DonorID      string
	DonationDate time.Time
	Items        []DonationItemInput
	Notes        string
}

// RecordDonationResult は受付結果（寄付 1 件と、品目から作られたロット）
type RecordDonationResult struct {
	Donation donationdom.Donation
	Lots     []lotdom.Lot
}

// Record は寄付受付の唯一の入口です。
// 品目 1 行につき在庫ロットを 1 件作り、対応（LotIDs）を寄付側に記録します。
// 以後の数量の増減はすべてロット側の台帳操作で行い、寄付記録は変更しません。
func (uc *DonationUsecase) Record(ctx context.Context, in RecordDonationInput) (RecordDonationResult, error) {
	if uc == nil || uc.donations == nil || uc.donors == nil || uc.lots == nil {
		return RecordDonationResult{}, errors.New("donation usecase/repo is nil")
	}
	actor, err := requireActor(ctx, permission.DonationsCreate)
	if err != nil {
		return RecordDonationResult{}, err
	}

	donorID := strings.TrimSpace(in.DonorID)
	if donorID == "" {
		return RecordDonationResult{}, donationdom.ErrInvalidDonorID
	}
	// 寄付者の存在チェック（inactive でも過去付き合いのある寄付者として受付可）
	if _, err := uc.donors.GetByID(ctx, donorID); err != nil {
		return RecordDonationResult{}, err
	}

	items := make([]donationdom.Item, 0, len(in.Items))
	for _, it := range in.Items {
		items = append(items, donationdom.Item{
			Name:            it.Name,
			Category:        lotdom.Category(strings.TrimSpace(strings.ToLower(it.Category))),
			Quantity:        it.Quantity,
			Unit:            it.Unit,
			ExpirationDate:  it.ExpirationDate,
			StorageLocation: it.StorageLocation,
		})
	}

	now := uc.now().UTC()
	d, err := donationdom.New("", donorID, in.DonationDate, items, in.Notes, actor.ID, now)
	if err != nil {
		return RecordDonationResult{}, err
	}

	created, err := uc.donations.Create(ctx, d)
	if err != nil {
		return RecordDonationResult{}, err
	}

	// 品目 1 行 → ロット 1 件
	createdLots := make([]lotdom.Lot, 0, len(created.Items))
	lotIDs := make([]string, 0, len(created.Items))
	for i, it := range created.Items {
		l, err := lotdom.New("", created.ID, it.Name, it.Category, it.Unit, it.Quantity, it.ExpirationDate, it.StorageLocation, now)
		if err != nil {
			log.Printf("[donation_uc] ERROR: lot build failed donationId=%s item=%d: %v", created.ID, i, err)
			return RecordDonationResult{}, err
		}
		saved, err := uc.lots.Create(ctx, l)
		if err != nil {
			log.Printf("[donation_uc] ERROR: lot create failed donationId=%s item=%d: %v", created.ID, i, err)
			return RecordDonationResult{}, err
		}
		createdLots = append(createdLots, saved)
		lotIDs = append(lotIDs, saved.ID)
	}

	if err := created.SetLotIDs(lotIDs, now); err != nil {
		return RecordDonationResult{}, err
	}
	updated, err := uc.donations.Update(ctx, created)
	if err != nil {
		return RecordDonationResult{}, err
	}

	log.Printf("[donation_uc] recorded donationId=%s donorId=%s items=%d totalQty=%d by=%s",
		updated.ID, updated.DonorID, len(updated.Items), updated.TotalQuantity(), actor.ID)

	return RecordDonationResult{Donation: updated, Lots: createdLots}, nil
}

// UpdateNotes はメモのみ更新します。品目・日付は受付記録として固定です
// （数量の訂正は在庫側の除却 or 新規受付で行う運用）。
func (uc *DonationUsecase) UpdateNotes(ctx context.Context, id string, notes string) (donationdom.Donation, error) {
	if uc == nil || uc.donations == nil {
		return donationdom.Donation{}, errors.New("donation usecase/repo is nil")
	}
	if _, err := requireActor(ctx, permission.DonationsUpdate); err != nil {
		return donationdom.Donation{}, err
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return donationdom.Donation{}, donationdom.ErrInvalidID
	}

	d, err := uc.donations.GetByID(ctx, id)
	if err != nil {
		return donationdom.Donation{}, err
	}
	if err := d.UpdateNotes(notes, uc.now().UTC()); err != nil {
		return donationdom.Donation{}, err
	}
	return uc.donations.Update(ctx, d)
}

// Delete は寄付受付の取り消しです。
// 全ロットが未使用（Available == Total）のときだけ許可し、各ロットを
// donation_deleted 理由で全量除却してから受付記録を消します。
// 除却は version 一致の条件付き更新なので、チェック後に予約が入った場合は
// ErrVersionConflict で止まります（部分削除にはなりません）。
func (uc *DonationUsecase) Delete(ctx context.Context, id string) error {
	if uc == nil || uc.donations == nil || uc.lots == nil {
		return errors.New("donation usecase/repo is nil")
	}
	actor, err := requireActor(ctx, permission.DonationsDelete)
	if err != nil {
		return err
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return donationdom.ErrInvalidID
	}

	d, err := uc.donations.GetByID(ctx, id)
	if err != nil {
		return err
	}

	ls, err := uc.lots.ListByDonationID(ctx, d.ID)
	if err != nil {
		return err
	}
	for _, l := range ls {
		if !l.Untouched() {
			return fmt.Errorf("%w: lot %s", donationdom.ErrHasActivity, l.ID)
		}
	}

	for _, l := range ls {
		if l.Available == 0 {
			continue
		}
		if _, err := uc.lots.Remove(ctx, l.ID, l.Available, lotdom.RemovalDonationDeleted, l.Version); err != nil {
			log.Printf("[donation_uc] delete aborted donationId=%s lotId=%s: %v", d.ID, l.ID, err)
			return err
		}
		uc.audit.Record(ctx, audit.Entry{
			ActorID:    actor.ID,
			Action:     audit.ActionLotAdjust,
			EntityKind: "lot",
			EntityID:   l.ID,
			Quantity:   l.Available,
			Reason:     string(lotdom.RemovalDonationDeleted),
			Note:       "donation " + d.ID + " deleted",
		})
	}

	if err := uc.donations.Delete(ctx, d.ID); err != nil {
		return err
	}

	uc.audit.Record(ctx, audit.Entry{
		ActorID:    actor.ID,
		Action:     audit.ActionDonationDelete,
		EntityKind: "donation",
		EntityID:   d.ID,
		Quantity:   d.TotalQuantity(),
		Note:       fmt.Sprintf("donor=%s items=%d", d.DonorID, len(d.Items)),
	})
	log.Printf("[donation_uc] deleted donationId=%s lots=%d by=%s", d.ID, len(ls), actor.ID)
	return nil
}

// ========================================
// Queries
// ========================================

func (uc *DonationUsecase) GetByID(ctx context.Context, id string) (donationdom.Donation, error) {
	if uc == nil || uc.donations == nil {
		return donationdom.Donation{}, errors.New("donation usecase/repo is nil")
	}
	if _, err := requireActor(ctx, permission.DonationsRead); err != nil {
		return donationdom.Donation{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return donationdom.Donation{}, donationdom.ErrInvalidID
	}
	return uc.donations.GetByID(ctx, id)
}

func (uc *DonationUsecase) List(ctx context.Context, filter donationdom.Filter, sort common.Sort, page common.Page) (common.PageResult[donationdom.Donation], error) {
	if uc == nil || uc.donations == nil {
		return common.PageResult[donationdom.Donation]{}, errors.New("donation usecase/repo is nil")
	}
	if _, err := requireActor(ctx, permission.DonationsRead); err != nil {
		return common.PageResult[donationdom.Donation]{}, err
	}
	return uc.donations.List(ctx, filter, sort, page)
}

// ListByDonorID は寄付者 1 件の受付履歴を返します。
func (uc *DonationUsecase) ListByDonorID(ctx context.Context, donorID string) ([]donationdom.Donation, error) {
	if uc == nil || uc.donations == nil {
		return nil, errors.New("donation usecase/repo is nil")
	}
	if _, err := requireActor(ctx, permission.DonationsRead); err != nil {
		return nil, err
	}
	donorID = strings.TrimSpace(donorID)
	if donorID == "" {
		return nil, donationdom.ErrInvalidDonorID
	}
	return uc.donations.ListByDonorID(ctx, donorID)
}

// ========================================
// Receipts
// ========================================

// IssueReceiptUploadURL は領収書アップロード用の署名付き PUT URL を発行し、
// オブジェクトパスを寄付に記録します。再発行すると前のパスは上書きされます。
func (uc *DonationUsecase) IssueReceiptUploadURL(ctx context.Context, donationID, fileName, contentType string) (string, string, error) {
	if uc == nil || uc.donations == nil {
		return "", "", errors.New("donation usecase/repo is nil")
	}
	if _, err := requireActor(ctx, permission.DonationsUpdate); err != nil {
		return "", "", err
	}
	if uc.receipts == nil {
		return "", "", ErrReceiptStoreNotConfigured
	}

	d, err := uc.donations.GetByID(ctx, strings.TrimSpace(donationID))
	if err != nil {
		return "", "", err
	}

	uploadURL, objectPath, err := uc.receipts.IssueSignedUploadURL(ctx, d.ID, fileName, contentType, receiptURLExpiry)
	if err != nil {
		return "", "", err
	}

	if _, err := uc.donations.SetReceiptPath(ctx, d.ID, objectPath, uc.now().UTC()); err != nil {
		return "", "", err
	}

	log.Printf("[donation_uc] receipt upload url issued donationId=%s path=%s", d.ID, objectPath)
	return uploadURL, objectPath, nil
}

// ReceiptDownloadURL は保存済み領収書の署名付き GET URL を返します。
func (uc *DonationUsecase) ReceiptDownloadURL(ctx context.Context, donationID string) (string, error) {
	if uc == nil || uc.donations == nil {
		return "", errors.New("donation usecase/repo is nil")
	}
	if _, err := requireActor(ctx, permission.DonationsRead); err != nil {
		return "", err
	}
	if uc.receipts == nil {
		return "", ErrReceiptStoreNotConfigured
	}

	d, err := uc.donations.GetByID(ctx, strings.TrimSpace(donationID))
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(d.ReceiptPath) == "" {
		return "", ErrNoReceipt
	}
	return uc.receipts.IssueSignedDownloadURL(ctx, d.ReceiptPath, receiptURLExpiry)
}
