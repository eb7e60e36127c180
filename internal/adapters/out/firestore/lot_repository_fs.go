// internal/adapters/out/firestore/lot_repository_fs.go
package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	fscommon "savinggrace/internal/adapters/out/firestore/common"
	"savinggrace/internal/domain/common"
	lotdom "savinggrace/internal/domain/lot"
)

// LotRepositoryFS implements lot.RepositoryPort with Firestore.
//
// 数量を動かす操作（Reserve/Commit/Release/Remove）はすべて
// RunTransaction 内で Get→version 検査→エンティティ遷移→Set を行う
// 「version 一致を条件とする単一ドキュメントの条件付き更新」です。
type LotRepositoryFS struct {
	Client *firestore.Client
}

func NewLotRepositoryFS(client *firestore.Client) *LotRepositoryFS {
	return &LotRepositoryFS{Client: client}
}

func (r *LotRepositoryFS) col() *firestore.CollectionRef {
	return r.Client.Collection("inventory_lots")
}

// Compile-time check
var _ lotdom.RepositoryPort = (*LotRepositoryFS)(nil)

// =======================
// Queries
// =======================

func (r *LotRepositoryFS) GetByID(ctx context.Context, id string) (lotdom.Lot, error) {
	if r.Client == nil {
		return lotdom.Lot{}, errors.New("firestore client is nil")
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return lotdom.Lot{}, lotdom.ErrNotFound
	}

	snap, err := r.col().Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return lotdom.Lot{}, lotdom.ErrNotFound
		}
		return lotdom.Lot{}, err
	}

	return docToLot(snap)
}

func (r *LotRepositoryFS) List(
	ctx context.Context,
	filter lotdom.Filter,
	sortSpec common.Sort,
	page common.Page,
) (common.PageResult[lotdom.Lot], error) {
	if r.Client == nil {
		return common.PageResult[lotdom.Lot]{}, errors.New("firestore client is nil")
	}

	pageNum, perPage, _ := fscommon.NormalizePage(page.Number, page.PerPage, 50, 0)

	q := applyLotSort(r.col().Query, sortSpec)

	it := q.Documents(ctx)
	defer it.Stop()

	var all []lotdom.Lot
	for {
		doc, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return common.PageResult[lotdom.Lot]{}, err
		}
		l, err := docToLot(doc)
		if err != nil {
			return common.PageResult[lotdom.Lot]{}, err
		}
		if matchLotFilter(l, filter) {
			all = append(all, l)
		}
	}

	total := len(all)
	if total == 0 {
		return common.PageResult[lotdom.Lot]{
			Items:      []lotdom.Lot{},
			TotalCount: 0,
			TotalPages: 0,
			Page:       pageNum,
			PerPage:    perPage,
		}, nil
	}

	offset := (pageNum - 1) * perPage
	if offset > total {
		offset = total
	}
	end := offset + perPage
	if end > total {
		end = total
	}
	items := all[offset:end]

	return common.PageResult[lotdom.Lot]{
		Items:      items,
		TotalCount: total,
		TotalPages: fscommon.ComputeTotalPages(total, perPage),
		Page:       pageNum,
		PerPage:    perPage,
	}, nil
}

func (r *LotRepositoryFS) ListByDonationID(ctx context.Context, donationID string) ([]lotdom.Lot, error) {
	if r.Client == nil {
		return nil, errors.New("firestore client is nil")
	}

	donationID = strings.TrimSpace(donationID)
	if donationID == "" {
		return []lotdom.Lot{}, nil
	}

	it := r.col().Where("donationId", "==", donationID).Documents(ctx)
	defer it.Stop()

	out := make([]lotdom.Lot, 0, 4)
	for {
		doc, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		l, err := docToLot(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// =======================
// Mutations
// =======================

func (r *LotRepositoryFS) Create(ctx context.Context, l lotdom.Lot) (lotdom.Lot, error) {
	if r.Client == nil {
		return lotdom.Lot{}, errors.New("firestore client is nil")
	}

	id := strings.TrimSpace(l.ID)
	if id == "" {
		id = r.col().NewDoc().ID
	}
	l.ID = id

	now := time.Now().UTC()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	if l.UpdatedAt.IsZero() {
		l.UpdatedAt = now
	}
	if l.Version <= 0 {
		l.Version = 1
	}
	if err := l.CheckInvariant(); err != nil {
		return lotdom.Lot{}, err
	}

	docRef := r.col().Doc(id)
	if _, err := docRef.Create(ctx, lotToDocData(l)); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return lotdom.Lot{}, fmt.Errorf("lot %s: already exists", id)
		}
		return lotdom.Lot{}, err
	}

	snap, err := docRef.Get(ctx)
	if err != nil {
		return lotdom.Lot{}, err
	}
	return docToLot(snap)
}

// Reserve: Available→Reserved（version 一致時のみ）
func (r *LotRepositoryFS) Reserve(ctx context.Context, lotID string, qty int64, expectedVersion int64) (int64, error) {
	return r.mutateWithVersion(ctx, lotID, expectedVersion, func(l *lotdom.Lot) error {
		return l.Reserve(qty, time.Now().UTC())
	})
}

// Commit: Reserved→Distributed（version 一致時のみ）
func (r *LotRepositoryFS) Commit(ctx context.Context, lotID string, qty int64, expectedVersion int64) (int64, error) {
	return r.mutateWithVersion(ctx, lotID, expectedVersion, func(l *lotdom.Lot) error {
		return l.Commit(qty, time.Now().UTC())
	})
}

// Release: Reserved→Available（version 一致時のみ）
func (r *LotRepositoryFS) Release(ctx context.Context, lotID string, qty int64, expectedVersion int64) (int64, error) {
	return r.mutateWithVersion(ctx, lotID, expectedVersion, func(l *lotdom.Lot) error {
		return l.Release(qty, time.Now().UTC())
	})
}

// Remove: Available→Removed（version 一致時のみ）
func (r *LotRepositoryFS) Remove(ctx context.Context, lotID string, qty int64, reason lotdom.RemovalReason, expectedVersion int64) (int64, error) {
	return r.mutateWithVersion(ctx, lotID, expectedVersion, func(l *lotdom.Lot) error {
		return l.Remove(qty, reason, time.Now().UTC())
	})
}

// mutateWithVersion atomically checks the optimistic-lock version and applies
// a domain transition:
// - Get → docToLot → l.Version != expectedVersion なら ErrVersionConflict
// - mutate(&l)（ドメイン側で数量検査と Version++ が走る）
// - CheckInvariant を通ったものだけを書き戻す
//
// RunTransaction が ABORTED を再実行しても、再実行ごとに最新 snapshot に対して
// version 検査をやり直すので、呼び出し元が観測する CAS 意味論は変わりません。
func (r *LotRepositoryFS) mutateWithVersion(
	ctx context.Context,
	lotID string,
	expectedVersion int64,
	mutate func(l *lotdom.Lot) error,
) (int64, error) {
	if r.Client == nil {
		return 0, errors.New("firestore client is nil")
	}

	lotID = strings.TrimSpace(lotID)
	if lotID == "" {
		return 0, lotdom.ErrNotFound
	}

	docRef := r.col().Doc(lotID)

	var newVersion int64
	err := r.Client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(docRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return lotdom.ErrNotFound
			}
			return err
		}

		l, err := docToLot(snap)
		if err != nil {
			return err
		}

		if l.Version != expectedVersion {
			return fmt.Errorf("%w: lot %s (expected=%d actual=%d)",
				lotdom.ErrVersionConflict, lotID, expectedVersion, l.Version)
		}

		if err := mutate(&l); err != nil {
			return err
		}
		if err := l.CheckInvariant(); err != nil {
			return err
		}

		newVersion = l.Version
		return tx.Set(docRef, lotToDocData(l))
	})
	if err != nil {
		return 0, err
	}
	return newVersion, nil
}

// =======================
// Helpers
// =======================

func lotToDocData(l lotdom.Lot) map[string]any {
	m := map[string]any{
		"id":              strings.TrimSpace(l.ID),
		"donationId":      strings.TrimSpace(l.DonationID),
		"itemName":        strings.TrimSpace(l.ItemName),
		"category":        string(l.Category),
		"unit":            strings.TrimSpace(l.Unit),
		"total":           l.Total,
		"available":       l.Available,
		"reserved":        l.Reserved,
		"distributed":     l.Distributed,
		"removed":         l.Removed,
		"storageLocation": strings.TrimSpace(l.StorageLocation),
		"version":         l.Version,
		"createdAt":       l.CreatedAt.UTC(),
		"updatedAt":       l.UpdatedAt.UTC(),
	}
	if v := fscommon.NormalizeTimePtr(l.ExpirationDate); v != nil {
		m["expirationDate"] = *v
	}
	return m
}

func docToLot(doc *firestore.DocumentSnapshot) (lotdom.Lot, error) {
	data := doc.Data()
	if data == nil {
		return lotdom.Lot{}, fmt.Errorf("empty lot document: %s", doc.Ref.ID)
	}

	getStr := func(key string) string {
		if v, ok := data[key].(string); ok {
			return strings.TrimSpace(v)
		}
		return ""
	}
	getInt := func(key string) int64 {
		if v, ok := data[key].(int64); ok {
			return v
		}
		return 0
	}
	getTime := func(key string) (time.Time, bool) {
		if v, ok := data[key].(time.Time); ok {
			return v.UTC(), !v.IsZero()
		}
		return time.Time{}, false
	}

	var l lotdom.Lot

	l.ID = getStr("id")
	if l.ID == "" {
		l.ID = doc.Ref.ID
	}
	l.DonationID = getStr("donationId")
	l.ItemName = getStr("itemName")
	l.Category = lotdom.Category(getStr("category"))
	l.Unit = getStr("unit")

	l.Total = getInt("total")
	l.Available = getInt("available")
	l.Reserved = getInt("reserved")
	l.Distributed = getInt("distributed")
	l.Removed = getInt("removed")

	if t, ok := getTime("expirationDate"); ok {
		l.ExpirationDate = &t
	}
	l.StorageLocation = getStr("storageLocation")

	l.Version = getInt("version")
	if t, ok := getTime("createdAt"); ok {
		l.CreatedAt = t
	}
	if t, ok := getTime("updatedAt"); ok {
		l.UpdatedAt = t
	}

	// 壊れた台帳データを黙って流さない
	if err := l.CheckInvariant(); err != nil {
		return lotdom.Lot{}, fmt.Errorf("lot document %s: %w", doc.Ref.ID, err)
	}
	return l, nil
}

func matchLotFilter(l lotdom.Lot, f lotdom.Filter) bool {
	if f.DonationID != "" && l.DonationID != strings.TrimSpace(f.DonationID) {
		return false
	}
	if f.Category != "" && l.Category != f.Category {
		return false
	}
	if !f.IncludeZero && l.Exhausted() {
		return false
	}
	if f.LowStockOnly && !l.LowStock() {
		return false
	}
	if f.ExpiringBefore != nil {
		if l.ExpirationDate == nil || !f.ExpiringBefore.Contains(*l.ExpirationDate) {
			return false
		}
	}
	if sq := strings.TrimSpace(f.SearchQuery); sq != "" {
		if !strings.Contains(strings.ToLower(l.ItemName), strings.ToLower(sq)) {
			return false
		}
	}
	return true
}

func applyLotSort(q firestore.Query, sortSpec common.Sort) firestore.Query {
	col, dir := mapLotSort(sortSpec)
	if col == "" {
		// default: updatedAt DESC, id DESC
		return q.OrderBy("updatedAt", firestore.Desc).OrderBy("id", firestore.Desc)
	}
	return q.OrderBy(col, dir).OrderBy("id", firestore.Asc)
}

func mapLotSort(sortSpec common.Sort) (string, firestore.Direction) {
	var field string
	switch strings.ToLower(sortSpec.Column) {
	case "itemname", "item_name":
		field = "itemName"
	case "category":
		field = "category"
	case "available":
		field = "available"
	case "total":
		field = "total"
	case "createdat", "created_at":
		field = "createdAt"
	case "updatedat", "updated_at":
		field = "updatedAt"
	default:
		// expirationDate は任意フィールドのため server-side sort の対象外
		return "", firestore.Desc
	}

	dir := firestore.Asc
	if strings.EqualFold(string(sortSpec.Order), "desc") {
		dir = firestore.Desc
	}
	return field, dir
}
