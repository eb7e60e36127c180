// internal/adapters/out/firestore/distribution_repository_fs.go
package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	fscommon "savinggrace/internal/adapters/out/firestore/common"
	"savinggrace/internal/domain/common"
	distdom "savinggrace/internal/domain/distribution"
)

// DistributionRepositoryFS implements distribution.RepositoryPort with Firestore.
//
// 終端遷移（ClaimTransition）は RunTransaction 内で
// Get→状態検査→エンティティ遷移→Set を行い、複数プロセスが同時に
// complete/cancel しても claim に成功するのは 1 つだけです。
type DistributionRepositoryFS struct {
	Client *firestore.Client
}

func NewDistributionRepositoryFS(client *firestore.Client) *DistributionRepositoryFS {
	return &DistributionRepositoryFS{Client: client}
}

func (r *DistributionRepositoryFS) col() *firestore.CollectionRef {
	return r.Client.Collection("distributions")
}

// Compile-time check
var _ distdom.RepositoryPort = (*DistributionRepositoryFS)(nil)

// =======================
// Queries
// =======================

func (r *DistributionRepositoryFS) GetByID(ctx context.Context, id string) (distdom.Distribution, error) {
	if r.Client == nil {
		return distdom.Distribution{}, errors.New("firestore client is nil")
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return distdom.Distribution{}, distdom.ErrNotFound
	}

	snap, err := r.col().Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return distdom.Distribution{}, distdom.ErrNotFound
		}
		return distdom.Distribution{}, err
	}

	return docToDistribution(snap)
}

func (r *DistributionRepositoryFS) List(
	ctx context.Context,
	filter distdom.Filter,
	sortSpec common.Sort,
	page common.Page,
) (common.PageResult[distdom.Distribution], error) {
	if r.Client == nil {
		return common.PageResult[distdom.Distribution]{}, errors.New("firestore client is nil")
	}

	pageNum, perPage, _ := fscommon.NormalizePage(page.Number, page.PerPage, 50, 0)

	q := applyDistributionSort(r.col().Query, sortSpec)

	it := q.Documents(ctx)
	defer it.Stop()

	var all []distdom.Distribution
	for {
		doc, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return common.PageResult[distdom.Distribution]{}, err
		}
		d, err := docToDistribution(doc)
		if err != nil {
			return common.PageResult[distdom.Distribution]{}, err
		}
		if matchDistributionFilter(d, filter) {
			all = append(all, d)
		}
	}

	total := len(all)
	if total == 0 {
		return common.PageResult[distdom.Distribution]{
			Items:      []distdom.Distribution{},
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

	return common.PageResult[distdom.Distribution]{
		Items:      items,
		TotalCount: total,
		TotalPages: fscommon.ComputeTotalPages(total, perPage),
		Page:       pageNum,
		PerPage:    perPage,
	}, nil
}

// =======================
// Mutations
// =======================

func (r *DistributionRepositoryFS) Create(ctx context.Context, d distdom.Distribution) (distdom.Distribution, error) {
	if r.Client == nil {
		return distdom.Distribution{}, errors.New("firestore client is nil")
	}

	id := strings.TrimSpace(d.ID)
	if id == "" {
		id = r.col().NewDoc().ID
	}
	d.ID = id

	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = now
	}
	if d.Version <= 0 {
		d.Version = 1
	}

	docRef := r.col().Doc(id)
	if _, err := docRef.Create(ctx, distributionToDocData(d)); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return distdom.Distribution{}, fmt.Errorf("distribution %s: already exists", id)
		}
		return distdom.Distribution{}, err
	}

	snap, err := docRef.Get(ctx)
	if err != nil {
		return distdom.Distribution{}, err
	}
	return docToDistribution(snap)
}

// UpdateSchedule: planned の間だけ日付・メモを更新します。
// 終端への並行遷移とは RunTransaction どうしで直列化されます。
func (r *DistributionRepositoryFS) UpdateSchedule(
	ctx context.Context,
	id string,
	date *time.Time,
	notes *string,
	now time.Time,
) (distdom.Distribution, error) {
	if r.Client == nil {
		return distdom.Distribution{}, errors.New("firestore client is nil")
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return distdom.Distribution{}, distdom.ErrNotFound
	}

	docRef := r.col().Doc(id)

	var updated distdom.Distribution
	err := r.Client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(docRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return distdom.ErrNotFound
			}
			return err
		}

		d, err := docToDistribution(snap)
		if err != nil {
			return err
		}

		if err := d.Reschedule(date, notes, now); err != nil {
			return err
		}

		updated = d
		return tx.Set(docRef, distributionToDocData(d))
	})
	if err != nil {
		return distdom.Distribution{}, err
	}
	return updated, nil
}

// ClaimTransition: planned→to の終端遷移を claim します。
// すでに終端なら現在のレコードを (claimed=false, err=nil) で返します。
func (r *DistributionRepositoryFS) ClaimTransition(
	ctx context.Context,
	id string,
	to distdom.Status,
	by string,
	notes string,
	now time.Time,
) (distdom.Distribution, bool, error) {
	if r.Client == nil {
		return distdom.Distribution{}, false, errors.New("firestore client is nil")
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return distdom.Distribution{}, false, distdom.ErrNotFound
	}
	if !to.Terminal() {
		return distdom.Distribution{}, false, &distdom.TransitionError{ID: id, From: distdom.StatusPlanned, To: to}
	}

	docRef := r.col().Doc(id)

	var (
		result  distdom.Distribution
		claimed bool
	)
	err := r.Client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		// tx が再実行されたときのための初期化
		claimed = false

		snap, err := tx.Get(docRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return distdom.ErrNotFound
			}
			return err
		}

		d, err := docToDistribution(snap)
		if err != nil {
			return err
		}

		// すでに終端: 書き込まずに現状を返す（冪等リトライ用）
		if d.Status.Terminal() {
			result = d
			return nil
		}

		switch to {
		case distdom.StatusCompleted:
			err = d.MarkCompleted(by, notes, now)
		case distdom.StatusCancelled:
			err = d.MarkCancelled(by, now)
		}
		if err != nil {
			return err
		}

		result = d
		claimed = true
		return tx.Set(docRef, distributionToDocData(d))
	})
	if err != nil {
		return distdom.Distribution{}, false, err
	}
	return result, claimed, nil
}

// RecordFinalizeError: claim 後の台帳確定/解放の失敗をオペレーター向けに記録します。
func (r *DistributionRepositoryFS) RecordFinalizeError(ctx context.Context, id string, detail string, now time.Time) error {
	if r.Client == nil {
		return errors.New("firestore client is nil")
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return distdom.ErrNotFound
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	_, err := r.col().Doc(id).Update(ctx, []firestore.Update{
		{Path: "finalizeError", Value: strings.TrimSpace(detail)},
		{Path: "updatedAt", Value: now.UTC()},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return distdom.ErrNotFound
		}
		return err
	}
	return nil
}

// =======================
// Helpers
// =======================

func distributionToDocData(d distdom.Distribution) map[string]any {
	lines := make([]map[string]any, 0, len(d.Lines))
	for _, ln := range d.Lines {
		lines = append(lines, map[string]any{
			"lotId":      strings.TrimSpace(ln.LotID),
			"quantity":   ln.Quantity,
			"lotVersion": ln.LotVersion,
		})
	}

	m := map[string]any{
		"id":               strings.TrimSpace(d.ID),
		"recipientId":      strings.TrimSpace(d.RecipientID),
		"scheduledDate":    d.ScheduledDate.UTC(),
		"lines":            lines,
		"reservationSetId": strings.TrimSpace(d.ReservationSetID),
		"status":           string(d.Status),
		"notes":            strings.TrimSpace(d.Notes),
		"completionNotes":  strings.TrimSpace(d.CompletionNotes),
		"finalizeError":    strings.TrimSpace(d.FinalizeError),
		"version":          d.Version,
		"createdBy":        strings.TrimSpace(d.CreatedBy),
		"createdAt":        d.CreatedAt.UTC(),
		"completedBy":      strings.TrimSpace(d.CompletedBy),
		"cancelledBy":      strings.TrimSpace(d.CancelledBy),
		"updatedAt":        d.UpdatedAt.UTC(),
	}
	if v := fscommon.NormalizeTimePtr(d.CompletedAt); v != nil {
		m["completedAt"] = *v
	}
	if v := fscommon.NormalizeTimePtr(d.CancelledAt); v != nil {
		m["cancelledAt"] = *v
	}
	return m
}

func docToDistribution(doc *firestore.DocumentSnapshot) (distdom.Distribution, error) {
	data := doc.Data()
	if data == nil {
		return distdom.Distribution{}, fmt.Errorf("empty distribution document: %s", doc.Ref.ID)
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

	var d distdom.Distribution

	d.ID = getStr("id")
	if d.ID == "" {
		d.ID = doc.Ref.ID
	}
	d.RecipientID = getStr("recipientId")
	if t, ok := getTime("scheduledDate"); ok {
		d.ScheduledDate = t
	}

	if raw, ok := data["lines"].([]any); ok {
		d.Lines = make([]distdom.Line, 0, len(raw))
		for _, item := range raw {
			lm, ok := item.(map[string]any)
			if !ok {
				continue
			}
			ln := distdom.Line{}
			if v, ok := lm["lotId"].(string); ok {
				ln.LotID = strings.TrimSpace(v)
			}
			if v, ok := lm["quantity"].(int64); ok {
				ln.Quantity = v
			}
			if v, ok := lm["lotVersion"].(int64); ok {
				ln.LotVersion = v
			}
			d.Lines = append(d.Lines, ln)
		}
	}

	d.ReservationSetID = getStr("reservationSetId")
	d.Status = distdom.Status(getStr("status"))
	d.Notes = getStr("notes")
	d.CompletionNotes = getStr("completionNotes")
	d.FinalizeError = getStr("finalizeError")
	d.Version = getInt("version")

	d.CreatedBy = getStr("createdBy")
	if t, ok := getTime("createdAt"); ok {
		d.CreatedAt = t
	}
	d.CompletedBy = getStr("completedBy")
	if t, ok := getTime("completedAt"); ok {
		d.CompletedAt = &t
	}
	d.CancelledBy = getStr("cancelledBy")
	if t, ok := getTime("cancelledAt"); ok {
		d.CancelledAt = &t
	}
	if t, ok := getTime("updatedAt"); ok {
		d.UpdatedAt = t
	}

	return d, nil
}

func matchDistributionFilter(d distdom.Distribution, f distdom.Filter) bool {
	if f.RecipientID != "" && d.RecipientID != strings.TrimSpace(f.RecipientID) {
		return false
	}
	if f.Status != "" && d.Status != f.Status {
		return false
	}
	if f.CreatedBy != "" && d.CreatedBy != strings.TrimSpace(f.CreatedBy) {
		return false
	}
	if !f.Scheduled.Contains(d.ScheduledDate) {
		return false
	}
	return true
}

func applyDistributionSort(q firestore.Query, sortSpec common.Sort) firestore.Query {
	col, dir := mapDistributionSort(sortSpec)
	if col == "" {
		// default: scheduledDate DESC, id DESC
		return q.OrderBy("scheduledDate", firestore.Desc).OrderBy("id", firestore.Desc)
	}
	return q.OrderBy(col, dir).OrderBy("id", firestore.Asc)
}

func mapDistributionSort(sortSpec common.Sort) (string, firestore.Direction) {
	var field string
	switch strings.ToLower(sortSpec.Column) {
	case "scheduleddate", "scheduled_date":
		field = "scheduledDate"
	case "status":
		field = "status"
	case "recipientid", "recipient_id":
		field = "recipientId"
	case "createdat", "created_at":
		field = "createdAt"
	case "updatedat", "updated_at":
		field = "updatedAt"
	default:
		return "", firestore.Desc
	}

	dir := firestore.Asc
	if strings.EqualFold(string(sortSpec.Order), "desc") {
		dir = firestore.Desc
	}
	return field, dir
}
