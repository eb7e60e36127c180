// internal/adapters/out/firestore/donation_repository_fs.go
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
	donationdom "savinggrace/internal/domain/donation"
	lotdom "savinggrace/internal/domain/lot"
)

// DonationRepositoryFS implements donation.RepositoryPort with Firestore.
type DonationRepositoryFS struct {
	Client *firestore.Client
}

func NewDonationRepositoryFS(client *firestore.Client) *DonationRepositoryFS {
	return &DonationRepositoryFS{Client: client}
}

func (r *DonationRepositoryFS) col() *firestore.CollectionRef {
	return r.Client.Collection("donations")
}

// Compile-time check
var _ donationdom.RepositoryPort = (*DonationRepositoryFS)(nil)

// =======================
// Queries
// =======================

func (r *DonationRepositoryFS) GetByID(ctx context.Context, id string) (donationdom.Donation, error) {
	if r.Client == nil {
		return donationdom.Donation{}, errors.New("firestore client is nil")
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return donationdom.Donation{}, donationdom.ErrNotFound
	}

	snap, err := r.col().Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return donationdom.Donation{}, donationdom.ErrNotFound
		}
		return donationdom.Donation{}, err
	}

	return docToDonation(snap)
}

func (r *DonationRepositoryFS) List(
	ctx context.Context,
	filter donationdom.Filter,
	sortSpec common.Sort,
	page common.Page,
) (common.PageResult[donationdom.Donation], error) {
	if r.Client == nil {
		return common.PageResult[donationdom.Donation]{}, errors.New("firestore client is nil")
	}

	pageNum, perPage, _ := fscommon.NormalizePage(page.Number, page.PerPage, 50, 0)

	q := applyDonationSort(r.col().Query, sortSpec)

	it := q.Documents(ctx)
	defer it.Stop()

	var all []donationdom.Donation
	for {
		doc, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return common.PageResult[donationdom.Donation]{}, err
		}
		d, err := docToDonation(doc)
		if err != nil {
			return common.PageResult[donationdom.Donation]{}, err
		}
		if matchDonationFilter(d, filter) {
			all = append(all, d)
		}
	}

	total := len(all)
	if total == 0 {
		return common.PageResult[donationdom.Donation]{
			Items:      []donationdom.Donation{},
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

	return common.PageResult[donationdom.Donation]{
		Items:      all[offset:end],
		TotalCount: total,
		TotalPages: fscommon.ComputeTotalPages(total, perPage),
		Page:       pageNum,
		PerPage:    perPage,
	}, nil
}

func (r *DonationRepositoryFS) ListByDonorID(ctx context.Context, donorID string) ([]donationdom.Donation, error) {
	if r.Client == nil {
		return nil, errors.New("firestore client is nil")
	}

	donorID = strings.TrimSpace(donorID)
	if donorID == "" {
		return []donationdom.Donation{}, nil
	}

	it := r.col().Where("donorId", "==", donorID).Documents(ctx)
	defer it.Stop()

	out := make([]donationdom.Donation, 0, 8)
	for {
		doc, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		d, err := docToDonation(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}

	// 新しい順
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DonationDate.Equal(out[j].DonationDate) {
			return out[i].DonationDate.After(out[j].DonationDate)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// =======================
// Mutations
// =======================

func (r *DonationRepositoryFS) Create(ctx context.Context, d donationdom.Donation) (donationdom.Donation, error) {
	if r.Client == nil {
		return donationdom.Donation{}, errors.New("firestore client is nil")
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

	docRef := r.col().Doc(id)
	if _, err := docRef.Create(ctx, donationToDocData(d)); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return donationdom.Donation{}, fmt.Errorf("donation %s: already exists", id)
		}
		return donationdom.Donation{}, err
	}

	snap, err := docRef.Get(ctx)
	if err != nil {
		return donationdom.Donation{}, err
	}
	return docToDonation(snap)
}

func (r *DonationRepositoryFS) Update(ctx context.Context, d donationdom.Donation) (donationdom.Donation, error) {
	if r.Client == nil {
		return donationdom.Donation{}, errors.New("firestore client is nil")
	}

	id := strings.TrimSpace(d.ID)
	if id == "" {
		return donationdom.Donation{}, donationdom.ErrNotFound
	}
	d.ID = id

	docRef := r.col().Doc(id)
	if _, err := docRef.Get(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return donationdom.Donation{}, donationdom.ErrNotFound
		}
		return donationdom.Donation{}, err
	}

	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = time.Now().UTC()
	}
	if _, err := docRef.Set(ctx, donationToDocData(d)); err != nil {
		return donationdom.Donation{}, err
	}

	snap, err := docRef.Get(ctx)
	if err != nil {
		return donationdom.Donation{}, err
	}
	return docToDonation(snap)
}

func (r *DonationRepositoryFS) Delete(ctx context.Context, id string) error {
	if r.Client == nil {
		return errors.New("firestore client is nil")
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return donationdom.ErrNotFound
	}

	// Delete は存在しないドキュメントでも成功扱いになるため、先に存在を確認する
	docRef := r.col().Doc(id)
	if _, err := docRef.Get(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return donationdom.ErrNotFound
		}
		return err
	}

	_, err := docRef.Delete(ctx)
	return err
}

func (r *DonationRepositoryFS) SetReceiptPath(ctx context.Context, id string, path string, now time.Time) (donationdom.Donation, error) {
	if r.Client == nil {
		return donationdom.Donation{}, errors.New("firestore client is nil")
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return donationdom.Donation{}, donationdom.ErrNotFound
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	docRef := r.col().Doc(id)
	_, err := docRef.Update(ctx, []firestore.Update{
		{Path: "receiptPath", Value: strings.TrimSpace(path)},
		{Path: "updatedAt", Value: now.UTC()},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return donationdom.Donation{}, donationdom.ErrNotFound
		}
		return donationdom.Donation{}, err
	}

	return r.GetByID(ctx, id)
}

// =======================
// Helpers
// =======================

func donationToDocData(d donationdom.Donation) map[string]any {
	items := make([]map[string]any, 0, len(d.Items))
	for _, it := range d.Items {
		im := map[string]any{
			"name":            strings.TrimSpace(it.Name),
			"category":        string(it.Category),
			"quantity":        it.Quantity,
			"unit":            strings.TrimSpace(it.Unit),
			"storageLocation": strings.TrimSpace(it.StorageLocation),
		}
		if v := fscommon.NormalizeTimePtr(it.ExpirationDate); v != nil {
			im["expirationDate"] = *v
		}
		items = append(items, im)
	}

	lotIDs := make([]string, 0, len(d.LotIDs))
	for _, v := range d.LotIDs {
		if s := strings.TrimSpace(v); s != "" {
			lotIDs = append(lotIDs, s)
		}
	}

	return map[string]any{
		"id":           strings.TrimSpace(d.ID),
		"donorId":      strings.TrimSpace(d.DonorID),
		"donationDate": d.DonationDate.UTC(),
		"items":        items,
		"lotIds":       lotIDs,
		"receiptPath":  strings.TrimSpace(d.ReceiptPath),
		"notes":        strings.TrimSpace(d.Notes),
		"status":       string(d.Status),
		"createdBy":    strings.TrimSpace(d.CreatedBy),
		"createdAt":    d.CreatedAt.UTC(),
		"updatedAt":    d.UpdatedAt.UTC(),
	}
}

func docToDonation(doc *firestore.DocumentSnapshot) (donationdom.Donation, error) {
	data := doc.Data()
	if data == nil {
		return donationdom.Donation{}, fmt.Errorf("empty donation document: %s", doc.Ref.ID)
	}

	getStr := func(key string) string {
		if v, ok := data[key].(string); ok {
			return strings.TrimSpace(v)
		}
		return ""
	}
	getTime := func(key string) (time.Time, bool) {
		if v, ok := data[key].(time.Time); ok {
			return v.UTC(), !v.IsZero()
		}
		return time.Time{}, false
	}

	var d donationdom.Donation

	d.ID = getStr("id")
	if d.ID == "" {
		d.ID = doc.Ref.ID
	}
	d.DonorID = getStr("donorId")
	if t, ok := getTime("donationDate"); ok {
		d.DonationDate = t
	}

	if raw, ok := data["items"].([]any); ok {
		d.Items = make([]donationdom.Item, 0, len(raw))
		for _, item := range raw {
			im, ok := item.(map[string]any)
			if !ok {
				continue
			}
			var it donationdom.Item
			if v, ok := im["name"].(string); ok {
				it.Name = strings.TrimSpace(v)
			}
			if v, ok := im["category"].(string); ok {
				it.Category = lotdom.Category(strings.TrimSpace(v))
			}
			if v, ok := im["quantity"].(int64); ok {
				it.Quantity = v
			}
			if v, ok := im["unit"].(string); ok {
				it.Unit = strings.TrimSpace(v)
			}
			if v, ok := im["expirationDate"].(time.Time); ok && !v.IsZero() {
				t := v.UTC()
				it.ExpirationDate = &t
			}
			if v, ok := im["storageLocation"].(string); ok {
				it.StorageLocation = strings.TrimSpace(v)
			}
			d.Items = append(d.Items, it)
		}
	}

	if raw, ok := data["lotIds"].([]any); ok {
		d.LotIDs = make([]string, 0, len(raw))
		for _, item := range raw {
			if s, ok := item.(string); ok {
				if v := strings.TrimSpace(s); v != "" {
					d.LotIDs = append(d.LotIDs, v)
				}
			}
		}
	}

	d.ReceiptPath = getStr("receiptPath")
	d.Notes = getStr("notes")
	d.Status = donationdom.Status(getStr("status"))
	d.CreatedBy = getStr("createdBy")
	if t, ok := getTime("createdAt"); ok {
		d.CreatedAt = t
	}
	if t, ok := getTime("updatedAt"); ok {
		d.UpdatedAt = t
	}

	return d, nil
}

func matchDonationFilter(d donationdom.Donation, f donationdom.Filter) bool {
	if f.DonorID != "" && d.DonorID != strings.TrimSpace(f.DonorID) {
		return false
	}
	if !f.Donated.Contains(d.DonationDate) {
		return false
	}
	return true
}

func applyDonationSort(q firestore.Query, sortSpec common.Sort) firestore.Query {
	col, dir := mapDonationSort(sortSpec)
	if col == "" {
		// default: donationDate DESC, id DESC
		return q.OrderBy("donationDate", firestore.Desc).OrderBy("id", firestore.Desc)
	}
	return q.OrderBy(col, dir).OrderBy("id", firestore.Asc)
}

func mapDonationSort(sortSpec common.Sort) (string, firestore.Direction) {
	var field string
	switch strings.ToLower(sortSpec.Column) {
	case "donationdate", "donation_date":
		field = "donationDate"
	case "donorid", "donor_id":
		field = "donorId"
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
