// internal/adapters/out/firestore/donor_repository_fs.go
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
	donordom "savinggrace/internal/domain/donor"
)

// DonorRepositoryFS implements donor.RepositoryPort with Firestore.
type DonorRepositoryFS struct {
	Client *firestore.Client
}

func NewDonorRepositoryFS(client *firestore.Client) *DonorRepositoryFS {
	return &DonorRepositoryFS{Client: client}
}

func (r *DonorRepositoryFS) col() *firestore.CollectionRef {
	return r.Client.Collection("donors")
}

// Compile-time check
var _ donordom.RepositoryPort = (*DonorRepositoryFS)(nil)

// =======================
// Queries
// =======================

func (r *DonorRepositoryFS) GetByID(ctx context.Context, id string) (donordom.Donor, error) {
	if r.Client == nil {
		return donordom.Donor{}, errors.New("firestore client is nil")
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return donordom.Donor{}, donordom.ErrNotFound
	}

	snap, err := r.col().Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return donordom.Donor{}, donordom.ErrNotFound
		}
		return donordom.Donor{}, err
	}

	return docToDonor(snap)
}

func (r *DonorRepositoryFS) List(
	ctx context.Context,
	filter donordom.Filter,
	sortSpec common.Sort,
	page common.Page,
) (common.PageResult[donordom.Donor], error) {
	if r.Client == nil {
		return common.PageResult[donordom.Donor]{}, errors.New("firestore client is nil")
	}

	pageNum, perPage, _ := fscommon.NormalizePage(page.Number, page.PerPage, 50, 0)

	q := applyDonorSort(r.col().Query, sortSpec)

	it := q.Documents(ctx)
	defer it.Stop()

	var all []donordom.Donor
	for {
		doc, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return common.PageResult[donordom.Donor]{}, err
		}
		d, err := docToDonor(doc)
		if err != nil {
			return common.PageResult[donordom.Donor]{}, err
		}
		if matchDonorFilter(d, filter) {
			all = append(all, d)
		}
	}

	total := len(all)
	if total == 0 {
		return common.PageResult[donordom.Donor]{
			Items:      []donordom.Donor{},
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

	return common.PageResult[donordom.Donor]{
		Items:      all[offset:end],
		TotalCount: total,
		TotalPages: fscommon.ComputeTotalPages(total, perPage),
		Page:       pageNum,
		PerPage:    perPage,
	}, nil
}

// =======================
// Mutations
// =======================

func (r *DonorRepositoryFS) Create(ctx context.Context, d donordom.Donor) (donordom.Donor, error) {
	if r.Client == nil {
		return donordom.Donor{}, errors.New("firestore client is nil")
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
	if _, err := docRef.Create(ctx, donorToDocData(d)); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return donordom.Donor{}, fmt.Errorf("donor %s: already exists", id)
		}
		return donordom.Donor{}, err
	}

	snap, err := docRef.Get(ctx)
	if err != nil {
		return donordom.Donor{}, err
	}
	return docToDonor(snap)
}

func (r *DonorRepositoryFS) Update(ctx context.Context, d donordom.Donor) (donordom.Donor, error) {
	if r.Client == nil {
		return donordom.Donor{}, errors.New("firestore client is nil")
	}

	id := strings.TrimSpace(d.ID)
	if id == "" {
		return donordom.Donor{}, donordom.ErrNotFound
	}
	d.ID = id

	docRef := r.col().Doc(id)
	if _, err := docRef.Get(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return donordom.Donor{}, donordom.ErrNotFound
		}
		return donordom.Donor{}, err
	}

	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = time.Now().UTC()
	}
	if _, err := docRef.Set(ctx, donorToDocData(d)); err != nil {
		return donordom.Donor{}, err
	}

	snap, err := docRef.Get(ctx)
	if err != nil {
		return donordom.Donor{}, err
	}
	return docToDonor(snap)
}

// =======================
// Helpers
// =======================

func donorToDocData(d donordom.Donor) map[string]any {
	return map[string]any{
		"id":          strings.TrimSpace(d.ID),
		"name":        strings.TrimSpace(d.Name),
		"contactName": strings.TrimSpace(d.ContactName),
		"email":       strings.TrimSpace(d.Email),
		"phone":       strings.TrimSpace(d.Phone),
		"address":     strings.TrimSpace(d.Address),
		"notes":       strings.TrimSpace(d.Notes),
		"status":      string(d.Status),
		"createdBy":   strings.TrimSpace(d.CreatedBy),
		"createdAt":   d.CreatedAt.UTC(),
		"updatedAt":   d.UpdatedAt.UTC(),
	}
}

func docToDonor(doc *firestore.DocumentSnapshot) (donordom.Donor, error) {
	data := doc.Data()
	if data == nil {
		return donordom.Donor{}, fmt.Errorf("empty donor document: %s", doc.Ref.ID)
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

	var d donordom.Donor

	d.ID = getStr("id")
	if d.ID == "" {
		d.ID = doc.Ref.ID
	}
	d.Name = getStr("name")
	d.ContactName = getStr("contactName")
	d.Email = getStr("email")
	d.Phone = getStr("phone")
	d.Address = getStr("address")
	d.Notes = getStr("notes")
	d.Status = donordom.Status(getStr("status"))
	d.CreatedBy = getStr("createdBy")
	if t, ok := getTime("createdAt"); ok {
		d.CreatedAt = t
	}
	if t, ok := getTime("updatedAt"); ok {
		d.UpdatedAt = t
	}

	return d, nil
}

func matchDonorFilter(d donordom.Donor, f donordom.Filter) bool {
	if f.Status != "" && d.Status != f.Status {
		return false
	}
	if sq := strings.TrimSpace(f.SearchQuery); sq != "" {
		lq := strings.ToLower(sq)
		haystack := strings.ToLower(d.Name + " " + d.ContactName + " " + d.Email)
		if !strings.Contains(haystack, lq) {
			return false
		}
	}
	return true
}

func applyDonorSort(q firestore.Query, sortSpec common.Sort) firestore.Query {
	col, dir := mapDonorSort(sortSpec)
	if col == "" {
		// default: name ASC, id ASC
		return q.OrderBy("name", firestore.Asc).OrderBy("id", firestore.Asc)
	}
	return q.OrderBy(col, dir).OrderBy("id", firestore.Asc)
}

func mapDonorSort(sortSpec common.Sort) (string, firestore.Direction) {
	var field string
	switch strings.ToLower(sortSpec.Column) {
	case "name":
		field = "name"
	case "email":
		field = "email"
	case "status":
		field = "status"
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
