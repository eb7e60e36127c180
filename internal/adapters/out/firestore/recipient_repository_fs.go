// internal/adapters/out/firestore/recipient_repository_fs.go
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
	recipientdom "savinggrace/internal/domain/recipient"
)

// RecipientRepositoryFS implements recipient.RepositoryPort with Firestore.
type RecipientRepositoryFS struct {
	Client *firestore.Client
}

func NewRecipientRepositoryFS(client *firestore.Client) *RecipientRepositoryFS {
	return &RecipientRepositoryFS{Client: client}
}

func (r *RecipientRepositoryFS) col() *firestore.CollectionRef {
	return r.Client.Collection("recipients")
}

// Compile-time check
var _ recipientdom.RepositoryPort = (*RecipientRepositoryFS)(nil)

// =======================
// Queries
// =======================

func (r *RecipientRepositoryFS) GetByID(ctx context.Context, id string) (recipientdom.Recipient, error) {
	if r.Client == nil {
		return recipientdom.Recipient{}, errors.New("firestore client is nil")
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return recipientdom.Recipient{}, recipientdom.ErrNotFound
	}

	snap, err := r.col().Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return recipientdom.Recipient{}, recipientdom.ErrNotFound
		}
		return recipientdom.Recipient{}, err
	}

	return docToRecipient(snap)
}

func (r *RecipientRepositoryFS) Exists(ctx context.Context, id string) (bool, error) {
	if r.Client == nil {
		return false, errors.New("firestore client is nil")
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return false, nil
	}

	_, err := r.col().Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *RecipientRepositoryFS) List(
	ctx context.Context,
	filter recipientdom.Filter,
	sortSpec common.Sort,
	page common.Page,
) (common.PageResult[recipientdom.Recipient], error) {
	if r.Client == nil {
		return common.PageResult[recipientdom.Recipient]{}, errors.New("firestore client is nil")
	}

	pageNum, perPage, _ := fscommon.NormalizePage(page.Number, page.PerPage, 50, 0)

	q := applyRecipientSort(r.col().Query, sortSpec)

	it := q.Documents(ctx)
	defer it.Stop()

	var all []recipientdom.Recipient
	for {
		doc, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return common.PageResult[recipientdom.Recipient]{}, err
		}
		rec, err := docToRecipient(doc)
		if err != nil {
			return common.PageResult[recipientdom.Recipient]{}, err
		}
		if matchRecipientFilter(rec, filter) {
			all = append(all, rec)
		}
	}

	total := len(all)
	if total == 0 {
		return common.PageResult[recipientdom.Recipient]{
			Items:      []recipientdom.Recipient{},
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

	return common.PageResult[recipientdom.Recipient]{
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

func (r *RecipientRepositoryFS) Create(ctx context.Context, rec recipientdom.Recipient) (recipientdom.Recipient, error) {
	if r.Client == nil {
		return recipientdom.Recipient{}, errors.New("firestore client is nil")
	}

	id := strings.TrimSpace(rec.ID)
	if id == "" {
		id = r.col().NewDoc().ID
	}
	rec.ID = id

	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}

	docRef := r.col().Doc(id)
	if _, err := docRef.Create(ctx, recipientToDocData(rec)); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return recipientdom.Recipient{}, fmt.Errorf("recipient %s: already exists", id)
		}
		return recipientdom.Recipient{}, err
	}

	snap, err := docRef.Get(ctx)
	if err != nil {
		return recipientdom.Recipient{}, err
	}
	return docToRecipient(snap)
}

func (r *RecipientRepositoryFS) Update(ctx context.Context, rec recipientdom.Recipient) (recipientdom.Recipient, error) {
	if r.Client == nil {
		return recipientdom.Recipient{}, errors.New("firestore client is nil")
	}

	id := strings.TrimSpace(rec.ID)
	if id == "" {
		return recipientdom.Recipient{}, recipientdom.ErrNotFound
	}
	rec.ID = id

	docRef := r.col().Doc(id)
	if _, err := docRef.Get(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return recipientdom.Recipient{}, recipientdom.ErrNotFound
		}
		return recipientdom.Recipient{}, err
	}

	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	if _, err := docRef.Set(ctx, recipientToDocData(rec)); err != nil {
		return recipientdom.Recipient{}, err
	}

	snap, err := docRef.Get(ctx)
	if err != nil {
		return recipientdom.Recipient{}, err
	}
	return docToRecipient(snap)
}

// =======================
// Helpers
// =======================

func recipientToDocData(rec recipientdom.Recipient) map[string]any {
	restrictions := make([]string, 0, len(rec.DietaryRestrictions))
	for _, v := range rec.DietaryRestrictions {
		if s := strings.TrimSpace(v); s != "" {
			restrictions = append(restrictions, s)
		}
	}

	return map[string]any{
		"id":                  strings.TrimSpace(rec.ID),
		"name":                strings.TrimSpace(rec.Name),
		"email":               strings.TrimSpace(rec.Email),
		"phone":               strings.TrimSpace(rec.Phone),
		"address":             strings.TrimSpace(rec.Address),
		"householdSize":       rec.HouseholdSize,
		"dietaryRestrictions": restrictions,
		"notes":               strings.TrimSpace(rec.Notes),
		"status":              string(rec.Status),
		"createdBy":           strings.TrimSpace(rec.CreatedBy),
		"createdAt":           rec.CreatedAt.UTC(),
		"updatedAt":           rec.UpdatedAt.UTC(),
	}
}

func docToRecipient(doc *firestore.DocumentSnapshot) (recipientdom.Recipient, error) {
	data := doc.Data()
	if data == nil {
		return recipientdom.Recipient{}, fmt.Errorf("empty recipient document: %s", doc.Ref.ID)
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

	var rec recipientdom.Recipient

	rec.ID = getStr("id")
	if rec.ID == "" {
		rec.ID = doc.Ref.ID
	}
	rec.Name = getStr("name")
	rec.Email = getStr("email")
	rec.Phone = getStr("phone")
	rec.Address = getStr("address")

	if v, ok := data["householdSize"].(int64); ok {
		rec.HouseholdSize = int(v)
	}
	if raw, ok := data["dietaryRestrictions"].([]any); ok {
		rec.DietaryRestrictions = make([]string, 0, len(raw))
		for _, item := range raw {
			if s, ok := item.(string); ok {
				if v := strings.TrimSpace(s); v != "" {
					rec.DietaryRestrictions = append(rec.DietaryRestrictions, v)
				}
			}
		}
	}

	rec.Notes = getStr("notes")
	rec.Status = recipientdom.Status(getStr("status"))
	rec.CreatedBy = getStr("createdBy")
	if t, ok := getTime("createdAt"); ok {
		rec.CreatedAt = t
	}
	if t, ok := getTime("updatedAt"); ok {
		rec.UpdatedAt = t
	}

	return rec, nil
}

func matchRecipientFilter(rec recipientdom.Recipient, f recipientdom.Filter) bool {
	if f.Status != "" && rec.Status != f.Status {
		return false
	}
	if sq := strings.TrimSpace(f.SearchQuery); sq != "" {
		lq := strings.ToLower(sq)
		haystack := strings.ToLower(rec.Name + " " + rec.Email)
		if !strings.Contains(haystack, lq) {
			return false
		}
	}
	return true
}

func applyRecipientSort(q firestore.Query, sortSpec common.Sort) firestore.Query {
	col, dir := mapRecipientSort(sortSpec)
	if col == "" {
		// default: name ASC, id ASC
		return q.OrderBy("name", firestore.Asc).OrderBy("id", firestore.Asc)
	}
	return q.OrderBy(col, dir).OrderBy("id", firestore.Asc)
}

func mapRecipientSort(sortSpec common.Sort) (string, firestore.Direction) {
	var field string
	switch strings.ToLower(sortSpec.Column) {
	case "name":
		field = "name"
	case "email":
		field = "email"
	case "status":
		field = "status"
	case "householdsize", "household_size":
		field = "householdSize"
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
