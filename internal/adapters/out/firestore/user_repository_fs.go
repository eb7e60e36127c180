// internal/adapters/out/firestore/user_repository_fs.go
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
	"savinggrace/internal/domain/permission"
	userdom "savinggrace/internal/domain/user"
)

// UserRepositoryFS implements user.RepositoryPort with Firestore.
//
// users コレクションの DocID は "user.ID(=Firebase Auth UID)" に統一する。
// これにより userId と UID の不一致を根本的に排除する。
type UserRepositoryFS struct {
	Client *firestore.Client
}

func NewUserRepositoryFS(client *firestore.Client) *UserRepositoryFS {
	return &UserRepositoryFS{Client: client}
}

func (r *UserRepositoryFS) col() *firestore.CollectionRef {
	return r.Client.Collection("users")
}

// Compile-time check
var _ userdom.RepositoryPort = (*UserRepositoryFS)(nil)

// =======================
// Queries
// =======================

func (r *UserRepositoryFS) GetByID(ctx context.Context, id string) (userdom.User, error) {
	if r.Client == nil {
		return userdom.User{}, errors.New("firestore client is nil")
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return userdom.User{}, userdom.ErrNotFound
	}

	snap, err := r.col().Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return userdom.User{}, userdom.ErrNotFound
		}
		return userdom.User{}, err
	}

	return docToUser(snap)
}

func (r *UserRepositoryFS) GetByEmail(ctx context.Context, email string) (userdom.User, error) {
	if r.Client == nil {
		return userdom.User{}, errors.New("firestore client is nil")
	}

	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return userdom.User{}, userdom.ErrNotFound
	}

	it := r.col().Where("email", "==", email).Limit(1).Documents(ctx)
	defer it.Stop()

	doc, err := it.Next()
	if err == iterator.Done {
		return userdom.User{}, userdom.ErrNotFound
	}
	if err != nil {
		return userdom.User{}, err
	}
	return docToUser(doc)
}

func (r *UserRepositoryFS) List(
	ctx context.Context,
	filter userdom.Filter,
	sortSpec common.Sort,
	page common.Page,
) (common.PageResult[userdom.User], error) {
	if r.Client == nil {
		return common.PageResult[userdom.User]{}, errors.New("firestore client is nil")
	}

	pageNum, perPage, _ := fscommon.NormalizePage(page.Number, page.PerPage, 50, 0)

	q := applyUserSort(r.col().Query, sortSpec)

	it := q.Documents(ctx)
	defer it.Stop()

	var all []userdom.User
	for {
		doc, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return common.PageResult[userdom.User]{}, err
		}
		u, err := docToUser(doc)
		if err != nil {
			return common.PageResult[userdom.User]{}, err
		}
		if matchUserFilter(u, filter) {
			all = append(all, u)
		}
	}

	total := len(all)
	if total == 0 {
		return common.PageResult[userdom.User]{
			Items:      []userdom.User{},
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

	return common.PageResult[userdom.User]{
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

func (r *UserRepositoryFS) Create(ctx context.Context, u userdom.User) (userdom.User, error) {
	if r.Client == nil {
		return userdom.User{}, errors.New("firestore client is nil")
	}

	id := strings.TrimSpace(u.ID)
	if id == "" {
		return userdom.User{}, errors.New("missing uid")
	}
	u.ID = id

	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = now
	}

	docRef := r.col().Doc(id)
	if _, err := docRef.Create(ctx, userToDocData(u)); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return userdom.User{}, fmt.Errorf("user %s: already exists", id)
		}
		return userdom.User{}, err
	}

	snap, err := docRef.Get(ctx)
	if err != nil {
		return userdom.User{}, err
	}
	return docToUser(snap)
}

func (r *UserRepositoryFS) Update(ctx context.Context, u userdom.User) (userdom.User, error) {
	if r.Client == nil {
		return userdom.User{}, errors.New("firestore client is nil")
	}

	id := strings.TrimSpace(u.ID)
	if id == "" {
		return userdom.User{}, userdom.ErrNotFound
	}
	u.ID = id

	docRef := r.col().Doc(id)
	if _, err := docRef.Get(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return userdom.User{}, userdom.ErrNotFound
		}
		return userdom.User{}, err
	}

	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = time.Now().UTC()
	}
	if _, err := docRef.Set(ctx, userToDocData(u)); err != nil {
		return userdom.User{}, err
	}

	snap, err := docRef.Get(ctx)
	if err != nil {
		return userdom.User{}, err
	}
	return docToUser(snap)
}

// =======================
// Helpers
// =======================

func userToDocData(u userdom.User) map[string]any {
	return map[string]any{
		"id":          strings.TrimSpace(u.ID),
		"email":       strings.TrimSpace(strings.ToLower(u.Email)),
		"displayName": strings.TrimSpace(u.DisplayName),
		"role":        string(u.Role),
		"status":      string(u.Status),
		"createdBy":   strings.TrimSpace(u.CreatedBy),
		"createdAt":   u.CreatedAt.UTC(),
		"updatedAt":   u.UpdatedAt.UTC(),
	}
}

func docToUser(doc *firestore.DocumentSnapshot) (userdom.User, error) {
	data := doc.Data()
	if data == nil {
		return userdom.User{}, fmt.Errorf("empty user document: %s", doc.Ref.ID)
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

	var u userdom.User

	u.ID = getStr("id")
	if u.ID == "" {
		u.ID = doc.Ref.ID
	}
	u.Email = getStr("email")
	u.DisplayName = getStr("displayName")
	u.Role = permission.Role(getStr("role"))
	u.Status = userdom.Status(getStr("status"))
	u.CreatedBy = getStr("createdBy")
	if t, ok := getTime("createdAt"); ok {
		u.CreatedAt = t
	}
	if t, ok := getTime("updatedAt"); ok {
		u.UpdatedAt = t
	}

	return u, nil
}

func matchUserFilter(u userdom.User, f userdom.Filter) bool {
	if f.Status != "" && u.Status != f.Status {
		return false
	}
	if sq := strings.TrimSpace(f.SearchQuery); sq != "" {
		lq := strings.ToLower(sq)
		haystack := strings.ToLower(u.Email + " " + u.DisplayName)
		if !strings.Contains(haystack, lq) {
			return false
		}
	}
	return true
}

func applyUserSort(q firestore.Query, sortSpec common.Sort) firestore.Query {
	col, dir := mapUserSort(sortSpec)
	if col == "" {
		// default: email ASC, id ASC
		return q.OrderBy("email", firestore.Asc).OrderBy("id", firestore.Asc)
	}
	return q.OrderBy(col, dir).OrderBy("id", firestore.Asc)
}

func mapUserSort(sortSpec common.Sort) (string, firestore.Direction) {
	var field string
	switch strings.ToLower(sortSpec.Column) {
	case "email":
		field = "email"
	case "displayname", "display_name":
		field = "displayName"
	case "role":
		field = "role"
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
