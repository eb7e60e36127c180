// internal/adapters/out/firestore/audit_repository_fs.go
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

	auditdom "savinggrace/internal/domain/audit"
)

// AuditRepositoryFS implements audit.RepositoryPort with Firestore.
// audit_entries は追記専用で、更新・削除は提供しません。
type AuditRepositoryFS struct {
	Client *firestore.Client
}

func NewAuditRepositoryFS(client *firestore.Client) *AuditRepositoryFS {
	return &AuditRepositoryFS{Client: client}
}

func (r *AuditRepositoryFS) col() *firestore.CollectionRef {
	return r.Client.Collection("audit_entries")
}

// Compile-time check
var _ auditdom.RepositoryPort = (*AuditRepositoryFS)(nil)

func (r *AuditRepositoryFS) Append(ctx context.Context, e auditdom.Entry) (auditdom.Entry, error) {
	if r.Client == nil {
		return auditdom.Entry{}, errors.New("firestore client is nil")
	}

	id := strings.TrimSpace(e.ID)
	if id == "" {
		id = r.col().NewDoc().ID
	}
	e.ID = id

	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	docRef := r.col().Doc(id)
	if _, err := docRef.Create(ctx, auditEntryToDocData(e)); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return auditdom.Entry{}, fmt.Errorf("audit entry %s: already exists", id)
		}
		return auditdom.Entry{}, err
	}
	return e, nil
}

// ListByEntity: 対象エンティティの履歴を新しい順に最大 limit 件返します。
// entityKind+entityID+createdAt の複合インデックスが必要です。
func (r *AuditRepositoryFS) ListByEntity(ctx context.Context, entityKind, entityID string, limit int) ([]auditdom.Entry, error) {
	if r.Client == nil {
		return nil, errors.New("firestore client is nil")
	}

	entityKind = strings.TrimSpace(entityKind)
	entityID = strings.TrimSpace(entityID)
	if entityKind == "" || entityID == "" {
		return []auditdom.Entry{}, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	q := r.col().
		Where("entityKind", "==", entityKind).
		Where("entityId", "==", entityID).
		OrderBy("createdAt", firestore.Desc).
		Limit(limit)

	it := q.Documents(ctx)
	defer it.Stop()

	out := make([]auditdom.Entry, 0, limit)
	for {
		doc, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		e, err := docToAuditEntry(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// ListRecent: 全エンティティ横断の直近の操作を新しい順に最大 limit 件返します。
func (r *AuditRepositoryFS) ListRecent(ctx context.Context, limit int) ([]auditdom.Entry, error) {
	if r.Client == nil {
		return nil, errors.New("firestore client is nil")
	}
	if limit <= 0 || limit > 500 {
		limit = 20
	}

	q := r.col().
		OrderBy("createdAt", firestore.Desc).
		Limit(limit)

	it := q.Documents(ctx)
	defer it.Stop()

	out := make([]auditdom.Entry, 0, limit)
	for {
		doc, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		e, err := docToAuditEntry(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// =======================
// Helpers
// =======================

func auditEntryToDocData(e auditdom.Entry) map[string]any {
	return map[string]any{
		"id":         strings.TrimSpace(e.ID),
		"actorId":    strings.TrimSpace(e.ActorID),
		"action":     string(e.Action),
		"entityKind": strings.TrimSpace(e.EntityKind),
		"entityId":   strings.TrimSpace(e.EntityID),
		"quantity":   e.Quantity,
		"reason":     strings.TrimSpace(e.Reason),
		"note":       strings.TrimSpace(e.Note),
		"createdAt":  e.CreatedAt.UTC(),
	}
}

func docToAuditEntry(doc *firestore.DocumentSnapshot) (auditdom.Entry, error) {
	data := doc.Data()
	if data == nil {
		return auditdom.Entry{}, fmt.Errorf("empty audit document: %s", doc.Ref.ID)
	}

	getStr := func(key string) string {
		if v, ok := data[key].(string); ok {
			return strings.TrimSpace(v)
		}
		return ""
	}

	var e auditdom.Entry

	e.ID = getStr("id")
	if e.ID == "" {
		e.ID = doc.Ref.ID
	}
	e.ActorID = getStr("actorId")
	e.Action = auditdom.Action(getStr("action"))
	e.EntityKind = getStr("entityKind")
	e.EntityID = getStr("entityId")
	if v, ok := data["quantity"].(int64); ok {
		e.Quantity = v
	}
	e.Reason = getStr("reason")
	e.Note = getStr("note")
	if v, ok := data["createdAt"].(time.Time); ok {
		e.CreatedAt = v.UTC()
	}

	return e, nil
}
