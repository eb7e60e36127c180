// internal/domain/recipient/entity.go
package recipient

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// Recipient は recipients コレクションの 1 ドキュメント（= 受取世帯）を表します。
type Recipient struct {
	ID                  string
	Name                string
	Email               string
	Phone               string
	Address             string
	HouseholdSize       int
	DietaryRestrictions []string
	Notes               string
	Status              Status
	CreatedBy           string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

func IsValidStatus(s Status) bool {
	return s == StatusActive || s == StatusInactive
}

const (
	maxNameLen  = 200
	maxNotesLen = 2000
)

// Domain errors
var (
	ErrNotFound             = errors.New("recipient: not found")
	ErrInvalidID            = errors.New("recipient: invalid id")
	ErrInvalidName          = errors.New("recipient: invalid name")
	ErrInvalidEmail         = errors.New("recipient: invalid email")
	ErrInvalidPhone         = errors.New("recipient: invalid phone")
	ErrInvalidHouseholdSize = errors.New("recipient: household size must be at least 1")
	ErrInvalidStatus        = errors.New("recipient: invalid status")
	ErrNotesTooLong         = errors.New("recipient: notes too long")
)

var (
	emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	phoneRe = regexp.MustCompile(`^[0-9()+\-\s.]{7,20}$`)
)

// New は新規 Recipient を作るコンストラクタです。id は repo 側採番のため空でも可。
func New(
	id, name, email, phone, address string,
	householdSize int,
	dietaryRestrictions []string,
	notes, createdBy string,
	now time.Time,
) (Recipient, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	r := Recipient{
		ID:                  strings.TrimSpace(id),
		Name:                strings.TrimSpace(name),
		Email:               strings.TrimSpace(email),
		Phone:               strings.TrimSpace(phone),
		Address:             strings.TrimSpace(address),
		HouseholdSize:       householdSize,
		DietaryRestrictions: normalizeList(dietaryRestrictions),
		Notes:               strings.TrimSpace(notes),
		Status:              StatusActive,
		CreatedBy:           strings.TrimSpace(createdBy),
		CreatedAt:           now.UTC(),
		UpdatedAt:           now.UTC(),
	}
	if err := r.validate(); err != nil {
		return Recipient{}, err
	}
	return r, nil
}

// Patch は部分更新の指定（nil のフィールドは変更しない）
type Patch struct {
	Name                *string
	Email               *string
	Phone               *string
	Address             *string
	HouseholdSize       *int
	DietaryRestrictions *[]string
	Notes               *string
	Status              *Status
}

func (r *Recipient) Apply(p Patch, now time.Time) error {
	if p.Name != nil {
		r.Name = strings.TrimSpace(*p.Name)
	}
	if p.Email != nil {
		r.Email = strings.TrimSpace(*p.Email)
	}
	if p.Phone != nil {
		r.Phone = strings.TrimSpace(*p.Phone)
	}
	if p.Address != nil {
		r.Address = strings.TrimSpace(*p.Address)
	}
	if p.HouseholdSize != nil {
		r.HouseholdSize = *p.HouseholdSize
	}
	if p.DietaryRestrictions != nil {
		r.DietaryRestrictions = normalizeList(*p.DietaryRestrictions)
	}
	if p.Notes != nil {
		r.Notes = strings.TrimSpace(*p.Notes)
	}
	if p.Status != nil {
		r.Status = *p.Status
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	r.UpdatedAt = now.UTC()
	return r.validate()
}

// Deactivate は論理削除（status=inactive）です。配布履歴が残るため物理削除はしません。
func (r *Recipient) Deactivate(now time.Time) {
	r.Status = StatusInactive
	if now.IsZero() {
		now = time.Now().UTC()
	}
	r.UpdatedAt = now.UTC()
}

// Active は配布先として選択可能かどうかを返します。
func (r Recipient) Active() bool { return r.Status == StatusActive }

func (r Recipient) validate() error {
	if r.Name == "" || len(r.Name) > maxNameLen {
		return ErrInvalidName
	}
	if r.Email != "" && !emailRe.MatchString(r.Email) {
		return ErrInvalidEmail
	}
	if r.Phone != "" && !phoneRe.MatchString(r.Phone) {
		return ErrInvalidPhone
	}
	if r.HouseholdSize < 1 {
		return ErrInvalidHouseholdSize
	}
	if !IsValidStatus(r.Status) {
		return ErrInvalidStatus
	}
	if len(r.Notes) > maxNotesLen {
		return ErrNotesTooLong
	}
	return nil
}

func normalizeList(raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := map[string]struct{}{}
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
