// internal/domain/donor/entity.go
package donor

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// Donor は donors コレクションの 1 ドキュメント（= 寄付者）を表します。
// 個人・法人どちらも 1 レコードで扱います。
type Donor struct {
	ID          string
	Name        string
	ContactName string
	Email       string
	Phone       string
	Address     string
	Notes       string
	Status      Status
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
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
	ErrNotFound      = errors.New("donor: not found")
	ErrInvalidID     = errors.New("donor: invalid id")
	ErrInvalidName   = errors.New("donor: invalid name")
	ErrInvalidEmail  = errors.New("donor: invalid email")
	ErrInvalidPhone  = errors.New("donor: invalid phone")
	ErrInvalidStatus = errors.New("donor: invalid status")
	ErrNotesTooLong  = errors.New("donor: notes too long")
)

var (
	emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	phoneRe = regexp.MustCompile(`^[0-9()+\-\s.]{7,20}$`)
)

// New は新規 Donor を作るコンストラクタです。id は repo 側採番のため空でも可。
// Email / Phone は任意項目（空なら未設定のまま）。
func New(id, name, contactName, email, phone, address, notes, createdBy string, now time.Time) (Donor, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	d := Donor{
		ID:          strings.TrimSpace(id),
		Name:        strings.TrimSpace(name),
		ContactName: strings.TrimSpace(contactName),
		Email:       strings.TrimSpace(email),
		Phone:       strings.TrimSpace(phone),
		Address:     strings.TrimSpace(address),
		Notes:       strings.TrimSpace(notes),
		Status:      StatusActive,
		CreatedBy:   strings.TrimSpace(createdBy),
		CreatedAt:   now.UTC(),
		UpdatedAt:   now.UTC(),
	}
	if err := d.validate(); err != nil {
		return Donor{}, err
	}
	return d, nil
}

// Patch は部分更新の指定（nil のフィールドは変更しない）
type Patch struct {
	Name        *string
	ContactName *string
	Email       *string
	Phone       *string
	Address     *string
	Notes       *string
	Status      *Status
}

// Apply はパッチを適用して再検証します。
func (d *Donor) Apply(p Patch, now time.Time) error {
	if p.Name != nil {
		d.Name = strings.TrimSpace(*p.Name)
	}
	if p.ContactName != nil {
		d.ContactName = strings.TrimSpace(*p.ContactName)
	}
	if p.Email != nil {
		d.Email = strings.TrimSpace(*p.Email)
	}
	if p.Phone != nil {
		d.Phone = strings.TrimSpace(*p.Phone)
	}
	if p.Address != nil {
		d.Address = strings.TrimSpace(*p.Address)
	}
	if p.Notes != nil {
		d.Notes = strings.TrimSpace(*p.Notes)
	}
	if p.Status != nil {
		d.Status = *p.Status
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	d.UpdatedAt = now.UTC()
	return d.validate()
}

// Deactivate は論理削除（status=inactive）です。寄付履歴が残るため物理削除はしません。
func (d *Donor) Deactivate(now time.Time) {
	d.Status = StatusInactive
	if now.IsZero() {
		now = time.Now().UTC()
	}
	d.UpdatedAt = now.UTC()
}

func (d Donor) validate() error {
	if d.Name == "" || len(d.Name) > maxNameLen {
		return ErrInvalidName
	}
	if d.Email != "" && !emailRe.MatchString(d.Email) {
		return ErrInvalidEmail
	}
	if d.Phone != "" && !phoneRe.MatchString(d.Phone) {
		return ErrInvalidPhone
	}
	if !IsValidStatus(d.Status) {
		return ErrInvalidStatus
	}
	if len(d.Notes) > maxNotesLen {
		return ErrNotesTooLong
	}
	return nil
}
