// internal/domain/user/entity.go
package user

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"savinggrace/internal/domain/permission"
)

// User は users コレクションの 1 ドキュメント（= スタッフ）を表します。
// ID は Firebase Auth の UID と一致させます。Role は Firestore 側が正で、
// 変更時に Firebase のカスタムクレーム "role" へミラーします（usecase 担当）。
type User struct {
	ID          string
	Email       string
	DisplayName string
	Role        permission.Role
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

// Domain errors
var (
	ErrNotFound           = errors.New("user: not found")
	ErrInvalidID          = errors.New("user: invalid id")
	ErrInvalidEmail       = errors.New("user: invalid email")
	ErrInvalidDisplayName = errors.New("user: invalid display name")
	ErrInvalidStatus      = errors.New("user: invalid status")
	ErrInactive           = errors.New("user: inactive")
)

var emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// New は新規スタッフを作るコンストラクタです。id は Firebase UID（必須）。
func New(id, email, displayName string, role permission.Role, createdBy string, now time.Time) (User, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	u := User{
		ID:          strings.TrimSpace(id),
		Email:       strings.TrimSpace(strings.ToLower(email)),
		DisplayName: strings.TrimSpace(displayName),
		Role:        role,
		Status:      StatusActive,
		CreatedBy:   strings.TrimSpace(createdBy),
		CreatedAt:   now.UTC(),
		UpdatedAt:   now.UTC(),
	}
	if err := u.validate(); err != nil {
		return User{}, err
	}
	return u, nil
}

// SetRole は役割を変更します（クレームへのミラーは usecase 側）。
func (u *User) SetRole(r permission.Role, now time.Time) error {
	if !permission.IsValidRole(r) {
		return permission.ErrInvalidRole
	}
	u.Role = r
	if now.IsZero() {
		now = time.Now().UTC()
	}
	u.UpdatedAt = now.UTC()
	return nil
}

// Rename は表示名を変更します。
func (u *User) Rename(displayName string, now time.Time) error {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" || len(displayName) > 200 {
		return ErrInvalidDisplayName
	}
	u.DisplayName = displayName
	if now.IsZero() {
		now = time.Now().UTC()
	}
	u.UpdatedAt = now.UTC()
	return nil
}

// Deactivate は論理削除（status=inactive）です。監査履歴の actor 参照が残るため
// 物理削除はしません。
func (u *User) Deactivate(now time.Time) {
	u.Status = StatusInactive
	if now.IsZero() {
		now = time.Now().UTC()
	}
	u.UpdatedAt = now.UTC()
}

// Active は API を利用可能か（認可対象になるか）を返します。
func (u User) Active() bool { return u.Status == StatusActive }

func (u User) validate() error {
	if u.ID == "" {
		return ErrInvalidID
	}
	if u.Email == "" || !emailRe.MatchString(u.Email) {
		return ErrInvalidEmail
	}
	if u.DisplayName == "" || len(u.DisplayName) > 200 {
		return ErrInvalidDisplayName
	}
	if !permission.IsValidRole(u.Role) {
		return permission.ErrInvalidRole
	}
	if !IsValidStatus(u.Status) {
		return ErrInvalidStatus
	}
	return nil
}
