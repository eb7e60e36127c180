// internal/domain/permission/role.go
package permission

import (
	"errors"
	"strings"
)

// Role はスタッフの役割。UI の表示制御とは独立に、サーバー側の
// capability チェック（Can）の入力としてのみ意味を持ちます。
// Firebase Auth のカスタムクレーム "role" にミラーされます。
type Role string

const (
	RoleAdmin               Role = "admin"
	RoleDonorCoordinator    Role = "donor_coordinator"
	RoleDistributionManager Role = "distribution_manager"
	RoleVolunteer           Role = "volunteer"
	RoleReadOnly            Role = "read_only"
)

func AllRoles() []Role {
	return []Role{
		RoleAdmin,
		RoleDonorCoordinator,
		RoleDistributionManager,
		RoleVolunteer,
		RoleReadOnly,
	}
}

func IsValidRole(r Role) bool {
	switch r {
	case RoleAdmin, RoleDonorCoordinator, RoleDistributionManager, RoleVolunteer, RoleReadOnly:
		return true
	}
	return false
}

// ParseRole は文字列（クレーム値など）を Role に正規化します。
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !IsValidRole(r) {
		return "", ErrInvalidRole
	}
	return r, nil
}

// Capability は "resource:action" 形式の操作権限
type Capability string

const (
	DonorsRead    Capability = "donors:read"
	DonorsCreate  Capability = "donors:create"
	DonorsUpdate  Capability = "donors:update"
	DonorsDelete  Capability = "donors:delete"

	DonationsRead   Capability = "donations:read"
	DonationsCreate Capability = "donations:create"
	DonationsUpdate Capability = "donations:update"
	DonationsDelete Capability = "donations:delete"

	RecipientsRead   Capability = "recipients:read"
	RecipientsCreate Capability = "recipients:create"
	RecipientsUpdate Capability = "recipients:update"
	RecipientsDelete Capability = "recipients:delete"

	DistributionsRead     Capability = "distributions:read"
	DistributionsCreate   Capability = "distributions:create"
	DistributionsUpdate   Capability = "distributions:update"
	DistributionsComplete Capability = "distributions:complete"
	DistributionsCancel   Capability = "distributions:cancel"

	InventoryRead   Capability = "inventory:read"
	InventoryAdjust Capability = "inventory:adjust"

	ReportsRead   Capability = "reports:read"
	ReportsExport Capability = "reports:export"

	UsersRead        Capability = "users:read"
	UsersManage      Capability = "users:manage"
	UsersManageRoles Capability = "users:manage_roles"
)

// Errors
var (
	ErrInvalidRole = errors.New("permission: invalid role")
	// ErrUnauthenticated は呼び出しユーザーが特定できない場合。HTTP 層では 401 に対応します。
	ErrUnauthenticated = errors.New("permission: caller is not authenticated")
	// ErrDenied は capability 不足。HTTP 層では 403 に対応します。
	ErrDenied = errors.New("permission: operation not allowed for role")
)

// roleGrants は役割ごとの許可リスト。"resource:*" はそのリソースの全 action、
// "*:*" は全操作を意味します（admin のみ）。
var roleGrants = map[Role][]Capability{
	RoleAdmin: {"*:*"},
	RoleDonorCoordinator: {
		"donors:*",
		"donations:*",
		InventoryRead,
		InventoryAdjust,
		RecipientsRead,
		DistributionsRead,
		ReportsRead,
	},
	RoleDistributionManager: {
		"recipients:*",
		"distributions:*",
		InventoryRead,
		InventoryAdjust,
		DonorsRead,
		DonationsRead,
		ReportsRead,
	},
	RoleVolunteer: {
		DonorsRead,
		DonationsRead,
		RecipientsRead,
		DistributionsRead,
		InventoryRead,
	},
	RoleReadOnly: {
		DonorsRead,
		DonationsRead,
		RecipientsRead,
		DistributionsRead,
		InventoryRead,
		ReportsRead,
	},
}

// Can は role が capability を持つかどうかを返します。
// 一致判定は 完全一致 → resource:* → *:* の順です。
func Can(r Role, c Capability) bool {
	grants, ok := roleGrants[r]
	if !ok {
		return false
	}
	resource, _, found := strings.Cut(string(c), ":")
	for _, g := range grants {
		if g == c || g == "*:*" {
			return true
		}
		if found && g == Capability(resource+":*") {
			return true
		}
	}
	return false
}

// Require は Can の error 版です。拒否時は ErrDenied を role/capability 付きで返します。
func Require(r Role, c Capability) error {
	if Can(r, c) {
		return nil
	}
	return &DeniedError{Role: r, Capability: c}
}

// DeniedError は拒否の詳細（どの役割が・どの操作で）を持ちます。
type DeniedError struct {
	Role       Role
	Capability Capability
}

func (e *DeniedError) Error() string {
	return "permission: role " + string(e.Role) + " cannot " + string(e.Capability)
}

func (e *DeniedError) Unwrap() error { return ErrDenied }
