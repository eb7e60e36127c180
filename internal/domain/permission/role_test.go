// internal/domain/permission/role_test.go
package permission

import (
	"errors"
	"testing"
)

func TestCan(t *testing.T) {
	cases := []struct {
		role Role
		cap  Capability
		want bool
	}{
		{RoleAdmin, DistributionsComplete, true},
		{RoleAdmin, UsersManageRoles, true},
		{RoleDonorCoordinator, DonorsCreate, true},
		{RoleDonorCoordinator, DonationsDelete, true},
		{RoleDonorCoordinator, DistributionsCreate, false},
		{RoleDonorCoordinator, InventoryAdjust, true},
		{RoleDistributionManager, DistributionsCreate, true},
		{RoleDistributionManager, DistributionsComplete, true},
		{RoleDistributionManager, DistributionsCancel, true},
		{RoleDistributionManager, DonorsUpdate, false},
		{RoleDistributionManager, UsersManage, false},
		{RoleVolunteer, InventoryRead, true},
		{RoleVolunteer, InventoryAdjust, false},
		{RoleVolunteer, DistributionsComplete, false},
		{RoleVolunteer, ReportsRead, false},
		{RoleReadOnly, ReportsRead, true},
		{RoleReadOnly, ReportsExport, false},
		{RoleReadOnly, DonorsCreate, false},
		{Role("ghost"), DonorsRead, false},
	}
	for _, tc := range cases {
		if got := Can(tc.role, tc.cap); got != tc.want {
			t.Errorf("Can(%s, %s) = %v, want %v", tc.role, tc.cap, got, tc.want)
		}
	}
}

func TestRequire(t *testing.T) {
	if err := Require(RoleAdmin, UsersManage); err != nil {
		t.Fatalf("admin should pass: %v", err)
	}

	err := Require(RoleVolunteer, DistributionsCancel)
	if !errors.Is(err, ErrDenied) {
		t.Fatalf("err = %v, want ErrDenied", err)
	}
	var de *DeniedError
	if !errors.As(err, &de) {
		t.Fatalf("err %T is not *DeniedError", err)
	}
	if de.Role != RoleVolunteer || de.Capability != DistributionsCancel {
		t.Fatalf("detail = %+v", de)
	}
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("  Admin ")
	if err != nil || r != RoleAdmin {
		t.Fatalf("ParseRole = %v, %v", r, err)
	}
	if _, err := ParseRole("superuser"); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("err = %v", err)
	}
}
