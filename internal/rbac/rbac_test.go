package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "none read", role: RoleNone, action: ActionRead, allow: false},
		{name: "viewer read", role: RoleViewer, action: ActionRead, allow: true},
		{name: "viewer participate", role: RoleViewer, action: ActionParticipate, allow: false},
		{name: "member participate", role: RoleMember, action: ActionParticipate, allow: true},
		{name: "member manage", role: RoleMember, action: ActionManage, allow: false},
		{name: "admin manage", role: RoleAdmin, action: ActionManage, allow: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestNormalizeAndStronger(t *testing.T) {
	if Normalize("owner") != RoleNone {
		t.Fatal("unknown roles should normalize to none")
	}
	if Normalize("admin") != RoleAdmin {
		t.Fatal("admin should survive normalization")
	}
	if Stronger(RoleViewer, RoleMember) != RoleMember {
		t.Fatal("member outranks viewer")
	}
	if Stronger(RoleAdmin, RoleViewer) != RoleAdmin {
		t.Fatal("admin outranks viewer")
	}
}
