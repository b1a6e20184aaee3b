package authz_test

import (
	"context"
	"errors"
	"testing"

	portal "github.com/chimerakang/portal-go"
	"github.com/chimerakang/portal-go/authz"
)

func TestCan_Table(t *testing.T) {
	tests := []struct {
		cap                    authz.Capability
		admin, editor, visitor bool
	}{
		{authz.View, true, true, true},
		{authz.Create, true, true, false},
		{authz.Edit, true, true, false},
		{authz.ViewSensitive, true, true, true},
		{authz.PublishNotices, true, true, false},
		{authz.Delete, true, false, false},
		{authz.ManageConfig, true, false, false},
		{authz.ViewAudit, true, false, false},
		{authz.RevertAudit, true, false, false},
		{authz.ManageUsers, true, false, false},
	}
	for _, tt := range tests {
		if got := authz.Can(portal.RoleAdmin, tt.cap); got != tt.admin {
			t.Errorf("Can(ADMIN, %s) = %v, want %v", tt.cap, got, tt.admin)
		}
		if got := authz.Can(portal.RoleEditor, tt.cap); got != tt.editor {
			t.Errorf("Can(EDITOR, %s) = %v, want %v", tt.cap, got, tt.editor)
		}
		if got := authz.Can(portal.RoleVisitor, tt.cap); got != tt.visitor {
			t.Errorf("Can(VISITOR, %s) = %v, want %v", tt.cap, got, tt.visitor)
		}
	}
	if len(tests) != len(authz.Capabilities()) {
		t.Errorf("table test covers %d capabilities, %d declared", len(tests), len(authz.Capabilities()))
	}
}

func TestCan_TotalAndDeterministic(t *testing.T) {
	p := authz.NewPolicy(authz.WithStrict(true))
	for _, r := range append(portal.Roles(), "") {
		for _, c := range authz.Capabilities() {
			first := p.Can(r, c)
			for i := 0; i < 3; i++ {
				if p.Can(r, c) != first {
					t.Fatalf("Can(%q, %s) is not deterministic", r, c)
				}
			}
		}
	}
}

func TestCan_Monotonic(t *testing.T) {
	for _, c := range authz.Capabilities() {
		v := authz.Can(portal.RoleVisitor, c)
		e := authz.Can(portal.RoleEditor, c)
		a := authz.Can(portal.RoleAdmin, c)
		if v && !e {
			t.Errorf("%s: VISITOR allowed but EDITOR denied", c)
		}
		if e && !a {
			t.Errorf("%s: EDITOR allowed but ADMIN denied", c)
		}
	}
}

func TestCan_NoRoleDeniesEverything(t *testing.T) {
	for _, c := range authz.Capabilities() {
		if authz.Can("", c) {
			t.Errorf("Can(\"\", %s) = true, want false", c)
		}
		if authz.Can("ROOT", c) {
			t.Errorf("Can(ROOT, %s) = true, want false", c)
		}
	}
}

func TestUnknownCapability_DeniedByDefault(t *testing.T) {
	p := authz.NewPolicy()
	if p.Can(portal.RoleAdmin, "launchRockets") {
		t.Error("unknown capability should be denied")
	}
	if p.Decide(portal.RoleAdmin, "launchRockets") != authz.Deny {
		t.Error("Decide() should deny unknown capability")
	}
}

func TestUnknownCapability_PanicsWhenStrict(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("strict policy should panic on unknown capability")
		}
	}()
	authz.NewPolicy(authz.WithStrict(true)).Can(portal.RoleAdmin, "launchRockets")
}

func TestDecisionString(t *testing.T) {
	if authz.Allow.String() != "allow" || authz.Deny.String() != "deny" {
		t.Errorf("String() = %q / %q", authz.Allow, authz.Deny)
	}
}

func TestGranted(t *testing.T) {
	p := authz.NewPolicy()
	got := p.Granted(portal.RoleVisitor)
	if len(got) != 2 || got[0] != authz.View || got[1] != authz.ViewSensitive {
		t.Errorf("Granted(VISITOR) = %v, want [view viewSensitive]", got)
	}
	if len(p.Granted(portal.RoleAdmin)) != len(authz.Capabilities()) {
		t.Error("ADMIN should hold every capability")
	}
}

func TestAllowedRoles(t *testing.T) {
	got := authz.AllowedRoles(authz.Edit)
	if len(got) != 2 || got[0] != portal.RoleEditor || got[1] != portal.RoleAdmin {
		t.Errorf("AllowedRoles(edit) = %v", got)
	}
	if got := authz.AllowedRoles(authz.ManageUsers); len(got) != 1 || got[0] != portal.RoleAdmin {
		t.Errorf("AllowedRoles(manageUsers) = %v", got)
	}
}

func TestCheck_UsesContextIdentity(t *testing.T) {
	p := authz.NewPolicy()
	ctx := portal.ContextWithIdentity(context.Background(), portal.Identity{
		UserID: "u", Role: portal.RoleEditor, IsAuthenticated: true,
	})

	ok, err := p.Check(ctx, string(authz.Edit))
	if err != nil || !ok {
		t.Errorf("Check(edit) = (%v, %v), want (true, nil)", ok, err)
	}
	ok, err = p.Check(ctx, string(authz.Delete))
	if err != nil || ok {
		t.Errorf("Check(delete) = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestCheck_NoIdentity(t *testing.T) {
	ok, err := authz.NewPolicy().Check(context.Background(), string(authz.View))
	if err != nil || ok {
		t.Errorf("Check() = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestCheck_UnauthenticatedIdentityWithStaleRole(t *testing.T) {
	ctx := portal.ContextWithIdentity(context.Background(), portal.Identity{Role: portal.RoleAdmin})
	if ok, _ := authz.NewPolicy().Check(ctx, string(authz.View)); ok {
		t.Error("an unauthenticated identity should hold nothing")
	}
}

func TestCheck_UnknownCapabilityErrors(t *testing.T) {
	if _, err := authz.NewPolicy().Check(context.Background(), "nope"); err == nil {
		t.Error("Check() should report an unknown capability")
	}
}

func TestRequire(t *testing.T) {
	ctx := portal.ContextWithIdentity(context.Background(), portal.Identity{
		Role: portal.RoleVisitor, IsAuthenticated: true,
	})
	if err := authz.Require(ctx, authz.View); err != nil {
		t.Errorf("Require(view) error: %v", err)
	}
	err := authz.Require(ctx, authz.RevertAudit)
	if !errors.Is(err, portal.ErrForbidden) {
		t.Errorf("Require(revertAudit) error = %v, want ErrForbidden", err)
	}
}
