package auth

import (
	"context"
	"slices"
	"testing"
	"time"
)

func TestGenerateAndValidate(t *testing.T) {
	t.Setenv("CREWDESK_AUTH_SECRET", "test-secret")
	ResetSecretForTests()

	token, err := GenerateToken("user-42", []string{"Admin", "staff", "admin"}, 30*time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if claims.Subject != "user-42" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if !slices.Contains(claims.Roles, "admin") || !slices.Contains(claims.Roles, "staff") {
		t.Fatalf("roles were not preserved: %v", claims.Roles)
	}
	if len(claims.Roles) != 2 {
		t.Fatalf("expected deduplicated roles, got %v", claims.Roles)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	t.Setenv("CREWDESK_AUTH_SECRET", "test-secret")
	ResetSecretForTests()

	for _, tok := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, err := ParseAndValidate(tok); err == nil {
			t.Fatalf("expected rejection for %q", tok)
		}
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = ContextWithUser(ctx, "user-7", []string{"Manager", "manager", "staff"})
	id, ok := UserIDFromContext(ctx)
	if !ok || id != "user-7" {
		t.Fatalf("unexpected user id: %s, ok=%v", id, ok)
	}
	roles := RolesFromContext(ctx)
	if len(roles) != 2 {
		t.Fatalf("expected deduplicated roles, got %v", roles)
	}
	if !HasRole(ctx, "staff") || !HasRole(ctx, "MANAGER") {
		t.Fatalf("HasRole missing expected roles: %v", roles)
	}
	if HasRole(ctx, "admin") {
		t.Fatalf("unexpected role found")
	}
	if !HasAnyRole(ctx, DefaultIssuerRoles()) {
		t.Fatalf("manager should count as an issuer role")
	}
}

func TestParseRoleList(t *testing.T) {
	got := ParseRoleList("Admin, qr-manager, made-up,,")
	want := []string{"admin", "qr-manager"}
	if !slices.Equal(got, want) {
		t.Fatalf("ParseRoleList = %v, want %v", got, want)
	}
	if !slices.Equal(ParseRoleList(""), DefaultIssuerRoles()) {
		t.Fatalf("empty list must fall back to defaults")
	}
	if KnownRole("waiter") {
		t.Fatalf("unknown role accepted")
	}
}
