package auth

import (
	"context"
	"testing"
	"time"
)

func TestGenerateAndValidateToken(t *testing.T) {
	t.Setenv(secretEnvVariable, "test-secret")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)

	token, err := GenerateToken("user-1", []string{"Head", "head", " member "}, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	claims, err := ParseAndValidate(token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Subject != "user-1" {
		t.Fatalf("subject=%q", claims.Subject)
	}
	if len(claims.Roles) != 2 || claims.Roles[0] != "head" || claims.Roles[1] != "member" {
		t.Fatalf("roles not deduplicated: %v", claims.Roles)
	}
}

func TestValidateRejectsGarbage(t *testing.T) {
	t.Setenv(secretEnvVariable, "test-secret")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)

	if _, err := ParseAndValidate("not.a.token"); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if _, err := ParseAndValidate(""); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for empty token, got %v", err)
	}
}

func TestMissingSecret(t *testing.T) {
	t.Setenv(secretEnvVariable, "")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)

	if _, err := GenerateToken("user-1", nil, time.Minute); err == nil {
		t.Fatal("expected error when secret is not configured")
	}
}

func TestContextRoundTrip(t *testing.T) {
	ctx := ContextWithUser(context.Background(), " user-2 ", []string{"Member"})
	id, ok := UserIDFromContext(ctx)
	if !ok || id != "user-2" {
		t.Fatalf("user id round trip failed: %q %v", id, ok)
	}
	if !HasRole(ctx, "member") {
		t.Fatal("expected member role")
	}
	if HasRole(ctx, "head") {
		t.Fatal("unexpected head role")
	}
}
