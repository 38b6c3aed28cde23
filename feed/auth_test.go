package feed

import (
	"context"
	"testing"
)

func TestAPIKeyAuthenticator(t *testing.T) {
	t.Parallel()

	auth := NewAPIKeyAuthenticator(
		APIKeyEntry{
			Token: "fk_valid",
			Identity: Identity{
				Subject: "coach-app",
				Scopes:  []string{ScopeSubscribe, ScopeStatusRead},
			},
		},
		APIKeyEntry{
			Token: "fk_admin",
			Identity: Identity{
				Subject: "ops",
				Scopes:  []string{ScopeAll},
			},
		},
	)

	ctx := context.Background()

	id, err := auth.Authenticate(ctx, "fk_valid")
	if err != nil {
		t.Fatalf("Authenticate(valid): %v", err)
	}
	if id.Subject != "coach-app" {
		t.Errorf("Subject = %q, want %q", id.Subject, "coach-app")
	}

	if _, err := auth.Authenticate(ctx, "fk_bogus"); err == nil {
		t.Error("Authenticate(bogus) should fail")
	}
	if _, err := auth.Authenticate(ctx, ""); err == nil {
		t.Error("Authenticate(empty) should fail")
	}
}

func TestIdentityHasScope(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		scopes []string
		check  string
		want   bool
	}{
		{"exact match", []string{ScopeSubscribe}, ScopeSubscribe, true},
		{"wildcard", []string{ScopeAll}, ScopeStatusRead, true},
		{"missing", []string{ScopeStatusRead}, ScopeSubscribe, false},
		{"empty", nil, ScopeSubscribe, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := &Identity{Scopes: tt.scopes}
			if got := id.HasScope(tt.check); got != tt.want {
				t.Errorf("HasScope(%q) = %v, want %v", tt.check, got, tt.want)
			}
		})
	}
}

func TestRequiredScope(t *testing.T) {
	t.Parallel()

	tests := []struct {
		method string
		want   string
	}{
		{MethodAuth, ""},
		{MethodSubscribe, ScopeSubscribe},
		{MethodUnsubscribe, ScopeSubscribe},
		{MethodStatus, ScopeStatusRead},
		{"something.else", ScopeAdmin},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			if got := RequiredScope(tt.method); got != tt.want {
				t.Errorf("RequiredScope(%q) = %q, want %q", tt.method, got, tt.want)
			}
		})
	}
}

func TestNoopAuthenticator(t *testing.T) {
	t.Parallel()

	auth := &NoopAuthenticator{}
	id, err := auth.Authenticate(context.Background(), "anything")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if !id.HasScope(ScopeAdmin) {
		t.Error("noop identity should have all scopes")
	}
}

func TestCompositeAuthenticator(t *testing.T) {
	t.Parallel()

	first := NewAPIKeyAuthenticator(APIKeyEntry{
		Token:    "fk_one",
		Identity: Identity{Subject: "one", Scopes: []string{ScopeSubscribe}},
	})
	second := NewAPIKeyAuthenticator(APIKeyEntry{
		Token:    "fk_two",
		Identity: Identity{Subject: "two", Scopes: []string{ScopeStatusRead}},
	})

	auth := NewCompositeAuthenticator(first, second)
	ctx := context.Background()

	id, err := auth.Authenticate(ctx, "fk_two")
	if err != nil {
		t.Fatalf("Authenticate(second): %v", err)
	}
	if id.Subject != "two" {
		t.Errorf("Subject = %q, want %q", id.Subject, "two")
	}

	if _, err := auth.Authenticate(ctx, "fk_none"); err == nil {
		t.Error("Authenticate should fail when no authenticator matches")
	}
}
