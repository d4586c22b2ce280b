package auth

import "testing"

func TestGenerateAndValidate_RoundTrip(t *testing.T) {
	issuer := NewIssuer()
	token, err := issuer.Generate("alice", RoleSupervisor)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	claims, err := issuer.Validate(token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.Operator != "alice" || claims.Role != RoleSupervisor {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestValidate_RejectsGarbage(t *testing.T) {
	issuer := NewIssuer()
	if _, err := issuer.Validate("not-a-token"); err == nil {
		t.Fatal("expected error for malformed token")
	}
}

func TestValidate_RejectsWrongSecret(t *testing.T) {
	a := &Issuer{secret: []byte("secret-a-secret-a-secret-a-secret-a")}
	b := &Issuer{secret: []byte("secret-b-secret-b-secret-b-secret-b")}
	token, err := a.Generate("bob", RoleOperator)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, err := b.Validate(token); err == nil {
		t.Fatal("expected signature verification to fail across different secrets")
	}
}
