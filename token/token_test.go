package token_test

import (
	"encoding/base64"
	"testing"

	portal "github.com/chimerakang/portal-go"
	"github.com/chimerakang/portal-go/token"
	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestDecode_ValidToken(t *testing.T) {
	raw := signToken(t, jwt.MapClaims{"user_id": "42", "username": "maria", "role": "EDITOR"})

	res := token.Decode(raw)
	if !res.Valid() {
		t.Fatalf("Decode() reason = %v, want ok", res.Reason)
	}
	if res.Purge() {
		t.Error("valid credential should not be purged")
	}
	if res.Claims.SubjectID != "42" {
		t.Errorf("SubjectID = %q, want 42", res.Claims.SubjectID)
	}
	if res.Claims.Username != "maria" {
		t.Errorf("Username = %q, want maria", res.Claims.Username)
	}
	if res.Claims.Role != portal.RoleEditor {
		t.Errorf("Role = %q, want EDITOR", res.Claims.Role)
	}
}

func TestDecode_SignatureIsNotVerified(t *testing.T) {
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": "1", "username": "ana", "role": "ADMIN",
	}).SignedString([]byte("some-other-secret"))
	if err != nil {
		t.Fatal(err)
	}
	if !token.Decode(raw).Valid() {
		t.Error("decoder should accept any signature")
	}
}

func TestDecode_SubFallback(t *testing.T) {
	raw := signToken(t, jwt.MapClaims{"sub": "7", "username": "joao", "role": "ADMIN"})
	res := token.Decode(raw)
	if !res.Valid() || res.Claims.SubjectID != "7" {
		t.Errorf("Decode() = %+v, want subject 7 from sub", res)
	}
}

func TestDecode_VisitanteAlias(t *testing.T) {
	raw := signToken(t, jwt.MapClaims{"user_id": "9", "username": "pai", "role": "VISITANTE"})
	res := token.Decode(raw)
	if !res.Valid() || res.Claims.Role != portal.RoleVisitor {
		t.Errorf("Decode() = %+v, want VISITOR", res)
	}
}

func TestDecode_Absent(t *testing.T) {
	for _, raw := range []string{"", "   "} {
		res := token.Decode(raw)
		if res.Reason != token.ReasonAbsent {
			t.Errorf("Decode(%q) reason = %v, want absent", raw, res.Reason)
		}
		if res.Purge() {
			t.Errorf("Decode(%q) should not ask for a purge", raw)
		}
	}
}

func TestDecode_Malformed(t *testing.T) {
	notJSON := base64.RawURLEncoding.EncodeToString([]byte("not json"))
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	cases := []string{
		"not-a-jwt",
		"a.b",
		"!!!.???.***",
		header + "." + notJSON + ".sig",
	}
	for _, raw := range cases {
		res := token.Decode(raw)
		if res.Reason != token.ReasonMalformed {
			t.Errorf("Decode(%q) reason = %v, want malformed", raw, res.Reason)
		}
		if !res.Purge() {
			t.Errorf("Decode(%q) should ask for a purge", raw)
		}
		if res.Claims != nil {
			t.Errorf("Decode(%q) returned claims for a malformed credential", raw)
		}
	}
}

func TestDecode_Incomplete(t *testing.T) {
	cases := map[string]jwt.MapClaims{
		"missing subject":  {"username": "ana", "role": "ADMIN"},
		"blank subject":    {"user_id": "  ", "username": "ana", "role": "ADMIN"},
		"missing username": {"user_id": "1", "role": "ADMIN"},
		"blank username":   {"user_id": "1", "username": "", "role": "ADMIN"},
		"missing role":     {"user_id": "1", "username": "ana"},
		"numeric role":     {"user_id": "1", "username": "ana", "role": 3},
		"unknown role":     {"user_id": "1", "username": "ana", "role": "ROOT"},
		"numeric subject":  {"user_id": 1, "username": "ana", "role": "ADMIN"},
	}
	for name, claims := range cases {
		t.Run(name, func(t *testing.T) {
			res := token.Decode(signToken(t, claims))
			if res.Reason != token.ReasonIncomplete {
				t.Errorf("reason = %v, want incomplete", res.Reason)
			}
			if !res.Purge() {
				t.Error("incomplete claims should ask for a purge")
			}
			if res.Valid() {
				t.Error("incomplete claims should not be valid")
			}
		})
	}
}

func TestDecode_Idempotent(t *testing.T) {
	inputs := []string{
		"",
		"garbage",
		signToken(t, jwt.MapClaims{"user_id": "1", "username": "ana", "role": "ADMIN"}),
		signToken(t, jwt.MapClaims{"user_id": "1", "role": "ADMIN"}),
	}
	for _, raw := range inputs {
		a, b := token.Decode(raw), token.Decode(raw)
		if a.Reason != b.Reason {
			t.Errorf("Decode(%q) reasons differ: %v vs %v", raw, a.Reason, b.Reason)
		}
		if (a.Claims == nil) != (b.Claims == nil) || (a.Claims != nil && *a.Claims != *b.Claims) {
			t.Errorf("Decode(%q) claims differ: %+v vs %+v", raw, a.Claims, b.Claims)
		}
	}
}

func TestReasonString(t *testing.T) {
	if token.ReasonIncomplete.String() != "incomplete" {
		t.Errorf("String() = %q", token.ReasonIncomplete.String())
	}
}
