// Package token decodes portal credentials into claims.
//
// A credential is a JWT issued by the records backend at login. The decoder
// reads its payload only; signatures are never verified here because the
// backend re-checks the credential on every call and answers 401 when it is
// tampered with or stale.
package token

import (
	"strings"

	portal "github.com/chimerakang/portal-go"
	"github.com/golang-jwt/jwt/v5"
)

// Reason explains a decode outcome.
type Reason int

const (
	// ReasonOK means the credential decoded into complete claims.
	ReasonOK Reason = iota
	// ReasonAbsent means there was no credential.
	ReasonAbsent
	// ReasonMalformed means the credential is not a parseable JWT.
	ReasonMalformed
	// ReasonIncomplete means a required claim is missing, blank or unknown.
	ReasonIncomplete
)

func (r Reason) String() string {
	switch r {
	case ReasonOK:
		return "ok"
	case ReasonAbsent:
		return "absent"
	case ReasonMalformed:
		return "malformed"
	case ReasonIncomplete:
		return "incomplete"
	default:
		return "unknown"
	}
}

// Result is the outcome of Decode. Claims is non-nil only when Reason is ReasonOK.
type Result struct {
	Claims *portal.Claims
	Reason Reason
}

// Valid reports whether the credential decoded into complete claims.
func (r Result) Valid() bool { return r.Reason == ReasonOK && r.Claims != nil }

// Purge reports whether a present credential was rejected, in which case the
// caller must remove it from storage.
func (r Result) Purge() bool {
	return r.Reason == ReasonMalformed || r.Reason == ReasonIncomplete
}

// Decoder decodes credentials. The zero value is ready to use.
type Decoder struct{}

// Decode is Decoder{}.Decode.
func Decode(raw string) Result { return Decoder{}.Decode(raw) }

// Decode parses raw without verifying its signature.
func (Decoder) Decode(raw string) Result {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Result{Reason: ReasonAbsent}
	}

	mapClaims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, mapClaims); err != nil {
		return Result{Reason: ReasonMalformed}
	}

	claims, ok := mapToClaims(mapClaims)
	if !ok {
		return Result{Reason: ReasonIncomplete}
	}
	return Result{Claims: claims, Reason: ReasonOK}
}

// mapToClaims converts jwt.MapClaims to portal.Claims. The subject is read
// from "user_id" and falls back to the registered "sub" claim.
func mapToClaims(m jwt.MapClaims) (*portal.Claims, bool) {
	subject, ok := nonBlank(m, "user_id")
	if !ok {
		if subject, ok = nonBlank(m, "sub"); !ok {
			return nil, false
		}
	}
	username, ok := nonBlank(m, "username")
	if !ok {
		return nil, false
	}
	roleClaim, ok := nonBlank(m, "role")
	if !ok {
		return nil, false
	}
	role, ok := portal.ParseRole(roleClaim)
	if !ok {
		return nil, false
	}
	return &portal.Claims{SubjectID: subject, Username: username, Role: role}, true
}

func nonBlank(m jwt.MapClaims, key string) (string, bool) {
	v, ok := m[key].(string)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}
