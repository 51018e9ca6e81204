package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testSigningSecret = "secret"
	testIssuer        = "draft-alerts"
	testUserID        = "user-123"
)

func testClock() time.Time {
	return time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
}

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	validator, err := NewValidator(ValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		Clock:         testClock,
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	return validator
}

func newTestIssuer(t *testing.T, issuer string) *Issuer {
	t.Helper()
	tokens, err := NewIssuer(IssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        issuer,
		TokenTTL:      time.Hour,
		Clock:         testClock,
	})
	if err != nil {
		t.Fatalf("failed to construct issuer: %v", err)
	}
	return tokens
}

func TestValidatorAcceptsIssuedToken(t *testing.T) {
	validator := newTestValidator(t)
	signed, expiresAt, err := newTestIssuer(t, testIssuer).Issue(testUserID, RoleParticipant)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	if !expiresAt.Equal(testClock().Add(time.Hour)) {
		t.Fatalf("unexpected expiry %s", expiresAt)
	}

	claims, err := validator.ValidateToken(signed)
	if err != nil {
		t.Fatalf("unexpected validation failure: %v", err)
	}
	if claims.Subject != testUserID || !claims.HasRole(RoleParticipant) || claims.HasRole(RoleTrigger) {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestValidatorRejectsExpiredToken(t *testing.T) {
	validator := newTestValidator(t)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Roles: []string{RoleTrigger},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			Subject:   "draft-engine",
			IssuedAt:  jwt.NewNumericDate(testClock().Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(testClock().Add(-time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(testSigningSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	if _, err := validator.ValidateToken(signed); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected expired token error, got %v", err)
	}
}

func TestValidatorRejectsForeignIssuerAndAlgorithm(t *testing.T) {
	validator := newTestValidator(t)

	foreign, _, err := newTestIssuer(t, "someone-else").Issue(testUserID, RoleParticipant)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	if _, err := validator.ValidateToken(foreign); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected foreign issuer to be rejected, got %v", err)
	}

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: testIssuer, Subject: testUserID},
	})
	signed, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("failed to build unsigned token: %v", err)
	}
	if _, err := validator.ValidateToken(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected unsigned token to be rejected, got %v", err)
	}
}

func TestValidateRequestReadsHeaderOrQueryAndRequiresRole(t *testing.T) {
	validator := newTestValidator(t)
	tokens := newTestIssuer(t, testIssuer)
	trigger, _, _ := tokens.Issue("draft-engine", RoleTrigger)
	participant, _, _ := tokens.Issue(testUserID, RoleParticipant)

	request := httptest.NewRequest(http.MethodPost, "/internal/draft-changes", nil)
	request.Header.Set("Authorization", "Bearer "+trigger)
	if _, err := validator.ValidateRequest(request, RoleTrigger); err != nil {
		t.Fatalf("expected bearer token to validate: %v", err)
	}
	if _, err := validator.ValidateRequest(request, RoleParticipant); !errors.Is(err, ErrMissingRole) {
		t.Fatalf("expected missing role error, got %v", err)
	}

	streamRequest := httptest.NewRequest(http.MethodGet, "/alerts/stream?access_token="+participant, nil)
	claims, err := validator.ValidateRequest(streamRequest, RoleParticipant)
	if err != nil || claims.Subject != testUserID {
		t.Fatalf("expected query token to validate, got %+v (%v)", claims, err)
	}

	if _, err := validator.ValidateRequest(httptest.NewRequest(http.MethodGet, "/alerts/stream", nil), RoleParticipant); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected missing token error, got %v", err)
	}
}

func TestNewValidatorRequiresConfiguration(t *testing.T) {
	if _, err := NewValidator(ValidatorConfig{Issuer: testIssuer}); !errors.Is(err, ErrMissingSigningKey) {
		t.Fatalf("expected missing signing key error, got %v", err)
	}
	if _, err := NewValidator(ValidatorConfig{SigningSecret: []byte(testSigningSecret)}); !errors.Is(err, ErrMissingIssuer) {
		t.Fatalf("expected missing issuer error, got %v", err)
	}
	if _, err := NewIssuer(IssuerConfig{Issuer: testIssuer}); !errors.Is(err, ErrMissingSigningKey) {
		t.Fatalf("expected issuer to require a signing key, got %v", err)
	}
}
