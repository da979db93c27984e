package services

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/neurostuff/neurostore-go/internal/logger"
	"github.com/neurostuff/neurostore-go/internal/requestdata"
)

func signToken(t *testing.T, secret, subject string) string {
	t.Helper()
	claims := JWTClaims{
		Name: "Test User",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func TestSetContextFromToken(t *testing.T) {
	log, err := logger.New("production")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	svc := NewAuthService(nil, log, "test-secret")

	cases := []struct {
		name    string
		token   string
		wantErr bool
		wantID  string
	}{
		{"valid token", signToken(t, "test-secret", "auth0|abc"), false, "auth0|abc"},
		{"empty token passes through", "", false, ""},
		{"wrong secret", signToken(t, "other-secret", "auth0|abc"), true, ""},
		{"garbage", "not.a.token", true, ""},
		{"no subject", signToken(t, "test-secret", ""), true, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx, err := svc.SetContextFromToken(context.Background(), tc.token)
			if (err != nil) != tc.wantErr {
				t.Fatalf("SetContextFromToken error = %v, wantErr %v", err, tc.wantErr)
			}
			if err != nil {
				return
			}
			rd := requestdata.GetRequestData(ctx)
			if tc.wantID == "" {
				if rd != nil {
					t.Fatalf("request data = %+v, want none", rd)
				}
				return
			}
			if rd == nil || rd.ExternalID != tc.wantID {
				t.Fatalf("external id = %+v, want %s", rd, tc.wantID)
			}
		})
	}
}

func TestCurrentUserProvisionsOnce(t *testing.T) {
	gdb := storeDB(t)
	log, err := logger.New("production")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	svc := NewAuthService(gdb, log, "test-secret")

	ctx, err := svc.SetContextFromToken(context.Background(), signToken(t, "test-secret", "auth0|abc"))
	if err != nil {
		t.Fatalf("SetContextFromToken: %v", err)
	}

	first, err := svc.CurrentUser(ctx, nil)
	if err != nil {
		t.Fatalf("CurrentUser: %v", err)
	}
	if first == nil || first.ExternalID != "auth0|abc" {
		t.Fatalf("user = %+v, want external id auth0|abc", first)
	}

	second, err := svc.CurrentUser(ctx, nil)
	if err != nil {
		t.Fatalf("CurrentUser again: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("second lookup minted a new user: %s vs %s", second.ID, first.ID)
	}

	anon, err := svc.CurrentUser(context.Background(), nil)
	if err != nil {
		t.Fatalf("CurrentUser anonymous: %v", err)
	}
	if anon != nil {
		t.Fatalf("anonymous user = %+v, want nil", anon)
	}
}
