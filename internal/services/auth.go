package services

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/neurostuff/neurostore-go/internal/logger"
	"github.com/neurostuff/neurostore-go/internal/requestdata"
	"github.com/neurostuff/neurostore-go/internal/types"
)

// AuthService validates bearer tokens and resolves the acting user. Identity
// lives in the token's subject claim; a user row is provisioned on first
// sighting so external identity providers need no registration step.
type AuthService interface {
	SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error)
	CurrentUser(ctx context.Context, tx *gorm.DB) (*types.User, error)
}

type JWTClaims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

type authService struct {
	db           *gorm.DB
	log          *logger.Logger
	jwtSecretKey string
}

func NewAuthService(db *gorm.DB, log *logger.Logger, jwtSecretKey string) AuthService {
	serviceLog := log.With("service", "AuthService")
	return &authService{db: db, log: serviceLog, jwtSecretKey: jwtSecretKey}
}

func (as *authService) SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error) {
	if tokenString == "" {
		return ctx, nil
	}
	parsedToken, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(as.jwtSecretKey), nil
	})
	if err != nil {
		as.log.Warn("Token parse failed", "error", err)
		return ctx, fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := parsedToken.Claims.(*JWTClaims)
	if !ok || !parsedToken.Valid {
		return ctx, fmt.Errorf("invalid token claims")
	}
	if claims.Subject == "" {
		return ctx, fmt.Errorf("token has no subject")
	}
	rd := &requestdata.RequestData{
		TokenString: tokenString,
		ExternalID:  claims.Subject,
		Name:        claims.Name,
	}
	return requestdata.WithRequestData(ctx, rd), nil
}

// CurrentUser returns the user for the identity on ctx, creating the row the
// first time that identity is seen. Returns nil without error for anonymous
// requests.
func (as *authService) CurrentUser(ctx context.Context, tx *gorm.DB) (*types.User, error) {
	rd := requestdata.GetRequestData(ctx)
	if rd == nil || rd.ExternalID == "" {
		return nil, nil
	}
	if tx == nil {
		tx = as.db
	}
	user := &types.User{
		Base:       types.Base{ID: types.NewID()},
		ExternalID: rd.ExternalID,
		Name:       rd.Name,
	}
	// concurrent first requests race to insert; whoever loses re-reads
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_id"}},
		DoNothing: true,
	}).Create(user).Error; err != nil {
		return nil, err
	}
	found := &types.User{}
	if err := tx.Where("external_id = ?", rd.ExternalID).First(found).Error; err != nil {
		return nil, err
	}
	return found, nil
}
