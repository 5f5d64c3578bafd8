package utils

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgrijalva/jwt-go"
)

// JwtCustomClaim is the identity issued by the auth service. This service only validates it.
type JwtCustomClaim struct {
	BusinessId  string   `json:"business_id"`
	UserId      int      `json:"user_id"`
	UserName    string   `json:"user_name"`
	LocationId  int      `json:"location_id,omitempty"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions,omitempty"`
	SuperAdmin  bool     `json:"super_admin,omitempty"`
	jwt.StandardClaims
}

func jwtSecret() []byte {
	secret := os.Getenv("API_SECRET")
	if secret == "" {
		return []byte("pos-backend-dev-secret")
	}
	return []byte(secret)
}

// JwtGenerate signs claims with HS256. Used by local tooling and tests; production
// tokens come from the auth service.
func JwtGenerate(claims JwtCustomClaim, lifespan time.Duration) (string, error) {
	now := time.Now()
	claims.IssuedAt = now.Unix()
	claims.ExpiresAt = now.Add(lifespan).Unix()
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims)
	return t.SignedString(jwtSecret())
}

func JwtValidate(token string) (*JwtCustomClaim, error) {
	parsed, err := jwt.ParseWithClaims(token, &JwtCustomClaim{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return jwtSecret(), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*JwtCustomClaim)
	if !ok || !parsed.Valid {
		return nil, ErrorUnauthorized
	}
	// super-admins carry a home business too; requests without one have no caller
	if claims.BusinessId == "" {
		return nil, errors.New("token has no business scope")
	}
	return claims, nil
}

// ContextWithClaims stores the caller identity carried by claims.
func ContextWithClaims(ctx context.Context, claims *JwtCustomClaim) context.Context {
	ctx = SetBusinessIdInContext(ctx, claims.BusinessId)
	ctx = SetUserIdInContext(ctx, claims.UserId)
	ctx = SetUserNameInContext(ctx, claims.UserName)
	ctx = SetRoleInContext(ctx, claims.Role)
	ctx = SetPermissionsInContext(ctx, claims.Permissions)
	ctx = SetIsAdminInContext(ctx, claims.SuperAdmin)
	if claims.LocationId > 0 {
		ctx = SetLocationIdInContext(ctx, claims.LocationId)
	}
	return ctx
}
