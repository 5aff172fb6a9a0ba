package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/beam-cloud/mailsync/pkg/types"
	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "mailsync"

var ErrInvalidToken = errors.New("invalid token")

// TokenValidator turns a bearer token into AuthInfo
type TokenValidator interface {
	ValidateToken(token string) (*types.AuthInfo, error)
}

// Claims carried by an operator token
type Claims struct {
	BusinessId uint `json:"business_id,omitempty"`
	jwt.RegisteredClaims
}

// JWTValidator issues and validates HS256 operator tokens
type JWTValidator struct {
	secret []byte
	now    func() time.Time
}

func NewJWTValidator(secret string) (*JWTValidator, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth secret must be at least 16 bytes")
	}
	return &JWTValidator{secret: []byte(secret), now: time.Now}, nil
}

// Issue signs a token for subject. businessId 0 means unscoped.
func (v *JWTValidator) Issue(subject string, businessId uint, ttl time.Duration) (string, error) {
	now := v.now()
	claims := Claims{
		BusinessId: businessId,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

func (v *JWTValidator) ValidateToken(tokenStr string) (*types.AuthInfo, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return &types.AuthInfo{
		TokenType:  types.TokenTypeOperator,
		Subject:    claims.Subject,
		BusinessId: claims.BusinessId,
	}, nil
}

// OpenValidator accepts every request as an unscoped operator. Local mode only.
type OpenValidator struct{}

func (OpenValidator) ValidateToken(token string) (*types.AuthInfo, error) {
	return &types.AuthInfo{TokenType: types.TokenTypeLocal, Subject: "local"}, nil
}
