// Package auth inspects and mints the bearer tokens carried by user-scoped
// requests.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/audithero/velro-backend-sub001/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// Claims is the token payload minted by the identity provider.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"`
}

// TokenInfo is what local validation learns from a token without checking
// its signature.
type TokenInfo struct {
	Subject string
}

var segmentParser = jwt.NewParser()

// ValidForUse reports whether token is worth sending to the backend: three
// dot-separated segments, a middle segment that decodes to a JSON object
// with a numeric "exp" claim, and exp strictly after now (Unix seconds).
// The signature is not checked here.
//
// It returns common.ErrTokenExpired for an expired token and
// common.ErrInvalidToken for every other failure.
func ValidForUse(token string, now time.Time) (*TokenInfo, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: expected 3 segments, got %d", common.ErrInvalidToken, len(parts))
	}

	payload, err := segmentParser.DecodeSegment(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: claims segment: %v", common.ErrInvalidToken, err)
	}

	var claims jwt.MapClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("%w: claims are not a JSON object: %v", common.ErrInvalidToken, err)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return nil, fmt.Errorf("%w: exp claim: %v", common.ErrInvalidToken, err)
	}
	if exp == nil {
		return nil, fmt.Errorf("%w: missing exp claim", common.ErrInvalidToken)
	}
	if exp.Unix() <= now.Unix() {
		return nil, common.ErrTokenExpired
	}

	sub, err := claims.GetSubject()
	if err != nil {
		return nil, fmt.Errorf("%w: sub claim: %v", common.ErrInvalidToken, err)
	}

	return &TokenInfo{Subject: sub}, nil
}

// VerifyToken checks the HS256 signature and expiry of token and returns its
// subject.
func VerifyToken(token string, secretKey []byte, now time.Time) (string, error) {
	claims := &Claims{}

	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", common.ErrTokenExpired
		}
		return "", fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return "", common.ErrInvalidToken
	}

	return claims.Subject, nil
}

// GenerateToken mints an HS256 token for userID in the shape issued by the
// identity provider.
func GenerateToken(userID string, secretKey []byte, expiresAt time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Role: "authenticated",
	})

	return token.SignedString(secretKey)
}
