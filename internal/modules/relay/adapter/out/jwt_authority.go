package out

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"flowsync/internal/modules/relay/domain"
	relayout "flowsync/internal/modules/relay/port/out"
	apperrors "flowsync/internal/platform/errors"
)

const tokenIssuer = "flowsync"

type roomClaims struct {
	Room string `json:"room"`
	jwt.RegisteredClaims
}

// JWTAuthority signs and checks HS256 room tokens.
type JWTAuthority struct {
	secret []byte
	now    func() time.Time
}

var _ relayout.TokenAuthority = (*JWTAuthority)(nil)

func NewJWTAuthority(secret string, now func() time.Time) (*JWTAuthority, error) {
	if secret == "" {
		return nil, domain.ErrNoSecret
	}
	if now == nil {
		now = time.Now
	}
	return &JWTAuthority{secret: []byte(secret), now: now}, nil
}

// Mint signs a token for room. A ttl of zero yields a token that never expires.
func (a *JWTAuthority) Mint(room, subject string, ttl time.Duration) (string, time.Time, error) {
	issued := a.now()
	claims := roomClaims{
		Room: room,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   tokenIssuer,
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(issued),
		},
	}
	var expires time.Time
	if ttl > 0 {
		expires = issued.Add(ttl)
		claims.ExpiresAt = jwt.NewNumericDate(expires)
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

func (a *JWTAuthority) Verify(token, room string) error {
	if token == "" {
		return fmt.Errorf("%w: %w", apperrors.ErrUnauthorized, domain.ErrTokenRequired)
	}
	claims := &roomClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return fmt.Errorf("%w: token expired", apperrors.ErrUnauthorized)
		}
		return fmt.Errorf("%w: %v", apperrors.ErrUnauthorized, err)
	}
	if claims.Room != room {
		return fmt.Errorf("%w: %w", apperrors.ErrUnauthorized, domain.ErrRoomMismatch)
	}
	return nil
}
