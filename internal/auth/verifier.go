package auth

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dkorolev/commerce/internal/domain"
)

// Claims — полезная нагрузка access-токена платформы.
type Claims struct {
	UserID    string   `json:"uid"`
	Roles     []string `json:"roles"`
	SessionID string   `json:"sid"`
	jwt.RegisteredClaims
}

// Verifier проверяет HS256 access-токены. Выпуск токенов — зона
// identity-сервиса; здесь только верификация подписи и claims.
type Verifier struct {
	secret []byte
	issuer string
}

var _ domain.TokenVerifier = (*Verifier)(nil)

// NewVerifier создаёт верификатор с общим HMAC-секретом. Непустой issuer
// дополнительно сверяется с claim iss.
func NewVerifier(secret []byte, issuer string) *Verifier {
	return &Verifier{secret: secret, issuer: issuer}
}

// Verify разбирает и проверяет токен, возвращая доменные claims.
func (v *Verifier) Verify(token string) (domain.Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.Claims{}, domain.ErrTokenInvalid
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))
	if err != nil || !parsed.Valid {
		return domain.Claims{}, domain.ErrTokenInvalid
	}

	if v.issuer != "" && claims.Issuer != v.issuer {
		return domain.Claims{}, domain.ErrTokenInvalid
	}

	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return domain.Claims{}, domain.ErrTokenInvalid
	}

	return domain.Claims{
		UserID:    userID,
		Roles:     claims.Roles,
		SessionID: claims.SessionID,
	}, nil
}
