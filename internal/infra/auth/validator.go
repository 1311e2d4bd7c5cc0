package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/xela07ax/procurement-approvals/internal/domain"
)

// ErrInvalidToken: токен не прошел проверку подписи или claims.
var ErrInvalidToken = errors.New("invalid token")

// RSAValidator проверяет токены внешнего IdP, подписанные RS256.
// Сервис токены не выпускает, поэтому нужен только публичный ключ.
type RSAValidator struct {
	publicKey *rsa.PublicKey
}

func NewRSAValidator(pubKey *rsa.PublicKey) *RSAValidator {
	return &RSAValidator{publicKey: pubKey}
}

// VerifyToken принимает значение заголовка Authorization (с префиксом Bearer или без).
func (v *RSAValidator) VerifyToken(tokenStr string) (*domain.CustomClaims, error) {
	tokenStr = strings.TrimPrefix(tokenStr, "Bearer ")
	tokenStr = strings.TrimSpace(tokenStr)

	token, err := jwt.ParseWithClaims(tokenStr, &domain.CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.publicKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*domain.CustomClaims)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected claims type", ErrInvalidToken)
	}
	// Без роли токен не может привязать действие к шагу
	if claims.Role == "" {
		return nil, fmt.Errorf("%w: role claim is empty", ErrInvalidToken)
	}
	return claims, nil
}

// ParseRSAPublicKey превращает PEM в ключ для проверки подписи.
func ParseRSAPublicKey(data []byte) (*rsa.PublicKey, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("public key data is empty")
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return key, nil
}
