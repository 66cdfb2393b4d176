package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// TokenTTL is how long an issued token stays valid.
const TokenTTL = 30 * 24 * time.Hour

// GenerateToken signs an HS256 token carrying the account id. The identity provider issues
// tokens in production; this is used by tooling and tests.
func GenerateToken(secret []byte, userID string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"user_id": userID,
		"exp":     now.Add(TokenTTL).Unix(),
		"iat":     now.Unix(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(secret)
}

func ParseToken(secret []byte, tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", errors.Join(ErrInvalidToken, err)
	}
	if !token.Valid {
		return "", ErrInvalidToken
	}

	data, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}
	uid, ok := data["user_id"].(string)
	if !ok || uid == "" {
		return "", ErrInvalidToken
	}
	return uid, nil
}

// ServicePayments is the payment layer, the only caller allowed to credit wallets.
const ServicePayments = "payments"

// ServiceTokenTTL keeps service tokens short-lived; the caller mints one per batch.
const ServiceTokenTTL = 15 * time.Minute

// GenerateServiceToken signs a token for a backend service. Service tokens use their own
// secret and carry no user_id, so an end-user token can never pass as one.
func GenerateServiceToken(secret []byte, service string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"service": service,
		"exp":     now.Add(ServiceTokenTTL).Unix(),
		"iat":     now.Unix(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(secret)
}

func ParseServiceToken(secret []byte, tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", errors.Join(ErrInvalidToken, err)
	}

	data, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}
	if _, isUser := data["user_id"]; isUser {
		return "", ErrInvalidToken
	}
	service, ok := data["service"].(string)
	if !ok || service == "" {
		return "", ErrInvalidToken
	}
	return service, nil
}
