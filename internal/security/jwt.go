package security

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var ErrNoToken = errors.New("no bearer token")

// UserEmailFromAuthHeader extracts the acting user's email from a bearer
// token issued by the host application. The email claim feeds the STS
// role-session name so engine-side audit logs name a person.
func UserEmailFromAuthHeader(secret, authorization string) (string, error) {
	raw, ok := strings.CutPrefix(authorization, "Bearer ")
	if !ok || raw == "" {
		return "", ErrNoToken
	}

	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("unexpected claims type")
	}
	email, _ := claims["email"].(string)
	if email == "" {
		return "", errors.New("token has no email claim")
	}
	return email, nil
}
