package main

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// localToken signs a short-lived token the server accepts when it runs with
// LOCAL_AUTH_MODE=hs256. The user must already be a member of the boards.
func localToken(secret, userID string) (string, error) {
	if secret == "" {
		return "", errors.New("TEST_BEARER or LOCAL_AUTH_SHARED_SECRET must be set")
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	return token.SignedString([]byte(secret))
}
