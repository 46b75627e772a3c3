package httpapi

import (
	"crypto/rand"
	"time"

	"vpnpanel/internal/model"

	"github.com/golang-jwt/jwt/v5"
)

const jwtTokenExpiry = 24 * time.Hour

var jwtSigningKey []byte

func initJWTKey(secret string) {
	if secret != "" {
		jwtSigningKey = []byte(secret)
		return
	}
	// Generate a random key if no secret is configured. Tokens stop
	// verifying across restarts, which is acceptable for development.
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("failed to generate JWT key: " + err.Error())
	}
	jwtSigningKey = b
}

type authClaims struct {
	UserID   string
	Username string
	Role     model.Role
}

func (c authClaims) isAdmin() bool {
	return c.Role == model.RoleAdmin
}

func generateJWT(u model.User) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":      u.ID,
		"username": u.Username,
		"role":     string(u.Role),
		"exp":      now.Add(jwtTokenExpiry).Unix(),
		"iat":      now.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSigningKey)
}

func parseJWT(tokenStr string) (authClaims, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return jwtSigningKey, nil
	})
	if err != nil {
		return authClaims{}, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return authClaims{}, jwt.ErrSignatureInvalid
	}
	sub, _ := claims["sub"].(string)
	uname, _ := claims["username"].(string)
	role, _ := claims["role"].(string)
	return authClaims{UserID: sub, Username: uname, Role: model.Role(role)}, nil
}
