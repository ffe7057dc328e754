package auth

import "golang.org/x/crypto/bcrypt"

// Admin tooling authenticates with a single API key; only its bcrypt hash is
// configured on the server.

func HashAPIKey(key string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	return string(b), err
}

func VerifyAPIKey(key, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil
}
