package utils

import (
	"os"
	"strconv"

	"golang.org/x/crypto/bcrypt"
)

// bcryptCost reads BCRYPT_COST, clamped to the library's valid range.
// Lower it in tests, raise it where login latency allows.
func bcryptCost() int {
	cost, err := strconv.Atoi(os.Getenv("BCRYPT_COST"))
	if err != nil || cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return bcrypt.DefaultCost
	}
	return cost
}

func HashPassword(plain string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), bcryptCost())
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func ComparePassword(hashed string, plain string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain))
}
