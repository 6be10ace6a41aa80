package utils

import (
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestPasswordHashRoundTrip(t *testing.T) {
	t.Setenv("BCRYPT_COST", "4") // MinCost keeps the test fast

	hashed, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if err := ComparePassword(hashed, "correct horse"); err != nil {
		t.Errorf("compare with right password: %v", err)
	}
	if err := ComparePassword(hashed, "wrong horse"); err == nil {
		t.Error("compare with wrong password succeeded")
	}
}

func TestBcryptCostClamping(t *testing.T) {
	cases := map[string]int{
		"":    bcrypt.DefaultCost,
		"abc": bcrypt.DefaultCost,
		"99":  bcrypt.DefaultCost,
		"2":   bcrypt.DefaultCost,
		"6":   6,
	}
	for env, want := range cases {
		t.Setenv("BCRYPT_COST", env)
		if got := bcryptCost(); got != want {
			t.Errorf("BCRYPT_COST=%q: cost = %d, want %d", env, got, want)
		}
	}
}
