package security

import (
	"errors"
	"testing"
)

func TestPasswordHashAndCompare(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if hash == "correct horse battery staple" {
		t.Fatal("hash equals plaintext")
	}
	if err := ComparePassword(hash, "correct horse battery staple"); err != nil {
		t.Fatalf("compare: %v", err)
	}
	if err := ComparePassword(hash, "wrong"); !errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("err = %v, want ErrPasswordMismatch", err)
	}
}

func TestNewStateTokenUnique(t *testing.T) {
	a, err := NewStateToken()
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	b, err := NewStateToken()
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if a == b {
		t.Fatal("state tokens must not repeat")
	}
	if len(a) < 40 {
		t.Fatalf("state token too short: %d", len(a))
	}
}
