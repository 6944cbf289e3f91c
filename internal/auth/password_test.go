package auth

import "testing"

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("orchard-house-1921")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if hash == "orchard-house-1921" {
		t.Fatal("hash must not equal the plaintext")
	}
	if err := VerifyPassword(hash, "orchard-house-1921"); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := VerifyPassword(hash, "orchard-house-1922"); err == nil {
		t.Fatal("expected mismatch error for wrong password")
	}
}

func TestHashPasswordCost(t *testing.T) {
	if _, err := HashPasswordCost("secret-enough", 4); err != nil {
		t.Fatalf("min cost: %v", err)
	}
	if _, err := HashPasswordCost("secret-enough", 99); err == nil {
		t.Fatal("expected error for out-of-range cost")
	}
}

func TestVerifyPasswordRejectsGarbageHash(t *testing.T) {
	if err := VerifyPassword("not-a-bcrypt-digest", "whatever"); err == nil {
		t.Fatal("expected error for malformed hash")
	}
}
