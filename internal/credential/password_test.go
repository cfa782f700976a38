package credential

import "testing"

func TestPasswordHasher_HashAndVerify(t *testing.T) {
	h := NewPasswordHasher(4) // cheap cost for tests

	hash, err := h.Hash("Correct-Horse1")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	if err := h.Verify(hash, "Correct-Horse1"); err != nil {
		t.Errorf("Verify with correct password failed: %v", err)
	}
	if err := h.Verify(hash, "wrong-password"); err == nil {
		t.Error("Verify with wrong password should have failed")
	}
}

func TestPasswordHasher_LongPasswordRoundTrips(t *testing.T) {
	h := NewPasswordHasher(4)

	// Longer than bcrypt's raw 72-byte limit; the SHA-256 prehash keeps
	// the full 128-code-point policy range meaningful.
	long := "Aa1!" + stringOfLength(120, 'x')

	hash, err := h.Hash(long)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if err := h.Verify(hash, long); err != nil {
		t.Errorf("Verify with correct long password failed: %v", err)
	}
	if err := h.Verify(hash, long[:len(long)-1]+"y"); err == nil {
		t.Error("Verify should reject a password differing only past byte 72")
	}
}

func stringOfLength(n int, r rune) string {
	out := make([]rune, n)
	for i := range out {
		out[i] = r
	}
	return string(out)
}

func TestValidatePolicy(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"too short", "Ab1!", true},
		{"minimum length", "Abcdef1!", false},
		{"too long", stringOfLength(129, 'a'), true},
		{"maximum length", "Aa1!" + stringOfLength(124, 'a'), false},
		{"missing uppercase", "abcdef1!", true},
		{"missing lowercase", "ABCDEF1!", true},
		{"missing digit", "Abcdefgh!", true},
		{"missing symbol", "Abcdefg1", true},
		{"all classes present", "Abcdef1!", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePolicy(tt.password)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePolicy(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			}
		})
	}
}

func TestPasswordHasher_RejectsPolicyViolation(t *testing.T) {
	h := NewPasswordHasher(4)
	if _, err := h.Hash("short"); err == nil {
		t.Error("Hash should reject a password shorter than the policy minimum")
	}
}
