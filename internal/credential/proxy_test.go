package credential

import "testing"

func TestGenerateProxyCredential_VerifiesRoundTrip(t *testing.T) {
	plaintext, hash, err := GenerateProxyCredential()
	if err != nil {
		t.Fatalf("GenerateProxyCredential: %v", err)
	}
	if len(plaintext) != proxyCredentialBytes*2 {
		t.Errorf("plaintext length = %d, want %d", len(plaintext), proxyCredentialBytes*2)
	}
	if !VerifyProxyCredential(hash, plaintext) {
		t.Error("VerifyProxyCredential should accept the matching plaintext")
	}
}

func TestVerifyProxyCredential_RejectsWrongValue(t *testing.T) {
	_, hash, err := GenerateProxyCredential()
	if err != nil {
		t.Fatalf("GenerateProxyCredential: %v", err)
	}
	if VerifyProxyCredential(hash, "not-the-right-secret") {
		t.Error("VerifyProxyCredential should reject a non-matching plaintext")
	}
}

func TestGenerateProxyCredential_Unique(t *testing.T) {
	p1, _, err := GenerateProxyCredential()
	if err != nil {
		t.Fatalf("GenerateProxyCredential: %v", err)
	}
	p2, _, err := GenerateProxyCredential()
	if err != nil {
		t.Fatalf("GenerateProxyCredential: %v", err)
	}
	if p1 == p2 {
		t.Error("two generated credentials should not collide")
	}
}
