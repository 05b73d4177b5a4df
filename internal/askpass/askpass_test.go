package askpass

import (
	"strings"
	"testing"
)

func TestGenerateTokenIsRandomAndHex(t *testing.T) {
	a, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken returned error: %v", err)
	}
	b, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken returned error: %v", err)
	}
	if a == b {
		t.Error("expected two successive tokens to differ")
	}
	if len(a) != 64 { // 32 random bytes, hex-encoded
		t.Errorf("len(token) = %d, want 64", len(a))
	}
}

func TestBuildEnvIncludesTargetAndToken(t *testing.T) {
	env, token, err := BuildEnv("myapp")
	if err != nil {
		t.Fatalf("BuildEnv returned error: %v", err)
	}
	if token == "" {
		t.Fatal("expected a non-empty token")
	}

	joined := strings.Join(env, "\n")
	if !strings.Contains(joined, "SSH_ASKPASS=") {
		t.Error("expected SSH_ASKPASS to be set")
	}
	if !strings.Contains(joined, "SSH_ASKPASS_REQUIRE=force") {
		t.Error("expected SSH_ASKPASS_REQUIRE=force to be set")
	}
	if !strings.Contains(joined, "CONSOLLE_ASKPASS_TARGET=myapp") {
		t.Error("expected the target name to be passed through")
	}
	if !strings.Contains(joined, "CONSOLLE_ASKPASS_TOKEN="+token) {
		t.Error("expected the generated token to be passed through")
	}
}

func TestPendingValidatorRegisterAndValidate(t *testing.T) {
	v := NewPendingValidator()
	v.Register("myapp", "tok-1")

	if !v.Validate("myapp", "tok-1") {
		t.Error("expected validation to succeed for a registered target/token pair")
	}
	if v.Validate("other-app", "tok-1") {
		t.Error("expected validation to fail for the wrong target")
	}
	if v.Validate("myapp", "wrong-token") {
		t.Error("expected validation to fail for an unregistered token")
	}
}

func TestPendingValidatorRevoke(t *testing.T) {
	v := NewPendingValidator()
	v.Register("myapp", "tok-1")
	v.Revoke("tok-1")

	if v.Validate("myapp", "tok-1") {
		t.Error("expected validation to fail after the token was revoked")
	}
}

func TestPendingValidatorValidateOnEmptyValidator(t *testing.T) {
	v := NewPendingValidator()
	if v.Validate("myapp", "anything") {
		t.Error("expected validation to fail against an empty validator")
	}
}
