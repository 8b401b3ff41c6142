package pkce

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/oauth2"
)

func TestVerifyS256(t *testing.T) {
	verifier := oauth2.GenerateVerifier()
	challenge := Challenge(verifier)

	if err := Verify(challenge, MethodS256, verifier); err != nil {
		t.Errorf("Verify() with matching verifier returned error: %v", err)
	}

	if err := Verify(challenge, MethodS256, oauth2.GenerateVerifier()); !errors.Is(err, ErrMismatch) {
		t.Errorf("Verify() with wrong verifier = %v, want ErrMismatch", err)
	}
}

func TestVerifyDefaultsToS256(t *testing.T) {
	verifier := oauth2.GenerateVerifier()
	if err := Verify(Challenge(verifier), "", verifier); err != nil {
		t.Errorf("Verify() with empty method returned error: %v", err)
	}
}

func TestVerifyPlain(t *testing.T) {
	verifier := oauth2.GenerateVerifier()

	if err := Verify(verifier, MethodPlain, verifier); err != nil {
		t.Errorf("Verify() plain with matching verifier returned error: %v", err)
	}
	if err := Verify(verifier, MethodPlain, oauth2.GenerateVerifier()); !errors.Is(err, ErrMismatch) {
		t.Errorf("Verify() plain with wrong verifier = %v, want ErrMismatch", err)
	}
}

func TestVerifyRejectsUnsupportedMethod(t *testing.T) {
	verifier := oauth2.GenerateVerifier()
	if err := Verify(Challenge(verifier), "S512", verifier); err == nil {
		t.Error("Verify() accepted an unsupported challenge method")
	}
}

func TestValidateVerifier(t *testing.T) {
	tests := []struct {
		name     string
		verifier string
		wantErr  bool
	}{
		{
			name:     "valid minimum length",
			verifier: strings.Repeat("a", MinVerifierLength),
			wantErr:  false,
		},
		{
			name:     "valid maximum length",
			verifier: strings.Repeat("a", MaxVerifierLength),
			wantErr:  false,
		},
		{
			name:     "valid with all unreserved specials",
			verifier: strings.Repeat("aB3-._~", 7),
			wantErr:  false,
		},
		{
			name:     "empty",
			verifier: "",
			wantErr:  true,
		},
		{
			name:     "too short",
			verifier: strings.Repeat("a", MinVerifierLength-1),
			wantErr:  true,
		},
		{
			name:     "too long",
			verifier: strings.Repeat("a", MaxVerifierLength+1),
			wantErr:  true,
		},
		{
			name:     "invalid character plus",
			verifier: strings.Repeat("a", MinVerifierLength-1) + "+",
			wantErr:  true,
		},
		{
			name:     "invalid character space",
			verifier: strings.Repeat("a", MinVerifierLength-1) + " ",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateVerifier(tt.verifier)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateVerifier() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestVerifyEmptyVerifierIsRequired(t *testing.T) {
	if err := Verify(Challenge("x"), MethodS256, ""); !errors.Is(err, ErrVerifierRequired) {
		t.Errorf("Verify() with empty verifier = %v, want ErrVerifierRequired", err)
	}
}

func TestVerifyEmptyChallenge(t *testing.T) {
	verifier := oauth2.GenerateVerifier()
	if err := Verify("", MethodS256, verifier); err == nil {
		t.Error("Verify() with empty challenge should fail")
	}
}
