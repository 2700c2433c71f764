package protocol

import (
	"regexp"
	"testing"
)

var upperHex32 = regexp.MustCompile(`^[0-9A-F]{32}$`)

func TestHashPassword(t *testing.T) {
	tests := []struct {
		name         string
		username     string
		password     string
		realm        string
		random       string
		wantPassword string
		wantToken    string
	}{
		{
			name:         "known vector",
			username:     "admin",
			password:     "admin123",
			realm:        "Login to 4L0123456789ABC",
			random:       "1234567890",
			wantPassword: "0A317CA23F3E65FE5A43E72726FC4BFE",
			wantToken:    "799EE64C367720BB9B0C60E49B1F82C6",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PasswordHash(tt.username, tt.realm, tt.password); got != tt.wantPassword {
				t.Errorf("PasswordHash() = %s, want %s", got, tt.wantPassword)
			}
			if got := HashPassword(tt.username, tt.password, tt.realm, tt.random); got != tt.wantToken {
				t.Errorf("HashPassword() = %s, want %s", got, tt.wantToken)
			}
		})
	}
}

func TestHashPasswordDeterministic(t *testing.T) {
	first := HashPassword("user", "pass", "realm", "42")
	for i := 0; i < 10; i++ {
		if got := HashPassword("user", "pass", "realm", "42"); got != first {
			t.Fatalf("hash changed between calls: %s != %s", got, first)
		}
	}
	if !upperHex32.MatchString(first) {
		t.Errorf("token %q is not 32 uppercase hex characters", first)
	}
	if !upperHex32.MatchString(PasswordHash("user", "realm", "pass")) {
		t.Error("password hash is not 32 uppercase hex characters")
	}
}

func TestHashPasswordDependsOnChallenge(t *testing.T) {
	a := HashPassword("user", "pass", "realm", "1")
	b := HashPassword("user", "pass", "realm", "2")
	if a == b {
		t.Error("different random values must produce different tokens")
	}
}

func TestMD5Upper(t *testing.T) {
	if got := md5Upper(""); got != "D41D8CD98F00B204E9800998ECF8427E" {
		t.Errorf("md5Upper(\"\") = %s", got)
	}
}
