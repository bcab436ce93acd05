package auth

import (
	"strings"
	"testing"
)

func TestGenerateAPIKey(t *testing.T) {
	t.Run("returns three non-empty values", func(t *testing.T) {
		key, hash, prefix, err := GenerateAPIKey("sk")
		if err != nil {
			t.Fatalf("GenerateAPIKey() error: %v", err)
		}
		if key == "" || hash == "" || prefix == "" {
			t.Errorf("GenerateAPIKey() = %q, %q, %q; want non-empty values", key, hash, prefix)
		}
	})

	t.Run("key starts with prefix_", func(t *testing.T) {
		key, _, _, err := GenerateAPIKey("sk")
		if err != nil {
			t.Fatalf("GenerateAPIKey() error: %v", err)
		}
		if !strings.HasPrefix(key, "sk_") {
			t.Errorf("GenerateAPIKey() key = %q, want prefix %q", key, "sk_")
		}
	})

	t.Run("lookup prefix matches key start", func(t *testing.T) {
		key, _, lookup, err := GenerateAPIKey("sk")
		if err != nil {
			t.Fatalf("GenerateAPIKey() error: %v", err)
		}
		if !strings.HasPrefix(key, lookup) {
			t.Errorf("key %q does not start with lookup prefix %q", key, lookup)
		}
		if len(lookup) != len("sk_")+DisplayPrefixLength {
			t.Errorf("lookup prefix len = %d, want %d", len(lookup), len("sk_")+DisplayPrefixLength)
		}
		if LookupPrefix(key) != lookup {
			t.Errorf("LookupPrefix(key) = %q, want %q", LookupPrefix(key), lookup)
		}
	})

	t.Run("two calls produce different keys", func(t *testing.T) {
		key1, _, _, _ := GenerateAPIKey("sk")
		key2, _, _, _ := GenerateAPIKey("sk")
		if key1 == key2 {
			t.Error("GenerateAPIKey() produced identical keys on consecutive calls")
		}
	})
}

func TestLookupPrefix(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"sk_abcdefghijklmnop", "sk_abcdefgh"},
		{"sk_abc", ""},
		{"noseparator", ""},
		{"_abcdefghij", ""},
	}
	for _, tt := range tests {
		if got := LookupPrefix(tt.key); got != tt.want {
			t.Errorf("LookupPrefix(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestIsAPIKey(t *testing.T) {
	if !IsAPIKey("sk_abcdef", "sk") {
		t.Error("sk_ key should be recognised")
	}
	if IsAPIKey("eyJhbGciOiJIUzI1NiJ9.e30.sig", "sk") {
		t.Error("JWT should not be recognised as an API key")
	}
	if IsAPIKey("sk_abcdef", "") {
		t.Error("empty prefix disables API keys")
	}
}

func TestValidateAPIKey(t *testing.T) {
	key, hash, _, err := GenerateAPIKey("sk")
	if err != nil {
		t.Fatalf("GenerateAPIKey() error: %v", err)
	}
	if !ValidateAPIKey(key, hash) {
		t.Error("ValidateAPIKey() = false for the generated key")
	}
	if ValidateAPIKey(key+"x", hash) {
		t.Error("ValidateAPIKey() = true for a modified key")
	}
	if ValidateAPIKey(key, "not-a-hash") {
		t.Error("ValidateAPIKey() = true for a malformed hash")
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{"valid", "Bearer sk_abc123", "sk_abc123", false},
		{"trailing space trimmed", "Bearer token  ", "token", false},
		{"empty header", "", "", true},
		{"basic scheme", "Basic dXNlcjpwYXNz", "", true},
		{"bearer without token", "Bearer    ", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractBearerToken(tt.header)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ExtractBearerToken() err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ExtractBearerToken() = %q, want %q", got, tt.want)
			}
		})
	}
}
