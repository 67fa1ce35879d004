package config

import (
	"os"
	"testing"
	"time"
)

func TestGetEnvOrDefault(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		envValue   string
		defaultVal string
		expected   string
	}{
		{"uses env value", "TEST_VAR_1", "hello", "default", "hello"},
		{"uses default when empty", "TEST_VAR_2", "", "default", "default"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.envValue != "" {
				os.Setenv(tc.key, tc.envValue)
				defer os.Unsetenv(tc.key)
			}

			result := getEnvOrDefault(tc.key, tc.defaultVal)
			if result != tc.expected {
				t.Errorf("Expected %q, got %q", tc.expected, result)
			}
		})
	}
}

func TestGetEnvAsIntOrDefault(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		envValue   string
		defaultVal int
		expected   int
	}{
		{"parses integer", "TEST_INT_1", "42", 10, 42},
		{"uses default for empty", "TEST_INT_2", "", 10, 10},
		{"uses default for non-numeric", "TEST_INT_3", "abc", 10, 10},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.envValue != "" {
				os.Setenv(tc.key, tc.envValue)
				defer os.Unsetenv(tc.key)
			}

			result := getEnvAsIntOrDefault(tc.key, tc.defaultVal)
			if result != tc.expected {
				t.Errorf("Expected %d, got %d", tc.expected, result)
			}
		})
	}
}

func TestGetEnvAsFloatOrDefault(t *testing.T) {
	t.Setenv("TEST_FLOAT_1", "0.25")
	t.Setenv("TEST_FLOAT_2", "warm")

	if got := getEnvAsFloatOrDefault("TEST_FLOAT_1", 1); got != 0.25 {
		t.Errorf("Expected 0.25, got %v", got)
	}
	if got := getEnvAsFloatOrDefault("TEST_FLOAT_2", 1); got != 1 {
		t.Errorf("Expected default 1, got %v", got)
	}
}

func TestGetEnvAsBoolOrDefault(t *testing.T) {
	t.Setenv("TEST_BOOL_1", "true")
	t.Setenv("TEST_BOOL_2", "yes please")

	if got := getEnvAsBoolOrDefault("TEST_BOOL_1", false); !got {
		t.Errorf("Expected true")
	}
	if got := getEnvAsBoolOrDefault("TEST_BOOL_2", false); got {
		t.Errorf("Expected default false for unparsable value")
	}
	if got := getEnvAsBoolOrDefault("TEST_BOOL_UNSET", true); !got {
		t.Errorf("Expected default true for unset value")
	}
}

func TestGetEnvAsListOrDefault(t *testing.T) {
	t.Setenv("TEST_LIST", " https://a.example , ,https://b.example")

	got := getEnvAsListOrDefault("TEST_LIST", []string{"x"})
	if len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Errorf("Unexpected list: %#v", got)
	}

	t.Setenv("TEST_LIST", " , ")
	got = getEnvAsListOrDefault("TEST_LIST", []string{"x"})
	if len(got) != 1 || got[0] != "x" {
		t.Errorf("Expected default list, got %#v", got)
	}
}

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "GEMINI_API_KEY", "GEMINI_MODEL", "GEMINI_MAX_OUTPUT_TOKENS",
		"GEMINI_TIMEOUT_SECONDS", "STORE_DRIVER", "ALLOWED_ORIGINS", "SQLITE_PATH",
		"TRUST_PROXY",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("Expected port 8080, got %q", cfg.Port)
	}
	if cfg.GeminiModel != "gemini-1.5-flash" {
		t.Errorf("Unexpected model %q", cfg.GeminiModel)
	}
	if cfg.GeminiMaxOutputTokens != 512 {
		t.Errorf("Expected 512 output tokens, got %d", cfg.GeminiMaxOutputTokens)
	}
	if cfg.GeminiTimeout != 30*time.Second {
		t.Errorf("Expected 30s timeout, got %s", cfg.GeminiTimeout)
	}
	if cfg.StoreDriver != StoreMemory {
		t.Errorf("Expected memory store, got %q", cfg.StoreDriver)
	}
	if cfg.SQLitePath != "chats.db" {
		t.Errorf("Expected chats.db, got %q", cfg.SQLitePath)
	}
	if len(cfg.AllowedOrigins) != 2 {
		t.Errorf("Expected 2 default origins, got %v", cfg.AllowedOrigins)
	}
	if cfg.GeminiAPIKey != "" {
		t.Errorf("Expected empty API key")
	}
	if cfg.TrustProxy {
		t.Errorf("Expected proxy headers to be untrusted by default")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"memory store", Config{StoreDriver: StoreMemory, GeminiConcurrentReqs: 1}, false},
		{"sqlite store", Config{StoreDriver: StoreSQLite, GeminiConcurrentReqs: 1}, false},
		{"postgres without url", Config{StoreDriver: StorePostgres, GeminiConcurrentReqs: 1}, true},
		{"postgres with url", Config{StoreDriver: StorePostgres, DatabaseURL: "postgres://x", GeminiConcurrentReqs: 1}, false},
		{"unknown driver", Config{StoreDriver: "mongo", GeminiConcurrentReqs: 1}, true},
		{"zero concurrency", Config{StoreDriver: StoreMemory}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}
