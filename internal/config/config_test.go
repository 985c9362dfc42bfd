package config

import (
	"strings"
	"testing"
)

const validKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	if _, err := Load(); err == nil {
		t.Error("expected error when DATABASE_URL is unset")
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/edc_management")
	t.Setenv("ENV", "development")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != "8000" {
		t.Errorf("Port = %q, want 8000", cfg.Port)
	}
	if cfg.MigrationsDir != "migrations" {
		t.Errorf("MigrationsDir = %q, want migrations", cfg.MigrationsDir)
	}
	if cfg.VerifyBatchSize != 500 {
		t.Errorf("VerifyBatchSize = %d, want 500", cfg.VerifyBatchSize)
	}
	if cfg.VerifyConcurrency != 4 {
		t.Errorf("VerifyConcurrency = %d, want 4", cfg.VerifyConcurrency)
	}
}

func TestResolvedAuthMode(t *testing.T) {
	cases := []struct {
		env  string
		mode string
		want string
	}{
		{"development", "", "development"},
		{"production", "", "external"},
		{"staging", "", "external"},
		{"production", "development", "development"},
	}
	for _, tc := range cases {
		cfg := &Config{Env: tc.env, AuthMode: tc.mode}
		if got := cfg.ResolvedAuthMode(); got != tc.want {
			t.Errorf("ENV=%s AUTH_MODE=%s: mode = %q, want %q", tc.env, tc.mode, got, tc.want)
		}
	}
}

func TestValidate_ExternalModeNeedsIssuer(t *testing.T) {
	cfg := &Config{Env: "staging"}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error: external mode without AUTH_ISSUER")
	}

	cfg.AuthIssuer = "https://auth.example.com/realms/edc"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidate_ProductionNeedsSigningKey(t *testing.T) {
	cfg := &Config{
		Env:               "production",
		AuthIssuer:        "https://auth.example.com/realms/edc",
		TenantDSNTemplate: "postgres://localhost/edc_%s",
	}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "AUDIT_SIGNING_KEY") {
		t.Errorf("err = %v, want signing key requirement", err)
	}

	cfg.AuditSigningKey = validKey
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidate_RejectsMalformedSigningKey(t *testing.T) {
	cfg := &Config{Env: "development", AuditSigningKey: "not-hex"}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for non-hex signing key")
	}

	cfg.AuditSigningKey = "deadbeef"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for short signing key")
	}
}

func TestSigningKey_EmptyMeansNoKey(t *testing.T) {
	cfg := &Config{}
	key, err := cfg.SigningKey()
	if err != nil {
		t.Fatal(err)
	}
	if key != nil {
		t.Errorf("key = %v, want nil", key)
	}
}

func TestPreviousSigningKeys_CommaList(t *testing.T) {
	second := strings.Repeat("ff", 32)
	cfg := &Config{AuditSigningPreviousKeys: validKey + ", " + second}

	keys, err := cfg.PreviousSigningKeys()
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 {
		t.Fatalf("len = %d, want 2", len(keys))
	}
	for i, key := range keys {
		if len(key) != 32 {
			t.Errorf("key %d length = %d, want 32", i, len(key))
		}
	}
}

func TestValidate_DSNTemplateNeedsPlaceholder(t *testing.T) {
	cfg := &Config{Env: "development", TenantDSNTemplate: "postgres://localhost/edc_fixed"}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for template without a DSN placeholder")
	}

	cfg.TenantDSNTemplate = "postgres://localhost/edc_%s"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidate_TLSNeedsCertAndKey(t *testing.T) {
	cfg := &Config{Env: "development", TLSEnabled: true}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error: TLS enabled without cert file")
	}

	cfg.TLSCertFile = "/etc/edc/tls.crt"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error: TLS enabled without key file")
	}

	cfg.TLSKeyFile = "/etc/edc/tls.key"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
