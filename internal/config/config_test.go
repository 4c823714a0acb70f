package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/strkey"
)

func testContractID(t *testing.T) string {
	t.Helper()
	id, err := strkey.Encode(strkey.VersionByteContract, make([]byte, 32))
	if err != nil {
		t.Fatalf("failed to encode contract id: %v", err)
	}
	return id
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/oracle")
	t.Setenv("API_PORT", "")
	t.Setenv("TABLE_CONTRACTS", "")
	t.Setenv("SCAN_INTERVAL_SEC", "")

	cfg := Load()

	if cfg.APIPort != 8080 {
		t.Errorf("Expected default port 8080, got: %d", cfg.APIPort)
	}
	if cfg.ScanInterval != time.Minute {
		t.Errorf("Expected default scan interval 1m, got: %v", cfg.ScanInterval)
	}
	if cfg.BufferSize != 10 {
		t.Errorf("Expected default buffer size 10, got: %d", cfg.BufferSize)
	}
	if len(cfg.TableContracts) != 0 {
		t.Errorf("Expected no table contracts, got: %v", cfg.TableContracts)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("API_PORT", "9090")
	t.Setenv("TABLE_CONTRACTS", " CA1 , ,CA2")
	t.Setenv("TIMEOUT_SEC", "not-a-number")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg := Load()

	if cfg.APIPort != 9090 {
		t.Errorf("Expected port 9090, got: %d", cfg.APIPort)
	}
	if strings.Join(cfg.TableContracts, ",") != "CA1,CA2" {
		t.Errorf("Expected [CA1 CA2], got: %v", cfg.TableContracts)
	}
	if cfg.Timeout != time.Minute {
		t.Errorf("Expected invalid timeout to fall back to 1m, got: %v", cfg.Timeout)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("Expected log level debug, got: %s", cfg.LogLevel)
	}
}

func TestValidate(t *testing.T) {
	secret := keypair.MustRandom().Seed()
	contract := testContractID(t)

	t.Setenv("DATABASE_URL", "postgres://localhost/oracle")
	t.Setenv("ORACLE_SECRET", secret)
	t.Setenv("TABLE_CONTRACTS", contract)
	t.Setenv("API_PORT", "")
	t.Setenv("BUFFER_SIZE", "")

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing database", func(c *Config) { c.DatabaseURL = "" }, "DATABASE_URL"},
		{"bad secret", func(c *Config) { c.OracleSecret = "SXXX" }, "ORACLE_SECRET"},
		{"account as table", func(c *Config) { c.TableContracts = []string{keypair.MustRandom().Address()} }, "TABLE_CONTRACTS"},
		{"bad port", func(c *Config) { c.APIPort = 70000 }, "API_PORT"},
		{"zero buffer", func(c *Config) { c.BufferSize = 0 }, "BUFFER_SIZE"},
		{"zero reservation timeout", func(c *Config) { c.ReservationTimeout = 0 }, "timeouts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Load()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Expected no error, got: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}
