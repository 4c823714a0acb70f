package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/leapdao/acebusters-backend/internal/ledger/retry"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/network"
	"github.com/stellar/go/strkey"
)

type Config struct {
	// Postgres connection string
	DatabaseURL string

	// RPC Server URL
	RPCServerURL string

	// Network passphrase ( mainnet or testnet )
	NetworkPassphrase string

	// Table contract ids to watch and scan; empty means every indexed table
	TableContracts []string

	// Stellar secret seed that signs distributions and nettings
	OracleSecret string

	APIPort  int
	LogLevel string

	// Starting ledger sequence ( 0 means start from latest )
	StartLedger uint32

	// Buffer size for RPC requests
	BufferSize uint32

	ScanInterval       time.Duration
	StreamPoll         time.Duration
	WorkerPoll         time.Duration
	Timeout            time.Duration
	ReservationTimeout time.Duration

	Retry retry.Config
}

// Load reads the configuration from the environment
func Load() *Config {
	return &Config{
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RPCServerURL:      getEnv("RPC_SERVER_URL", "https://soroban-testnet.stellar.org"),
		NetworkPassphrase: getEnv("NETWORK_PASSPHRASE", network.TestNetworkPassphrase),
		TableContracts:    getEnvAsList("TABLE_CONTRACTS"),
		OracleSecret:      os.Getenv("ORACLE_SECRET"),

		APIPort:  getEnvAsInt("API_PORT", 8080),
		LogLevel: strings.ToLower(getEnv("LOG_LEVEL", "info")),

		StartLedger: uint32(getEnvAsInt("START_LEDGER", 0)),
		BufferSize:  uint32(getEnvAsInt("BUFFER_SIZE", 10)),

		ScanInterval:       time.Duration(getEnvAsInt("SCAN_INTERVAL_SEC", 60)) * time.Second,
		StreamPoll:         time.Duration(getEnvAsInt("STREAM_POLL_MS", 500)) * time.Millisecond,
		WorkerPoll:         time.Duration(getEnvAsInt("WORKER_POLL_MS", 500)) * time.Millisecond,
		Timeout:            time.Duration(getEnvAsInt("TIMEOUT_SEC", 60)) * time.Second,
		ReservationTimeout: time.Duration(getEnvAsInt("RESERVATION_TIMEOUT_SEC", 60)) * time.Second,

		Retry: retry.Config{
			Enabled:      getEnvAsBool("RETRY_ENABLED", true),
			MaxRetries:   getEnvAsInt("RETRY_MAX_RETRIES", 5),
			InitialDelay: time.Duration(getEnvAsInt("RETRY_INITIAL_DELAY_MS", 200)) * time.Millisecond,
			MaxDelay:     time.Duration(getEnvAsInt("RETRY_MAX_DELAY_MS", 10000)) * time.Millisecond,
		},
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.RPCServerURL == "" {
		return fmt.Errorf("RPC_SERVER_URL is required")
	}
	if c.NetworkPassphrase == "" {
		return fmt.Errorf("NETWORK_PASSPHRASE is required")
	}
	if _, err := keypair.ParseFull(c.OracleSecret); err != nil {
		return fmt.Errorf("ORACLE_SECRET is not a valid secret seed: %w", err)
	}
	for _, id := range c.TableContracts {
		if _, err := strkey.Decode(strkey.VersionByteContract, id); err != nil {
			return fmt.Errorf("TABLE_CONTRACTS entry %q is not a contract id: %w", id, err)
		}
	}
	if c.APIPort <= 0 || c.APIPort > 65535 {
		return fmt.Errorf("API_PORT %d out of range", c.APIPort)
	}
	if c.BufferSize == 0 {
		return fmt.Errorf("BUFFER_SIZE must be positive")
	}
	if c.ScanInterval <= 0 || c.StreamPoll <= 0 || c.WorkerPoll <= 0 {
		return fmt.Errorf("poll intervals must be positive")
	}
	if c.Timeout <= 0 || c.ReservationTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	valStr := os.Getenv(key)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return defaultVal
	}
	return val
}

func getEnvAsBool(key string, defaultVal bool) bool {
	valStr := os.Getenv(key)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.ParseBool(valStr)
	if err != nil {
		return defaultVal
	}
	return val
}

func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
