package common

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/c2h5oh/datasize"
)

// Duration is a time.Duration that reads and writes as "500ms", "10m", ... in config files
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

type NameNodeConfig struct {
	ListenEndpoint  string   `json:"listenEndpoint"`  // "0.0.0.0:8000" syntax
	DBPath          string   `json:"dbPath"`          // registry directory, empty keeps the registry in memory
	PendingStoreTTL Duration `json:"pendingStoreTTL"` // how long a begun store may stay incomplete before it is reported
	LogFile         string   `json:"logFile"`
	LogLevel        string   `json:"logLevel"`
}

type DataNodeConfig struct {
	NameNodeEndpoint string            `json:"nameNodeEndpoint"`
	ListenEndpoint   string            `json:"listenEndpoint"` // port 0 picks a free port
	AdvertiseHost    string            `json:"advertiseHost"`  // host registered with the namenode, defaults to the listen host or, for a wildcard listen host, the hostname
	DataDir          string            `json:"dataDir"`
	BlockSize        datasize.ByteSize `json:"blockSize"` // largest block accepted, e.g. "16KB"
	CacheTTL         Duration          `json:"cacheTTL"`  // 0 disables the block read cache
	RegisterAttempts int               `json:"registerAttempts"`
	RegisterBackoff  Duration          `json:"registerBackoff"`
	LogFile          string            `json:"logFile"`
	LogLevel         string            `json:"logLevel"`
}

func DefaultNameNodeConfig() NameNodeConfig {
	return NameNodeConfig{
		ListenEndpoint:  fmt.Sprintf(":%d", DEFAULT_NAMENODE_PORT),
		PendingStoreTTL: Duration{PENDING_STORE_TTL},
		LogLevel:        "info",
	}
}

func DefaultDataNodeConfig() DataNodeConfig {
	return DataNodeConfig{
		NameNodeEndpoint: fmt.Sprintf("localhost:%d", DEFAULT_NAMENODE_PORT),
		ListenEndpoint:   "localhost:0",
		DataDir:          ".",
		BlockSize:        datasize.ByteSize(BLOCK_SIZE),
		CacheTTL:         Duration{BLOCK_CACHE_TTL},
		RegisterAttempts: REGISTER_ATTEMPTS,
		RegisterBackoff:  Duration{REGISTER_BACKOFF},
		LogLevel:         "info",
	}
}

// ReadConfig decodes a JSON config file into cfg. Fields missing from the file keep their current value.
func ReadConfig(file string, cfg interface{}) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(cfg); err != nil {
		return fmt.Errorf("decoding config %s: %w", file, err)
	}
	return nil
}

// WriteConfig writes cfg as JSON to file
func WriteConfig(file string, cfg interface{}) error {
	f, err := os.Create(file)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(cfg)
}

func (cfg DataNodeConfig) Validate() error {
	if !IsValidEndpoint(cfg.NameNodeEndpoint) {
		return fmt.Errorf("invalid namenode endpoint %q", cfg.NameNodeEndpoint)
	}
	if !IsValidEndpoint(cfg.ListenEndpoint) {
		return fmt.Errorf("invalid listen endpoint %q", cfg.ListenEndpoint)
	}
	if cfg.BlockSize == 0 {
		return fmt.Errorf("block size must be positive")
	}
	if cfg.BlockSize.Bytes() > MAX_FRAME_SIZE/2 {
		return fmt.Errorf("block size %s exceeds the frame limit", cfg.BlockSize.HumanReadable())
	}
	info, err := os.Stat(cfg.DataDir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("data path %s is not a directory", cfg.DataDir)
	}
	return nil
}
