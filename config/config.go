package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// default patterns for workspace files that must survive a re-materialization
var defaultSkipExisting = []string{"corpus", "corpora", "artifacts", "*_workspace"}

type AppConfig struct {
	RootDir      string // directory holding targets/, fuzzer-*/ and debug/
	LogLevel     string
	ServiceName  string
	Cargo        string // cargo binary used for every build/run step
	OtelEnabled  bool
	SkipExisting []string
	EngineArgs   EngineArgs
}

// EngineArgs are user supplied runtime arguments, appended to the ones warf builds itself.
type EngineArgs struct {
	AFL       string
	Honggfuzz string
	LibFuzzer string
}

func LoadConfig() (*AppConfig, error) {
	godotenv.Load()

	config := &AppConfig{
		RootDir:      os.Getenv("WARF_ROOT"),
		LogLevel:     os.Getenv("LOG_LEVEL"),
		ServiceName:  os.Getenv("SERVICE_NAME"),
		Cargo:        os.Getenv("CARGO"),
		OtelEnabled:  parseBool(os.Getenv("OTEL_ENABLED"), false),
		SkipExisting: parseList(os.Getenv("WARF_SKIP_EXISTING"), defaultSkipExisting),
		EngineArgs: EngineArgs{
			AFL:       os.Getenv("WARF_AFL_ARGS"),
			Honggfuzz: os.Getenv("HFUZZ_RUN_ARGS"),
			LibFuzzer: os.Getenv("WARF_LIBFUZZER_ARGS"),
		},
	}

	if config.LogLevel == "" {
		config.LogLevel = "info" // Set default log level
	}
	if config.ServiceName == "" {
		config.ServiceName = "warf"
	}
	if config.Cargo == "" {
		config.Cargo = "cargo"
	}

	if err := config.SetRoot(config.RootDir); err != nil {
		return nil, err
	}
	return config, nil
}

// SetRoot resolves root to an absolute path. An empty root means the current working directory.
func (c *AppConfig) SetRoot(root string) error {
	if root == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("error getting current directory: %w", err)
		}
		root = cwd
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("error resolving root directory %s: %w", root, err)
	}
	c.RootDir = abs
	return nil
}

func parseDuration(val string, defaultVal time.Duration) time.Duration {
	if val == "" {
		return defaultVal
	}
	d, err := ParseTimeout(val)
	if err != nil {
		return defaultVal
	}
	return d
}

func parseInt(val string, defaultVal int) int {
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return i
}

func parseBool(val string, defaultVal bool) bool {
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

func parseList(val string, defaultVal []string) []string {
	if val == "" {
		return append([]string(nil), defaultVal...)
	}
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
