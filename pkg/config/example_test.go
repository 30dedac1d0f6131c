package config_test

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spez-io/spez/pkg/config"
)

// ExampleNewConfig demonstrates the defaults of a new configuration.
func ExampleNewConfig() {
	cfg := config.NewConfig("nightly")

	fmt.Printf("Source: %s\n", cfg.Source.Type)
	fmt.Printf("Format: %s\n", cfg.Encoding.Format)
	fmt.Printf("Sink: %s\n", cfg.Sink.Type)
	fmt.Printf("Connection Timeout: %s\n", cfg.Timeouts.Connection)

	// Output:
	// Source: spanner
	// Format: json
	// Sink: stdout
	// Connection Timeout: 30s
}

// ExampleConfig_Validate shows how to validate a configuration
// before using it.
func ExampleConfig_Validate() {
	cfg := config.NewConfig("nightly")
	cfg.Source.Database = "projects/p/instances/i/databases/d"
	cfg.Source.Tables = []string{"Singers", "Albums"}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	fmt.Println("Configuration is valid!")

	// Output:
	// Configuration is valid!
}

// ExampleLoadConfig demonstrates loading configuration from a YAML file
// with environment variable substitution.
func ExampleLoadConfig() {
	dir, err := os.MkdirTemp("", "spez-config")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	_ = os.Setenv("EXAMPLE_PG_DSN", "postgres://spez@localhost/shop")
	defer os.Unsetenv("EXAMPLE_PG_DSN")

	path := filepath.Join(dir, "spez.yaml")
	content := `
source:
  type: postgres
  dsn: ${EXAMPLE_PG_DSN}
  tables: [orders]
encoding:
  format: ${EXAMPLE_FORMAT:-binary}
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		log.Fatal(err)
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(cfg.Source.DSN)
	fmt.Println(cfg.Encoding.Format)

	// Output:
	// postgres://spez@localhost/shop
	// binary
}
