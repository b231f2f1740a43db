package cmd

import (
	"fmt"
	"reflect"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/streamvault/streamvault/internal/config"
	"github.com/streamvault/streamvault/pkg/bytesize"
	"github.com/streamvault/streamvault/pkg/duration"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing streamvault configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the default configuration",
	Long: `Dump the default configuration values in YAML format.

This shows all available configuration options with their default values.
You can redirect this output to a file to create a configuration template:

  streamvault config dump > config.yaml

Configuration can be set via:
  - Config file (config.yaml, /etc/streamvault/config.yaml, $HOME/.streamvault)
  - Environment variables (STREAMVAULT_SERVER_PORT, STREAMVAULT_DATABASE_DSN, etc.)
  - Command-line flags (for some options)

Environment variables use the STREAMVAULT_ prefix and underscores for nesting.
Example: server.port -> STREAMVAULT_SERVER_PORT`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

// toMap converts a struct to a map, formatting durations and sizes for human readability.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = fieldType.Name
		}

		switch v := field.Interface().(type) {
		case time.Duration:
			result[key] = duration.Format(v)
		case config.ByteSize:
			result[key] = bytesize.Format(bytesize.Size(v.Bytes()))
		default:
			if field.Kind() == reflect.Struct {
				result[key] = toMap(field.Interface())
			} else {
				result[key] = field.Interface()
			}
		}
	}
	return result
}

func runConfigDump(_ *cobra.Command, _ []string) error {
	// Load config with defaults (no file, just defaults)
	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cfgMap := toMap(cfg)

	yamlData, err := yaml.Marshal(cfgMap)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	fmt.Println("# streamvault Configuration File")
	fmt.Println("# ==============================")
	fmt.Println("#")
	fmt.Println("# All values shown below are defaults.")
	fmt.Println("# Duration format: 30s, 5m, 1h, 30d")
	fmt.Println("# Size format: 5MB, 1GB")
	fmt.Println("#")
	fmt.Println("# Environment variable overrides:")
	fmt.Println("#   STREAMVAULT_SERVER_HOST, STREAMVAULT_SERVER_PORT")
	fmt.Println("#   STREAMVAULT_DATABASE_DRIVER, STREAMVAULT_DATABASE_DSN")
	fmt.Println("#   STREAMVAULT_STORAGE_RECORDINGS_ROOT, STREAMVAULT_STORAGE_TEMP_DIR")
	fmt.Println("#   STREAMVAULT_LOGGING_LEVEL, STREAMVAULT_LOGGING_FORMAT")
	fmt.Println("#   etc.")
	fmt.Println("#")
	fmt.Println("")
	fmt.Print(string(yamlData))

	return nil
}
