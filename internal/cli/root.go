package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ppiankov/refcheck/internal/llm"
	"github.com/ppiankov/refcheck/internal/model"
	"github.com/ppiankov/refcheck/internal/store"
	"github.com/ppiankov/refcheck/internal/telemetry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// version is set at build time with -ldflags "-X .../internal/cli.version=..."
var version = "0.1.0"

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "refcheck",
	Short: "refcheck - validate brochure statements against their cited references",
	Long: `refcheck checks that statements extracted from a brochure are backed by
the reference documents they cite.

Each unique statement is matched to its cited documents (by author and year,
then by reference number), validated by a language model against every
matched document, and consolidated into one verdict:
Supported, Contradicted, Not Found or Error.

refcheck reports what the documents say about a statement. It does not
decide whether the statement is true.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Display the version number of refcheck.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("refcheck v%s\n", version)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: $HOME/.refcheck/config.yaml)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	flags.String("provider", "", "LLM provider (openai, gemini, anthropic, ollama)")
	flags.String("model", "", "LLM model name")
	flags.String("mode", "", "validation mode (research, pharmaceutical)")
	flags.String("output-dir", "", "directory for reports")
	flags.Bool("cache", false, "enable the persistent verdict cache")
	flags.String("store", "", "SQLite run store path (empty disables)")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
	flags.Bool("trace", false, "write trace spans to stderr")

	// Bind flags to viper
	for key, flag := range map[string]string{
		"output.verbose":         "verbose",
		"llm.provider":           "provider",
		"llm.model":              "model",
		"validation.mode":        "mode",
		"output.dir":             "output-dir",
		"cache.enabled":          "cache",
		"store.path":             "store",
		"telemetry.metrics_addr": "metrics-addr",
		"telemetry.trace":        "trace",
	} {
		_ = viper.BindPFlag(key, flags.Lookup(flag))
	}

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
}

// initConfig reads in config file and ENV variables
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(model.HomeDir())
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	if err := configureEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading defaults: %v\n", err)
	}

	// If a config file is found, read it in
	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// configureEnv registers defaults and reads environment variables that match
// REFCHECK_*, e.g. REFCHECK_LLM_PROVIDER
func configureEnv() error {
	viper.SetEnvPrefix("REFCHECK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	_ = viper.BindEnv("llm.api_key")
	return setDefaults(model.DefaultConfig())
}

// setDefaults registers every field of cfg as a viper default, so environment
// variables resolve for keys that no config file mentions
func setDefaults(cfg *model.Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return err
	}
	flattenDefaults("", tree)
	return nil
}

func flattenDefaults(prefix string, tree map[string]any) {
	for k, v := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := v.(map[string]any); ok {
			flattenDefaults(key, sub)
			continue
		}
		viper.SetDefault(key, v)
	}
}

// loadConfig resolves the effective configuration: flags, env, file, defaults
func loadConfig() (*model.Config, error) {
	cfg := model.DefaultConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = llm.APIKeyFromEnv(cfg.LLM.Provider)
	}
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = llm.BaseURLFromEnv(cfg.LLM.Provider)
	}
	cfg.Output.Verbose = cfg.Output.Verbose || verbose

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger returns the stderr logger, at debug level when verbose
func newLogger(cfg *model.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.Output.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// newProvider creates the configured LLM backend
func newProvider(cfg *model.Config) (llm.Provider, error) {
	provider, err := llm.NewProvider(llm.ConfigFromModel(cfg))
	if err != nil {
		if hint := apiKeyHint(cfg.LLM.Provider); hint != "" && cfg.LLM.APIKey == "" {
			return nil, fmt.Errorf("%w (set %s)", err, hint)
		}
		return nil, err
	}
	if provider == nil {
		return nil, fmt.Errorf("no LLM provider configured (use --provider or llm.provider)")
	}
	return provider, nil
}

func apiKeyHint(provider string) string {
	switch strings.ToLower(provider) {
	case "openai":
		return "OPENAI_API_KEY"
	case "gemini":
		return "GEMINI_API_KEY"
	case "anthropic", "claude":
		return "ANTHROPIC_API_KEY"
	default:
		return ""
	}
}

// openStore opens the run store, or returns nil when persistence is disabled
func openStore(cfg *model.Config) (*store.Store, error) {
	if cfg.Store.Path == "" {
		return nil, nil
	}
	return store.Open(cfg.Store.Path)
}

// startTelemetry starts the metrics endpoint and span exporter as configured.
// The returned function stops both.
func startTelemetry(cfg *model.Config) (func(), error) {
	var stops []func()
	stop := func() {
		for i := len(stops) - 1; i >= 0; i-- {
			stops[i]()
		}
	}

	if cfg.Telemetry.MetricsAddr != "" {
		srv, err := telemetry.StartMetricsServer(cfg.Telemetry.MetricsAddr)
		if err != nil {
			return stop, fmt.Errorf("start metrics server: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Metrics: http://%s/metrics\n", srv.Addr())
		stops = append(stops, func() { _ = srv.Shutdown(context.Background()) })
	}

	if cfg.Telemetry.Trace {
		shutdown, err := telemetry.InitTracing(os.Stderr, version)
		if err != nil {
			stop()
			return func() {}, fmt.Errorf("init tracing: %w", err)
		}
		stops = append(stops, func() { _ = shutdown(context.Background()) })
	}

	return stop, nil
}
