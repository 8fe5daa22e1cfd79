// Package cli provides the ipsweep command-line interface.
// It implements the Cobra command tree: foreground scans, the daemon, an
// API client for job control, external discovery imports and migrations.
package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/anstrom/ipsweep/internal/config"
	"github.com/anstrom/ipsweep/internal/logging"
)

const (
	envPrefix          = "IPSWEEP"
	defaultConfigFile  = "config.yaml"
	defaultServerURL   = "http://127.0.0.1:8080"
	defaultHTTPTimeout = 30 * time.Second
)

var (
	cfgFile string
	verbose bool
)

// Build information - these will be set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "ipsweep",
	Short: "Network discovery and scan orchestration",
	Long: `ipsweep sweeps IPv4 ranges for live hosts, probes their TCP ports,
classifies the services it finds and keeps a host inventory. Scans run in
the foreground or as asynchronous jobs on the ipsweep daemon.`,
	Version:       getVersion(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "log format: text, json")

	mustBind("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	mustBind("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	mustBind("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig wires viper to the environment. The YAML file itself is read by
// config.Load; viper supplies the environment and flag overrides on top.
func initConfig() {
	if cfgFile == "" {
		if env := os.Getenv(envPrefix + "_CONFIG"); env != "" {
			cfgFile = env
		}
	}
	configureViper()
	initLogging()
}

func configureViper() {
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
	for _, b := range bindings {
		bind(b.key, b.flag)
	}
	setConfigDefaults()
}

// setConfigDefaults sets defaults for the settings only the CLI uses. Keys
// that mirror the YAML config get no viper default so that an unset flag or
// variable leaves the file value alone.
func setConfigDefaults() {
	viper.SetDefault("server", defaultServerURL)
	viper.SetDefault("timeout", defaultHTTPTimeout)
	viper.SetDefault("format", "table")
}

// configFilePath returns the config file to load.
func configFilePath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return defaultConfigFile
}

// loadConfig loads the YAML configuration and applies environment and flag
// overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFilePath())
	if err != nil {
		return nil, err
	}
	applyOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyOverrides copies every explicitly set viper key into cfg.
func applyOverrides(cfg *config.Config) {
	if viper.IsSet("logging.level") {
		cfg.Logging.Level = logging.LogLevel(strings.ToLower(viper.GetString("logging.level")))
	}
	if viper.IsSet("logging.format") {
		cfg.Logging.Format = logging.LogFormat(strings.ToLower(viper.GetString("logging.format")))
	}
	if viper.IsSet("api.listen_addr") {
		cfg.API.ListenAddr = viper.GetString("api.listen_addr")
	}
	if viper.IsSet("api.port") {
		cfg.API.Port = viper.GetInt("api.port")
	}
	if viper.IsSet("engine.liveness_method") {
		cfg.Engine.LivenessMethod = viper.GetString("engine.liveness_method")
	}
	if viper.IsSet("engine.dns_server") {
		cfg.Engine.DNSServer = viper.GetString("engine.dns_server")
	}
	if viper.IsSet("engine.snmp_community") {
		cfg.Engine.SNMPCommunity = viper.GetString("engine.snmp_community")
	}
	if viper.IsSet("database.host") {
		cfg.Database.Host = viper.GetString("database.host")
	}
	if viper.IsSet("database.port") {
		cfg.Database.Port = viper.GetInt("database.port")
	}
	if viper.IsSet("database.database") {
		cfg.Database.Database = viper.GetString("database.database")
	}
	if viper.IsSet("database.username") {
		cfg.Database.Username = viper.GetString("database.username")
	}
	if viper.IsSet("database.password") {
		cfg.Database.Password = viper.GetString("database.password")
	}
	if viper.IsSet("discovery.zabbix.url") {
		cfg.Discovery.Zabbix.URL = viper.GetString("discovery.zabbix.url")
	}
	if viper.IsSet("discovery.zabbix.username") {
		cfg.Discovery.Zabbix.Username = viper.GetString("discovery.zabbix.username")
	}
	if viper.IsSet("discovery.zabbix.password") {
		cfg.Discovery.Zabbix.Password = viper.GetString("discovery.zabbix.password")
	}
}

type flagBinding struct {
	key  string
	flag *pflag.Flag
}

// bindings remembers every flag bound to viper so the bindings can be
// re-applied to a fresh viper instance.
var bindings []flagBinding

// mustBind binds a flag to a viper key, warning on failure.
func mustBind(key string, flag *pflag.Flag) {
	bindings = append(bindings, flagBinding{key: key, flag: flag})
	bind(key, flag)
}

func bind(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to bind %s flag: %v\n", key, err)
	}
}

// getVersion returns the version string.
func getVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime)
}

// SetVersion sets the version information (called from main).
func SetVersion(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
	rootCmd.Version = getVersion()
}

// initLogging initializes structured logging based on configuration.
func initLogging() {
	cfg, err := loadConfig()
	if err != nil {
		logging.SetDefault(logging.NewDefault())
		return
	}
	setupLogging(cfg)
}

// setupLogging installs the configured logger as the default and returns it.
func setupLogging(cfg *config.Config) *logging.Logger {
	logConfig := cfg.Logging
	if verbose && logConfig.Level != logging.LevelDebug {
		logConfig.Level = logging.LevelDebug
	}
	logger, err := logging.New(logConfig)
	if err != nil {
		logger = logging.NewDefault()
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logging: %v\n", err)
	}
	logging.SetDefault(logger)
	logging.Debug("Logging configured", "level", logConfig.Level, "format", logConfig.Format, "output", logConfig.Output)
	return logger
}
