package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ua-hep/afw/internal/cache"
	"github.com/ua-hep/afw/internal/definitions"
	"github.com/ua-hep/afw/internal/resolver"
	"github.com/ua-hep/afw/internal/skim"
	"github.com/ua-hep/afw/internal/veto"
)

// EnvPrefix prefixes environment overrides, e.g. AFW_CACHE_DIR
const EnvPrefix = "AFW"

// flagKeys maps command flag names to configuration keys
var flagKeys = map[string]string{
	"definitions":    "definitions",
	"era":            "eras",
	"cache-dir":      "cache_dir",
	"veto-file":      "veto_file",
	"overrides-file": "overrides_file",
	"xrd-redirector": "xrd_redirector",
	"skim-dir":       "skim_dir",
	"naming":         "skim_naming",
	"verbose":        "verbose",
}

// Loader handles configuration loading from various sources
type Loader struct {
	globalDir func() (string, error)
	workDir   func() (string, error)
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		globalDir: os.UserConfigDir,
		workDir:   os.Getwd,
	}
}

// LoadForCommand loads configuration for a command: defaults, then the
// global config, then the nearest local config, then environment and flags
func (l *Loader) LoadForCommand(cmd *cobra.Command) (*Config, error) {
	l.setupViperDefaults()
	l.loadGlobalConfig()
	l.loadLocalConfig()
	l.bindEnv()
	l.bindCommandFlags(cmd)

	return Load()
}

// setupViperDefaults sets up default values for viper
func (l *Loader) setupViperDefaults() {
	viper.SetDefault("definitions", DefaultDefinitionsFile)
	viper.SetDefault("cache_dir", cache.DefaultCacheDir)
	viper.SetDefault("veto_file", veto.DefaultFile)
	viper.SetDefault("overrides_file", resolver.DefaultOverridesFile)
	viper.SetDefault("xrd_redirector", defaultRedirector())
	viper.SetDefault("skim_dir", DefaultSkimDir)
	viper.SetDefault("dasgoclient_path", resolver.DefaultDASClient)
	viper.SetDefault("hadd_path", skim.DefaultHadd)
	viper.SetDefault("xsecdb_url", resolver.DefaultXSecURL)
	viper.SetDefault("cookie_file", resolver.DefaultCookieFile)
	viper.SetDefault("rucio_scope", resolver.DefaultRucioScope)
	viper.SetDefault("version_pattern", resolver.DefaultVersionPattern)
	viper.SetDefault("collision_policy", string(definitions.SimulatedWins))
	viper.SetDefault("skim_naming", string(skim.NamingPlain))
	viper.SetDefault("verbose", DefaultVerbose)
}

// defaultRedirector prefers a local XCache when XCACHE_HOST is set
func defaultRedirector() string {
	if host := os.Getenv("XCACHE_HOST"); host != "" {
		return "root://" + host + "/"
	}

	return DefaultRedirector
}

// loadGlobalConfig loads global configuration from the user config directory
func (l *Loader) loadGlobalConfig() {
	base, err := l.globalDir()
	if err != nil || base == "" {
		return
	}

	globalDir := filepath.Join(base, "afw")

	for _, ext := range []string{"yml", "yaml", "json", "toml"} {
		globalPath := filepath.Join(globalDir, "config."+ext)

		if _, err := os.Stat(globalPath); err == nil {
			viper.SetConfigFile(globalPath)

			if err := viper.ReadInConfig(); err == nil {
				break
			}
		}
	}
}

// loadLocalConfig merges the nearest .afw config above the working directory
func (l *Loader) loadLocalConfig() {
	dir, err := l.workDir()
	if err != nil {
		return // silently ignore, Load() will handle validation
	}

	localPath := FindLocalConfig(dir)
	if localPath != "" {
		viper.SetConfigFile(localPath)
		_ = viper.MergeInConfig()
	}
}

// bindEnv binds AFW_* overrides plus the environment variables shared with
// the rest of the analysis tooling
func (l *Loader) bindEnv() {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	_ = viper.BindEnv("skim_dir", EnvPrefix+"_SKIM_DIR", "SKIM_LOCATION")
	_ = viper.BindEnv("rucio_host", EnvPrefix+"_RUCIO_HOST", "RUCIO_HOST")
	_ = viper.BindEnv("rucio_token", EnvPrefix+"_RUCIO_TOKEN", "RUCIO_AUTH_TOKEN")
}

// bindCommandFlags binds the command's known flags to viper
func (l *Loader) bindCommandFlags(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok {
			_ = viper.BindPFlag(key, f)
		}
	})
}
