package config

import (
	"fmt"
	"path/filepath"
	"regexp"

	"github.com/spf13/viper"

	"github.com/ua-hep/afw/internal/definitions"
	"github.com/ua-hep/afw/internal/skim"
)

// Default configuration values
const (
	DefaultDefinitionsFile = "datasets.yaml"
	DefaultRedirector      = "root://cms-xrd-global.cern.ch/"
	DefaultSkimDir         = "skims"
	DefaultVerbose         = false
)

// Holds the configuration options for afw
type Config struct {
	// Dataset definitions file (YAML or JSON with comments)
	DefinitionsFile string

	// Eras to process; empty means every era in the definitions
	Eras []string

	// Directory holding cache snapshots
	CacheDir string

	// File listing vetoed files, one per line
	VetoFile string

	// Cross-section overrides keyed by dataset identifier
	OverridesFile string

	// Prefix prepended to every file path
	Redirector string

	// Root of the skim tree; skims of an era live in <SkimDir>/<era>
	SkimDir string

	// External tools
	DASClientPath string
	HaddPath      string

	// Cross-section service
	XSecURL    string
	CookieFile string

	// Parsed version suffix pattern stripped before cross-section lookups
	VersionPattern *regexp.Regexp

	// Identifier service
	RucioHost  string
	RucioToken string
	RucioScope string

	CollisionPolicy definitions.CollisionPolicy
	SkimNaming      skim.Naming

	// Enable verbose output
	Verbose bool
}

func Load() (*Config, error) {
	cfg := &Config{
		DefinitionsFile: viper.GetString("definitions"),
		Eras:            viper.GetStringSlice("eras"),
		CacheDir:        viper.GetString("cache_dir"),
		VetoFile:        viper.GetString("veto_file"),
		OverridesFile:   viper.GetString("overrides_file"),
		Redirector:      viper.GetString("xrd_redirector"),
		SkimDir:         viper.GetString("skim_dir"),
		DASClientPath:   viper.GetString("dasgoclient_path"),
		HaddPath:        viper.GetString("hadd_path"),
		XSecURL:         viper.GetString("xsecdb_url"),
		CookieFile:      viper.GetString("cookie_file"),
		RucioHost:       viper.GetString("rucio_host"),
		RucioToken:      viper.GetString("rucio_token"),
		RucioScope:      viper.GetString("rucio_scope"),
		Verbose:         viper.GetBool("verbose"),
	}

	if cfg.DefinitionsFile == "" {
		cfg.DefinitionsFile = DefaultDefinitionsFile
	}

	if cfg.SkimDir == "" {
		cfg.SkimDir = DefaultSkimDir
	}

	if err := cfg.parse(); err != nil {
		return nil, err
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) parse() error {
	pattern := viper.GetString("version_pattern")
	if pattern != "" {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("invalid version pattern: %v", err)
		}

		c.VersionPattern = re
	}

	policy, err := definitions.ParseCollisionPolicy(viper.GetString("collision_policy"))
	if err != nil {
		return err
	}
	c.CollisionPolicy = policy

	naming, err := skim.ParseNaming(viper.GetString("skim_naming"))
	if err != nil {
		return err
	}
	c.SkimNaming = naming

	return nil
}

func (c *Config) Validate() error {
	paths := []struct {
		name  string
		value *string
	}{
		{"definitions file", &c.DefinitionsFile},
		{"cache directory", &c.CacheDir},
		{"veto file", &c.VetoFile},
		{"overrides file", &c.OverridesFile},
		{"skim directory", &c.SkimDir},
		{"cookie file", &c.CookieFile},
	}

	// Resolve file paths
	for _, p := range paths {
		if *p.value == "" {
			continue
		}

		abs, err := filepath.Abs(*p.value)
		if err != nil {
			return fmt.Errorf("invalid %s path: %v", p.name, err)
		}

		*p.value = abs
	}

	if c.Redirector == "" {
		return fmt.Errorf("xrd_redirector must not be empty")
	}

	return nil
}

// EraSkimDir returns the skim root of era
func (c *Config) EraSkimDir(era string) string {
	return filepath.Join(c.SkimDir, era)
}
