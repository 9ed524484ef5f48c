package config

import (
	"os"
	"path/filepath"
)

// localConfigName is the base name of a project config file
const localConfigName = ".afw"

// localConfigExts lists the accepted extensions, in lookup order
var localConfigExts = []string{"yml", "yaml", "json", "toml"}

// FindLocalConfig returns the nearest project config at or above dir, or ""
// when there is none. Each directory is searched for .afw.yml, .afw.yaml,
// .afw.json and .afw.toml in that order before moving to its parent, so a
// file closer to dir always wins over one higher up.
func FindLocalConfig(dir string) string {
	for {
		if path := localConfigIn(dir); path != "" {
			return path
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}

		dir = parent
	}
}

// localConfigIn returns the first regular config file in dir
func localConfigIn(dir string) string {
	for _, ext := range localConfigExts {
		path := filepath.Join(dir, localConfigName+"."+ext)

		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			return path
		}
	}

	return ""
}
