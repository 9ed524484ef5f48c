// Package definitions loads dataset definition files.
//
// A definitions file is keyed by era. Each era has a "data" section
// (measured data) and a "monteCarlo" section (simulated data); each section
// is a list of entries with a shortName, a list of catalog patterns under
// "datasets" and any extra metadata:
//
//	"2022":
//	  data:
//	    - shortName: Muon
//	      datasets: ["/Muon/Run2022C-*/NANOAOD"]
//	  monteCarlo:
//	    - shortName: TTto2L2Nu
//	      datasets: ["/TTto2L2Nu_*/Run3Summer22NanoAODv12-*/NANOAODSIM"]
//	      normalizationFactor: 96.9
//
// YAML files and JSON files (comments allowed) are accepted.
package definitions

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/ua-hep/afw/internal/logging"
)

// Era maps a catalog pattern to its metadata
type Era map[string]Metadata

// Patterns returns the era's patterns in sorted order
func (e Era) Patterns() []string {
	patterns := make([]string, 0, len(e))
	for p := range e {
		patterns = append(patterns, p)
	}

	sort.Strings(patterns)
	return patterns
}

// Definitions maps an era name to its patterns
type Definitions map[string]Era

// Eras returns the era names in sorted order
func (d Definitions) Eras() []string {
	eras := make([]string, 0, len(d))
	for e := range d {
		eras = append(eras, e)
	}

	sort.Strings(eras)
	return eras
}

// CollisionPolicy decides which section wins when both define a pattern
type CollisionPolicy string

const (
	// SimulatedWins lets the monteCarlo entry replace the data entry
	SimulatedWins CollisionPolicy = "simulated-wins"
	// MeasuredWins keeps the data entry
	MeasuredWins CollisionPolicy = "measured-wins"
)

// ParseCollisionPolicy parses a policy name. The empty string selects
// SimulatedWins.
func ParseCollisionPolicy(s string) (CollisionPolicy, error) {
	switch CollisionPolicy(s) {
	case "", SimulatedWins:
		return SimulatedWins, nil
	case MeasuredWins:
		return MeasuredWins, nil
	default:
		return "", fmt.Errorf("invalid collision policy: %s", s)
	}
}

type rawEra struct {
	Data       []map[string]any `yaml:"data"`
	MonteCarlo []map[string]any `yaml:"monteCarlo"`
}

// Loader reads definitions files
type Loader struct {
	policy CollisionPolicy
	logger *slog.Logger
}

// NewLoader creates a loader using the given collision policy
func NewLoader(policy CollisionPolicy, logger *slog.Logger) *Loader {
	if policy == "" {
		policy = SimulatedWins
	}

	return &Loader{
		policy: policy,
		logger: logging.OrDiscard(logger),
	}
}

// Load reads and converts the definitions file at path
func (l *Loader) Load(path string) (Definitions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definitions: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}

	defs, err := l.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse definitions %s: %w", path, err)
	}

	return defs, nil
}

// Parse converts a YAML (or plain JSON) definitions document
func (l *Loader) Parse(data []byte) (Definitions, error) {
	var raw map[string]rawEra
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	defs := make(Definitions, len(raw))
	for era, sections := range raw {
		defs[era] = l.convertEra(era, sections)
	}

	return defs, nil
}

func (l *Loader) convertEra(era string, sections rawEra) Era {
	measured := l.convertSection(era, sections.Data, true)
	simulated := l.convertSection(era, sections.MonteCarlo, false)

	first, second := measured, simulated
	if l.policy == MeasuredWins {
		first, second = simulated, measured
	}

	result := make(Era, len(first)+len(second))
	for pattern, md := range first {
		result[pattern] = md
	}

	for _, pattern := range second.Patterns() {
		if _, ok := result[pattern]; ok {
			l.logger.Warn("Pattern defined in both data and monteCarlo sections",
				"era", era, "pattern", pattern, "policy", string(l.policy))
		}

		result[pattern] = second[pattern]
	}

	return result
}

// convertSection turns a list of entries into pattern -> metadata. Every
// pattern gets its own copy of the entry's metadata.
func (l *Loader) convertSection(era string, entries []map[string]any, measured bool) Era {
	result := make(Era)

	for _, entry := range entries {
		md := Metadata(entry)
		patterns, ok := patternList(entry[keyDatasets])
		if !ok || len(patterns) == 0 {
			logging.Critical(l.logger, "No datasets available for entry, skipping",
				"era", era, "shortName", md.ShortName())
			continue
		}

		base := md.Clone()
		delete(base, keyDatasets)
		base[KeyIsMeasuredData] = measured

		for _, pattern := range patterns {
			result[pattern] = base.Clone()
		}
	}

	return result
}

func patternList(v any) ([]string, bool) {
	items, ok := v.([]any)
	if !ok {
		return nil, false
	}

	patterns := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok || s == "" {
			continue
		}

		patterns = append(patterns, s)
	}

	return patterns, true
}
