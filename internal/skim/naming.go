package skim

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/zeebo/blake3"
)

// ErrNameCollision is returned when two datasets escape to the same skim name
var ErrNameCollision = errors.New("skim name collision")

// Naming selects how a dataset name maps to a skim directory or file name
type Naming string

const (
	// NamingPlain replaces path separators with underscores
	NamingPlain Naming = "plain"
	// NamingHashed appends a short content hash of the original name
	NamingHashed Naming = "hashed"
)

const hashLength = 8

// ParseNaming converts a config value to a Naming. The empty string means plain.
func ParseNaming(s string) (Naming, error) {
	switch Naming(s) {
	case "", NamingPlain:
		return NamingPlain, nil
	case NamingHashed:
		return NamingHashed, nil
	default:
		return "", fmt.Errorf("unknown skim naming %q (want %q or %q)", s, NamingPlain, NamingHashed)
	}
}

// Name returns the skim name for dataset
func (n Naming) Name(dataset string) string {
	if n == NamingHashed {
		return HashedName(dataset)
	}

	return EscapeName(dataset)
}

// EscapeName turns a dataset name into a relative, non-hidden file name:
// "/A/B/NANOAOD" becomes "A_B_NANOAOD".
func EscapeName(dataset string) string {
	name := strings.ReplaceAll(dataset, "/", "_")
	if os.PathSeparator != '/' {
		name = strings.ReplaceAll(name, string(os.PathSeparator), "_")
	}

	return strings.TrimPrefix(name, "_")
}

// HashedName is EscapeName plus the first hex characters of the BLAKE3 sum
// of the original name, so names differing only by separators stay apart.
func HashedName(dataset string) string {
	sum := blake3.Sum256([]byte(dataset))
	return EscapeName(dataset) + "-" + hex.EncodeToString(sum[:])[:hashLength]
}

// checkCollisions fails when two dataset names map to the same skim name
func checkCollisions(names []string, naming Naming) error {
	seen := make(map[string]string, len(names))
	var collisions []string

	for _, name := range names {
		escaped := naming.Name(name)
		if other, ok := seen[escaped]; ok && other != name {
			collisions = append(collisions, fmt.Sprintf("%s and %s both map to %s", other, name, escaped))
			continue
		}

		seen[escaped] = name
	}

	if len(collisions) > 0 {
		sort.Strings(collisions)
		return fmt.Errorf("%w: %s", ErrNameCollision, strings.Join(collisions, "; "))
	}

	return nil
}
