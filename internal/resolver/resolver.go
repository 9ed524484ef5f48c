// Package resolver wraps the external services used to turn dataset
// patterns into files and normalization factors:
//
//   - Rucio expands a pattern into concrete catalog identifiers
//   - dasgoclient enumerates the files behind an identifier
//   - XSecDB provides the cross-section used as normalization factor
//
// Each resolver keeps its raw service answers in a cache.Store so repeated
// runs do not hit the services again. Clients are built on first use, since
// they need credentials that a fully cached run never touches.
package resolver

import (
	"context"
	"errors"
)

var (
	// ErrServiceUnavailable means a service client could not be constructed
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrMissingCredential means a required credential artifact is absent
	ErrMissingCredential = errors.New("missing credential")

	// ErrMalformedResponse means a catalog answer has an unexpected structure
	ErrMalformedResponse = errors.New("malformed response")
)

// FileRecord is one physical file backing a dataset
type FileRecord struct {
	Name string
	// Events is nil when the catalog did not report an event count
	Events *int64
}

// IdentifierResolver expands a pattern into catalog identifiers
type IdentifierResolver interface {
	ResolveIdentifiers(ctx context.Context, pattern string) ([]string, error)
}

// FileEnumerator lists the files behind a catalog identifier
type FileEnumerator interface {
	EnumerateFiles(ctx context.Context, identifier string) ([]FileRecord, error)
}

// FactorResolver finds the normalization factor for an identifier. An
// unresolved factor is reported as ok == false with a nil error; errors are
// reserved for conditions that must stop the build.
type FactorResolver interface {
	ResolveFactor(ctx context.Context, identifier string) (factor float64, ok bool, err error)
}

// Set bundles the three resolvers a build needs
type Set struct {
	Identifiers IdentifierResolver
	Files       FileEnumerator
	Factors     FactorResolver
}
