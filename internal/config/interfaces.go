package config

import "context"

// SecretProvider abstracts the retrieval of secrets so that AWS SSM Parameter
// Store (deployed environments) and plain environment variables (local
// development) can back the same loader.
type SecretProvider interface {
	// GetParametersBatch resolves the given parameter paths and returns a map
	// of path -> plaintext value for every path that was found.
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
