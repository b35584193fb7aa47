package config

import (
	"context"
	"os"
)

// EnvVarProvider resolves *_SSM_PARAM pointers against other environment
// variables instead of SSM. Selected with SECRETS_PROVIDER=env, it lets a
// container run a non-local APP_ENV off AWS with secrets injected under
// different names (STRIPE_SECRET_KEY_SSM_PARAM=VAULT_STRIPE_KEY).
type EnvVarProvider struct {
	lookup func(string) (string, bool)
}

// NewEnvVarProvider creates a provider reading the process environment.
func NewEnvVarProvider() *EnvVarProvider {
	return &EnvVarProvider{lookup: os.LookupEnv}
}

// GetParametersBatch returns the value of every key that names a set
// variable. Unset keys are left out, which the loader reports as missing.
func (p *EnvVarProvider) GetParametersBatch(_ context.Context, keys []string) (map[string]string, error) {
	result := make(map[string]string, len(keys))
	for _, key := range keys {
		if val, ok := p.lookup(key); ok {
			result[key] = val
		}
	}
	return result, nil
}
