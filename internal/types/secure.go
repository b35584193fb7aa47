package types

import "strings"

// redactedPlaceholder is the string used to replace secret values in logs and serialization.
const redactedPlaceholder = "***REDACTED***"

var redactedJSON = []byte(`"***REDACTED***"`)

// SecretString is a string type that prevents accidental logging or serialization
// of sensitive values such as the Stripe secret key or the Google service account
// private key. String() and MarshalJSON() return a redacted placeholder.
//
// Use Unmask() to retrieve the raw plaintext value when it is genuinely needed.
type SecretString string

// String returns a redacted placeholder instead of the raw value.
func (s SecretString) String() string {
	return redactedPlaceholder
}

// MarshalJSON returns the redacted placeholder as a JSON string.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return redactedJSON, nil
}

// Unmask returns the raw plaintext value of the secret.
func (s SecretString) Unmask() string {
	return string(s)
}

// UnmaskPEM returns the secret with literal "\n" escape sequences turned into
// real newlines. Hosting dashboards usually store PEM keys on a single line.
func (s SecretString) UnmaskPEM() string {
	return strings.ReplaceAll(string(s), `\n`, "\n")
}
