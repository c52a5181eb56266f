// Package config defines the server configuration structure.
package config

import (
	"strings"

	"github.com/yndnr/warmstart/internal/telemetry/logger"
)

// secretsKey names the list of secret keys. The list itself is not secret.
const secretsKey = "secrets"

// Sanitize returns a copy of the resolved values with secret values masked.
// A key is secret when it is listed under secrets or its name looks
// sensitive.
//
// This is used for logging configuration without exposing secrets.
func Sanitize(values map[string]string, secrets []string) map[string]string {
	listed := make(map[string]bool, len(secrets))
	for _, k := range secrets {
		listed[k] = true
	}

	sanitized := make(map[string]string, len(values))
	for k, v := range values {
		if k != secretsKey && (listed[k] || logger.IsSensitiveKey(k)) {
			v = maskSecret(v)
		}
		sanitized[k] = v
	}
	return sanitized
}

// maskSecret masks a secret value for safe logging.
func maskSecret(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}
