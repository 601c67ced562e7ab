// Package secrets resolves the secrets a job declares against what Infisical
// loaded and what the local environment provides.
package secrets

import (
	"log"
	"os"
	"strings"

	"github.com/infisical/go-sdk/packages/models"

	config "github.com/trade-stasvinokur/lewis-listing-strategy"
)

// Filter maps each declared secret to a concrete value. A declared value
// containing "$" is a reference: it resolves from the loaded secrets by name,
// falling back to the process environment. Anything else is a literal.
func Filter(loaded []models.Secret, declared []config.SecretConfig) []models.Secret {
	secretMap := make(map[string]models.Secret, len(loaded))
	for _, s := range loaded {
		secretMap[s.SecretKey] = s
	}

	resolved := make([]models.Secret, 0, len(declared))
	taken := make(map[string]bool, len(declared))

	for _, d := range declared {
		if s, exists := secretMap[d.Name]; exists {
			if strings.Contains(d.Value, "$") {
				resolved = append(resolved, s)
				taken[s.SecretKey] = true
			}
		}
	}

	for _, d := range declared {
		if taken[d.Name] {
			continue
		}
		if !strings.Contains(d.Value, "$") {
			resolved = append(resolved, models.Secret{SecretKey: d.Name, SecretValue: d.Value})
			continue
		}
		value := os.Getenv(d.Name)
		if value == "" {
			log.Printf("Secret %s not found in environment", d.Name)
			continue
		}
		resolved = append(resolved, models.Secret{SecretKey: d.Name, SecretValue: value})
	}

	return resolved
}
