// Package keys pulls secrets from Infisical into the process environment at
// startup, so both the resolved config and any child job see them.
package keys

import (
	"context"
	"fmt"
	"log"
	"os"

	infisical "github.com/infisical/go-sdk"
	"github.com/infisical/go-sdk/packages/models"
)

// Enabled reports whether Infisical credentials are present. Without them the
// process runs on its local environment alone.
func Enabled() bool {
	return os.Getenv("INFISICAL_CLIENT_ID") != "" && os.Getenv("INFISICAL_CLIENT_SECRET") != ""
}

// NewInfisicalSecrets authenticates against Infisical and loads the project's
// secrets, attaching them to the process environment. With exitOnError the
// process dies on any failure instead of returning the error.
func NewInfisicalSecrets(exitOnError bool) ([]models.Secret, error) {
	client := infisical.NewInfisicalClient(context.Background(), infisical.Config{
		SiteUrl:          os.Getenv("INFISICAL_API_URL"), // default is https://app.infisical.com
		AutoTokenRefresh: true,
	})

	_, err := client.Auth().UniversalAuthLogin(os.Getenv("INFISICAL_CLIENT_ID"), os.Getenv("INFISICAL_CLIENT_SECRET"))
	if err != nil {
		log.Printf("Infisical auth failed: %v", err)
		if exitOnError {
			os.Exit(1)
		}
		return nil, fmt.Errorf("failed to authenticate with Infisical: %w", err)
	}

	sec, err := client.Secrets().List(infisical.ListSecretsOptions{
		ProjectID:          os.Getenv("INFISICAL_PROJECT_ID"),
		Environment:        os.Getenv("INFISICAL_ENV"),
		AttachToProcessEnv: true,
	})
	if err != nil {
		log.Printf("Infisical secrets load failed: %v", err)
		if exitOnError {
			os.Exit(1)
		}
		return nil, fmt.Errorf("failed to load secrets from Infisical: %w", err)
	}

	log.Printf("Loaded %d secret(s) from Infisical", len(sec))
	return sec, nil
}
