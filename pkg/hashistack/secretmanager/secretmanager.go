package secretmanager

import (
	"os"
	"time"

	vault "github.com/hashicorp/vault-client-go"
	"go.uber.org/fx"
)

var Module = fx.Module("secretmanager", fx.Provide(ProvideVault))

// ProvideVault returns a client configured from VAULT_* variables, or nil
// when VAULT_ADDR is not set so config loading skips the secret overlay.
func ProvideVault() (*vault.Client, error) {
	if _, ok := os.LookupEnv("VAULT_ADDR"); !ok {
		return nil, nil
	}

	client, err := vault.New(
		vault.WithEnvironment(),
		vault.WithRequestTimeout(10*time.Second),
	)
	if err != nil {
		return nil, err
	}

	return client, nil
}
