package service

import (
	"errors"
	"fmt"

	"signing-relay/internal/core/domain"
	"signing-relay/internal/core/ports"
	"signing-relay/pkg/apperror"

	"github.com/rs/zerolog"
)

// ErrEmptySecret is returned when the secret provisioned or opened is empty.
var ErrEmptySecret = errors.New("secret must not be empty")

// VaultBootstrap performs the custody host's startup: open the vault if it
// exists, otherwise provision it and stop. Provisioning never leads straight
// into serving; the operator must relaunch, which proves the password works.
type VaultBootstrap struct {
	vault    *VaultService
	prompter ports.PasswordPrompter
	log      zerolog.Logger
}

// NewVaultBootstrap creates a bootstrap using prompter for hidden input.
func NewVaultBootstrap(vault *VaultService, prompter ports.PasswordPrompter, log zerolog.Logger) *VaultBootstrap {
	return &VaultBootstrap{vault: vault, prompter: prompter, log: log}
}

// LoadOrProvision returns the opened secret, or provisioned=true with a nil
// secret when a new vault file was written to path.
func (b *VaultBootstrap) LoadOrProvision(path string) (secret domain.Secret, provisioned bool, err error) {
	exists, err := VaultExists(path)
	if err != nil {
		return nil, false, err
	}
	if !exists {
		b.log.Info().Str("path", path).Msg("no vault file found, provisioning")
		if err := b.provision(path); err != nil {
			return nil, false, err
		}
		return nil, true, nil
	}

	b.log.Info().Str("path", path).Msg("vault file found")
	secret, err = b.open(path)
	if err != nil {
		return nil, false, err
	}
	return secret, false, nil
}

func (b *VaultBootstrap) open(path string) (domain.Secret, error) {
	password, err := b.prompter.PromptPassword("Password: ")
	if err != nil {
		return nil, fmt.Errorf("reading password: %w", err)
	}

	record, err := ReadVaultFile(path)
	if err != nil {
		return nil, err
	}

	plaintext, err := b.vault.OpenVault(record, password)
	if err != nil {
		return nil, err
	}
	secret := domain.Secret(plaintext)
	if secret.IsEmpty() {
		return nil, ErrEmptySecret
	}

	if b.vault.NeedsUpgrade(record) {
		upgraded, err := b.vault.CreateVault(secret, password)
		if err != nil {
			secret.Wipe()
			return nil, fmt.Errorf("upgrading vault record: %w", err)
		}
		if err := WriteVaultFile(path, upgraded); err != nil {
			secret.Wipe()
			return nil, fmt.Errorf("upgrading vault record: %w", err)
		}
		b.log.Info().Str("path", path).Msg("legacy vault record upgraded to authenticated format")
	}
	return secret, nil
}

func (b *VaultBootstrap) provision(path string) error {
	raw, err := b.prompter.PromptPassword("Secret: ")
	if err != nil {
		return fmt.Errorf("reading secret: %w", err)
	}
	secret := domain.Secret(raw)
	if secret.IsEmpty() {
		return ErrEmptySecret
	}
	defer secret.Wipe()

	password, err := b.prompter.PromptPassword("Password: ")
	if err != nil {
		return fmt.Errorf("reading password: %w", err)
	}
	confirm, err := b.prompter.PromptPassword("Confirm password: ")
	if err != nil {
		return fmt.Errorf("reading password: %w", err)
	}
	if password != confirm {
		return apperror.ErrPasswordMismatch()
	}

	record, err := b.vault.CreateVault(secret, password)
	if err != nil {
		return fmt.Errorf("creating vault: %w", err)
	}
	if err := WriteVaultFile(path, record); err != nil {
		return err
	}
	b.log.Info().Str("path", path).Msg("vault file created")
	return nil
}
