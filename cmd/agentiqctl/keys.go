package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/agentiq/pkg/models"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

const (
	apiKeyPrefix    = "aq_"
	apiKeyRandBytes = 24
	// keyPrefixLen matches the lookup prefix used by the auth middleware.
	keyPrefixLen = 8
)

type keyCreator interface {
	tenantStore
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
}

func (c *cli) keysCmd() *cobra.Command {
	keys := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys",
	}

	var name, tenant string
	var scopes []string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key and print it once",
		Long: `Creates an API key for a tenant. Only a bcrypt hash is stored, so the key is
printed exactly once and cannot be recovered later.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			st, closeStore, err := c.openStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			raw, key, err := createKey(ctx, st, tenant, name, scopes)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "id:     %s\ntenant: %s\nscopes: %s\nkey:    %s\n",
				key.ID, key.TenantID, strings.Join(key.Scopes, ","), raw)
			return nil
		},
	}
	create.Flags().StringVar(&name, "name", "cli", "label for the key")
	create.Flags().StringVar(&tenant, "tenant", "", "tenant ID (defaults to the default tenant)")
	create.Flags().StringSliceVar(&scopes, "scopes", []string{"read", "write"}, "scopes granted to the key")

	keys.AddCommand(create)
	return keys
}

func createKey(ctx context.Context, st keyCreator, tenant, name string, scopes []string) (string, *models.APIKey, error) {
	tenantID, err := resolveTenant(ctx, st, tenant)
	if err != nil {
		return "", nil, err
	}
	raw, key, err := newAPIKey(tenantID, name, scopes)
	if err != nil {
		return "", nil, err
	}
	if err := st.CreateAPIKey(ctx, key); err != nil {
		return "", nil, fmt.Errorf("store api key: %w", err)
	}
	return raw, key, nil
}

// newAPIKey generates a random key and the record that authenticates it.
func newAPIKey(tenantID uuid.UUID, name string, scopes []string) (string, *models.APIKey, error) {
	buf := make([]byte, apiKeyRandBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", nil, fmt.Errorf("generate api key: %w", err)
	}
	raw := apiKeyPrefix + hex.EncodeToString(buf)

	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", nil, fmt.Errorf("hash api key: %w", err)
	}

	now := time.Now().UTC()
	return raw, &models.APIKey{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Name:      name,
		KeyHash:   string(hash),
		KeyPrefix: raw[:keyPrefixLen],
		Scopes:    scopes,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}
