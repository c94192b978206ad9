package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/agentiq/internal/store"
	"github.com/kiranshivaraju/agentiq/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type fakeKeyStore struct {
	tenant  *models.Tenant
	created []*models.APIKey
	err     error
}

func (f *fakeKeyStore) GetDefaultTenant(_ context.Context) (*models.Tenant, error) {
	if f.tenant == nil {
		return nil, store.ErrNotFound
	}
	return f.tenant, nil
}

func (f *fakeKeyStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	if f.err != nil {
		return f.err
	}
	f.created = append(f.created, key)
	return nil
}

func TestNewAPIKey(t *testing.T) {
	tenantID := uuid.New()
	raw, key, err := newAPIKey(tenantID, "ops", []string{"read"})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(raw, apiKeyPrefix))
	assert.Len(t, raw, len(apiKeyPrefix)+2*apiKeyRandBytes)
	assert.Equal(t, raw[:keyPrefixLen], key.KeyPrefix)
	assert.Equal(t, tenantID, key.TenantID)
	assert.Equal(t, "ops", key.Name)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(raw)))
	assert.NotContains(t, key.KeyHash, raw)

	raw2, _, err := newAPIKey(tenantID, "ops", nil)
	require.NoError(t, err)
	assert.NotEqual(t, raw, raw2)
}

func TestResolveTenant(t *testing.T) {
	ctx := context.Background()
	def := &models.Tenant{ID: uuid.New(), Name: "default"}

	explicit := uuid.New()
	got, err := resolveTenant(ctx, &fakeKeyStore{}, explicit.String())
	require.NoError(t, err)
	assert.Equal(t, explicit, got)

	_, err = resolveTenant(ctx, &fakeKeyStore{}, "nope")
	assert.ErrorContains(t, err, "invalid --tenant")

	got, err = resolveTenant(ctx, &fakeKeyStore{tenant: def}, "")
	require.NoError(t, err)
	assert.Equal(t, def.ID, got)

	_, err = resolveTenant(ctx, &fakeKeyStore{}, "")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateKey(t *testing.T) {
	ctx := context.Background()
	st := &fakeKeyStore{tenant: &models.Tenant{ID: uuid.New()}}

	raw, key, err := createKey(ctx, st, "", "ci", []string{"read", "write"})
	require.NoError(t, err)
	require.Len(t, st.created, 1)
	assert.Same(t, key, st.created[0])
	assert.Equal(t, st.tenant.ID, key.TenantID)
	assert.Equal(t, []string{"read", "write"}, key.Scopes)
	assert.NotEmpty(t, raw)

	st.err = store.ErrDuplicateKey
	_, _, err = createKey(ctx, st, "", "ci", nil)
	assert.True(t, errors.Is(err, store.ErrDuplicateKey))
}

func TestRootCmd_ListsSubcommands(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"migrate", "sweep", "health", "enrich", "keys"} {
		assert.Contains(t, names, want)
	}
}

func TestRootCmd_FailsWithoutConfig(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"--env-file", "", "health"})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestEnrichCmd_RequiresCompany(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"enrich"})

	err := root.Execute()
	assert.ErrorContains(t, err, "accepts 1 arg")
}
