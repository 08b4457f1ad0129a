package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/worldcache/registry/internal/store"
	"github.com/worldcache/registry/pkg/apitoken"
	"github.com/worldcache/registry/pkg/config"
	"github.com/worldcache/registry/pkg/registryerr"
)

func newTestService(t *testing.T) (*Service, *store.Store) {
	st, err := store.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	svc, err := New(context.Background(), st, &config.FederatedConfig{})
	require.NoError(t, err)
	return svc, st
}

func TestAuthenticate_MissingCredential(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Authenticate(context.Background(), "")
	assert.Equal(t, registryerr.KindUnauthenticated, registryerr.KindOf(err))
}

func TestAuthenticate_APIToken(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	token, err := apitoken.Generate()
	require.NoError(t, err)
	_, err = st.CreateAPIToken(ctx, "alice", "ci", apitoken.Hash(token), nil)
	require.NoError(t, err)

	p, err := svc.Authenticate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "alice", p.ID)
	assert.False(t, p.Federated)
}

func TestAuthenticate_UnknownAPIToken(t *testing.T) {
	svc, _ := newTestService(t)
	token, err := apitoken.Generate()
	require.NoError(t, err)

	_, err = svc.Authenticate(context.Background(), token)
	assert.Equal(t, registryerr.KindTokenInvalid, registryerr.KindOf(err))
}

func TestAuthenticate_MalformedToken(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Authenticate(context.Background(), "not-a-real-token")
	assert.Equal(t, registryerr.KindTokenInvalid, registryerr.KindOf(err))
}

func TestAuthenticate_JWTShapeWithoutFederationConfigured(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Authenticate(context.Background(), "aaa.bbb.ccc")
	assert.Equal(t, registryerr.KindTokenInvalid, registryerr.KindOf(err))
}

func TestAnonymous(t *testing.T) {
	p := Anonymous("203.0.113.9")
	assert.True(t, p.Anonymous)
	assert.Equal(t, "anon:203.0.113.9", p.ID)
}

func TestJWTShape(t *testing.T) {
	assert.True(t, jwtShape("aaa.bbb.ccc"))
	assert.False(t, jwtShape("plain-opaque-token"))
	assert.False(t, jwtShape("only.one-dot"))
}
