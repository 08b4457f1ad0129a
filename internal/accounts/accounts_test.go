package accounts

import (
	"context"
	"testing"
	"time"

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
	return New(st, &config.AuthConfig{BCryptCost: 4}), st
}

func TestRegisterThenAuthenticate(t *testing.T) {
	s, _ := newTestService(t)

	acct, err := s.Register(context.Background(), "alice", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, "alice", acct.PrincipalID)

	_, err = s.Authenticate(context.Background(), "alice", "correct horse")
	assert.NoError(t, err)
}

func TestAuthenticate_WrongPasswordRejected(t *testing.T) {
	s, _ := newTestService(t)
	_, err := s.Register(context.Background(), "alice", "correct horse")
	require.NoError(t, err)

	_, err = s.Authenticate(context.Background(), "alice", "wrong password")
	assert.Equal(t, registryerr.KindUnauthenticated, registryerr.KindOf(err))
}

func TestAuthenticate_UnknownUsernameRejected(t *testing.T) {
	s, _ := newTestService(t)
	_, err := s.Authenticate(context.Background(), "nobody", "whatever")
	assert.Equal(t, registryerr.KindUnauthenticated, registryerr.KindOf(err))
}

func TestRegister_ShortPasswordRejected(t *testing.T) {
	s, _ := newTestService(t)
	_, err := s.Register(context.Background(), "alice", "short")
	assert.Equal(t, registryerr.KindInvalidInput, registryerr.KindOf(err))
}

func TestIssueToken_BindsToPrincipalAndLooksUp(t *testing.T) {
	s, st := newTestService(t)
	_, err := s.Register(context.Background(), "alice", "correct horse")
	require.NoError(t, err)

	token, rec, err := s.IssueToken(context.Background(), "alice", "correct horse", "laptop", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "alice", rec.PrincipalID)
	assert.True(t, apitoken.ValidFormat(token))

	looked, err := st.LookupAPIToken(context.Background(), apitoken.Hash(token))
	require.NoError(t, err)
	assert.Equal(t, "alice", looked.PrincipalID)
}

func TestIssueToken_WrongPasswordRejected(t *testing.T) {
	s, _ := newTestService(t)
	_, err := s.Register(context.Background(), "alice", "correct horse")
	require.NoError(t, err)

	_, _, err = s.IssueToken(context.Background(), "alice", "wrong", "laptop", time.Hour)
	assert.Equal(t, registryerr.KindUnauthenticated, registryerr.KindOf(err))
}
