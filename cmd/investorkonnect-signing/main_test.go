package main

import (
	"context"
	"testing"
	"time"

	"investorkonnect-signing/internal/domain"
	"investorkonnect-signing/internal/repository"
	"investorkonnect-signing/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedConnection(t *testing.T) {
	ctx := context.Background()

	t.Run("no token configured", func(t *testing.T) {
		m := repository.NewMemoryStore()
		require.NoError(t, seedConnection(ctx, m, ""))
		conn, err := m.GetConnection(ctx, service.DefaultConnectionID)
		require.NoError(t, err)
		assert.Nil(t, conn)
	})

	t.Run("seeds missing connection", func(t *testing.T) {
		m := repository.NewMemoryStore()
		require.NoError(t, seedConnection(ctx, m, "refresh-1"))
		conn, err := m.GetConnection(ctx, service.DefaultConnectionID)
		require.NoError(t, err)
		require.NotNil(t, conn)
		assert.Equal(t, "refresh-1", conn.RefreshToken)
		assert.Empty(t, conn.AccessToken)
	})

	t.Run("keeps existing connection", func(t *testing.T) {
		m := repository.NewMemoryStore()
		require.NoError(t, m.SaveConnection(ctx, &domain.ProviderConnection{
			ID:           service.DefaultConnectionID,
			AccessToken:  "access",
			RefreshToken: "rotated",
			ExpiresAt:    time.Now().Add(time.Hour),
		}))
		require.NoError(t, seedConnection(ctx, m, "refresh-1"))
		conn, err := m.GetConnection(ctx, service.DefaultConnectionID)
		require.NoError(t, err)
		assert.Equal(t, "rotated", conn.RefreshToken)
	})
}
