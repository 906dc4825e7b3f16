package mock_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kiranshivaraju/kairo/internal/provider"
	"github.com/kiranshivaraju/kairo/internal/provider/mock"
	"github.com/kiranshivaraju/kairo/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMockBroker_Defaults(t *testing.T) {
	b := mock.NewMockBroker(models.ProviderSlack)
	assert.Equal(t, models.ProviderSlack, b.Type())
	assert.Contains(t, b.AuthorizationURL("st"), "state=st")

	ts, err := b.Exchange(context.Background(), "code1")
	require.NoError(t, err)
	assert.Equal(t, "access-code1", ts.AccessToken)
}

func TestNewRotatingBroker_Refresh(t *testing.T) {
	b := mock.NewRotatingBroker(models.ProviderJira, "fresh", time.Hour)

	ts, err := b.Refresh(context.Background(), "rt")
	require.NoError(t, err)
	assert.Equal(t, "fresh", ts.AccessToken)
	assert.Equal(t, "rt-rotated", ts.RefreshToken)
	require.NotNil(t, ts.ExpiresAt)
	assert.True(t, ts.ExpiresAt.After(time.Now().Add(50*time.Minute)))
	assert.Equal(t, 1, b.Calls())
}

func TestNewFailingBroker(t *testing.T) {
	b := mock.NewFailingBroker(models.ProviderJira, provider.ErrUpstreamAuth)

	_, err := b.Exchange(context.Background(), "c")
	assert.True(t, errors.Is(err, provider.ErrUpstreamAuth))

	_, err = b.Refresh(context.Background(), "rt")
	assert.True(t, errors.Is(err, provider.ErrUpstreamAuth))
}
