package models_test

import (
	"testing"

	"github.com/kiranshivaraju/kairo/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestInstanceStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to models.InstanceStatus
		want     bool
	}{
		{models.InstanceProvisioning, models.InstanceRunning, true},
		{models.InstanceProvisioning, models.InstanceError, true},
		{models.InstanceRunning, models.InstanceStopped, true},
		{models.InstanceRunning, models.InstanceDeleted, true},
		{models.InstanceError, models.InstanceProvisioning, true},
		{models.InstanceError, models.InstanceDeleted, true},
		{models.InstanceRunning, models.InstanceProvisioning, false},
		{models.InstanceStopped, models.InstanceRunning, false},
		{models.InstanceStopped, models.InstanceProvisioning, true},
		{models.InstanceDeleted, models.InstanceProvisioning, false},
		{models.InstanceDeleted, models.InstanceDeleted, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestInstanceStatus_Live(t *testing.T) {
	assert.True(t, models.InstanceProvisioning.Live())
	assert.True(t, models.InstanceRunning.Live())
	assert.False(t, models.InstanceError.Live())
	assert.False(t, models.InstanceDeleted.Live())
	assert.False(t, models.InstanceStopped.Live())
}

func TestParseProviderType(t *testing.T) {
	for _, p := range models.RequiredProviders {
		got, err := models.ParseProviderType(string(p))
		assert.NoError(t, err)
		assert.Equal(t, p, got)
	}
	_, err := models.ParseProviderType("gitlab")
	assert.Error(t, err)
}

func TestInstance_DomainOrEmpty(t *testing.T) {
	var nilInst *models.Instance
	assert.Equal(t, "", nilInst.DomainOrEmpty())
	assert.Equal(t, "", (&models.Instance{}).DomainOrEmpty())

	d := "kairo-abc.up.railway.app"
	assert.Equal(t, d, (&models.Instance{Domain: &d}).DomainOrEmpty())
}
