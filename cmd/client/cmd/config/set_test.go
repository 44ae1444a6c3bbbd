package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePatch(t *testing.T) {
	patch, err := ParsePatch([]string{
		"sync_interval_minutes=10",
		"auto_sync_enabled=false",
		"conflict_resolution_policy = manual",
		"remote_base_url=https://shop.example.com",
	})
	require.NoError(t, err)

	require.NotNil(t, patch.SyncIntervalMinutes)
	assert.Equal(t, 10, *patch.SyncIntervalMinutes)
	require.NotNil(t, patch.AutoSyncEnabled)
	assert.False(t, *patch.AutoSyncEnabled)
	require.NotNil(t, patch.ConflictPolicy)
	assert.Equal(t, "manual", *patch.ConflictPolicy)
	require.NotNil(t, patch.RemoteBaseURL)
	assert.Equal(t, "https://shop.example.com", *patch.RemoteBaseURL)

	assert.Nil(t, patch.BatchSize)
	assert.Nil(t, patch.APIKey)
}

func TestParsePatch_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "no separator", args: []string{"batch_size"}, want: "key=value"},
		{name: "unknown key", args: []string{"api_key=secret"}, want: "неизвестная настройка"},
		{name: "not a number", args: []string{"batch_size=ten"}, want: "целое число"},
		{name: "bad bool", args: []string{"auto_sync_enabled=maybe"}, want: "true или false"},
		{name: "bad policy", args: []string{"conflict_resolution_policy=newest"}, want: "local, remote или manual"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePatch(tt.args)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
