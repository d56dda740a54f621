package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelops/orchestrator/bus"
	"github.com/sentinelops/orchestrator/core"
	"github.com/sentinelops/orchestrator/store"
)

func TestBuildBackends_DevelopmentModeUsesInMemory(t *testing.T) {
	cfg, err := core.NewConfig(core.WithDevelopmentMode())
	require.NoError(t, err)

	st, b, err := buildBackends(cfg, core.NoOpLogger{})
	require.NoError(t, err)

	_, ok := st.(*store.InMemory)
	assert.True(t, ok)
	_, ok = b.(*bus.InMemory)
	assert.True(t, ok)
}

func TestBuildBackends_RequiresRedisURLOutsideDevelopment(t *testing.T) {
	cfg, err := core.NewConfig(core.WithDevelopmentMode())
	require.NoError(t, err)
	cfg.Development.Enabled = false

	_, _, err = buildBackends(cfg, core.NoOpLogger{})
	require.Error(t, err)
	assert.True(t, core.IsConfigurationError(err))
}

func TestRedactedConfig_OmitsSigningKey(t *testing.T) {
	cfg, err := core.NewConfig(core.WithDevelopmentMode(), core.WithAuditSigning("super-secret"))
	require.NoError(t, err)

	redacted := redactedConfig(cfg)
	auditSection, ok := redacted["audit"].(map[string]interface{})
	require.True(t, ok)
	_, hasKey := auditSection["signing_key"]
	assert.False(t, hasKey)
	assert.Equal(t, true, auditSection["signing_enabled"])
}

func TestErrString_NilIsEmpty(t *testing.T) {
	assert.Equal(t, "", errString(nil))
}
