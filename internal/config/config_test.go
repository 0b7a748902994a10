package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefault(t *testing.T) {
	cfg := NewDefault()

	assert.Equal(t, ProviderGemini, cfg.LLM.Provider)
	assert.Equal(t, 50, cfg.Agent.MaxSteps)
	assert.Equal(t, 60*time.Second, cfg.Browser.NavigationTimeout)
	assert.Equal(t, 60*time.Second, cfg.Agent.ActTimeout)
	assert.Equal(t, "webpilot", cfg.Logger.ServiceName)
	assert.True(t, cfg.Browser.Headless)
}

func TestLoadOverrides(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("llm.provider", "openai")
	v.Set("llm.powerful_model", "gpt-4o")
	v.Set("agent.max_steps", 7)
	v.Set("browser.navigation_timeout", "30s")

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, ProviderOpenAI, cfg.LLM.Provider)
	assert.Equal(t, "gpt-4o", cfg.LLM.PowerfulModel)
	assert.Equal(t, 7, cfg.Agent.MaxSteps)
	assert.Equal(t, 30*time.Second, cfg.Browser.NavigationTimeout)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]interface{}{
		"llm.provider":               "anthropic-carrier-pigeon",
		"agent.max_steps":            0,
		"browser.navigation_timeout": "0s",
		"agent.act_timeout":          "0s",
	}
	for key, val := range cases {
		v := viper.New()
		SetDefaults(v)
		v.Set(key, val)
		_, err := Load(v)
		assert.Error(t, err, "key=%s", key)
	}
}
