// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PROVIDER", "ACCOUNT_ID", "SECRET", "SOURCE_NUMBER", "DEST_NUMBER",
		"TTS_VOICE", "STT_MODEL", "DEEPGRAM_API_KEY", "LOCAL_PORT",
		"PUBLIC_BASE_URL", "LOG_LEVEL", "ENV_PATH",
	} {
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoadFailsWithMissingRequiredFields(t *testing.T) {
	clearEnv(t)
	_, err := Load()
	require.Error(t, err)

	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	require.NotEmpty(t, cfgErr.Missing)
}

func TestLoadSucceedsWithAllRequiredFieldsSet(t *testing.T) {
	clearEnv(t)
	t.Setenv("ACCOUNT_ID", "AC123")
	t.Setenv("SECRET", "shh")
	t.Setenv("SOURCE_NUMBER", "+15550001111")
	t.Setenv("TTS_VOICE", "aura-asteria-en")
	t.Setenv("DEEPGRAM_API_KEY", "dg-key")
	t.Setenv("PUBLIC_BASE_URL", "https://example.ngrok.io")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ProviderTwilio, cfg.Provider) // default applied
	require.Equal(t, "nova-2", cfg.STTModel)       // default applied
	require.Equal(t, 3333, cfg.LocalPort)          // default applied
}

func TestConfigurationErrorMessageJoinsMissingFields(t *testing.T) {
	err := &ConfigurationError{Missing: []string{"AccountID", "Secret"}}
	require.Contains(t, err.Error(), "AccountID")
	require.Contains(t, err.Error(), "Secret")
}
