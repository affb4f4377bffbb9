// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package config loads voicebridge's process configuration from the
// environment (and an optional .env file), the way the rest of the
// Rapida stack does it: viper for sourcing, go-playground/validator
// for enforcing required fields.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Provider selects the telephony carrier implementation.
type Provider string

const (
	ProviderTwilio Provider = "twilio"
	ProviderTelnyx Provider = "telnyx"
)

// ConfigurationError is raised when required settings are missing at
// startup. All missing values are reported together in one message,
// per the fatal-at-startup contract.
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: missing required values: %s", strings.Join(e.Missing, ", "))
}

// AppConfig is the complete, validated process configuration.
type AppConfig struct {
	Provider  Provider `mapstructure:"provider" validate:"required,oneof=twilio telnyx"`
	AccountID string   `mapstructure:"account_id" validate:"required"`
	Secret    string   `mapstructure:"secret" validate:"required"`

	SourceNumber string `mapstructure:"source_number" validate:"required"`
	DestNumber   string `mapstructure:"dest_number"`

	TTSVoice    string `mapstructure:"tts_voice" validate:"required"`
	STTModel    string `mapstructure:"stt_model" validate:"required"`
	DeepgramKey string `mapstructure:"deepgram_api_key" validate:"required"`

	EndOfUtteranceSilence time.Duration `mapstructure:"end_of_utterance_silence"`
	TranscriptTimeout     time.Duration `mapstructure:"transcript_timeout"`

	LocalPort     int    `mapstructure:"local_port" validate:"required"`
	PublicBaseURL string `mapstructure:"public_base_url" validate:"required"`

	TunnelProvider    string `mapstructure:"tunnel_provider"`
	TunnelCredentials string `mapstructure:"tunnel_credentials"`

	// TelnyxWebhookPublicKey is the base64 Ed25519 public key Telnyx
	// publishes for webhook signature verification. Unused for Twilio.
	TelnyxWebhookPublicKey string `mapstructure:"telnyx_webhook_public_key"`

	AllowUnsignedWebhooks bool `mapstructure:"allow_unsigned_webhooks"`

	LogLevel string `mapstructure:"log_level" validate:"required"`
}

// setDefaults registers every key viper should bind automatically from
// the environment at Unmarshal time. viper's AutomaticEnv only takes
// effect for keys it has already seen via SetDefault, BindEnv, or a
// config file — so even the required-but-no-sane-default fields get a
// "" default here, same as the teacher's config package, and rely on
// validator's `required` tag to reject the empty string.
func setDefaults(v *viper.Viper) {
	v.SetDefault("PROVIDER", "twilio")
	v.SetDefault("ACCOUNT_ID", "")
	v.SetDefault("SECRET", "")
	v.SetDefault("SOURCE_NUMBER", "")
	v.SetDefault("DEST_NUMBER", "")
	v.SetDefault("TTS_VOICE", "")
	v.SetDefault("STT_MODEL", "nova-2")
	v.SetDefault("DEEPGRAM_API_KEY", "")
	v.SetDefault("END_OF_UTTERANCE_SILENCE", 800*time.Millisecond)
	v.SetDefault("TRANSCRIPT_TIMEOUT", 180*time.Second)
	v.SetDefault("LOCAL_PORT", 3333)
	v.SetDefault("PUBLIC_BASE_URL", "")
	v.SetDefault("TUNNEL_PROVIDER", "")
	v.SetDefault("TUNNEL_CREDENTIALS", "")
	v.SetDefault("TELNYX_WEBHOOK_PUBLIC_KEY", "")
	v.SetDefault("ALLOW_UNSIGNED_WEBHOOKS", false)
	v.SetDefault("LOG_LEVEL", "info")
}

// Load reads configuration from the environment (and ENV_PATH, if set)
// and returns a validated AppConfig. Parse and validation errors are
// fatal and collected into a single ConfigurationError.
func Load() (*AppConfig, error) {
	v := viper.NewWithOptions(viper.KeyDelimiter("__"))
	v.AddConfigPath(".")
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	if path := os.Getenv("ENV_PATH"); path != "" {
		v.SetConfigFile(path)
	}

	setDefaults(v)
	_ = v.ReadInConfig() // absent .env is not fatal; env vars still apply

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &ConfigurationError{Missing: []string{err.Error()}}
	}

	if err := validator.New().Struct(&cfg); err != nil {
		missing := collectMissing(err)
		return nil, &ConfigurationError{Missing: missing}
	}

	return &cfg, nil
}

func collectMissing(err error) []string {
	valErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []string{err.Error()}
	}
	missing := make([]string, 0, len(valErrs))
	for _, fe := range valErrs {
		missing = append(missing, fe.Field())
	}
	return missing
}
