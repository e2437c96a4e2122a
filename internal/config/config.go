// Package config loads runtime configuration from environment variables
// (with an optional .env file for local development), applying sensible
// defaults for everything except required API credentials.
package config

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/voxloop/conductor/core"
)

// Config is every environment-tunable option the orchestrator reads at
// startup.
type Config struct {
	MicrophoneDeviceIndex int
	SampleRate            int

	VADThresholdNormal   float64
	VADThresholdSpeaking float64

	STTLanguage string

	LLMModel       string
	LLMMaxTokens   int
	LLMEffort      string
	GroqAPIKey     string
	DeepgramAPIKey string

	TTSVoiceID      string
	TTSOutputFormat string

	ActiveTimeoutSeconds int
	MaxToolIterations    int

	RetrievedContextTargetTokens int
	SlidingWindowTurns           int

	LogLevel string

	HTTPAddr string
}

// Load reads a local .env file if present (ignored if absent), then binds
// environment variables under the CONDUCTOR_ prefix over a set of
// defaults, and validates required credentials.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("conductor")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("microphone_device_index", -1)
	v.SetDefault("sample_rate", 16000)
	// RMS amplitude cutoffs for the energy VAD; the speaking value is
	// elevated so assistant playback bleed does not self-trigger barge-in.
	v.SetDefault("vad_threshold_normal", 600.0)
	v.SetDefault("vad_threshold_speaking", 1400.0)
	v.SetDefault("stt_language", "en-US")
	v.SetDefault("llm_model", "llama-3.3-70b-versatile")
	v.SetDefault("llm_max_tokens", 1024)
	v.SetDefault("llm_effort", "medium")
	v.SetDefault("tts_voice_id", "aura-asteria-en")
	v.SetDefault("tts_output_format", "linear16")
	v.SetDefault("active_timeout_seconds", 30)
	v.SetDefault("max_tool_iterations", 3)
	v.SetDefault("retrieved_context_target_tokens", 800)
	v.SetDefault("sliding_window_turns", 20)
	v.SetDefault("log_level", "info")
	v.SetDefault("http_addr", ":8080")

	cfg := &Config{
		MicrophoneDeviceIndex:        v.GetInt("microphone_device_index"),
		SampleRate:                   v.GetInt("sample_rate"),
		VADThresholdNormal:           v.GetFloat64("vad_threshold_normal"),
		VADThresholdSpeaking:         v.GetFloat64("vad_threshold_speaking"),
		STTLanguage:                  v.GetString("stt_language"),
		LLMModel:                     v.GetString("llm_model"),
		LLMMaxTokens:                 v.GetInt("llm_max_tokens"),
		LLMEffort:                    v.GetString("llm_effort"),
		GroqAPIKey:                   v.GetString("groq_api_key"),
		DeepgramAPIKey:               v.GetString("deepgram_api_key"),
		TTSVoiceID:                   v.GetString("tts_voice_id"),
		TTSOutputFormat:              v.GetString("tts_output_format"),
		ActiveTimeoutSeconds:         v.GetInt("active_timeout_seconds"),
		MaxToolIterations:            v.GetInt("max_tool_iterations"),
		RetrievedContextTargetTokens: v.GetInt("retrieved_context_target_tokens"),
		SlidingWindowTurns:           v.GetInt("sliding_window_turns"),
		LogLevel:                     v.GetString("log_level"),
		HTTPAddr:                     v.GetString("http_addr"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.GroqAPIKey == "" {
		missing = append(missing, "CONDUCTOR_GROQ_API_KEY")
	}
	if c.DeepgramAPIKey == "" {
		missing = append(missing, "CONDUCTOR_DEEPGRAM_API_KEY")
	}
	if len(missing) > 0 {
		return core.ErrConfig("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if c.SampleRate <= 0 {
		return core.ErrConfig("sample rate must be positive, got %d", c.SampleRate)
	}
	return nil
}

// Validate returns a descriptive error for any field combination the
// collaborators cannot operate with. Exposed so main can surface a
// startup failure before opening any connection.
func (c *Config) Validate() error { return c.validate() }
