package utils

import (
	"os"
	"time"

	"go.viam.com/texturebridge/logging"
)

const (
	// HandshakeTimeoutEnvVar overrides how long texture creation waits on the main thread.
	HandshakeTimeoutEnvVar = "TEXTURE_BRIDGE_HANDSHAKE_TIMEOUT"

	// PollTimeoutEnvVar overrides how long a payload provider waits for a new frame.
	PollTimeoutEnvVar = "TEXTURE_BRIDGE_POLL_TIMEOUT"
)

// GetDurationFromEnv returns the duration stored in envVar, or defaultValue when the variable is
// unset or does not parse.
func GetDurationFromEnv(envVar string, defaultValue time.Duration, logger logging.Logger) time.Duration {
	val := os.Getenv(envVar)
	if val == "" {
		return defaultValue
	}
	dur, err := time.ParseDuration(val)
	if err != nil || dur < 0 {
		logger.Warnw("failed to parse env var, falling back to default", "env_var", envVar, "value", val, "default", defaultValue)
		return defaultValue
	}
	return dur
}
