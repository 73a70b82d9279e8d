package bridge

import (
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"go.viam.com/texturebridge/frames"
	"go.viam.com/texturebridge/logging"
	"go.viam.com/texturebridge/utils"
)

const (
	defaultHandshakeTimeout = 5 * time.Second
	defaultPollTimeout      = 0
)

// Config tunes a Bridge.
type Config struct {
	// FrameChannelCapacity bounds how many converted frames wait for the engine per texture.
	FrameChannelCapacity int `json:"frame_channel_capacity"`
	// HandshakeTimeout bounds how long texture creation waits on the main thread.
	HandshakeTimeout time.Duration `json:"handshake_timeout"`
	// PollTimeout is how long a provider waits for a fresh frame before repeating the last one.
	// Zero never waits.
	PollTimeout  time.Duration `json:"poll_timeout"`
	TargetWidth  int           `json:"target_width"`
	TargetHeight int           `json:"target_height"`
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		FrameChannelCapacity: frames.DefaultFrameChannelCapacity,
		HandshakeTimeout:     defaultHandshakeTimeout,
		PollTimeout:          defaultPollTimeout,
	}
}

// ConfigFromAttributes decodes attrs over the defaults. Durations may be given as strings such
// as "250ms" or as integer nanoseconds.
func ConfigFromAttributes(attrs map[string]interface{}) (Config, error) {
	conf := DefaultConfig()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &conf,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return Config{}, err
	}
	if err := decoder.Decode(attrs); err != nil {
		return Config{}, errors.Wrap(err, "invalid texture bridge attributes")
	}
	if err := conf.Validate("texture_bridge"); err != nil {
		return Config{}, err
	}
	return conf, nil
}

// Validate checks the config. path names the config in errors.
func (conf Config) Validate(path string) error {
	if conf.FrameChannelCapacity < 1 {
		return goutils.NewConfigValidationError(path,
			errors.Errorf("frame_channel_capacity must be at least 1, got %d", conf.FrameChannelCapacity))
	}
	if conf.HandshakeTimeout <= 0 {
		return goutils.NewConfigValidationError(path, errors.New("handshake_timeout must be positive"))
	}
	if conf.PollTimeout < 0 {
		return goutils.NewConfigValidationError(path, errors.New("poll_timeout cannot be negative"))
	}
	if conf.TargetWidth < 0 || conf.TargetHeight < 0 {
		return goutils.NewConfigValidationError(path, errors.New("target size cannot be negative"))
	}
	if (conf.TargetWidth == 0) != (conf.TargetHeight == 0) {
		return goutils.NewConfigValidationError(path, errors.New("target_width and target_height must be set together"))
	}
	return nil
}

// WithEnvOverrides returns conf with the timeouts replaced by any set in the environment.
func (conf Config) WithEnvOverrides(logger logging.Logger) Config {
	conf.HandshakeTimeout = utils.GetDurationFromEnv(utils.HandshakeTimeoutEnvVar, conf.HandshakeTimeout, logger)
	conf.PollTimeout = utils.GetDurationFromEnv(utils.PollTimeoutEnvVar, conf.PollTimeout, logger)
	return conf
}
