// Package internal carries process-level plumbing shared by the cmd mains.
package internal

import (
	"fmt"
	"time"
)

type Config struct {
	Host                 string `env:"HOST,default=localhost"`
	Port                 int    `env:"PORT,default=5001"`
	LogLevel             string `env:"LOG_LEVEL,default=INFO"`
	BadgerFilepath       string `env:"BADGER_FILEPATH,required=true"`
	ConnectionBufferSize int    `env:"CONNECTION_BUFFER_SIZE,default=64"`
	LimitMessages        *int   `env:"LIMIT_MESSAGES"`
	CharReplacement      string `env:"CHARACTER_REPLACEMENT,default=*"`

	JWTSecret         string        `env:"JWT_SECRET,required=true"`
	AuthTokenDuration time.Duration `env:"AUTH_TOKEN_DURATION,default=1h"`

	AssistantBaseURL  string        `env:"ASSISTANT_BASE_URL,required=true"`
	AssistantAPIKey   string        `env:"ASSISTANT_API_KEY"`
	AssistantModel    string        `env:"ASSISTANT_MODEL,default=gpt-4o-mini"`
	AssistantTimeout  time.Duration `env:"ASSISTANT_TIMEOUT,default=30s"`
	AssistantCooldown time.Duration `env:"ASSISTANT_COOLDOWN,default=20s"`
	MaxReplyLength    int           `env:"MAX_REPLY_LENGTH,default=800"`

	RestartInterval time.Duration `env:"RESTART_INTERVAL,default=200ms"`
	MetricInterval  time.Duration `env:"METRIC_INTERVAL,default=30s"`
}

// CharacterRune converts the replacement setting to a single rune.
func CharacterRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"CHARACTER_REPLACEMENT must be a single character, got %q",
			str,
		)
	}
	return r[0], nil
}
