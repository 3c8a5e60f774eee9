package boot

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Env           string `env:"ENV,default=dev"`
	DataDirectory string `env:"DATA_DIR"`

	APIBaseURL string `env:"API_BASE_URL,default=http://localhost:8080"`
	SocketURL  string `env:"SOCKET_URL,default=ws://localhost:8080/socket"`

	UserID        string `env:"USER_ID"`
	AuthToken     string `env:"AUTH_TOKEN"`
	ListenAddress string `env:"LISTEN_ADDR,default=:8090"`

	RequestTimeout    time.Duration `env:"REQUEST_TIMEOUT,default=10s"`
	ReconnectAttempts int           `env:"RECONNECT_ATTEMPTS,default=5"`
	ReconnectDelay    time.Duration `env:"RECONNECT_DELAY,default=3s"`
	PollInterval      time.Duration `env:"POLL_INTERVAL,default=30s"`
	PageSize          int           `env:"PAGE_SIZE,default=50"`
}

func Load() (Config, error) {
	config := Config{}
	if err := envconfig.Process(context.Background(), &config); err != nil {
		return Config{}, fmt.Errorf("parsing env vars: %w", err)
	}
	return config, nil
}

func (c Config) IsDevelopment() bool {
	return c.Env == "dev"
}
