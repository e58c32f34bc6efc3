// Command sse-load holds many board streams open against a running server
// and fails when too few events arrive or too many connects fail.
package main

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/caarlos0/env/v11"
	log "github.com/sirupsen/logrus"

	"prism-board/client"
	"prism-board/domain"
)

type loadConfig struct {
	BaseURL     string        `env:"STREAM_BASE_URL" envDefault:"http://localhost:8080"`
	Boards      []string      `env:"BOARD_IDS,required" envSeparator:","`
	Connections int           `env:"SSE_CONNECTIONS" envDefault:"200"`
	Duration    time.Duration `env:"DURATION" envDefault:"2m"`
	Bearer      string        `env:"TEST_BEARER"`
	Secret      string        `env:"LOCAL_AUTH_SHARED_SECRET"`
	User        string        `env:"LOAD_USER" envDefault:"load-tester"`
	// MaxFailureRate is the tolerated share of failed connects.
	MaxFailureRate float64 `env:"MAX_FAILURE_RATE" envDefault:"0.01"`
}

func main() {
	cfg, err := env.ParseAs[loadConfig]()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := log.New()
	logger.SetLevel(log.WarnLevel)

	bearer := cfg.Bearer
	if bearer == "" {
		if bearer, err = localToken(cfg.Secret, cfg.User); err != nil {
			log.Fatalf("token: %v", err)
		}
	}

	var events, attempts, failures atomic.Uint64
	subs := make([]*client.Subscriber, 0, cfg.Connections)
	for i := range cfg.Connections {
		sub := client.New(client.Config{
			BaseURL: cfg.BaseURL,
			Token:   func() (string, error) { return bearer, nil },
			Logger:  logger,
			Hooks: client.Hooks{
				OnEvent: func(string, domain.Event) { events.Add(1) },
				OnStatus: func(st client.Status) {
					switch {
					case st.State == client.Connecting:
						attempts.Add(1)
					case st.State == client.Disconnected && st.ConsecutiveFailures > 0:
						failures.Add(1)
					}
				},
			},
		})
		sub.Watch(cfg.Boards[i%len(cfg.Boards)])
		subs = append(subs, sub)
	}

	deadline := time.After(cfg.Duration)
	quiet := time.After(min(60*time.Second, cfg.Duration))
wait:
	for {
		select {
		case <-quiet:
			if events.Load() == 0 {
				fmt.Println("no events received in the first minute")
				os.Exit(1)
			}
		case <-deadline:
			break wait
		}
	}
	for _, sub := range subs {
		sub.Close()
	}

	failureRate := 0.0
	if n := attempts.Load(); n > 0 {
		failureRate = float64(failures.Load()) / float64(n)
	}
	fmt.Printf("connections=%d duration_sec=%d events_received=%d connect_attempts=%d connection_failures=%d\n",
		cfg.Connections, int(cfg.Duration.Seconds()), events.Load(), attempts.Load(), failures.Load())
	if events.Load() == 0 || failureRate > cfg.MaxFailureRate {
		os.Exit(1)
	}
}
