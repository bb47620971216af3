package main

import (
	"bufio"
	"context"
	"encoding/json"
	"math"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mcdev12/velotrain/go/internal/multiplayer"
	"github.com/mcdev12/velotrain/go/internal/multiplayer/auth"
	"github.com/mcdev12/velotrain/go/internal/multiplayer/events"
	"github.com/mcdev12/velotrain/go/internal/multiplayer/relay"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := multiplayer.LoadConfig(getEnv("MULTIPLAYER_CONFIG", ""))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("log_level", cfg.LogLevel).Msg("unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	roomID := getEnv("RIDER_ROOM", "")
	if roomID == "" {
		log.Fatal().Msg("RIDER_ROOM environment variable is required")
	}

	// The token is read on every connect attempt so a rotated value is picked up.
	tokens := auth.TokenSourceFunc(func(context.Context) (string, error) {
		return os.Getenv("RIDER_TOKEN"), nil
	})

	var opts []multiplayer.Option
	if cookie := getEnv("RIDER_SESSION_COOKIE", ""); cookie != "" {
		opts = append(opts, multiplayer.WithRefreshHeaders(map[string]string{"Cookie": cookie}))
	}

	client, err := multiplayer.New(cfg, tokens, opts...)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create multiplayer client")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	subscribe(client, cancel)

	if cfg.RelayNATSURL != "" {
		relayCfg := relay.DefaultConfig()
		relayCfg.URL = cfg.RelayNATSURL
		r, err := relay.Connect(relayCfg)
		if err != nil {
			log.Fatal().Err(err).Str("nats_url", cfg.RelayNATSURL).Msg("failed to start relay")
		}
		r.Attach(client.Bus())
		defer r.Close()
	}

	log.Info().
		Str("server_url", cfg.ServerURL).
		Str("room_id", roomID).
		Msg("starting rider")

	if ok, err := client.JoinRoom(ctx, roomID); !ok {
		client.Disconnect()
		log.Fatal().Err(err).Str("room_id", roomID).Msg("failed to join room")
	}

	go readChat(ctx, client)
	ride(ctx, client)

	client.Disconnect()
	log.Info().Msg("rider shutdown complete")
}

func subscribe(client *multiplayer.Client, stop context.CancelFunc) {
	client.On(events.KindStateUpdate, func(ev events.Event) {
		log.Debug().RawJSON("state", ev.Content).Msg("peer state update")
	})
	client.On(events.KindMessage, func(ev events.Event) {
		var text string
		if err := json.Unmarshal(ev.Content, &text); err != nil {
			log.Info().RawJSON("content", ev.Content).Msg("chat")
			return
		}
		log.Info().Str("text", text).Msg("chat")
	})
	client.On(events.KindUnrecognized, func(ev events.Event) {
		log.Debug().Str("type", string(ev.Kind)).Msg("server event")
	})
	client.On(events.KindDisconnected, func(ev events.Event) {
		log.Warn().Err(ev.Err).Int("attempt", ev.Attempt).Msg("connection lost")
	})
	client.On(events.KindError, func(ev events.Event) {
		log.Error().Err(ev.Err).Msg("multiplayer error")
	})
	client.On(events.KindReconnectFailed, func(ev events.Event) {
		log.Error().Err(ev.Err).Msg("giving up on multiplayer session")
		stop()
	})
}

// ride streams a simulated rider at one sample per second.
func ride(ctx context.Context, client *multiplayer.Client) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	start := time.Now()
	var distance float64
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			elapsed := now.Sub(start)
			phase := elapsed.Seconds() / 30
			power := 200 + 40*math.Sin(phase)
			speed := 30 + 5*math.Sin(phase)
			distance += speed / 3.6

			err := client.SendState(multiplayer.RiderState{
				Power:    math.Round(power),
				Speed:    math.Round(speed*10) / 10,
				Distance: math.Round(distance),
				Time:     elapsed.Milliseconds(),
			})
			if err != nil {
				log.Error().Err(err).Msg("failed to send state")
			}
		}
	}
}

func readChat(ctx context.Context, client *multiplayer.Client) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := client.SendChat(line); err != nil {
			log.Warn().Err(err).Msg("failed to send chat")
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
