package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/guseggert/enginermi/agent"
	"github.com/guseggert/enginermi/internal/config"
	"github.com/guseggert/enginermi/worker"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap/zapcore"
)

func main() {
	app := &cli.App{
		Name:  "engineagent",
		Usage: "hosts an engine worker that controllers attach to over WebSocket",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to a .yaml, .yml, .json, or .toml config file. Flags override its values.",
				EnvVars: []string{"ENGINE_AGENT_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "on-heartbeat-failure",
				Usage:   "Action to take on a heartbeat failure. One of [exit,none].",
				Value:   "none",
				EnvVars: []string{"ENGINE_AGENT_ON_HEARTBEAT_FAILURE"},
			},
			&cli.DurationFlag{
				Name:    "heartbeat-timeout",
				Usage:   "Duration to wait for a heartbeat before giving up on the controller.",
				Value:   time.Minute,
				EnvVars: []string{"ENGINE_AGENT_HEARTBEAT_TIMEOUT"},
			},
			&cli.StringFlag{
				Name:    "listen-addr",
				Usage:   "The address for the HTTP server to listen on.",
				Value:   "0.0.0.0:8080",
				EnvVars: []string{"ENGINE_AGENT_LISTEN_ADDR"},
			},
			&cli.IntFlag{
				Name:    "board-size",
				Usage:   "Board size of the reference engine.",
				Value:   19,
				EnvVars: []string{"ENGINE_AGENT_BOARD_SIZE"},
			},
			&cli.DurationFlag{
				Name:    "think-time",
				Usage:   "How long the reference engine thinks in genmove and search.",
				Value:   time.Second,
				EnvVars: []string{"ENGINE_AGENT_THINK_TIME"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Minimum log level. One of [debug,info,warn,error].",
				Value:   "debug",
				EnvVars: []string{"ENGINE_AGENT_LOG_LEVEL"},
			},
		},
		Action: func(ctx *cli.Context) error {
			var cfg config.Config
			if path := ctx.String("config"); path != "" {
				c, err := config.Load(path)
				if err != nil {
					return err
				}
				cfg = c
			}

			onHeartbeatFailure := pick(ctx, "on-heartbeat-failure", ctx.String, cfg.OnHeartbeatFailure, "")
			heartbeatTimeout := pick(ctx, "heartbeat-timeout", ctx.Duration, cfg.HeartbeatTimeoutDuration(), 0)
			listenAddr := pick(ctx, "listen-addr", ctx.String, cfg.ListenAddr, "")
			boardSize := pick(ctx, "board-size", ctx.Int, cfg.BoardSize, 0)
			thinkTime := pick(ctx, "think-time", ctx.Duration, cfg.ThinkTimeDuration(), 0)
			logLevelStr := pick(ctx, "log-level", ctx.String, cfg.LogLevel, "")

			var heartbeatFailureHandler func()
			switch onHeartbeatFailure {
			case "exit":
				heartbeatFailureHandler = agent.HeartbeatFailureExit
			case "none":
				// nothing
			default:
				return fmt.Errorf("unsupported on-heartbeat-failure %q", onHeartbeatFailure)
			}

			var logLevel zapcore.Level
			if err := logLevel.UnmarshalText([]byte(logLevelStr)); err != nil {
				return fmt.Errorf("parsing log level: %w", err)
			}

			if boardSize < 1 {
				return fmt.Errorf("board size must be positive, got %d", boardSize)
			}
			eng := worker.NewRandom(
				worker.WithBoardSize(boardSize),
				worker.WithThinkTime(thinkTime),
			)

			a, err := agent.NewEngineAgent(
				eng,
				agent.WithLogLevel(logLevel),
				agent.WithHeartbeatTimeout(heartbeatTimeout),
				agent.WithListenAddr(listenAddr),
				agent.WithHeartbeatFailureHandler(heartbeatFailureHandler),
			)
			if err != nil {
				return fmt.Errorf("building agent: %w", err)
			}

			return a.Run()
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// pick returns the flag value when it was set explicitly, else the config file value when set, else the flag default.
func pick[T comparable](ctx *cli.Context, name string, get func(string) T, fromFile, unset T) T {
	if ctx.IsSet(name) || fromFile == unset {
		return get(name)
	}
	return fromFile
}
