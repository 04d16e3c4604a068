package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/guseggert/enginermi/agent"
	"github.com/guseggert/enginermi/engine"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// op runs against an attached handle and returns what should be printed, or nil.
type op func(ctx context.Context, c *cli.Context, h *engine.Handle) (any, error)

type outcome struct {
	Cancelled bool            `json:"cancelled"`
	Value     json.RawMessage `json:"value,omitempty"`
}

func printable(o engine.Outcome) outcome {
	return outcome{Cancelled: o.Cancelled, Value: o.Value}
}

func main() {
	app := &cli.App{
		Name:  "enginectl",
		Usage: "attaches to an engine agent and invokes one engine operation",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Usage:   "The host:port of the engine agent.",
				Value:   "127.0.0.1:8080",
				EnvVars: []string{"ENGINECTL_ADDR"},
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Usage:   "Give up on the operation after this long. Zero waits forever.",
				EnvVars: []string{"ENGINECTL_TIMEOUT"},
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Log protocol traffic to stderr.",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "load-nn",
				Usage:  "load the engine's network",
				Action: run(func(ctx context.Context, c *cli.Context, h *engine.Handle) (any, error) { return nil, h.LoadNN(ctx) }),
			},
			{
				Name:   "clear",
				Usage:  "reset the game",
				Action: run(func(ctx context.Context, c *cli.Context, h *engine.Handle) (any, error) { return nil, h.Clear(ctx) }),
			},
			{
				Name:      "time-settings",
				Usage:     "set main time and byoyomi",
				ArgsUsage: "MAIN BYOYOMI",
				Action: run(func(ctx context.Context, c *cli.Context, h *engine.Handle) (any, error) {
					if c.NArg() != 2 {
						return nil, fmt.Errorf("expected MAIN and BYOYOMI durations, got %d args", c.NArg())
					}
					mainTime, err := time.ParseDuration(c.Args().Get(0))
					if err != nil {
						return nil, fmt.Errorf("parsing main time: %w", err)
					}
					byoyomi, err := time.ParseDuration(c.Args().Get(1))
					if err != nil {
						return nil, fmt.Errorf("parsing byoyomi: %w", err)
					}
					return nil, h.TimeSettings(ctx, mainTime, byoyomi)
				}),
			},
			{
				Name:  "genmove",
				Usage: "ask the engine for a move",
				Action: run(func(ctx context.Context, c *cli.Context, h *engine.Handle) (any, error) {
					o, err := h.Genmove(ctx)
					return printable(o), err
				}),
			},
			{
				Name:      "play",
				Usage:     "play a stone for the side to move",
				ArgsUsage: "X Y",
				Action: run(func(ctx context.Context, c *cli.Context, h *engine.Handle) (any, error) {
					if c.NArg() != 2 {
						return nil, fmt.Errorf("expected X and Y, got %d args", c.NArg())
					}
					x, err := strconv.Atoi(c.Args().Get(0))
					if err != nil {
						return nil, fmt.Errorf("parsing X: %w", err)
					}
					y, err := strconv.Atoi(c.Args().Get(1))
					if err != nil {
						return nil, fmt.Errorf("parsing Y: %w", err)
					}
					return nil, h.Play(ctx, x, y)
				}),
			},
			{
				Name:   "pass",
				Usage:  "pass for the side to move",
				Action: run(func(ctx context.Context, c *cli.Context, h *engine.Handle) (any, error) { return nil, h.Pass(ctx) }),
			},
			{
				Name:  "search",
				Usage: "run a search",
				Action: run(func(ctx context.Context, c *cli.Context, h *engine.Handle) (any, error) {
					o, err := h.Search(ctx)
					return printable(o), err
				}),
			},
			{
				Name:  "final-score",
				Usage: "score the current position",
				Action: run(func(ctx context.Context, c *cli.Context, h *engine.Handle) (any, error) {
					return h.FinalScore(ctx)
				}),
			},
			{
				Name:  "ponder",
				Usage: "ponder for a while, then stop",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "for",
						Usage: "How long to ponder before stopping.",
						Value: 5 * time.Second,
					},
				},
				Action: run(ponderFor),
			},
			{
				Name:   "stop",
				Usage:  "stop the outstanding operation, if any",
				Action: run(func(ctx context.Context, c *cli.Context, h *engine.Handle) (any, error) { return nil, h.Stop(ctx) }),
			},
			{
				Name:  "time-left",
				Usage: "report the engine's remaining time",
				Action: run(func(ctx context.Context, c *cli.Context, h *engine.Handle) (any, error) {
					return h.TimeLeft(ctx)
				}),
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// ponderFor starts a ponder and stops it once the duration elapses.
func ponderFor(ctx context.Context, c *cli.Context, h *engine.Handle) (any, error) {
	var result engine.Outcome
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		o, err := h.Ponder(groupCtx)
		result = o
		return err
	})
	group.Go(func() error {
		t := time.NewTimer(c.Duration("for"))
		defer t.Stop()
		select {
		case <-t.C:
		case <-groupCtx.Done():
			return nil
		}
		return h.Stop(groupCtx)
	})
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return printable(result), nil
}

func run(f op) cli.ActionFunc {
	return func(c *cli.Context) error {
		logger := zap.NewNop()
		if c.Bool("debug") {
			l, err := zap.NewDevelopment()
			if err != nil {
				return fmt.Errorf("building logger: %w", err)
			}
			logger = l
		}
		defer logger.Sync()

		ctx := c.Context
		if timeout := c.Duration("timeout"); timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		client := agent.NewClient(logger.Sugar(), c.String("addr"))
		h, err := client.Attach(ctx)
		if err != nil {
			return err
		}
		defer h.Close()

		result, err := f(ctx, c, h)
		if err != nil {
			return err
		}
		if result == nil {
			return nil
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
}
