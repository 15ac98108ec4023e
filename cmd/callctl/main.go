// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/mattermost/callsignal/client"
	"github.com/mattermost/callsignal/service"

	"golang.org/x/sync/errgroup"
)

const usage = `usage: callctl [flags] <command> [args]

commands:
  register <user>        register a user (needs -admin-key) and print its key
  history [limit]        print the most recent calls of the user
  call <peer> [video]    call peer and stay in the call until it ends
  listen [video|reject]  wait for incoming calls and answer or reject them
`

func main() {
	cfg, args, err := loadConfig(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "callctl: %s\n", err)
		os.Exit(2)
	}

	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log, cfg, args); err != nil {
		log.Error("command failed", slog.String("cmd", args[0]), slog.String("err", err.Error()))
		stop()
		os.Exit(1)
	}
}

func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func run(ctx context.Context, log *slog.Logger, cfg ctlConfig, args []string) error {
	switch args[0] {
	case "register":
		if len(args) < 2 {
			return fmt.Errorf("missing user argument")
		}
		return register(cfg, args[1])
	case "history":
		limit := 0
		if len(args) > 1 {
			if _, err := fmt.Sscanf(args[1], "%d", &limit); err != nil {
				return fmt.Errorf("invalid limit %q", args[1])
			}
		}
		return withClient(ctx, log, cfg, func(ctx context.Context, c *client.Client) error {
			return history(ctx, c, limit)
		})
	case "call":
		if len(args) < 2 {
			return fmt.Errorf("missing peer argument")
		}
		mode := client.ModeAudio
		if len(args) > 2 && args[2] == "video" {
			mode = client.ModeVideo
		}
		return withClient(ctx, log, cfg, func(ctx context.Context, c *client.Client) error {
			return call(ctx, log, c, args[1], mode)
		})
	case "listen":
		var opt string
		if len(args) > 1 {
			opt = args[1]
		}
		return withClient(ctx, log, cfg, func(ctx context.Context, c *client.Client) error {
			return listen(ctx, log, c, opt)
		})
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func register(cfg ctlConfig, userID string) error {
	api, err := service.NewClient(service.ClientConfig{
		URL:     cfg.SiteURL,
		AuthKey: cfg.AdminKey,
	})
	if err != nil {
		return err
	}
	defer api.Close()

	authKey, err := api.Register(userID, "")
	if err != nil {
		return fmt.Errorf("failed to register: %w", err)
	}
	fmt.Println(authKey)

	return nil
}

func withClient(ctx context.Context, log *slog.Logger, cfg ctlConfig, fn func(context.Context, *client.Client) error) error {
	c, err := client.New(cfg.clientConfig(), client.WithLogger(log))
	if err != nil {
		return err
	}
	if err := c.Connect(ctx); err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			log.Error("failed to close client", slog.String("err", err.Error()))
		}
	}()

	return fn(ctx, c)
}

func history(ctx context.Context, c *client.Client, limit int) error {
	records, err := c.History(ctx, limit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCALLER\tCALLEE\tMODE\tSTATUS\tCREATED\tDURATION")
	for _, r := range records {
		created := time.UnixMilli(r.CreatedAt).Format(time.DateTime)
		dur := client.Duration{Elapsed: time.Duration(r.DurationSeconds) * time.Second}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", r.ID, r.CallerID, r.CalleeID, r.Mode, r.Status, created, dur.Display())
	}

	return w.Flush()
}

// watchCall subscribes to the events needed to follow a call from the
// terminal. The returned channel receives the ID of every ended call.
func watchCall(log *slog.Logger, c *client.Client) (<-chan string, error) {
	endedCh := make(chan string, 1)

	handlers := map[client.EventType]client.EventHandler{
		client.StateChangeEvent: func(ctx any) error {
			ev := ctx.(client.StateChange)
			log.Info("call state changed", slog.String("callID", ev.CallID), slog.String("state", ev.To.String()))
			if ev.To == client.StateEnded {
				select {
				case endedCh <- ev.CallID:
				default:
				}
			}
			return nil
		},
		client.DurationEvent: func(ctx any) error {
			fmt.Printf("\r%s", ctx.(client.Duration).Display())
			return nil
		},
		client.CallInactiveEvent: func(ctx any) error {
			log.Info("no answer", slog.String("callID", ctx.(client.CallInactive).CallID))
			return nil
		},
		client.ModeChangedEvent: func(ctx any) error {
			ev := ctx.(client.ModeChange)
			log.Info("mode changed", slog.String("mode", string(ev.Mode)), slog.Bool("remote", ev.Remote))
			return nil
		},
		client.RemoteTrackEvent: func(ctx any) error {
			ev := ctx.(client.RemoteTrackInfo)
			log.Info("receiving remote track", slog.String("kind", ev.Track.Kind().String()))
			return nil
		},
		client.CallQualityEvent: func(ctx any) error {
			ev := ctx.(client.CallQuality)
			log.Debug("call quality", slog.Float64("lossRate", ev.LossRate), slog.Float64("jitter", ev.Jitter))
			return nil
		},
		client.ErrorEvent: func(ctx any) error {
			ev := ctx.(client.CallError)
			log.Error("call error", slog.String("callID", ev.CallID), slog.String("err", ev.Err.Error()))
			return nil
		},
	}

	for eventType, h := range handlers {
		if err := c.On(eventType, h); err != nil {
			return nil, err
		}
	}

	return endedCh, nil
}

func call(ctx context.Context, log *slog.Logger, c *client.Client, peer string, mode client.Mode) error {
	endedCh, err := watchCall(log, c)
	if err != nil {
		return err
	}

	callID, err := c.StartCall(ctx, peer, mode)
	if err != nil {
		return err
	}
	log.Info("calling", slog.String("peer", peer), slog.String("callID", callID))

	g, gCtx := errgroup.WithContext(ctx)
	callCtx, cancel := context.WithCancel(gCtx)
	defer cancel()

	g.Go(func() error {
		return feedSilence(callCtx, c.Media())
	})

	g.Go(func() error {
		defer cancel()
		select {
		case <-endedCh:
			fmt.Println()
			return nil
		case <-callCtx.Done():
			return c.EndCall(context.Background())
		}
	})

	return g.Wait()
}

func listen(ctx context.Context, log *slog.Logger, c *client.Client, opt string) error {
	endedCh, err := watchCall(log, c)
	if err != nil {
		return err
	}

	incomingCh := make(chan client.IncomingCall, 1)
	err = c.On(client.IncomingCallEvent, func(ctx any) error {
		select {
		case incomingCh <- ctx.(client.IncomingCall):
		default:
		}
		return nil
	})
	if err != nil {
		return err
	}

	mode := client.ModeAudio
	if strings.EqualFold(opt, "video") {
		mode = client.ModeVideo
	}

	log.Info("waiting for calls")

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return feedSilence(gCtx, c.Media())
	})

	var wg sync.WaitGroup
	g.Go(func() error {
		defer wg.Wait()
		for {
			select {
			case in := <-incomingCh:
				log.Info("incoming call", slog.String("from", in.Caller.ID), slog.String("name", in.Caller.Name), slog.String("mode", string(in.Mode)))
				wg.Add(1)
				go func() {
					defer wg.Done()
					if opt == "reject" {
						if err := c.RejectCall(gCtx, in.CallID); err != nil {
							log.Error("failed to reject call", slog.String("err", err.Error()))
						}
						return
					}
					if err := c.AnswerCall(gCtx, in.CallID, mode); err != nil {
						log.Error("failed to answer call", slog.String("err", err.Error()))
					}
				}()
			case callID := <-endedCh:
				fmt.Println()
				log.Info("call ended", slog.String("callID", callID))
			case <-gCtx.Done():
				return c.EndCall(context.Background())
			}
		}
	})

	return g.Wait()
}
