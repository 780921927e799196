package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/edgerpc/internal/client"
	"github.com/danmuck/edgerpc/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type globalFlags struct {
	configPath string
	target     string
	clientID   string
	token      string
	timeout    time.Duration
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "edgerpcctl",
		Short:         "Talk to an edgerpcd host",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "client config path (defaults apply when empty)")
	root.PersistentFlags().StringVar(&flags.target, "target", "", "host:port or ws:// url, overrides the config target")
	root.PersistentFlags().StringVar(&flags.clientID, "client-id", "", "client id sent in the hello")
	root.PersistentFlags().StringVar(&flags.token, "token", "", "session auth token, overrides the config token")
	root.PersistentFlags().DurationVar(&flags.timeout, "timeout", 0, "per-command timeout, overrides the config timeout")

	root.AddCommand(
		getCmdStores(flags),
		getCmdPut(flags),
		getCmdGet(flags),
		getCmdDelete(flags),
		getCmdKeys(flags),
		getCmdWait(flags),
		getCmdWatch(flags),
		getCmdClose(flags),
	)
	return root
}

func (f *globalFlags) load() (config.ClientConfig, error) {
	cfg := config.DefaultClientConfig()
	if f.configPath != "" {
		loaded, err := config.LoadClientConfig(f.configPath)
		if err != nil {
			return config.ClientConfig{}, err
		}
		cfg = loaded
	}
	if f.target != "" {
		cfg.Target = f.target
	}
	if f.clientID != "" {
		cfg.ClientID = f.clientID
	}
	if f.token != "" {
		cfg.Session.AuthToken = f.token
	}
	if f.timeout > 0 {
		cfg.Timeout = config.Duration{Duration: f.timeout}
	}
	return cfg, config.ValidateClientConfig(cfg)
}

// remote is one connected, initialized session.
type remote struct {
	client *client.Client
	host   *client.Object
}

// withRemote dials, initializes and runs fn. bounded commands get the
// config timeout; unbounded ones (watch) run until interrupted.
func withRemote(cmd *cobra.Command, flags *globalFlags, bounded bool, fn func(ctx context.Context, r *remote) error) error {
	cfg, err := flags.load()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if bounded && cfg.Timeout.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout.Duration)
		defer cancel()
	}

	c, err := client.Dial(ctx, cfg.Target, cfg.ClientID, cfg.Session.Session())
	if err != nil {
		return fmt.Errorf("dial %s: %w", cfg.Target, err)
	}
	runCtx, cancelRun := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- c.Run(runCtx) }()
	defer func() {
		cancelRun()
		if err := <-runDone; err != nil {
			log.Debug().Err(err).Msg("edgerpcctl session ended")
		}
		_ = c.Close()
	}()

	host, err := c.Initialize(ctx, cfg.ClientID)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	return fn(ctx, &remote{client: c, host: host})
}

func (r *remote) openStore(ctx context.Context, name string) (string, error) {
	res, err := r.client.Call(ctx, r.host.GUID, "openStore", map[string]any{"name": name})
	if err != nil {
		return "", err
	}
	return client.ChannelGUID(res["store"]), nil
}
