package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/bft-labs/aesdsocket"
	"github.com/bft-labs/aesdsocket/internal/app"
	"github.com/bft-labs/aesdsocket/internal/cliconfig"
	"github.com/bft-labs/aesdsocket/internal/server"
	"github.com/bft-labs/aesdsocket/pkg/log"
)

const helpDescription = `
Listen on a TCP port, append every newline-terminated message from any client
to a shared data file and answer each message with the whole file.

Configure via file, env (AESDSOCKET_*), or flags. SIGINT and SIGTERM stop the
server gracefully and remove the data file.
`

var exampleUsage = strings.TrimSpace(`
  aesdsocket
  aesdsocket -d --data-file /var/tmp/aesdsocketdata
  aesdsocket --config $HOME/.aesdsocket/config.toml --log-level debug
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "aesdsocket: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := cliconfig.DefaultConfig()
	var cfgPath string

	root := &cobra.Command{
		Use:           "aesdsocket",
		Short:         "Line-oriented TCP log server",
		Long:          strings.TrimSpace(helpDescription),
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgFile := cfgPath
			if cfgFile == "" {
				cfgFile = cliconfig.DefaultConfigPath()
			}

			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

			var fc cliconfig.FileConfig
			haveFile := cfgFile != "" && cliconfig.FileExists(cfgFile)
			if haveFile {
				var err error
				fc, err = cliconfig.LoadFileConfig(cfgFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				if err := cliconfig.ApplyFileConfig(&cfg, fc, changed); err != nil {
					return err
				}
			} else if cfgPath != "" {
				return fmt.Errorf("config file %s not found", cfgPath)
			}

			// Environment overrides the file; explicitly set flags override both.
			if err := cliconfig.ApplyEnvConfig(&cfg, changed); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			zl, closer, err := cliconfig.NewLogger(cfg)
			if err != nil {
				return err
			}
			defer closer.Close()
			logger := log.NewZerologAdapterWithLogger(zl)

			logger.Debug("configuration",
				log.String("addr", cfg.Addr()),
				log.String("data_file", cfg.DataFile),
				log.Bool("daemon", cfg.Daemon),
				log.Duration("grace_period", cfg.GracePeriod),
				log.Int("max_conns", cfg.MaxConns),
				log.Int("max_frame_bytes", cfg.MaxFrameBytes),
				log.Bool("sync_writes", cfg.SyncWrites),
			)

			return run(cmd.Context(), cfg, logger, cfgFile, fc, haveFile)
		},
	}

	root.Flags().StringVar(&cfgPath, "config", "", "path to config file (default: $HOME/.aesdsocket/config.toml)")
	root.Flags().IntVar(&cfg.Port, "port", cfg.Port, "TCP port to listen on")
	root.Flags().StringVar(&cfg.BindAddr, "bind", cfg.BindAddr, "address to bind (default: all interfaces)")
	root.Flags().StringVar(&cfg.DataFile, "data-file", cfg.DataFile, "shared data file, truncated at start and removed at exit")
	root.Flags().BoolVarP(&cfg.Daemon, "daemon", "d", cfg.Daemon, "run detached in the background after binding")

	root.Flags().DurationVar(&cfg.GracePeriod, "grace-period", cfg.GracePeriod, "how long shutdown waits for open connections")
	root.Flags().IntVar(&cfg.MaxConns, "max-conns", cfg.MaxConns, "maximum concurrent connections (0 = unlimited)")
	root.Flags().IntVar(&cfg.MaxFrameBytes, "max-frame-bytes", cfg.MaxFrameBytes, "maximum message size in bytes (0 = unlimited)")
	root.Flags().BoolVar(&cfg.SyncWrites, "sync", cfg.SyncWrites, "fsync the data file after every message")

	root.Flags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	root.Flags().StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format (auto, console, json)")
	root.Flags().StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "append logs to this file instead of stderr")

	return root
}

func run(ctx context.Context, cfg cliconfig.Config, logger log.Logger, cfgFile string, fc cliconfig.FileConfig, haveFile bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var opts []aesdsocket.Option

	fd, inherited, err := inheritedListenFD()
	if err != nil {
		return err
	}
	switch {
	case inherited:
		ln, err := server.FileListener(fd)
		if err != nil {
			return err
		}
		opts = append(opts, aesdsocket.WithListener(ln))
		logger.Info("running detached", log.Int("pid", os.Getpid()))

	case cfg.Daemon:
		// Bind in the foreground so setup failures still exit non-zero.
		ln, err := server.Listen(ctx, cfg.Addr())
		if err != nil {
			logger.Error("setup failed", log.Err(err))
			return err
		}
		pid, err := detach(ln)
		if err != nil {
			logger.Error("detach failed", log.Err(err))
			return err
		}
		logger.Info("detached", log.Int("pid", pid), log.Addr("addr", ln.Addr()))
		return nil
	}

	coord := app.NewCoordinator(logger)
	coord.Notify()
	defer coord.Close()
	opts = append(opts, aesdsocket.WithCoordinator(coord))

	if haveFile {
		w := cliconfig.NewWatcher(cfgFile, fc, logger)
		if err := w.Start(ctx); err != nil {
			logger.Warn("config watcher disabled", log.Err(err))
		} else {
			defer w.Shutdown()
		}
	}

	if err := aesdsocket.Run(ctx, cfg, logger, opts...); err != nil {
		logger.Error("aesdsocket failed", log.Err(err))
		return err
	}
	logger.Info("aesdsocket exited")
	return nil
}
