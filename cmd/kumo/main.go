package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/axondata/go-meiliguard"
	"github.com/axondata/go-meiliguard/internal/log"
	"github.com/axondata/go-meiliguard/internal/oauth"
)

var flagConfigFilePath string

func main() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is kumo.yaml next to the executable or in the current directory")
	rootCmd.PersistentFlags().Bool("verbose", false, "verbose logging")

	rootCmd.Flags().String("meili", "", "Search service directory (default: executable directory)")
	rootCmd.Flags().String("assets", "", "Assets directory (default: <executable directory>/assets)")
	rootCmd.Flags().Int("instance-port", meiliguard.DefaultInstancePort, "Loopback port used for single instancing")
	rootCmd.Flags().String("http-addr", meiliguard.DefaultServiceAddr, "Address the search service binds")
	rootCmd.Flags().Duration("tick", meiliguard.DefaultTickInterval, "Control loop period")
	rootCmd.Flags().Bool("health-probe", true, "Probe the search service after launch")
	rootCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address")
	rootCmd.Flags().Bool("deviantart", false, "Start DeviantArt authorization after launch")

	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	for _, name := range []string{"meili", "assets", "instance-port", "http-addr", "tick", "health-probe", "metrics-addr", "deviantart"} {
		_ = viper.BindPFlag(name, rootCmd.Flags().Lookup(name))
	}

	// never print messages
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("kumo failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "kumo",
	Short:        "Local image library backed by a supervised search service",
	SilenceUsage: true,
	RunE:         doRun,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provide version of kumo",
	Run: func(cmd *cobra.Command, args []string) {
		v := meiliguard.GetVersion()
		fmt.Printf("meiliguard: %s (%s, status %s)\n", v.Version, v.Protocol, v.StatusFormat)

		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("kumo: version info not available")
			return
		}
		fmt.Printf("kumo:   %s\n", info.Main.Version)
		fmt.Printf("go:     %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit: %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:   %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:  %s\n", s.Value)
			}
		}
	},
}

func initConfig() {
	if flagConfigFilePath != "" {
		viper.SetConfigFile(flagConfigFilePath)
	} else {
		if exe, err := os.Executable(); err == nil {
			viper.AddConfigPath(filepath.Dir(exe))
		}
		viper.AddConfigPath(".")
		viper.SetConfigName("kumo")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("KUMO")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	// Read config file (ignore error if not found)
	_ = viper.ReadInConfig()
}

func doRun(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	verbose := viper.GetBool("verbose")
	slog.SetDefault(log.New(verbose))

	metrics := meiliguard.NewPrometheusMetricsCollector("kumo")

	// Claim first; a secondary must not touch the primary's log file.
	coord := meiliguard.NewCoordinator(
		meiliguard.WithPort(viper.GetInt("instance-port")),
		meiliguard.WithCoordinatorMetrics(metrics),
	)
	claim, err := coord.Claim(ctx)
	if err != nil {
		return err
	}
	if claim.Role == meiliguard.RoleSecondary {
		return nil
	}

	paths, err := meiliguard.NewPathResolver(
		meiliguard.WithServiceDir(viper.GetString("meili")),
		meiliguard.WithAssetsDir(viper.GetString("assets")),
	).Resolve()
	if err != nil {
		_ = claim.Listener.Close()
		return err
	}

	logger, logFile, err := log.NewFile(os.Stdout, paths.AppLog(), verbose)
	if err != nil {
		_ = claim.Listener.Close()
		return err
	}
	defer func() { _ = logFile.Close() }()
	slog.SetDefault(logger)

	ctx = log.ContextAttrs(ctx, slog.Group("kumo",
		slog.Int("pid", os.Getpid()),
		slog.String("service_dir", paths.ServiceDir),
	))

	strategy := meiliguard.NewDefaultStrategy(paths,
		meiliguard.WithStrategyLogger(logger),
		meiliguard.WithStrategyMetrics(metrics),
	)
	launcher := meiliguard.NewLauncher(paths, strategy,
		meiliguard.WithHTTPAddr(viper.GetString("http-addr")),
		meiliguard.WithHealthProbe(viper.GetBool("health-probe")),
		meiliguard.WithLauncherLogger(logger),
		meiliguard.WithLauncherMetrics(metrics),
	)

	windows := newBrowserWindow(logger)
	opts := []meiliguard.AppOption{
		meiliguard.WithTickInterval(viper.GetDuration("tick")),
		meiliguard.WithAppLogger(logger),
		meiliguard.WithOnLaunch(func(svc *meiliguard.LaunchedService) {
			windows.SetURL(svc.Client.URL())
			windows.CreatePrimaryWindow()
		}),
	}

	if viper.GetBool("deviantart") {
		receiver, err := newDeviantArt(ctx, paths, logger)
		if err != nil {
			logger.WarnContext(ctx, "DeviantArt authorization unavailable", slog.Any("err", err))
		} else {
			defer func() { _ = receiver.Close() }()
			opts = append(opts, meiliguard.WithTickFunc(func(ctx context.Context) {
				if res, ok := receiver.Poll(); ok {
					if res.Err != nil {
						logger.ErrorContext(ctx, "DeviantArt authorization failed", slog.Any("err", res.Err))
						return
					}
					logger.InfoContext(ctx, "DeviantArt authorized", slog.Time("expiry", res.Token.Expiry))
				}
			}))
		}
	}

	app := meiliguard.NewApp(claim.Listener, launcher, windows, opts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer log.LogPanic(logger)
		return app.Run(gctx)
	})

	if addr := viper.GetString("metrics-addr"); addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           metrics.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.InfoContext(gctx, "serving metrics", slog.String("addr", addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

func newDeviantArt(ctx context.Context, paths meiliguard.Paths, logger *slog.Logger) (*oauth.Receiver, error) {
	creds, err := oauth.LoadCredentials(filepath.Join(paths.ExeDir, oauth.CredentialsFile))
	if err != nil {
		return nil, err
	}
	receiver := oauth.NewReceiver(oauth.NewConfig(creds), oauth.DefaultRedirectAddr, logger)
	authURL, err := receiver.Begin(ctx)
	if err != nil {
		return nil, err
	}
	if err := openBrowser(authURL); err != nil {
		logger.WarnContext(ctx, "open this URL to authorize DeviantArt", slog.String("url", authURL), slog.Any("err", err))
	}
	return receiver, nil
}
