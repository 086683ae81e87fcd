// Command meiliguard sits between kumo and the search service. It asks the
// kernel for a signal when kumo exits and kills the service when it arrives.
// Arguments after "--" are forwarded to the service.
//
// A SIGKILL delivered to meiliguard itself leaves the service running.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/axondata/go-meiliguard"
	"github.com/axondata/go-meiliguard/internal/log"
)

func main() {
	rootCmd.Flags().String("meili", "", "Search service directory (default: executable directory)")
	rootCmd.Flags().String("service", "", "Search service executable (default: <meili>/meilisearch)")
	rootCmd.Flags().Int("parent-pid", 0, "Expected parent PID; exit if the parent is already gone")
	rootCmd.Flags().String("status-dir", "", "Publish a status record in this directory")
	rootCmd.Flags().Bool("verbose", false, "verbose logging")

	v := viper.New()
	v.SetEnvPrefix("MEILIGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for _, name := range []string{"meili", "service", "parent-pid", "status-dir", "verbose"} {
		_ = v.BindPFlag(name, rootCmd.Flags().Lookup(name))
	}
	cfg = v

	rootCmd.SilenceErrors = true

	if err := rootCmd.Execute(); err != nil {
		slog.Error("meiliguard failed", "err", err)
		os.Exit(1)
	}
	os.Exit(exitCode)
}

var (
	cfg      *viper.Viper
	exitCode int
)

var rootCmd = &cobra.Command{
	Use:          "meiliguard [flags] -- [service args]",
	Short:        "Supervise the search service on behalf of kumo",
	SilenceUsage: true,
	RunE:         doGuard,
}

func doGuard(cmd *cobra.Command, args []string) error {
	logger := log.New(cfg.GetBool("verbose"))
	slog.SetDefault(logger)

	if dash := cmd.ArgsLenAtDash(); dash > 0 {
		return fmt.Errorf("unexpected arguments before %s: %v", meiliguard.ArgSeparator, args[:dash])
	} else if dash < 0 && len(args) > 0 {
		return fmt.Errorf("service arguments must follow %s", meiliguard.ArgSeparator)
	}

	dir := cfg.GetString("meili")
	if dir == "" {
		paths, err := meiliguard.NewPathResolver().Resolve()
		if err != nil {
			return err
		}
		dir = paths.ServiceDir
	}

	code, err := meiliguard.RunGuard(cmd.Context(), meiliguard.GuardConfig{
		ServiceDir:  dir,
		ServicePath: cfg.GetString("service"),
		ParentPID:   cfg.GetInt("parent-pid"),
		StatusDir:   cfg.GetString("status-dir"),
		Args:        args,
		Logger:      logger,
	})
	exitCode = code
	return err
}
