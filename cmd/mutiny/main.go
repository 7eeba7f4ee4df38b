package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/CZERTAINLY/Mutiny/internal/factory"
	"github.com/CZERTAINLY/Mutiny/internal/log"
	"github.com/CZERTAINLY/Mutiny/internal/model"
	"gopkg.in/yaml.v3"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	userConfigPath string // /default/config/path/mutiny on given OS
	configPath     string // actual config file used (if loaded)
	config         model.Config

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag
)

func init() {
	d, err := os.UserConfigDir()
	if err != nil {
		panic(err)
	}
	userConfigPath = filepath.Join(d, "mutiny")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rootCmd := newRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("mutiny failed", "err", err)
		cancel()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "mutiny",
		Short:        "Distributed mutation analysis with supervised minion processes",
		SilenceUsage: true,
		// never print messages
		SilenceErrors: true,
		// parse or create a config, setup logging
		PersistentPreRunE: initMutiny,
	}
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is mutiny.yaml in current directory or in "+userConfigPath)
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newMinionCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "version provide version of a mutiny",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			info, ok := debug.ReadBuildInfo()
			if !ok {
				_, err := fmt.Fprintln(out, "mutiny: version info not available")
				return err
			}

			if configPath != "" {
				fmt.Fprintf(out, "config: %s\n", configPath)
			}
			fmt.Fprintf(out, "mutiny: %s\n", info.Main.Version)
			fmt.Fprintf(out, "go:     %s\n", info.GoVersion)
			for _, s := range info.Settings {
				switch s.Key {
				case "vcs.revision":
					fmt.Fprintf(out, "commit: %s\n", s.Value)
				case "vcs.time":
					fmt.Fprintf(out, "date:   %s\n", s.Value)
				case "vcs.modified":
					fmt.Fprintf(out, "dirty:  %s\n", s.Value)
				}
			}
			_, err := fmt.Fprintln(out)
			return err
		},
	}
}

func initMutiny(cmd *cobra.Command, _ []string) error {
	// minions get everything they need on hello
	if cmd.Name() == factory.DefaultSubcommand {
		slog.SetDefault(log.New(os.Stderr, flagVerbose))
		return nil
	}

	if err := loadConfig(); err != nil {
		return err
	}
	if err := overrideConfig(cmd); err != nil {
		return err
	}

	// --verbose has a precedence over config file
	if flagVerbose {
		verbose := true
		config.Service.Verbose = &verbose
	}
	slog.SetDefault(log.New(os.Stderr, config.Verbose()))

	slog.Debug("mutiny run", "configPath", configPath)
	slog.Debug("mutiny run", "config", config)
	return nil
}

func loadConfig() error {
	if envConfig, ok := os.LookupEnv("MUTINYCONFIG"); ok {
		configPath = envConfig
	} else if flagConfigFilePath != "" {
		configPath = flagConfigFilePath
	} else {
		for _, d := range []string{".", userConfigPath} {
			path := filepath.Join(d, "mutiny.yaml")
			if exists(path) {
				configPath = path
				break
			}
		}
	}

	// store default configuration
	if configPath == "" {
		config = model.DefaultConfig()
		configPath = filepath.Join(userConfigPath, "mutiny.yaml")
		err := os.MkdirAll(filepath.Dir(configPath), 0755)
		if err != nil {
			return fmt.Errorf("creating directory %s: %w", filepath.Dir(configPath), err)
		}

		f, err := os.Create(configPath)
		if err != nil {
			return fmt.Errorf("creating file %s: %w", configPath, err)
		}
		defer func() {
			_ = f.Close()
		}()
		enc := yaml.NewEncoder(f)
		defer func() {
			_ = enc.Close()
		}()
		if err := enc.Encode(config); err != nil {
			return fmt.Errorf("storing configuration: %w", err)
		}
		return nil
	}

	f, err := os.Open(configPath)
	if err != nil {
		return fmt.Errorf("opening config file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	config, err = model.LoadConfig(f)
	if err != nil {
		for _, d := range model.CueErrDetails(err) {
			slog.Error("invalid configuration", d.Attr("detail"))
		}
		return fmt.Errorf("parsing config: %w", err)
	}
	return nil
}

// overrideConfig applies MUTINY_* environment variables and command line
// flags on top of the config file.
func overrideConfig(cmd *cobra.Command) error {
	v := viper.New()
	v.SetEnvPrefix("MUTINY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	for key, flag := range map[string]string{
		"pool.size":       "pool-size",
		"engine.id":       "engine",
		"timeout.percent": "timeout-percent",
	} {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}

	if v.IsSet("pool.size") {
		size := v.GetInt("pool.size")
		if size < 1 {
			return fmt.Errorf("pool.size must be positive, got %d", size)
		}
		config.Pool.Size = size
	}
	if v.IsSet("engine.id") {
		id := v.GetString("engine.id")
		if id != model.EngineExec && id != model.EngineNoop {
			return fmt.Errorf("engine.id %q is not supported", id)
		}
		config.Engine.ID = id
	}
	if v.IsSet("timeout.percent") {
		percent := v.GetInt("timeout.percent")
		if percent < 100 {
			return fmt.Errorf("timeout.percent must be at least 100, got %d", percent)
		}
		config.Timeout.Percent = percent
	}
	return nil
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
