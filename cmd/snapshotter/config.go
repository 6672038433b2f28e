package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ledgerwatch/snapshotter/internal/logging"
	"github.com/ledgerwatch/snapshotter/pkg/snapshot"
)

var (
	// Used for flags.
	cfgFile    string
	engineName string

	rootCmd = &cobra.Command{
		Use:           "snapshotter",
		Short:         "Create, inspect and restore warp snapshots of a chain database",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	defaults := snapshot.NewDefaultConfig()
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.snapshotter.yaml)")
	flags.StringVar(&engineName, "engine", "ethash", "consensus engine of the chain: ethash, authority or null")

	flags.Int("snapshot.chunk-size", defaults.PreferredChunkSize, "preferred uncompressed chunk size in bytes")
	flags.Int("snapshot.max-chunk-size", 0, "largest accepted uncompressed chunk in bytes (default 5/4 of the chunk size)")
	flags.Uint64("snapshot.blocks", defaults.SnapshotBlocks, "recent blocks carried by a proof-of-work snapshot")
	flags.Uint64("restore.max-blocks", defaults.MaxRestoreBlocks, "most blocks a restoration accepts")
	flags.Int("snapshot.workers", defaults.StateWorkers, "parallel state chunkers")
	flags.Int("snapshot.cache", defaults.ChunkCacheSize, "served chunks kept in memory")
	flags.String("snapshot.root", defaults.Root, "directory holding the current snapshot and restorations")

	flags.String("log.dir.path", "./logs", "directory path to store logs data")
	flags.String("log.file.name", "snapshotter.log", "name of the log file")
	flags.Int("log.file.size.max", 100, "maximum size of log file in mega bytes to allow")
	flags.Int("log.file.age.max", 28, "maximum age in days a log file can persist in system")
	flags.Int("log.max.backup", 5, "maximum number of log files that can persist")
	flags.Bool("log.compress", false, "whether to compress historical log files or not")
	flags.String("log.level", "info", "log level: debug, info, warn or error")

	cobra.CheckErr(viper.BindPFlags(flags))

	rootCmd.AddCommand(demoCmd, takeCmd, inspectCmd, restoreCmd, serveCmd)
}

func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".snapshotter" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".snapshotter")
	}

	viper.SetEnvPrefix("snapshotter")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func loadSnapshotConfig() (snapshot.Config, error) {
	cfg := snapshot.NewDefaultConfig()
	cfg.PreferredChunkSize = viper.GetInt("snapshot.chunk-size")
	cfg.MaxChunkSize = viper.GetInt("snapshot.max-chunk-size")
	if cfg.MaxChunkSize == 0 {
		cfg.MaxChunkSize = cfg.PreferredChunkSize / 4 * 5
	}
	cfg.SnapshotBlocks = viper.GetUint64("snapshot.blocks")
	cfg.MaxRestoreBlocks = viper.GetUint64("restore.max-blocks")
	cfg.StateWorkers = viper.GetInt("snapshot.workers")
	cfg.ChunkCacheSize = viper.GetInt("snapshot.cache")
	cfg.Root = viper.GetString("snapshot.root")
	return cfg, cfg.Validate()
}

func newLogger() (*zap.Logger, error) {
	return logging.SetupLogger(logging.Config{
		DirPath:     viper.GetString("log.dir.path"),
		FileName:    viper.GetString("log.file.name"),
		FileSizeMax: viper.GetInt("log.file.size.max"),
		FilesAgeMax: viper.GetInt("log.file.age.max"),
		FilesMax:    viper.GetInt("log.max.backup"),
		Compress:    viper.GetBool("log.compress"),
		Level:       viper.GetString("log.level"),
	})
}
