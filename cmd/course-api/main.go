package main

import (
	"errors"
	"os"

	"github.com/Hakan2211/course-platform/internal/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "course-api",
		Short:         "Course platform backend service",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newIssueLinkCommand(), newProgressCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.StringVar(&envFile, "env-file", ".env", "Optional dotenv file loaded before the environment is read")
	flags.String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	flags.String("trusted-proxies", "", "Comma separated proxy addresses or CIDRs allowed to set X-Forwarded-For")
	flags.String("environment", defaults.GetString("app.environment"), "Deployment environment (production enables secure cookies)")
	flags.String("base-url", defaults.GetString("app.base_url"), "Public site URL used for redirects and magic links")
	flags.String("signing-secret", "", "Session signing secret (overrides env)")
	flags.String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	flags.String("database-path", defaults.GetString("database.path"), "SQLite database path")
	flags.String("database-dsn", "", "Postgres connection string")
	flags.String("content-dir", defaults.GetString("content.dir"), "Course content directory")
	flags.String("redis-address", "", "Redis address enabling the verify rate limiter")
	flags.String("amqp-url", "", "RabbitMQ URL enabling progress events")
	flags.String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "http.trusted_proxies", "trusted-proxies")
	bindFlag(cmd, "app.environment", "environment")
	bindFlag(cmd, "app.base_url", "base-url")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "content.dir", "content-dir")
	bindFlag(cmd, "redis.address", "redis-address")
	bindFlag(cmd, "amqp.url", "amqp-url")
	bindFlag(cmd, "log.level", "log-level")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}
