package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/Hakan2211/course-platform/internal/logging"
	"github.com/Hakan2211/course-platform/internal/progress"
	"github.com/Hakan2211/course-platform/internal/progressclient"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const cacheReadyTimeout = 15 * time.Second

type progressOptions struct {
	apiURL string
	token  string
}

func newProgressCommand() *cobra.Command {
	options := &progressOptions{}
	cmd := &cobra.Command{
		Use:   "progress",
		Short: "Inspect or update lesson progress through a running server",
	}
	cmd.PersistentFlags().StringVar(&options.apiURL, "api-url", "http://localhost:8080", "Course API base URL")
	cmd.PersistentFlags().StringVar(&options.token, "session-token", os.Getenv("COURSE_SESSION_TOKEN"), "Session cookie value")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print the signed-in user's progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			cache, closeCache, err := options.openCache(cmd.Context())
			if err != nil {
				return err
			}
			defer closeCache()

			writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(writer, "MODULE\tLESSON\tSTATUS\tCOMPLETED")
			for _, record := range cache.Records() {
				completed := "-"
				if record.CompletedAt != nil {
					completed = record.CompletedAt.Format(time.RFC3339)
				}
				fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n", record.ModuleSlug, record.LessonSlug, record.Status, completed)
			}
			return writer.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <module> <lesson> <status>",
		Short: "Set the status of a lesson",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := progress.ParseStatus(args[2])
			if err != nil {
				return err
			}
			cache, closeCache, err := options.openCache(cmd.Context())
			if err != nil {
				return err
			}
			defer closeCache()

			if _, err := cache.UpdateStatus(cmd.Context(), args[0], args[1], status); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s/%s: %s\n", args[0], args[1], cache.GetStatus(args[0], args[1]))
			return err
		},
	})
	return cmd
}

// openCache signs in with the session token and waits for the first fetch to settle.
func (o *progressOptions) openCache(ctx context.Context) (*progressclient.Cache, func(), error) {
	logger, err := logging.NewLogger(viper.GetString("log.level"), viper.GetString("app.environment"))
	if err != nil {
		return nil, nil, err
	}
	client, err := progressclient.NewClient(progressclient.ClientConfig{
		BaseURL:      o.apiURL,
		CookieName:   viper.GetString("auth.cookie_name"),
		SessionToken: o.token,
		Logger:       logger,
	})
	if err != nil {
		return nil, nil, err
	}
	identity, err := client.Session(ctx)
	if err != nil {
		return nil, nil, err
	}
	if identity == nil {
		return nil, nil, progressclient.ErrUnauthorized
	}

	cache := progressclient.NewCache(progressclient.CacheConfig{Backend: client, Logger: logger})
	closeCache := func() {
		cache.Close()
		_ = logger.Sync()
	}
	cache.AuthChanged(identity)

	deadline := time.NewTimer(cacheReadyTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()
	for {
		switch cache.State() {
		case progressclient.StateReady:
			return cache, closeCache, nil
		case progressclient.StateError:
			closeCache()
			return nil, nil, fmt.Errorf("failed to load progress for %s", identity.Email)
		}
		select {
		case <-ctx.Done():
			closeCache()
			return nil, nil, ctx.Err()
		case <-deadline.C:
			closeCache()
			logger.Warn("progress fetch timed out", zap.String("user_id", identity.UserID))
			return nil, nil, fmt.Errorf("timed out loading progress")
		case <-ticker.C:
		}
	}
}
