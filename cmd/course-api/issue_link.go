package main

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Hakan2211/course-platform/internal/ids"
	"github.com/Hakan2211/course-platform/internal/users"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newIssueLinkCommand() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "issue-link",
		Short: "Create a magic sign-in link for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(email) == "" {
				return fmt.Errorf("--email is required")
			}
			appConfig, logger, db, err := loadRuntime()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			defer sqlDB.Close()

			userService, err := users.NewService(users.ServiceConfig{
				Database:   db,
				Clock:      time.Now,
				IDProvider: ids.NewUUIDProvider(),
				Logger:     logger,
			})
			if err != nil {
				return err
			}
			user, token, err := userService.IssueMagicLink(cmd.Context(), email, appConfig.MagicLinkTTL)
			if err != nil {
				return err
			}
			logger.Info("magic link issued", zap.String("user_id", user.ID))
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s/api/verify?token=%s\n", appConfig.BaseURL, url.QueryEscape(token))
			return err
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Email address of the user")
	return cmd
}
