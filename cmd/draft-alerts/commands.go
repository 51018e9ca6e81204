package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ErinHernandez/TopDog-sub011/internal/auth"
	"github.com/ErinHernandez/TopDog-sub011/internal/database"
	"github.com/ErinHernandez/TopDog-sub011/internal/draft"
	"github.com/ErinHernandez/TopDog-sub011/internal/presence"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newSweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove expired ledger entries once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, logger, err := loadRuntime()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
			if err != nil {
				return err
			}
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			defer sqlDB.Close()

			alertLedger, err := openLedger(appConfig, db, logger)
			if err != nil {
				return err
			}
			defer alertLedger.Close()

			removed, err := alertLedger.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			logger.Info("ledger sweep finished",
				zap.String("backend", appConfig.LedgerBackend),
				zap.Int64("removed", removed),
			)
			return nil
		},
	}
}

func newWatchCommand() *cobra.Command {
	var (
		streamURL  string
		token      string
		roomID     string
		background bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the alert stream as a participant client would",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger, err := loadRuntime()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			reader, err := presence.OpenStream(cmd.Context(), &http.Client{}, streamURL, token)
			if err != nil {
				return err
			}
			defer reader.Close()

			gate := presence.NewGate()
			view := presence.View{RoomID: draft.RoomID(roomID), Foreground: !background, Visible: !background}
			for {
				message, err := reader.Next()
				if err != nil {
					if errors.Is(err, io.EOF) || cmd.Context().Err() != nil {
						return nil
					}
					return err
				}
				decision := gate.Decide(view, message)
				logger.Info("alert received",
					zap.String("alert_kind", message.Data.AlertKind.String()),
					zap.String("room_id", message.Data.RoomID.String()),
					zap.Int("round", message.Data.Round),
					zap.String("deep_link", message.Data.DeepLinkURL),
					zap.Bool("play_cue", decision.PlayCue),
					zap.String("cue", string(decision.Cue)),
					zap.Bool("show_notification", decision.ShowNotification),
				)
				if decision.ShowNotification {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", message.Title, message.Body)
				}
			}
		},
	}
	cmd.Flags().StringVar(&streamURL, "stream-url", "http://127.0.0.1:8080/alerts/stream", "Alert stream endpoint")
	cmd.Flags().StringVar(&token, "token", "", "Participant access token")
	cmd.Flags().StringVar(&roomID, "room", "", "Draft room currently on screen")
	cmd.Flags().BoolVar(&background, "background", false, "Treat the client as backgrounded")
	return cmd
}

func newIssueTokenCommand() *cobra.Command {
	var (
		subject string
		roles   []string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Mint a signed token for a trigger or participant",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, _, err := loadRuntime()
			if err != nil {
				return err
			}
			if err := appConfig.RequireSigningSecret(); err != nil {
				return err
			}
			issuer, err := auth.NewIssuer(auth.IssuerConfig{
				SigningSecret: []byte(appConfig.AuthSigningSecret),
				Issuer:        appConfig.AuthIssuer,
				TokenTTL:      ttl,
			})
			if err != nil {
				return err
			}
			token, expiresAt, err := issuer.Issue(subject, roles...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "Token subject (user id for participants)")
	cmd.Flags().StringSliceVar(&roles, "role", []string{auth.RoleParticipant}, "Granted roles (trigger, participant)")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	return cmd
}
