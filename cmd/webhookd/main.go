package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/casebridge/casesync/internal/config"
	"github.com/casebridge/casesync/internal/logging"
	"github.com/casebridge/casesync/internal/objstore"
	"github.com/casebridge/casesync/internal/origin"
	"github.com/casebridge/casesync/internal/version"
	"github.com/casebridge/casesync/internal/webhook"
)

var rootCmd = &cobra.Command{
	Use:     "casesync-webhookd",
	Short:   "Webhook daemon propagating case-management events into the object store",
	Version: version.Detailed(),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		viper.BindPFlag("listen", cmd.Flags().Lookup("listen"))
		viper.BindPFlag("s3_path", cmd.Flags().Lookup("s3"))
		viper.BindPFlag("s3_root_prefix", cmd.Flags().Lookup("prefix"))
		viper.BindPFlag("org", cmd.Flags().Lookup("org"))
		viper.BindPFlag("log_file", cmd.Flags().Lookup("log-file"))
		viper.SetEnvPrefix("CASESYNC")
		viper.AutomaticEnv()

		envFile, _ := cmd.Flags().GetString("env-file")
		return config.LoadEnvFile(envFile)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		closer, err := logging.Setup(slog.LevelInfo, viper.GetString("log_file"))
		if err != nil {
			return err
		}
		defer closer()

		bucket, err := config.ParseS3Path(viper.GetString("s3_path"))
		if err != nil {
			return err
		}

		cfg := &config.Config{}
		cfg.FromEnv()
		if !cfg.Origin.HasOriginCreds() {
			return errors.New("origin credentials are required (API_KEY, API_SECRET, SESSION_URL)")
		}

		org := viper.GetString("org")
		store, err := objstore.NewClient(cmd.Context(), &objstore.Config{
			Bucket:    bucket,
			Region:    viper.GetString("aws_region"),
			AccessKey: viper.GetString("aws_access_key_id"),
			SecretKey: viper.GetString("aws_secret_access_key"),
			Endpoint:  viper.GetString("s3_endpoint"),
			Layout: objstore.Layout{
				RootPrefix:    viper.GetString("s3_root_prefix"),
				OrgMarker:     org,
				OrgFolderName: org,
			},
		})
		if err != nil {
			return err
		}

		svc := webhook.NewService(origin.NewClient(cfg.Origin), store)
		router := webhook.NewRouter(svc, slog.Default())

		addr := viper.GetString("listen")
		if addr == "" {
			addr = config.DefaultListenAddr
		}
		srv := &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			slog.Info("listening", "addr", addr, "app", version.Short())
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			return err
		case <-cmd.Context().Done():
		}

		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	rootCmd.Flags().SortFlags = false
	rootCmd.Flags().StringP("listen", "l", config.DefaultListenAddr, "Listen address")
	rootCmd.Flags().StringP("s3", "s", "", "Object store path, s3://<bucket>")
	rootCmd.Flags().String("prefix", "", "Key prefix above the project folders")
	rootCmd.Flags().String("org", "", "Organization segment for object keys")
	rootCmd.Flags().String("env-file", ".env", "Env file with Origin credentials")
	rootCmd.Flags().String("log-file", "", "Also write logs to this file")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
