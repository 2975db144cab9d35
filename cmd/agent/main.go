package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/casebridge/casesync/internal/config"
	"github.com/casebridge/casesync/internal/logging"
	"github.com/casebridge/casesync/internal/objstore"
	"github.com/casebridge/casesync/internal/orchestrator"
	"github.com/casebridge/casesync/internal/origin"
	"github.com/casebridge/casesync/internal/version"
)

var rootCmd = &cobra.Command{
	Use:     "casesync-agent",
	Short:   "Two-way sync agent between a local case mirror and the object store",
	Version: version.Detailed(),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindConfig(cmd)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := buildConfig()
		if err != nil {
			return err
		}
		cmd.SilenceUsage = true

		closer, err := logging.Setup(logLevel(), viper.GetString("log_file"))
		if err != nil {
			return err
		}
		defer closer()

		slog.Info("starting", "app", version.Short(), "mirrorRoot", cfg.MirrorRoot, "bucket", cfg.Bucket)

		store, err := objstore.NewClient(cmd.Context(), &objstore.Config{
			Bucket:    cfg.Bucket,
			Region:    viper.GetString("aws_region"),
			AccessKey: viper.GetString("aws_access_key_id"),
			SecretKey: viper.GetString("aws_secret_access_key"),
			Endpoint:  viper.GetString("s3_endpoint"),
			Layout: objstore.Layout{
				RootPrefix:    cfg.S3RootPrefix,
				OrgMarker:     cfg.OrgMarker,
				OrgFolderName: cfg.OrgFolderName,
			},
		})
		if err != nil {
			return err
		}

		var originAPI orchestrator.OriginAPI
		if cfg.Origin.HasOriginCreds() {
			originAPI = origin.NewClient(cfg.Origin)
			slog.Info("origin api enabled", "baseUrl", cfg.Origin.BaseURL)
		} else {
			slog.Info("origin api disabled, no credentials")
		}

		defer slog.Info("Bye!")
		return orchestrator.New(cfg, store, originAPI).Run(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().SortFlags = false
	rootCmd.Flags().StringP("root", "r", "", "Local mirror root directory")
	rootCmd.Flags().StringP("s3", "s", "", "Object store path, s3://<bucket>")
	rootCmd.Flags().String("prefix", "", "Key prefix above the project folders")
	rootCmd.Flags().String("org", "", "Organization segment expected in object keys")
	rootCmd.Flags().String("org-folder", "", "Organization segment written to object keys (defaults to --org)")
	rootCmd.Flags().String("project-map", "", "Path to the persisted project-name to id map")
	rootCmd.Flags().Duration("poll", config.DefaultPollInterval, "Project re-discovery interval")
	rootCmd.Flags().Bool("origin-upload", false, "Also push locally created files to the Origin API")
	rootCmd.Flags().Bool("require-resolved", false, "Fail Origin uploads whose folder path cannot be resolved")
	rootCmd.Flags().Int64("root-folder-id", 0, "Origin root folder id (inferred when 0)")
	rootCmd.Flags().String("env-file", ".env", "Env file with Origin credentials")
	rootCmd.Flags().String("log-file", "", "Also write logs to this file")
	rootCmd.Flags().BoolP("verbose", "v", false, "Debug logging")
}

func bindConfig(cmd *cobra.Command) error {
	for env, flag := range map[string]string{
		"mirror_root":    "root",
		"s3_path":        "s3",
		"s3_root_prefix": "prefix",
		"org":            "org",
		"org_folder":     "org-folder",
		"project_map":    "project-map",
		"poll_interval":  "poll",
		"origin_upload":  "origin-upload",
		"root_folder_id": "root-folder-id",
		"log_file":       "log-file",
		"verbose":        "verbose",
	} {
		if err := viper.BindPFlag(env, cmd.Flags().Lookup(flag)); err != nil {
			return err
		}
	}
	viper.SetEnvPrefix("CASESYNC")
	viper.AutomaticEnv()

	envFile, _ := cmd.Flags().GetString("env-file")
	return config.LoadEnvFile(envFile)
}

func buildConfig() (*config.Config, error) {
	cfg := &config.Config{
		MirrorRoot:    viper.GetString("mirror_root"),
		S3Path:        viper.GetString("s3_path"),
		S3RootPrefix:  viper.GetString("s3_root_prefix"),
		OrgMarker:     viper.GetString("org"),
		OrgFolderName: viper.GetString("org_folder"),

		RootFolderID:       viper.GetInt64("root_folder_id"),
		RequireResolved:    viper.GetBool("require_resolved"),
		EnableOriginUpload: viper.GetBool("origin_upload"),

		ProjectMapPath: viper.GetString("project_map"),
		PollInterval:   viper.GetDuration("poll_interval"),
	}
	if cfg.OrgFolderName == "" {
		cfg.OrgFolderName = cfg.OrgMarker
	}
	if cfg.ProjectMapPath == "" && cfg.MirrorRoot != "" {
		cfg.ProjectMapPath = cfg.MirrorRoot + "/.project_map.json"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = config.DefaultPollInterval
	}

	bucket, err := config.ParseS3Path(cfg.S3Path)
	if err != nil {
		return nil, err
	}
	cfg.Bucket = bucket

	cfg.FromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func logLevel() slog.Level {
	if viper.GetBool("verbose") {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "casesync-agent: %v (after %s)\n", err, time.Since(start).Round(time.Second))
		os.Exit(1)
	}
}
