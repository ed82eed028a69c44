package main

import (
	"fmt"
	"os"

	"camera-switcher/internal/config"
	"camera-switcher/internal/logger"
	"camera-switcher/internal/models"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var v = config.NewViper()

var rootCmd = &cobra.Command{
	Use:   "camera-switcher",
	Short: "Switches dashboard cameras based on Home Assistant motion sensors",
	Long: `camera-switcher follows Home Assistant motion sensors and publishes,
per configured switcher, which camera a dashboard should show.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCmd.RunE(cmd, args)
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the switcher daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(v)
		if err != nil {
			return err
		}
		defer logger.Sync()
		return run(cmd.Context(), cfg)
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration file and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(v)
		if err != nil {
			return err
		}
		for _, s := range cfg.Switchers {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d cameras, default %s\n", s.Name, len(s.Cameras), s.Cameras[0].CameraEntity)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "config.yaml", "Path to configuration file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	cobra.CheckErr(v.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")))
	cobra.CheckErr(v.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level")))

	rootCmd.AddCommand(runCmd, validateCmd)
}

func loadConfig(v *viper.Viper) (*models.Config, error) {
	path := v.GetString("config")
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	config.ApplyOverrides(cfg, v)
	logger.SetLevel(cfg.LogLevel)

	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	logger.Infof("Loaded config from %s", path)
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
