package cmd

import (
	"github.com/spf13/cobra"

	"burst-sched/internal/config"
	"burst-sched/internal/logging"
)

var validateConfigFile string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a scenario configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return validateConfig(validateConfigFile)
	},
}

func init() {
	validateCmd.Flags().StringVarP(&validateConfigFile, "config", "c", "", "Path to scenario configuration file")
	validateCmd.MarkFlagRequired("config")
}

func validateConfig(configFile string) error {
	logger := logging.GetLogger()

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		logger.WithField("config_file", configFile).WithError(err).Error("Configuration validation failed")
		return err
	}

	checksum, err := config.ScenarioChecksum(cfg)
	if err != nil {
		checksum = "unknown"
	}

	logger.WithFields(map[string]interface{}{
		"config_file": configFile,
		"scenario":    cfg.Scenario.Name,
		"tasks":       len(cfg.Tasks),
		"checksum":    checksum,
	}).Info("Configuration is valid")
	return nil
}
