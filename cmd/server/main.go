package main

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"experiment-scheduler/config"
)

const configFlag = "config"

func main() {
	if err := rootCmd().Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "experiment-scheduler",
		Short:        "Schedules training experiments onto Kubernetes",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().String(configFlag, "", "Path to a YAML configuration file")

	cmd.AddCommand(serveCmd(), stopCmd())
	return cmd
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString(configFlag)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := config.ConfigureLogging(cfg.Log); err != nil {
		return nil, err
	}
	return cfg, nil
}
