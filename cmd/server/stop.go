package main

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"experiment-scheduler/core/scheduler"
)

func stopCmd() *cobra.Command {
	var experimentID int64

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Delete the cluster resources of one experiment",
		RunE: func(cmd *cobra.Command, args []string) error {
			if experimentID <= 0 {
				return errors.New("--experiment must be a positive id")
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			ctx := context.Background()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			exp, err := a.scheduler.LoadExperiment(ctx, experimentID)
			if err != nil {
				return err
			}

			req := scheduler.NewStopRequest(exp)

			result, err := a.scheduler.StopExperiment(ctx, req)
			if err != nil {
				return errors.Wrapf(err, "failed to stop experiment %s", exp.UniqueName())
			}
			log.WithFields(log.Fields{
				"experiment": exp.UniqueName(),
				"pods":       len(result.DeletedPods),
				"services":   len(result.DeletedServices),
			}).Info("Stopped experiment")
			return nil
		},
	}
	cmd.Flags().Int64Var(&experimentID, "experiment", 0, "Id of the experiment to stop")
	return cmd
}
