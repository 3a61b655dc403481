package main

import (
	"errors"
	"net/http"

	"github.com/AnatoleLucet/worklet"
	"github.com/AnatoleLucet/worklet/internal/scenario"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:   "run <scenario.yaml>",
	Short: "Run a scenario and print the final values and reported errors",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger(cmd)
		if err != nil {
			return err
		}
		defer logger.Sync()

		sc, err := scenario.Load(args[0])
		if err != nil {
			return err
		}

		if cmd.Flags().Changed("frames") {
			sc.Frames, _ = cmd.Flags().GetInt("frames")
		}

		reg := prometheus.NewRegistry()
		if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
			serveMetrics(logger, reg, addr)
		}

		b := worklet.New(worklet.WithLogger(logger), worklet.WithMetrics(reg))
		defer b.Close()

		res, err := scenario.Run(b, sc)
		if err != nil {
			return err
		}

		res.Write(cmd.OutOrStdout())

		if failOnError, _ := cmd.Flags().GetBool("fail-on-error"); failOnError && len(res.Reports) > 0 {
			return errors.New("scenario reported errors")
		}

		return nil
	},
}

func serveMetrics(logger *zap.Logger, reg *prometheus.Registry, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	go func() {
		logger.Info("serving metrics", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().Int("frames", 0, "Override the number of frames rendered")
	runCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address while running")
	runCmd.Flags().Bool("fail-on-error", false, "Exit with an error when the scenario reported errors")
}
