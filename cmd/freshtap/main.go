package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/opsdash/go-fresh/config"
	"github.com/opsdash/go-fresh/logger"
	"github.com/opsdash/go-fresh/stream"
)

var (
	flagConfig   string
	flagURL      string
	flagChannels []string
	flagLevel    string
)

var rootCmd = &cobra.Command{
	Use:   "freshtap",
	Short: "Tail a dashboard push channel and print every decoded message",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(flagConfig)
		if err != nil {
			return err
		}
		if flagURL != "" {
			cfg.Stream.URL = flagURL
		}
		if len(flagChannels) > 0 {
			cfg.Stream.Channels = flagChannels
		}
		if cfg.Stream.URL == "" {
			return fmt.Errorf("no stream url: pass --url or set stream.url / FRESH_STREAM_URL")
		}

		level := logger.GetLevelFromEnv()
		if flagLevel != "" {
			level = logger.ParseLevel(flagLevel)
		} else if cfg.LogLevel != "" {
			level = logger.ParseLevel(cfg.LogLevel)
		}
		log := logger.NewConsoleLogger(level)

		clientCfg, err := cfg.Stream.ClientConfig(stream.Handlers{
			OnMetrics: func(m stream.MetricsSnapshot) {
				log.Info("metrics: cpu=%.1f%% mem=%.1f%% queue=%d throughput=%.1f/s",
					m.CPUPercent, m.MemoryPercent, m.QueueDepth, m.Throughput)
			},
			OnWorkerHealth: func(w stream.WorkerHealth) {
				log.Info("worker %s: %s, %d active tasks", w.WorkerID, w.Status, w.ActiveTasks)
			},
			OnAlert: func(a stream.Alert) {
				log.Warn("alert [%s] %s", a.Severity, a.Message)
			},
			OnTaskEvent: func(t stream.TaskEvent) {
				log.Info("task %s: %s (%.0f%%)", t.TaskID, t.State, t.Progress*100)
			},
		})
		if err != nil {
			return err
		}
		clientCfg.OnStateChange = func(s stream.State) {
			log.Info("connection state: %s", s)
		}

		ctx := context.Background()
		client := stream.New(ctx, clientCfg, log)
		client.Connect()

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		client.Disconnect()
		return nil
	},
}

func main() {
	rootCmd.Flags().StringVarP(&flagConfig, "config", "c", "", "path to YAML config")
	rootCmd.Flags().StringVarP(&flagURL, "url", "u", "", "websocket endpoint")
	rootCmd.Flags().StringSliceVar(&flagChannels, "channels", nil, "channels to subscribe")
	rootCmd.Flags().StringVar(&flagLevel, "level", "", "log level (trace..error)")
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
