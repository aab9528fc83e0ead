package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"battery-bridge/logging"
)

const serviceName = "battery-bridge"

func newRootCommand() *cobra.Command {
	v := viper.New()
	var configPath string

	cmd := &cobra.Command{
		Use:           serviceName,
		Short:         "Bridge battery telemetry to MQTT and HTTP",
		Long:          "battery-bridge reads a VE.Direct shunt, a CAN battery pack or a JK BMS and publishes a unified battery status to MQTT, HTTP and Prometheus.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v, configPath)
			if err != nil {
				return err
			}

			logger, err := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, serviceName)
			if err != nil {
				return err
			}
			defer logger.Sync()

			if err := run(cmd.Context(), cfg, logger); err != nil {
				logger.Error("Battery bridge failed", zap.Error(err))
				return err
			}
			return nil
		},
	}

	cmd.Flags().AddFlagSet(newFlagSet(v, &configPath))
	return cmd
}

// newFlagSet флаги командной строки; переопределяют файл и окружение
func newFlagSet(v *viper.Viper, configPath *string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(serviceName, pflag.ContinueOnError)
	fs.StringVarP(configPath, "config", "c", "", "path to config file")
	fs.String("provider", "", "battery provider: victron, pylontech or jkbms")
	fs.String("log-level", "", "log level: debug, info, warn, error")
	fs.String("http-listen", "", "HTTP listen address")

	_ = v.BindPFlag("battery.provider", fs.Lookup("provider"))
	_ = v.BindPFlag("logging.level", fs.Lookup("log-level"))
	_ = v.BindPFlag("http.listen", fs.Lookup("http-listen"))
	return fs
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
