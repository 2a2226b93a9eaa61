package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/togglebox/togglebox/pkg/client"
	"github.com/togglebox/togglebox/pkg/runtime"
)

var (
	platform     string
	environment  string
	uri          string
	port         int32
	cacheTTL     time.Duration
	pollInterval time.Duration
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the ToggleBox evaluation service",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go func() {
			c := make(chan os.Signal, 1)
			signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
			sig := <-c
			log.Infof("received %s, shutting down", sig)
			cancel()
		}()

		cfg := runtime.Config{
			Platform:    viper.GetString("platform"),
			Environment: viper.GetString("environment"),
			Port:        int32(viper.GetInt("port")),
			URI:         viper.GetString("uri"),
			ClientConfig: client.Config{
				CacheTTL:     viper.GetDuration("cache-ttl"),
				PollInterval: viper.GetDuration("poll-interval"),
			},
		}

		if err := runtime.Start(ctx, cfg); err != nil && ctx.Err() == nil {
			log.Fatal(err)
		}
	},
}

func init() {
	startCmd.Flags().StringVarP(&platform, "platform", "P", "web", "platform served by this instance")
	startCmd.Flags().StringVarP(&environment, "environment", "e", "production", "environment served by this instance")
	startCmd.Flags().StringVarP(&uri, "uri", "f", "", "definitions file to load and watch")
	startCmd.Flags().Int32VarP(&port, "port", "p", 8013, "port to listen on")
	startCmd.Flags().DurationVar(&cacheTTL, "cache-ttl", 30*time.Second, "definition cache TTL")
	startCmd.Flags().DurationVar(&pollInterval, "poll-interval", 0, "background refresh interval (0 disables polling)")

	for _, name := range []string{"platform", "environment", "uri", "port", "cache-ttl", "poll-interval"} {
		_ = viper.BindPFlag(name, startCmd.Flags().Lookup(name))
	}

	rootCmd.AddCommand(startCmd)
}
