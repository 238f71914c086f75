package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	runtimepkg "github.com/drblury/serialbridge/internal/runtime"
	configpkg "github.com/drblury/serialbridge/internal/runtime/config"
	loggingpkg "github.com/drblury/serialbridge/internal/runtime/logging"
	_ "github.com/drblury/serialbridge/storage/stores"
	_ "github.com/drblury/serialbridge/transport/transports"
)

// Overridden in tests.
var (
	logOutput   io.Writer = os.Stderr
	serviceDeps           = runtimepkg.ServiceDependencies{}
)

type rootArgs struct {
	configFile string
	verbosity  int
}

func newRootCmd() *cobra.Command {
	args := &rootArgs{}
	v := configpkg.NewViper()

	rootCmd := &cobra.Command{
		Use:           "serialbridge",
		Short:         "Bridge serial device readings through a message broker into a document store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&args.configFile, "config", "c", configpkg.DefaultConfigFile, "configuration file (ini, yaml, toml or json)")
	rootCmd.PersistentFlags().CountVarP(&args.verbosity, "verbose", "v", "verbose output, repeat for more")
	rootCmd.PersistentFlags().String("pubsub", "", "transport (stomp, kafka, rabbitmq, nats, aws, http, io, channel)")
	rootCmd.PersistentFlags().Int("metrics-port", 0, "serve /metrics and /api/status on this port")
	mustBind(v, configpkg.KeyPubSubSystem, rootCmd.PersistentFlags().Lookup("pubsub"))
	mustBind(v, configpkg.KeyMetricsPort, rootCmd.PersistentFlags().Lookup("metrics-port"))

	rootCmd.AddCommand(buildPublishCmd(v, args))
	rootCmd.AddCommand(buildSubscribeCmd(v, args))

	return rootCmd
}

func buildPublishCmd(v *viper.Viper, args *rootArgs) *cobra.Command {
	publishCmd := &cobra.Command{
		Use:   "publish",
		Short: "Read lines from the device and publish extracted records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), v, args, (*runtimepkg.Service).Publish)
		},
	}

	flags := publishCmd.Flags()
	flags.String("source", "", "line source kind (serial or file)")
	flags.String("device", "", "serial device or file to read, - for stdin")
	flags.Int("baud", 0, "serial baud rate")
	flags.String("topic", "", "topic to publish records to")
	flags.String("rules", "", "extraction rule file (yaml or json)")
	flags.String("rule", "", "name of the rule to apply")
	flags.Bool("log", false, "keep an hourly raw log of every line read")
	flags.String("logdir", "", "raw log directory")
	mustBind(v, configpkg.KeyDeviceKind, flags.Lookup("source"))
	mustBind(v, configpkg.KeyDevicePath, flags.Lookup("device"))
	mustBind(v, configpkg.KeyDeviceBaud, flags.Lookup("baud"))
	mustBind(v, configpkg.KeyPublishTopic, flags.Lookup("topic"))
	mustBind(v, configpkg.KeyPublishRules, flags.Lookup("rules"))
	mustBind(v, configpkg.KeyPublishRule, flags.Lookup("rule"))
	mustBind(v, configpkg.KeyPublishLog, flags.Lookup("log"))
	mustBind(v, configpkg.KeyPublishLogDir, flags.Lookup("logdir"))

	return publishCmd
}

func buildSubscribeCmd(v *viper.Viper, args *rootArgs) *cobra.Command {
	subscribeCmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Store every message of the bound topics in the document store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), v, args, (*runtimepkg.Service).Subscribe)
		},
	}

	flags := subscribeCmd.Flags()
	flags.String("bindings", "", "topic bindings file (yaml or json)")
	flags.String("duplicates", "", "duplicate binding policy (warn or reject)")
	flags.String("backend", "", "document store backend")
	flags.String("store-url", "", "document store connection URL")
	flags.String("store-path", "", "document store directory or file")
	mustBind(v, configpkg.KeySubscribeList, flags.Lookup("bindings"))
	mustBind(v, configpkg.KeySubscribeDuplicates, flags.Lookup("duplicates"))
	mustBind(v, configpkg.KeySubscribeBackend, flags.Lookup("backend"))
	mustBind(v, configpkg.KeySubscribeURL, flags.Lookup("store-url"))
	mustBind(v, configpkg.KeySubscribePath, flags.Lookup("store-path"))

	return subscribeCmd
}

// run loads the configuration, builds the service and runs one side of the
// bridge until ctx is cancelled or a fatal error occurs.
func run(ctx context.Context, v *viper.Viper, args *rootArgs, side func(*runtimepkg.Service, context.Context) error) error {
	if args.verbosity > 0 {
		v.Set(configpkg.KeyVerbosity, args.verbosity)
	}
	conf, err := configpkg.Load(v, args.configFile)
	if err != nil {
		fmt.Fprintln(logOutput, err)
		return err
	}

	log := loggingpkg.New(logOutput, conf.Verbosity)

	svc, err := runtimepkg.NewService(ctx, conf, log, serviceDeps)
	if err != nil {
		log.Error("Failed to start", err, nil)
		return err
	}

	runErr := side(svc, ctx)
	if err := svc.Close(); err != nil {
		log.Error("Failed to close service", err, nil)
	}
	if runErr != nil {
		log.Error("Stopped", runErr, nil)
		return runErr
	}
	log.Info("Stopped", nil)
	return nil
}

func mustBind(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(err)
	}
}
