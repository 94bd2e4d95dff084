package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/vitalvas/mqttclient"
	"github.com/vitalvas/mqttclient/extensions/badgerstore"
)

// connectFlags are shared by every command that connects.
type connectFlags struct {
	config     string
	servers    []string
	clientID   string
	username   string
	password   string
	version    int
	keepAlive  uint16
	cleanStart bool
	sessionDir string
	timeout    time.Duration
	logLevel   string
	logFormat  string
}

func (f *connectFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&f.config, "config", "c", "", "YAML config file")
	fs.StringSliceVarP(&f.servers, "server", "s", nil, "server URL, repeatable (default tcp://localhost:1883)")
	fs.StringVarP(&f.clientID, "client-id", "i", "", "client identifier")
	fs.StringVarP(&f.username, "username", "u", "", "user name")
	fs.StringVarP(&f.password, "password", "P", "", "password")
	fs.IntVarP(&f.version, "version", "V", 5, "protocol version, 4 (3.1.1) or 5")
	fs.Uint16VarP(&f.keepAlive, "keepalive", "k", 60, "keep alive in seconds")
	fs.BoolVar(&f.cleanStart, "clean-start", true, "start a new session")
	fs.StringVar(&f.sessionDir, "session-dir", "", "persist QoS flows in this directory")
	fs.DurationVar(&f.timeout, "timeout", 10*time.Second, "connect timeout")
	fs.StringVar(&f.logLevel, "log-level", "warn", "log level: debug, info, warn, error, none")
	fs.StringVar(&f.logFormat, "log-format", "text", "log format: text or json")
}

func (f *connectFlags) logger() (mqttclient.Logger, error) {
	level, ok := mqttclient.ParseLogLevel(f.logLevel)
	if !ok {
		return nil, fmt.Errorf("unknown log level %q", f.logLevel)
	}

	handlerOpts := &slog.HandlerOptions{Level: slog.LevelDebug}
	var handler slog.Handler
	switch f.logFormat {
	case "text":
		handler = slog.NewTextHandler(os.Stderr, handlerOpts)
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		return nil, fmt.Errorf("unknown log format %q", f.logFormat)
	}
	return mqttclient.NewSlogLogger(handler, level), nil
}

// options merges the config file with the flags that were set explicitly.
func (f *connectFlags) options(fs *pflag.FlagSet, logger mqttclient.Logger) ([]mqttclient.Option, error) {
	var opts []mqttclient.Option
	if f.config != "" {
		cfg, err := mqttclient.LoadConfig(f.config)
		if err != nil {
			return nil, err
		}
		opts = append(opts, cfg.Options()...)
	}

	servers := f.servers
	if len(servers) == 0 && f.config == "" {
		servers = []string{"tcp://localhost:1883"}
	}
	if len(servers) > 0 {
		opts = append(opts, mqttclient.WithServers(servers...))
	}
	if fs.Changed("client-id") {
		opts = append(opts, mqttclient.WithClientID(f.clientID))
	}
	if fs.Changed("username") || fs.Changed("password") {
		opts = append(opts, mqttclient.WithCredentials(f.username, f.password))
	}
	if fs.Changed("version") || f.config == "" {
		opts = append(opts, mqttclient.WithProtocolVersion(mqttclient.ProtocolVersion(f.version)))
	}
	if fs.Changed("keepalive") {
		opts = append(opts, mqttclient.WithKeepAlive(f.keepAlive))
	}
	if fs.Changed("clean-start") {
		opts = append(opts, mqttclient.WithCleanStart(f.cleanStart))
	}
	if fs.Changed("timeout") {
		opts = append(opts, mqttclient.WithConnectTimeout(f.timeout))
	}
	opts = append(opts, mqttclient.WithLogger(logger))
	return opts, nil
}

// openStore opens the badger flow store when --session-dir is set. The
// returned close function is never nil.
func (f *connectFlags) openStore(logger mqttclient.Logger) (mqttclient.Option, func(), error) {
	if f.sessionDir == "" {
		return nil, func() {}, nil
	}
	store, err := badgerstore.New(badgerstore.Options{Dir: f.sessionDir, Logger: logger})
	if err != nil {
		return nil, nil, err
	}
	return mqttclient.WithFlowStore(store), func() { store.Close() }, nil
}

// dial builds a client from the flags and connects it.
func dial(ctx context.Context, cmd *cobra.Command, f *connectFlags, extra ...mqttclient.Option) (*mqttclient.Client, func(), error) {
	logger, err := f.logger()
	if err != nil {
		return nil, nil, err
	}
	opts, err := f.options(cmd.Flags(), logger)
	if err != nil {
		return nil, nil, err
	}
	storeOpt, closeStore, err := f.openStore(logger)
	if err != nil {
		return nil, nil, err
	}
	if storeOpt != nil {
		opts = append(opts, storeOpt)
	}
	opts = append(opts, extra...)

	client, err := mqttclient.New(opts...)
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	if err := client.Connect(ctx); err != nil {
		closeStore()
		var ce *mqttclient.ConnectError
		if errors.As(err, &ce) && ce.Cause == nil {
			return nil, nil, fmt.Errorf("server refused connection: %s", ce.ReasonCode)
		}
		return nil, nil, err
	}

	cleanup := func() {
		dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Disconnect(dctx, mqttclient.ReasonSuccess)
		closeStore()
	}
	return client, cleanup, nil
}

var rootCmd = &cobra.Command{
	Use:           "mqttc",
	Short:         "MQTT 3.1.1 and 5.0 command line client",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(newPubCmd(), newSubCmd())
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}
