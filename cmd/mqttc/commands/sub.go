package commands

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/vitalvas/mqttclient"
	"github.com/vitalvas/mqttclient/extensions/promstats"
)

func newSubCmd() *cobra.Command {
	var (
		conn        connectFlags
		topics      []string
		qos         uint8
		count       int
		verbose     bool
		manualAck   bool
		reconnect   bool
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "sub",
		Short: "Subscribe and print received messages",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(topics) == 0 {
				return errors.New("at least one --topic is required")
			}
			ctx := cmd.Context()

			extra := []mqttclient.Option{
				mqttclient.WithManualAck(manualAck),
				mqttclient.WithAutoReconnect(reconnect),
			}
			if metricsAddr != "" {
				reg := prometheus.NewRegistry()
				extra = append(extra, mqttclient.WithMetrics(promstats.New(reg, "")))

				srv := &http.Server{Addr: metricsAddr, Handler: promstats.Handler(reg)}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						fmt.Fprintln(os.Stderr, "metrics server:", err)
					}
				}()
				defer srv.Close()
			}

			client, cleanup, err := dial(ctx, cmd, &conn, extra...)
			if err != nil {
				return err
			}
			defer cleanup()

			done := make(chan struct{})
			var received atomic.Int64
			handler := func(m *mqttclient.Message) {
				if verbose {
					fmt.Printf("%s %s\n", m.Topic, m.Payload)
				} else {
					fmt.Printf("%s\n", m.Payload)
				}
				if manualAck {
					_ = m.Ack()
				}
				if n := received.Add(1); count > 0 && n == int64(count) {
					close(done)
				}
			}

			subs := make([]mqttclient.Subscription, 0, len(topics))
			for _, t := range topics {
				subs = append(subs, mqttclient.Subscription{TopicFilter: t, QoS: qos})
			}
			if err := client.Subscribe(ctx, handler, subs...).Wait(ctx); err != nil {
				return err
			}

			select {
			case <-done:
			case <-ctx.Done():
			}
			return nil
		},
	}

	conn.register(cmd.Flags())
	fs := cmd.Flags()
	fs.StringSliceVarP(&topics, "topic", "t", nil, "topic filter, repeatable")
	fs.Uint8VarP(&qos, "qos", "q", 0, "maximum QoS level 0, 1 or 2")
	fs.IntVarP(&count, "count", "C", 0, "exit after this many messages")
	fs.BoolVarP(&verbose, "verbose", "v", false, "print the topic before the payload")
	fs.BoolVar(&manualAck, "manual-ack", false, "acknowledge after printing")
	fs.BoolVar(&reconnect, "reconnect", true, "reconnect automatically")
	fs.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}
