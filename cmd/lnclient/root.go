package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	eventloop "github.com/joeycumines/go-eventloop"
	"github.com/joeycumines/go-lnclient"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

type app struct {
	stdout     io.Writer
	stderr     io.Writer
	configPath string
	flags      settings
	settings   settings
	timeout    time.Duration
	logger     *logiface.Logger[logiface.Event]
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	x := &app{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:           `lnclient`,
		Short:         `Call lnd over gRPC`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return x.init(cmd)
		},
	}
	root.PersistentFlags().StringVar(&x.configPath, `config`, ``, `YAML file providing defaults for the other flags`)
	x.flags.register(root.PersistentFlags())

	call := &cobra.Command{
		Use:   `call <method> [request]`,
		Short: `Invoke a unary method, printing the response as JSON`,
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return x.withClient(cmd.Context(), func(ctx context.Context, client *lnclient.Client) error {
				return x.call(ctx, client, args[0], args[1:])
			})
		},
	}
	call.Flags().DurationVar(&x.timeout, `timeout`, 0, `deadline for the call, if positive`)

	subscribe := &cobra.Command{
		Use:   `subscribe <method> [request...]`,
		Short: `Invoke a streaming method, printing each response as a line of JSON`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return x.withClient(cmd.Context(), func(ctx context.Context, client *lnclient.Client) error {
				return x.subscribe(ctx, client, args[0], args[1:])
			})
		},
	}

	methods := &cobra.Command{
		Use:   `methods`,
		Short: `List the members of the client, and how each is adapted`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return x.withClient(cmd.Context(), func(ctx context.Context, client *lnclient.Client) error {
				for _, name := range client.Names() {
					if _, err := fmt.Fprintf(x.stdout, "%s\t%s\n", name, client.Kind(name)); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}

	root.AddCommand(call, subscribe, methods)
	return root
}

func (x *app) init(cmd *cobra.Command) error {
	x.settings = x.flags
	if x.configPath != `` {
		file, err := loadSettings(x.configPath)
		if err != nil {
			return err
		}
		x.settings = x.flags.merge(cmd.Flags(), file)
	}
	level, err := parseLevel(x.settings.LogLevel)
	if err != nil {
		return err
	}
	x.logger = stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(x.stderr)),
		stumpy.L.WithLevel(level),
	).Logger()
	return nil
}

// withClient runs fn with a connected client, alongside the event loop, and
// the metrics server (if enabled). Everything is stopped once fn returns.
func (x *app) withClient(ctx context.Context, fn func(ctx context.Context, client *lnclient.Client) error) error {
	loop, err := eventloop.New()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	opts := append(x.settings.options(), lnclient.WithLoop(loop), lnclient.WithLogger(x.logger))

	if x.settings.MetricsAddr != `` {
		registry := prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector())
		opts = append(opts, lnclient.WithRegisterer(registry))
		server := &http.Server{
			Addr:              x.settings.MetricsAddr,
			Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			x.logger.Info().Str(`addr`, server.Addr).Log(`serving metrics`)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() (err error) {
		defer cancel()
		client, err := lnclient.New(ctx, opts...)
		if err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, client.Close())
		}()
		return fn(ctx, client)
	})

	return g.Wait()
}

func (x *app) call(ctx context.Context, client *lnclient.Client, method string, requests []string) error {
	if x.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, x.timeout)
		defer cancel()
	}
	args := []any{ctx}
	for _, request := range requests {
		args = append(args, request)
	}
	promise := client.Call(method, args...)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case result := <-promise.ToChannel():
		if promise.State() == eventloop.Rejected {
			if err, ok := result.(error); ok {
				return err
			}
			return fmt.Errorf(`%s rejected: %v`, method, result)
		}
		return x.print(result, true)
	}
}

func (x *app) subscribe(ctx context.Context, client *lnclient.Client, method string, requests []string) error {
	args := []any{ctx}
	for _, request := range requests {
		args = append(args, request)
	}

	// notifications are delivered on the loop, one at a time
	done := make(chan error, 1)
	subscription := client.Subscribe(method, lnclient.Observer{
		Next: func(update lnclient.Update) {
			switch update.Kind {
			case lnclient.UpdateData:
				if err := x.print(update.Data, false); err != nil {
					x.logger.Err().Err(err).Log(`failed to write update`)
				}
			case lnclient.UpdateStatus:
				if st, ok := update.Status.(*status.Status); ok {
					x.logger.Debug().
						Str(`method`, method).
						Str(`code`, st.Code().String()).
						Str(`message`, st.Message()).
						Log(`stream status`)
				}
			}
		},
		Error: func(err error) {
			done <- err
		},
		Complete: func() {
			done <- nil
		},
	}, args...)

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		subscription.Unsubscribe()
		x.logger.Info().Str(`method`, method).Log(`unsubscribed`)
		return nil
	}
}

func (x *app) print(value any, indent bool) error {
	var (
		b   []byte
		err error
	)
	if msg, ok := value.(proto.Message); ok {
		opts := protojson.MarshalOptions{UseProtoNames: true}
		if indent {
			opts.Multiline = true
			opts.Indent = `  `
		}
		b, err = opts.Marshal(msg)
	} else if indent {
		b, err = json.MarshalIndent(value, ``, `  `)
	} else {
		b, err = json.Marshal(value)
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(x.stdout, "%s\n", b)
	return err
}
