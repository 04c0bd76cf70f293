package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	c "github.com/d0ngw/counters/common"
	"github.com/d0ngw/counters/counter"
	"github.com/d0ngw/counters/http"
	"github.com/d0ngw/counters/kafka"
	"github.com/d0ngw/counters/orm"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

const flushTimeout = 30 * time.Second

type rootOptions struct {
	configPath string
	addon      string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:          "counterd",
		Short:        "Maintain the denormalized account counters",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path of the yaml config file")
	root.PersistentFlags().StringVar(&opts.addon, "set", "", "yaml content prepended to the config file")

	root.AddCommand(
		newServeCmd(opts),
		newGetCmd(opts),
		newChangeCmd(opts, "incr", "Increment a counter field"),
		newChangeCmd(opts, "decr", "Decrement a counter field"),
		newReconcileCmd(opts),
		newDDLCmd(opts),
	)
	return root
}

// withApp load the config,build the app and run f
func withApp(opts *rootOptions, f func(a *app) error, engineOpts ...counter.Option) error {
	if opts.configPath == "" && opts.addon == "" {
		return errors.New("--config or --set is required")
	}
	conf, err := loadConfig(opts.configPath, opts.addon)
	if err != nil {
		return err
	}
	a, err := newApp(conf, engineOpts...)
	if err != nil {
		return err
	}
	defer a.close()
	return f(a)
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the kafka consumer,the scheduled jobs and the metrics endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig(opts.configPath, opts.addon)
			if err != nil {
				return err
			}
			var engineOpts []counter.Option
			var publisher *kafka.WarningPublisher
			if conf.Kafka != nil && conf.Kafka.WarningTopic != "" {
				producer, err := kafka.NewSyncProducer(conf.Kafka)
				if err != nil {
					return err
				}
				publisher = kafka.NewWarningPublisher(producer, conf.Kafka.WarningTopic, conf.Kafka.WarningQueueSize)
				defer publisher.Close()
				engineOpts = append(engineOpts, counter.WithNegativeHook(publisher.Hook()))
			}
			a, err := newApp(conf, engineOpts...)
			if err != nil {
				return err
			}
			defer a.close()
			return serve(a)
		},
	}
}

// serve start the services and wait the shutdown signal
func serve(a *app) error {
	services, err := a.services()
	if err != nil {
		return err
	}
	if !services.Init() {
		return errors.New("init services fail")
	}
	if !services.Start() {
		services.Stop()
		return errors.New("start services fail")
	}

	hook := c.NewShutdownhook()
	hook.AddHook(func() {
		if a.sync != nil {
			a.sync.Stop()
		}
	})
	hook.AddHook(func() {
		services.Stop()
		a.flush(flushTimeout)
	})
	c.Infof("counterd started")
	hook.WaitShutdown()
	c.Infof("counterd stopped")
	return nil
}

// services build the long running services of the app
func (a *app) services() (*c.Services, error) {
	var services []c.Service
	if jobs := a.jobs(); len(jobs) > 0 {
		schedule := counter.NewSchedule("counter-schedule", jobs...)
		schedule.Order = 2
		services = append(services, schedule)
	}
	if a.conf.Kafka != nil && len(a.conf.Kafka.Topics) > 0 {
		handler, err := kafka.NewRelationHandler(a.engine, a.conf.Kafka.Tables)
		if err != nil {
			return nil, err
		}
		consumer := kafka.NewConsumer(a.conf.Kafka, handler)
		consumer.Order = 1
		services = append(services, consumer)
	}
	if a.conf.HTTP != nil {
		if err := http.RegOps(a.conf.HTTP, a.registry, a.conf.Counter.Timeout(), a.healthChecks()...); err != nil {
			return nil, err
		}
		if err := a.conf.HTTP.RegMiddleware(http.RecoverMiddleware); err != nil {
			return nil, err
		}
		svc := http.NewService(a.conf.HTTP)
		svc.Order = 0
		services = append(services, svc)
	}
	if len(services) == 0 {
		return nil, errors.New("nothing to serve,config kafka topics,dirty tracker or http")
	}
	return c.NewServices(services...), nil
}

func newGetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <entity_id> [field]",
		Short: "Read the counters of an entity",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				ctx := context.Background()
				if len(args) == 2 {
					v, err := a.engine.Read(ctx, args[0], args[1])
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), v)
					return nil
				}
				fields, err := a.engine.ReadAll(ctx, args[0])
				if err != nil {
					return err
				}
				printFields(cmd, a.schema, fields)
				return nil
			})
		},
	}
}

func newChangeCmd(opts *rootOptions, use, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <entity_id> <field> [amount]",
		Short: short,
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var amount int64 = 1
			if len(args) == 3 {
				var err error
				if amount, err = strconv.ParseInt(args[2], 10, 64); err != nil {
					return errors.Wrapf(err, "invalid amount %s", args[2])
				}
			}
			negative := func(ctx context.Context, w *counter.NegativeResultWarning) {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w.Error())
			}
			return withApp(opts, func(a *app) error {
				defer a.flush(flushTimeout)
				ctx := context.Background()
				var v int64
				var err error
				if use == "incr" {
					v, err = a.engine.Increment(ctx, args[0], args[1], amount)
				} else {
					v, err = a.engine.Decrement(ctx, args[0], args[1], amount)
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), v)
				return nil
			}, counter.WithNegativeHook(negative))
		},
	}
}

func newReconcileCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <entity_id> [field...]",
		Short: "Recompute the counters of an entity from the source tables",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				if a.reconciler == nil {
					return errors.New("reconcile needs db config")
				}
				defer a.flush(flushTimeout)
				fields, err := a.reconciler.Reconcile(context.Background(), args[0], splitFields(args[1:])...)
				if err != nil {
					return err
				}
				printFields(cmd, a.schema, fields)
				return nil
			})
		},
	}
}

func newDDLCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ddl",
		Short: "Print the create table statement of the mysql store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig(opts.configPath, opts.addon)
			if err != nil {
				return err
			}
			// DDL不访问数据库
			store, err := counter.NewMySQLStore(&orm.SimpleDBService{}, counter.AccountSchema, conf.Counter.Table, conf.Counter.IDColumn)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), store.DDL())
			return nil
		},
	}
}

// splitFields accept both "a b" and "a,b"
func splitFields(args []string) []string {
	var fields []string
	for _, arg := range args {
		fields = append(fields, c.SplitTrimOmitEmpty(arg, ",")...)
	}
	return fields
}

func printFields(cmd *cobra.Command, schema *counter.Schema, fields counter.Fields) {
	for _, name := range schema.Names() {
		if v, ok := fields[name]; ok {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", name, v)
		}
	}
}
