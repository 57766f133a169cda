package main

import (
	"time"

	"github.com/spf13/cobra"

	cn "github.com/LerianStudio/claims-telemetry/commons/constants"
	"github.com/LerianStudio/claims-telemetry/commons/rabbitmq"
	"github.com/LerianStudio/claims-telemetry/internal/bootstrap"
	"github.com/LerianStudio/claims-telemetry/internal/finance"
)

func newFinanceCommand() *cobra.Command {
	var maxLatency time.Duration

	cmd := &cobra.Command{
		Use:   "finance",
		Short: "Run the finance service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := newRuntime(cmd, bootstrap.Defaults{
				ServiceName:        "finance-service",
				ServiceDisplayName: "Finance Service",
				HTTPAddress:        ":8081",
			})
			if err != nil {
				return err
			}

			opts := []finance.Option{
				finance.WithFaultRate(rt.Config.FaultRate),
				finance.WithLatency(maxLatency),
			}

			if rt.Config.RabbitMQEnabled() {
				_, ch, err := rt.ConnectRabbitMQ(cn.RoutingKeyPaymentCompleted)
				if err != nil {
					return abort(rt, err)
				}

				opts = append(opts, finance.WithPublisher(
					rabbitmq.NewPublisher(ch, rt.Propagator, rt.Config.ServiceName),
					rt.Config.RabbitMQExchange,
				))
			}

			svc := finance.NewService(rt.Logger.Named("finance"), opts...)

			app := rt.NewApp()
			finance.RegisterRoutes(app, &finance.Handler{Service: svc})

			rt.Serve(app)

			return nil
		},
	}

	cmd.Flags().DurationVar(&maxLatency, "max-latency", 200*time.Millisecond, "upper bound of the simulated processing latency")

	return cmd
}
