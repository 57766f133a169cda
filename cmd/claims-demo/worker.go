package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	cn "github.com/LerianStudio/claims-telemetry/commons/constants"
	"github.com/LerianStudio/claims-telemetry/commons/jobs"
	"github.com/LerianStudio/claims-telemetry/commons/rabbitmq"
	"github.com/LerianStudio/claims-telemetry/internal/bootstrap"
	"github.com/LerianStudio/claims-telemetry/internal/claim"
)

func newWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the claim audit jobs and the payment confirmation consumer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := newRuntime(cmd, bootstrap.Defaults{
				ServiceName:        "claim-worker",
				ServiceDisplayName: "Claim Worker",
			})
			if err != nil {
				return err
			}

			if !rt.Config.JobsEnabled() && !rt.Config.RabbitMQEnabled() {
				return abort(rt, errors.New("worker needs REDIS_ADDRESS or RABBITMQ_URI"))
			}

			listener := claim.NewListener(rt.Logger.Named("claim.worker"))

			return rt.RunUntilSignal(func(ctx context.Context) error {
				g, ctx := errgroup.WithContext(ctx)

				if rt.Config.JobsEnabled() {
					client, err := rt.ConnectRedis(ctx)
					if err != nil {
						return err
					}

					worker := jobs.NewWorker(jobs.NewQueue(client, rt.Config.JobQueue, rt.Propagator), rt.Propagator, rt.Logger,
						jobs.WithMetrics(rt.Metrics),
					)
					worker.Register(cn.JobNameClaimAudit, listener.HandleAudit)

					g.Go(func() error { return worker.Run(ctx) })
				}

				if rt.Config.RabbitMQEnabled() {
					_, ch, err := rt.ConnectRabbitMQ(cn.RoutingKeyPaymentCompleted)
					if err != nil {
						return err
					}

					deliveries, err := ch.Consume(rt.Config.RabbitMQQueue, rt.Config.ServiceName, false, false, false, false, nil)
					if err != nil {
						return fmt.Errorf("rabbitmq: consume %s: %w", rt.Config.RabbitMQQueue, err)
					}

					consumer := &rabbitmq.Consumer{
						Queue:      rt.Config.RabbitMQQueue,
						Propagator: rt.Propagator,
						Logger:     rt.Logger,
						Handler:    listener.HandlePaymentCompleted,
						Requeue:    true,
					}

					g.Go(func() error { return consumer.Consume(ctx, deliveries) })
				}

				rt.Logger.Infof("%s started", rt.Config.ServiceDisplayName)

				return g.Wait()
			})
		},
	}
}
