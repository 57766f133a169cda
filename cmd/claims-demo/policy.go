package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/LerianStudio/claims-telemetry/commons/kafka"
	"github.com/LerianStudio/claims-telemetry/internal/bootstrap"
	"github.com/LerianStudio/claims-telemetry/internal/policy"
)

func newPolicyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "policy",
		Short: "Run the policy service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := newRuntime(cmd, bootstrap.Defaults{
				ServiceName:        "policy-service",
				ServiceDisplayName: "Policy Service",
				HTTPAddress:        ":8082",
			})
			if err != nil {
				return err
			}

			svc := policy.NewService(policy.DefaultPolicies(), rt.Logger.Named("policy"))

			if rt.Config.KafkaEnabled() {
				group, err := rt.JoinKafkaGroup(rt.Config.KafkaConsumerGroup)
				if err != nil {
					return abort(rt, err)
				}

				handler := &kafka.ConsumerHandler{
					GroupID:    rt.Config.KafkaConsumerGroup,
					Propagator: rt.Propagator,
					Logger:     rt.Logger,
					Metrics:    rt.Metrics,
					Handler:    svc.HandleClaimProcessed,
				}

				go func() {
					if err := kafka.Consume(context.Background(), group, []string{rt.Config.KafkaTopic}, handler); err != nil {
						rt.Logger.Errorf("Kafka consumer stopped: %v", err)
					}
				}()
			}

			app := rt.NewApp()
			policy.RegisterRoutes(app, &policy.Handler{Service: svc})

			rt.Serve(app)

			return nil
		},
	}
}
