package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/LerianStudio/claims-telemetry/commons/health"
	"github.com/LerianStudio/claims-telemetry/commons/jobs"
	"github.com/LerianStudio/claims-telemetry/internal/bootstrap"
	"github.com/LerianStudio/claims-telemetry/internal/claim"
)

func newClaimCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "claim",
		Short: "Run the claim service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := newRuntime(cmd, bootstrap.Defaults{
				ServiceName:        "claim-service",
				ServiceDisplayName: "Claim Service",
				HTTPAddress:        ":8080",
			})
			if err != nil {
				return err
			}

			var publisher claim.EventPublisher

			if rt.Config.KafkaEnabled() {
				producer, err := rt.ConnectKafka()
				if err != nil {
					return abort(rt, err)
				}

				publisher = producer
			}

			var enqueuer claim.JobEnqueuer

			if rt.Config.JobsEnabled() {
				client, err := rt.ConnectRedis(cmd.Context())
				if err != nil {
					return abort(rt, err)
				}

				enqueuer = jobs.NewQueue(client, rt.Config.JobQueue, rt.Propagator)
			}

			svc := claim.NewService(claim.Config{
				PolicyURL:  rt.Config.PolicyURL,
				FinanceURL: rt.Config.FinanceURL,
				Topic:      rt.Config.KafkaTopic,
			}, rt.HTTPClient(), publisher, enqueuer, nil, rt.Logger.Named("claim"))

			rt.Health.RegisterChecker("policy_service", health.NewHTTPChecker(strings.TrimRight(rt.Config.PolicyURL, "/")+"/health", nil))
			rt.Health.RegisterChecker("finance_service", health.NewHTTPChecker(strings.TrimRight(rt.Config.FinanceURL, "/")+"/health", nil))

			app := rt.NewApp()
			claim.RegisterRoutes(app, &claim.Handler{Service: svc})

			rt.Serve(app)

			return nil
		},
	}
}
