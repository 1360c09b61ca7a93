// Command lambda-authorizer runs the token validator as an API Gateway
// TOKEN authorizer. Dependencies are built once per container and reused
// across invocations, so the key cache stays warm.
package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/upb/edge-authorizer/app"
	"github.com/upb/edge-authorizer/config"
	"github.com/upb/edge-authorizer/internal/observability"
)

func main() {
	deps, err := newDependencies(context.Background())
	if err != nil {
		log.Fatalf("failed to initialize authorizer: %v", err)
	}
	defer deps.Logger.Sync()

	lambda.Start(deps.LambdaHandler().Handle)
}

// newDependencies loads configuration, builds the logger from it and wires
// the authorizer with inline auditing, since the runtime freezes the process
// between invocations
func newDependencies(ctx context.Context) (*app.Dependencies, error) {
	cfg, err := config.New(ctx)
	if err != nil {
		return nil, err
	}

	logger, err := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		return nil, err
	}

	return app.NewDependencies(ctx, cfg, logger, app.WithSyncAudit())
}
