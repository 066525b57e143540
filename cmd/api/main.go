package main

import (
	"context"
	"log"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-guest-lookup/internal/aws"
	"github.com/imrishuroy/go-guest-lookup/internal/collaborator"
	"github.com/imrishuroy/go-guest-lookup/internal/config"
	"github.com/imrishuroy/go-guest-lookup/internal/handlers"
	"github.com/imrishuroy/go-guest-lookup/internal/lookup"
)

func setupRouter(cfg handlers.HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handlers.RegisterGuestRoutes(r, cfg)

	return r
}

func main() {
	env := config.MustLoad()

	clients, err := aws.NewAWSClients(context.Background(), env.Region)
	if err != nil {
		log.Fatalf("failed to init aws clients: %v", err)
	}

	cfg := handlers.HandlerConfig{
		Backend:          collaborator.New(env.CollaboratorBaseURL, env.CollaboratorTimeout),
		DynamoDBClient:   clients.DynamoDB,
		SQSClient:        clients.SQS,
		CloudWatchClient: clients.CloudWatch,
		SessionsTable:    env.SessionsTable,
		IdempotencyTable: env.IdempotencyTable,
		ActionsTable:     env.ActionsTable,
		QueueURL:         env.ActionsQueueURL,
		MetricsNamespace: env.MetricsNamespace,
		SessionTTL:       env.SessionTTL,
		TTLWindow:        env.IdempotencyTTL,
		Lookup: lookup.Config{
			ResendCooldown:    env.ResendCooldown,
			MaxVerifyAttempts: env.MaxVerifyAttempts,
		},
	}

	r := setupRouter(cfg)

	// if RUN_LOCAL is "true", run a local HTTP server for development.
	if env.RunLocal {
		addr := ":8080"
		log.Printf("running local server on %s", addr)
		if err := r.Run(addr); err != nil {
			log.Fatalf("failed to run local server: %v", err)
		}
		return
	}

	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (interface{}, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}
