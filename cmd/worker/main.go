package main

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/imrishuroy/go-guest-lookup/internal/aws"
	"github.com/imrishuroy/go-guest-lookup/internal/config"
)

func main() {
	env := config.MustLoadWorker()

	clients, err := aws.NewAWSClients(context.Background(), env.Region)
	if err != nil {
		log.Fatalf("failed to init aws clients: %v", err)
	}
	p := NewProcessor(clients, env.ActionsTable, env.MetricsNamespace)

	// If RUN_LOCAL=true, process a single simulated SQS event and exit.
	if env.RunLocal {
		testBody := os.Getenv("LOCAL_SQS_BODY")
		if testBody == "" {
			testBody = `{"action_id":"local-action-1","order_number":"local-order-1","action":"CANCEL_ORDER"}`
		}
		event := events.SQSEvent{
			Records: []events.SQSMessage{
				{MessageId: "local-1", Body: testBody},
			},
		}
		resp, err := p.Handle(context.Background(), event)
		if err != nil || len(resp.BatchItemFailures) > 0 {
			log.Fatalf("local handler error: %v (failures=%d)", err, len(resp.BatchItemFailures))
		}
		return
	}

	lambda.Start(p.Handle)
}
