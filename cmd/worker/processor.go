package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/aws/aws-lambda-go/events"

	"github.com/imrishuroy/go-guest-lookup/internal/aws"
	"github.com/imrishuroy/go-guest-lookup/internal/lookup"
	"github.com/imrishuroy/go-guest-lookup/internal/metrics"
	"github.com/imrishuroy/go-guest-lookup/internal/orders"
)

// Processor finalizes recorded guest actions delivered through SQS.
type Processor struct {
	ledger  *orders.Store
	metrics *metrics.Recorder // optional
}

// NewProcessor creates a worker processor with AWS clients injected.
func NewProcessor(clients *aws.AWSClients, actionsTable, namespace string) *Processor {
	p := &Processor{ledger: orders.NewStore(clients.DynamoDB, actionsTable)}
	if clients.CloudWatch != nil {
		p.metrics = metrics.NewRecorder(clients.CloudWatch, namespace)
	}
	return p
}

// Handle processes an SQS batch. Failed messages are reported individually
// so only they are redelivered.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			log.Printf("[worker] message %s: %v", rec.MessageId, err)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var msg orders.ActionEvent
	if err := json.Unmarshal([]byte(rec.Body), &msg); err != nil {
		return fmt.Errorf("invalid message body: %w", err)
	}
	if msg.ActionID == "" {
		return errors.New("message has no action_id")
	}

	log.Printf("[worker] received action=%s type=%s order=%s corr=%s",
		msg.ActionID, msg.Action, msg.OrderNumber, msg.CorrelationID)

	action, err := p.ledger.Get(ctx, msg.ActionID)
	if err != nil {
		return fmt.Errorf("failed to fetch action: %w", err)
	}
	if action == nil {
		return fmt.Errorf("action not found: %s", msg.ActionID)
	}

	if !known(action.Action) {
		// nothing downstream can handle it, park it instead of retrying forever
		if err := p.ledger.UpdateStatus(ctx, msg.ActionID, orders.ActionRecorded, orders.ActionFailed); err != nil && !errors.Is(err, orders.ErrStatusMismatch) {
			return fmt.Errorf("failed to mark action FAILED: %w", err)
		}
		log.Printf("[worker] unknown action type %q for action=%s", action.Action, msg.ActionID)
		return nil
	}

	// RECORDED -> PROCESSED (idempotent)
	err = p.ledger.UpdateStatus(ctx, msg.ActionID, orders.ActionRecorded, orders.ActionProcessed)
	if errors.Is(err, orders.ErrStatusMismatch) {
		a2, gerr := p.ledger.Get(ctx, msg.ActionID)
		if gerr != nil || a2 == nil {
			return fmt.Errorf("re-read action %s: %v", msg.ActionID, gerr)
		}
		switch a2.Status {
		case orders.ActionProcessed:
			log.Printf("[worker] duplicate event for action=%s", msg.ActionID)
			return nil
		case orders.ActionFailed:
			return fmt.Errorf("action=%s is already FAILED", msg.ActionID)
		default:
			return fmt.Errorf("unexpected status for action=%s: %s", msg.ActionID, a2.Status)
		}
	}
	if err != nil {
		if ierr := p.ledger.IncrementAttempts(ctx, msg.ActionID); ierr != nil {
			log.Printf("[worker] increment attempts action=%s: %v", msg.ActionID, ierr)
		}
		return fmt.Errorf("failed to update status to PROCESSED: %w", err)
	}

	if p.metrics != nil {
		if err := p.metrics.Count(ctx, "ActionProcessed", 1, map[string]string{"Action": action.Action}); err != nil {
			log.Printf("[worker] metrics: %v", err)
		}
	}
	log.Printf("[worker] processed action=%s order=%s", msg.ActionID, action.OrderNumber)
	return nil
}

func known(action string) bool {
	for _, a := range lookup.Actions {
		if string(a) == action {
			return true
		}
	}
	return false
}
