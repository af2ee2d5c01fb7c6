// Package events publishes terminal run results to RabbitMQ so external
// consumers (export pipelines, alerting) can react without polling the
// run history.
package events

import (
	"context"
	"encoding/json"

	amqp "github.com/rabbitmq/amqp091-go"

	"propscraper/internal/types"
)

const runQueue = "run_results"

type RunPublisher struct {
	ch *amqp.Channel
}

// NewRunPublisher declares the durable run_results queue on the channel.
func NewRunPublisher(ch *amqp.Channel) (*RunPublisher, error) {
	_, err := ch.QueueDeclare(
		runQueue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	)
	if err != nil {
		return nil, err
	}
	return &RunPublisher{ch: ch}, nil
}

// PublishRun emits one terminal run result as JSON.
func (p *RunPublisher) PublishRun(ctx context.Context, run types.RunResult) error {
	body, err := json.Marshal(run)
	if err != nil {
		return err
	}
	return p.ch.PublishWithContext(
		ctx,
		"",
		runQueue,
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	)
}
