// Package queue wires the recompute worker to RabbitMQ. A recompute job is a
// small JSON message; the edge snapshot itself travels through object
// storage, never through the broker.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"tenderwatch/internal/util"
	"tenderwatch/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

const (
	RecomputeQueue = "recompute_queue"

	// Messages parked in the retry queue dead-letter back into the work
	// queue after this TTL.
	retryTTLMs = 10000
)

// Job asks the worker to run one batch recompute.
type Job struct {
	// SnapshotKey is the object-storage key of the edge snapshot to load.
	// Empty means recompute from the persisted edge set.
	SnapshotKey string `json:"snapshot_key,omitempty"`

	CentralityOnly bool     `json:"centrality_only,omitempty"`
	Resolution     *float64 `json:"resolution,omitempty"`
}

func Init() *amqp091.Connection {
	user := util.GetEnv("RABBITMQ_USER")
	pass := util.GetEnv("RABBITMQ_PASSWORD")
	host := util.GetEnv("RABBITMQ_HOST")
	port := util.GetEnv("RABBITMQ_PORT")

	connURL := fmt.Sprintf(
		"amqp://%s:%s@%s:%s/",
		user,
		pass,
		host,
		port,
	)

	// The broker may still be coming up when a job run starts.
	var conn *amqp091.Connection
	err := util.RetryErr(5, func() error {
		var dialErr error
		conn, dialErr = amqp091.Dial(connURL)
		return dialErr
	})
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", "err", err)
	}

	return conn
}

// SetupQueues declares the work queue with its retry and dead-letter
// companions. Safe to call from both publisher and consumer.
func SetupQueues(ch *amqp091.Channel) error {
	_, err := ch.QueueDeclare(
		RecomputeQueue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("declare %s: %w", RecomputeQueue, err)
	}

	_, err = ch.QueueDeclare(
		RecomputeQueue+"_dlq",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare %s_dlq: %w", RecomputeQueue, err)
	}

	_, err = ch.QueueDeclare(
		RecomputeQueue+"_retry",
		true,
		false,
		false,
		false,
		amqp091.Table{
			"x-message-ttl":             int32(retryTTLMs),
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": RecomputeQueue,
		},
	)
	if err != nil {
		return fmt.Errorf("declare %s_retry: %w", RecomputeQueue, err)
	}

	return nil
}

// PublishJob enqueues a recompute job on the work queue.
func PublishJob(ch *amqp091.Channel, job Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}

	return ch.Publish(
		"",
		RecomputeQueue,
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
		},
	)
}

// Requeue parks a failed delivery on the retry queue with an incremented
// retry counter, preserving the original headers.
func Requeue(ch *amqp091.Channel, delivery amqp091.Delivery, retries int32) error {
	headers := amqp091.Table{}
	for k, v := range delivery.Headers {
		headers[k] = v
	}
	headers["x-retries"] = retries + 1

	return ch.Publish(
		"",
		RecomputeQueue+"_retry",
		false,
		false,
		amqp091.Publishing{
			ContentType:  delivery.ContentType,
			Body:         delivery.Body,
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Headers:      headers,
		},
	)
}

// DeadLetter moves a poisoned delivery to the DLQ for manual inspection.
func DeadLetter(ch *amqp091.Channel, delivery amqp091.Delivery) error {
	return ch.Publish(
		"",
		RecomputeQueue+"_dlq",
		false,
		false,
		amqp091.Publishing{
			ContentType:  delivery.ContentType,
			Body:         delivery.Body,
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Headers:      delivery.Headers,
		},
	)
}

// Retries reads the retry counter from a delivery's headers.
func Retries(delivery amqp091.Delivery) int32 {
	raw, ok := delivery.Headers["x-retries"]
	if !ok {
		return 0
	}
	switch v := raw.(type) {
	case int32:
		return v
	case int64:
		return int32(v)
	case int:
		return int32(v)
	default:
		return 0
	}
}
