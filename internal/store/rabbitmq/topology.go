package rabbitmq

import amqp "github.com/rabbitmq/amqp091-go"

// JobMessage is the body of every pipeline delivery.
type JobMessage struct {
	JobID string `json:"job_id"`
}

func DLQName(queue string) string { return queue + ".dlq" }

// declare creates the durable job queue and its dead-letter queue.
// Publisher and consumer both call it so either may start first.
func declare(ch *amqp.Channel, queue string) error {
	if _, err := ch.QueueDeclare(
		DLQName(queue),
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false,
		nil,
	); err != nil {
		return err
	}

	// Main queue: dead-letter to DLQ on reject/nack(requeue=false)
	_, err := ch.QueueDeclare(
		queue,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": DLQName(queue),
		},
	)
	return err
}

func dial(url, queue string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	if err := declare(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}
