// Package notify publica y consume mensajes de verificacion de email sobre AMQP.
package notify

import (
	"context"
	"errors"
)

// VerificationMessage es el payload publicado por cada registro.
type VerificationMessage struct {
	Email string `json:"email"`
	Token string `json:"token"`
}

// VerificationPublisher entrega mensajes de verificacion al broker.
type VerificationPublisher interface {
	PublishVerification(ctx context.Context, msg VerificationMessage) error
}

// Topology nombra el exchange topic, la cola y la routing key que los une.
type Topology struct {
	Exchange   string
	Queue      string
	RoutingKey string
}

func (t Topology) validate() error {
	if t.Exchange == "" || t.Queue == "" || t.RoutingKey == "" {
		return errors.New("amqp topology requires exchange, queue and routing key")
	}
	return nil
}

type disabledPublisher struct {
	reason string
}

// NewDisabledPublisher devuelve un publisher que siempre falla; se usa cuando no hay broker configurado.
func NewDisabledPublisher(reason string) VerificationPublisher {
	return &disabledPublisher{reason: reason}
}

func (p *disabledPublisher) PublishVerification(_ context.Context, _ VerificationMessage) error {
	if p.reason == "" {
		return errors.New("verification publisher disabled")
	}
	return errors.New(p.reason)
}
