package email

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Sender entrega el link de verificacion al dueño de la cuenta.
type Sender interface {
	SendVerificationLink(ctx context.Context, toEmail string, link string) error
}

type disabledSender struct {
	reason string
}

func NewDisabledSender(reason string) Sender {
	return &disabledSender{reason: reason}
}

func (s *disabledSender) SendVerificationLink(_ context.Context, _ string, _ string) error {
	if s.reason == "" {
		return errors.New("email sender disabled")
	}
	return errors.New(s.reason)
}

// VerificationLink arma baseURL?token=<token>, conservando query params previos.
func VerificationLink(baseURL, token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", fmt.Errorf("verification token is required")
	}
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", fmt.Errorf("parse verify base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("verify base url must be absolute: %q", baseURL)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
