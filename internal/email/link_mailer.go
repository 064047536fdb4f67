package email

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// LinkMailer convierte un token de verificacion en un link y lo envia.
type LinkMailer struct {
	sender  Sender
	baseURL string
	logger  *zap.Logger
}

func NewLinkMailer(sender Sender, baseURL string, logger *zap.Logger) (*LinkMailer, error) {
	if _, err := VerificationLink(baseURL, "probe"); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LinkMailer{sender: sender, baseURL: baseURL, logger: logger}, nil
}

func (m *LinkMailer) Deliver(ctx context.Context, toEmail, token string) error {
	link, err := VerificationLink(m.baseURL, token)
	if err != nil {
		return err
	}
	if err := m.sender.SendVerificationLink(ctx, toEmail, link); err != nil {
		return fmt.Errorf("send verification link: %w", err)
	}
	m.logger.Info("verification email sent")
	return nil
}
