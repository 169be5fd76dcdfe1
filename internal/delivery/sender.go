package delivery

import (
	"context"
	"fmt"

	"github.com/heymuze/muze/internal/config"
)

// Sender is the interface for outbound message transport.
type Sender interface {
	Send(ctx context.Context, to, body string) error
}

// NewSender creates a delivery sender from config. Twilio is currently
// the only real transport.
func NewSender(cfg config.DeliveryConfig) (Sender, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.FromNumber == "" {
		return nil, fmt.Errorf("twilio delivery requires account SID, auth token, and from number")
	}
	return NewTwilio(cfg.AccountSID, cfg.AuthToken, cfg.FromNumber), nil
}
