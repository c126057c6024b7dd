package app

import (
	"context"
	"fmt"
	"strconv"

	"stockcast/internal/broadcast"
	"stockcast/internal/market"
	kit "stockcast/internal/transport"
)

// marketProvider adapts the market client to the broadcast content
// contract.
type marketProvider struct {
	client *market.Client
}

func (p marketProvider) FetchText(ctx context.Context, tag broadcast.ContentTag) (string, error) {
	switch tag {
	case broadcast.ContentActiveCap:
		return p.client.Indexes(ctx)
	default:
		return "", fmt.Errorf("no text content for tag %q", tag)
	}
}

func (p marketProvider) FetchImage(ctx context.Context, tag broadcast.ContentTag) ([]byte, error) {
	switch tag {
	case broadcast.ContentLimitUp:
		return p.client.BoardImage(ctx, market.BoardLimitUp)
	case broadcast.ContentLimitDown:
		return p.client.BoardImage(ctx, market.BoardLimitDown)
	default:
		return nil, fmt.Errorf("no image content for tag %q", tag)
	}
}

// telegramSession exposes the transport adapter as a broadcast delivery
// session. Telegram uses one chat-id namespace for users and channels, so
// private and channel sends differ only in where the target id came from.
type telegramSession struct {
	id      string
	adapter kit.Adapter
}

func (s telegramSession) ID() string   { return s.id }
func (s telegramSession) Online() bool { return s.adapter.Online() }

func (s telegramSession) SendPrivate(ctx context.Context, target string, p broadcast.Payload) error {
	return s.deliver(ctx, target, p)
}

func (s telegramSession) SendChannel(ctx context.Context, target string, p broadcast.Payload) error {
	return s.deliver(ctx, target, p)
}

func (s telegramSession) deliver(ctx context.Context, target string, p broadcast.Payload) error {
	chatID, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		return fmt.Errorf("bad target id %q: %w", target, err)
	}
	to := kit.ChatTarget{ChatID: chatID}
	if len(p.Image) > 0 {
		_, err = s.adapter.SendPhoto(ctx, to, kit.Photo{Data: p.Image, Caption: p.Caption}, nil)
		return err
	}
	_, err = s.adapter.SendText(ctx, to, p.Text, nil)
	return err
}

type sessionRegistry struct {
	sessions []broadcast.Session
}

func (r sessionRegistry) Sessions() []broadcast.Session { return r.sessions }
