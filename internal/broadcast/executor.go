package broadcast

import (
	"context"
	"fmt"
	"time"

	"stockcast/internal/storage"
	"stockcast/pkg/logx"
)

// attemptLabel distinguishes matcher firings from retry dispatches in logs
// and delivery records. It has no effect on behavior.
type attemptLabel string

const (
	attemptInitial attemptLabel = "initial"
	attemptRetry   attemptLabel = "retry"
)

// execute runs one task attempt end to end. Any failure, whether in the
// content fetch, session lookup, or a single target send, fails the whole
// attempt. A retry therefore resends to every target; delivery is
// at-least-once and targets may see duplicates.
func (s *Service) execute(ctx context.Context, task Task, label attemptLabel) error {
	if len(task.Targets) == 0 {
		return fmt.Errorf("no targets configured")
	}

	payload, err := s.resolveContent(ctx, task.Content)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", task.Content, err)
	}

	session, err := s.pickSession()
	if err != nil {
		return err
	}

	var failed int
	for _, target := range task.Targets {
		err := s.sendOne(ctx, session, task.Kind, target, payload)
		s.record(ctx, task, target, label, err)
		if err != nil {
			failed++
			s.log.Warn("broadcast send failed",
				logx.String("content", string(task.Content)),
				logx.String("kind", string(task.Kind)),
				logx.String("target", target),
				logx.String("attempt", string(label)),
				logx.Err(err))
			continue
		}
		s.log.Info("broadcast sent",
			logx.String("content", string(task.Content)),
			logx.String("kind", string(task.Kind)),
			logx.String("target", target),
			logx.String("attempt", string(label)))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d targets failed", failed, len(task.Targets))
	}
	return nil
}

// resolveContent maps a content tag to a delivery-ready payload with the
// broadcast header the recipients expect.
func (s *Service) resolveContent(ctx context.Context, tag ContentTag) (Payload, error) {
	switch tag {
	case ContentActiveCap:
		text, err := s.deps.Provider.FetchText(ctx, tag)
		if err != nil {
			return Payload{}, err
		}
		return Payload{Text: "📊 定时广播 - " + tag.displayName() + "：\n\n" + text}, nil
	case ContentLimitUp, ContentLimitDown:
		img, err := s.deps.Provider.FetchImage(ctx, tag)
		if err != nil {
			return Payload{}, err
		}
		return Payload{Image: img, Caption: "🔔 定时广播 - " + tag.displayName() + "："}, nil
	default:
		return Payload{}, fmt.Errorf("unknown content tag %q", tag)
	}
}

// pickSession prefers an online session and falls back to the first
// configured one, so a flapping connection still gets a delivery attempt.
func (s *Service) pickSession() (Session, error) {
	sessions := s.deps.Sessions.Sessions()
	if len(sessions) == 0 {
		return nil, fmt.Errorf("no delivery session available")
	}
	for _, sess := range sessions {
		if sess.Online() {
			return sess, nil
		}
	}
	return sessions[0], nil
}

func (s *Service) sendOne(ctx context.Context, sess Session, kind Kind, target string, p Payload) error {
	if kind == KindPrivate {
		return sess.SendPrivate(ctx, target, p)
	}
	return sess.SendChannel(ctx, target, p)
}

// record writes one per-target outcome to the delivery log, if configured.
func (s *Service) record(ctx context.Context, task Task, target string, label attemptLabel, sendErr error) {
	if s.deps.Store == nil {
		return
	}
	rec := storage.DeliveryRecord{
		At:      time.Now(),
		Content: string(task.Content),
		Kind:    string(task.Kind),
		Target:  target,
		Attempt: string(label),
		OK:      sendErr == nil,
	}
	if sendErr != nil {
		rec.Error = sendErr.Error()
	}
	if err := s.deps.Store.AppendDelivery(ctx, rec); err != nil {
		s.log.Warn("delivery record not persisted", logx.Err(err))
	}
}
