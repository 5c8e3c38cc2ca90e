package router

import (
	"context"
	"time"

	"github.com/debocaemboca/wabot/internal/domain"
	"github.com/debocaemboca/wabot/internal/storage"
	"github.com/debocaemboca/wabot/internal/whatsapp"
	"github.com/debocaemboca/wabot/pkg/metrics"
	"go.uber.org/zap"
)

// Responder answers a numeric menu option and records the choice.
type Responder struct {
	session Session
	records Records
	audit   storage.InteractionRepository
	menu    Menu
	pacer   pacer
}

// Respond sends the reply for optionID to the sender and appends the option to
// the sender's record. Senders without a record are answered but not recorded.
func (r *Responder) Respond(ctx context.Context, optionID, from string) {
	if !r.session.IsReady() {
		zap.L().Warn("router: session not ready, option ignored", zap.String("from", from))
		return
	}
	if err := r.pacer.typing(ctx, r.session, from); err != nil {
		return
	}

	if err := r.session.SendText(ctx, from, r.menu.Reply(optionID)); err != nil {
		zap.L().Error("router: option reply send failed", zap.String("from", from), zap.Error(err))
	}
	metrics.Incr("wabot_option_total")

	contactID := whatsapp.ContactID(from)
	var (
		name  string
		found bool
	)
	err := r.records.Update(func(records []domain.UserRecord) ([]domain.UserRecord, bool) {
		idx := domain.FindUserRecord(records, contactID)
		if idx < 0 {
			return records, false
		}
		records[idx].AppendOption(optionID)
		name, found = records[idx].DisplayName, true
		return records, true
	})
	if err != nil {
		zap.L().Error("router: failed to save option", zap.String("contact", contactID), zap.Error(err))
		return
	}
	if !found {
		zap.L().Debug("router: option from unknown contact not recorded", zap.String("contact", contactID))
	}
	writeAudit(ctx, r.audit, &domain.InteractionLog{
		ContactID:   contactID,
		DisplayName: name,
		Kind:        domain.InteractionOption,
		Option:      optionID,
	})
}

// pacer spaces out the steps of a reply around the typing indicator.
type pacer struct {
	delay time.Duration
	sleep func(ctx context.Context, d time.Duration) error
}

func newPacer(delay time.Duration, sleep func(ctx context.Context, d time.Duration) error) pacer {
	if delay <= 0 {
		delay = DefaultPacing
	}
	if sleep == nil {
		sleep = sleepCtx
	}
	return pacer{delay: delay, sleep: sleep}
}

// typing waits, shows the typing indicator, then waits again. Only
// cancellation aborts; indicator failures are logged.
func (p pacer) typing(ctx context.Context, s Session, to string) error {
	if err := p.sleep(ctx, p.delay); err != nil {
		return err
	}
	if err := s.SendTyping(ctx, to); err != nil {
		zap.L().Debug("router: typing indicator failed", zap.String("to", to), zap.Error(err))
	}
	return p.sleep(ctx, p.delay)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
