package router

import (
	"context"
	"regexp"
	"time"

	"github.com/debocaemboca/wabot/internal/domain"
	"github.com/debocaemboca/wabot/internal/storage"
	"github.com/debocaemboca/wabot/internal/whatsapp"
	"github.com/debocaemboca/wabot/pkg/metrics"
	"go.uber.org/zap"
)

// DefaultPacing is the pause between the steps of a reply.
const DefaultPacing = 500 * time.Millisecond

// Kind is the outcome of classifying an inbound message.
type Kind int

const (
	KindIgnore Kind = iota
	KindGreeting
	KindOption
)

var optionIDs = map[string]struct{}{"1": {}, "2": {}, "3": {}, "4": {}, "5": {}}

// Session is the part of the session controller used to answer messages.
type Session interface {
	IsReady() bool
	SendText(ctx context.Context, to, text string) error
	SendTyping(ctx context.Context, to string) error
	ContactName(ctx context.Context, address string) (string, error)
}

// Records is the persistence the flows read and update.
type Records interface {
	Update(fn func(records []domain.UserRecord) ([]domain.UserRecord, bool)) error
}

type Options struct {
	TriggerWord string
	// Disabled ignores every message, set when the identity has expired.
	Disabled bool
	Pacing   time.Duration
	Menu     Menu
	Sleep    func(ctx context.Context, d time.Duration) error
}

// Router classifies inbound messages and runs the greeting flow or hands
// numeric options to the Responder.
type Router struct {
	session   Session
	records   Records
	audit     storage.InteractionRepository
	responder *Responder
	greeting  *regexp.Regexp
	disabled  bool
	pacer     pacer
	menu      Menu
}

// New builds a router. audit may be nil.
func New(session Session, records Records, audit storage.InteractionRepository, opts Options) *Router {
	if opts.Menu.Greeting == "" {
		opts.Menu = DefaultMenu()
	}
	p := newPacer(opts.Pacing, opts.Sleep)
	return &Router{
		session:   session,
		records:   records,
		audit:     audit,
		responder: &Responder{session: session, records: records, audit: audit, menu: opts.Menu, pacer: p},
		greeting:  GreetingPattern(opts.TriggerWord),
		disabled:  opts.Disabled,
		pacer:     p,
		menu:      opts.Menu,
	}
}

// GreetingPattern builds the case-insensitive, unanchored greeting matcher.
// The trigger word is matched literally; an empty one is left out.
func GreetingPattern(trigger string) *regexp.Regexp {
	alts := "menu|dia|tarde|noite|oi|olá|ola"
	if trigger != "" {
		alts = regexp.QuoteMeta(trigger) + "|" + alts
	}
	return regexp.MustCompile("(?i)(" + alts + ")")
}

// Responder returns the option responder sharing this router's session and store.
func (r *Router) Responder() *Responder {
	return r.responder
}

// Classify decides which flow, if any, handles msg.
func (r *Router) Classify(msg *whatsapp.Message) Kind {
	if r.disabled || msg == nil || !msg.Direct {
		return KindIgnore
	}
	if r.greeting.MatchString(msg.Body) {
		return KindGreeting
	}
	if _, ok := optionIDs[msg.Body]; ok {
		return KindOption
	}
	return KindIgnore
}

// Route handles one inbound message. Messages arriving while the session is
// not ready are dropped.
func (r *Router) Route(ctx context.Context, msg *whatsapp.Message) {
	start := time.Now()
	defer func() {
		if err := recover(); err != nil {
			zap.L().Error("router: message handling panic", zap.Any("error", err))
		}
	}()
	if !r.session.IsReady() {
		zap.L().Warn("router: session not ready, message ignored", zap.String("from", msg.From))
		return
	}

	switch r.Classify(msg) {
	case KindGreeting:
		zap.L().Info("router: greeting matched", zap.String("from", msg.From))
		r.greet(ctx, msg)
	case KindOption:
		zap.L().Info("router: option received", zap.String("from", msg.From), zap.String("option", msg.Body))
		r.responder.Respond(ctx, msg.Body, msg.From)
	default:
		return
	}
	zap.L().Debug("router: message processed",
		zap.String("from", msg.From),
		zap.Duration("elapsed", time.Since(start)))
}

func (r *Router) greet(ctx context.Context, msg *whatsapp.Message) {
	if err := r.pacer.typing(ctx, r.session, msg.From); err != nil {
		return
	}

	name := r.displayName(ctx, msg)
	if err := r.session.SendText(ctx, msg.From, r.menu.GreetingFor(name)); err != nil {
		zap.L().Error("router: greeting send failed", zap.String("from", msg.From), zap.Error(err))
		return
	}
	metrics.Incr("wabot_greeting_total")
	zap.L().Info("router: greeting sent", zap.String("from", msg.From), zap.String("name", name))

	if err := r.pacer.typing(ctx, r.session, msg.From); err != nil {
		return
	}

	contactID := contactIDOf(msg)
	err := r.records.Update(func(records []domain.UserRecord) ([]domain.UserRecord, bool) {
		idx := domain.FindUserRecord(records, contactID)
		if idx < 0 {
			return append(records, domain.NewUserRecord(contactID, name)), true
		}
		if records[idx].DisplayName == name {
			return records, false
		}
		records[idx].DisplayName = name
		return records, true
	})
	if err != nil {
		zap.L().Error("router: failed to save user record", zap.String("contact", contactID), zap.Error(err))
		return
	}
	writeAudit(ctx, r.audit, &domain.InteractionLog{
		ContactID:   contactID,
		DisplayName: name,
		Kind:        domain.InteractionGreeting,
	})
}

// displayName prefers the push name, then the contact store, then the default.
func (r *Router) displayName(ctx context.Context, msg *whatsapp.Message) string {
	if msg.PushName != "" {
		return msg.PushName
	}
	name, err := r.session.ContactName(ctx, msg.From)
	if err != nil {
		zap.L().Debug("router: contact lookup failed", zap.String("from", msg.From), zap.Error(err))
	}
	if name != "" {
		return name
	}
	return domain.DefaultDisplayName
}

func contactIDOf(msg *whatsapp.Message) string {
	if msg.ContactID != "" {
		return msg.ContactID
	}
	return whatsapp.ContactID(msg.From)
}

func writeAudit(ctx context.Context, repo storage.InteractionRepository, entry *domain.InteractionLog) {
	if repo == nil {
		return
	}
	if err := repo.Create(ctx, entry); err != nil {
		zap.L().Warn("router: interaction log not written", zap.String("contact", entry.ContactID), zap.Error(err))
	}
}
