package usecases

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/juanvgus/prueba-syc/internal/entities"
	"github.com/juanvgus/prueba-syc/internal/infrastructure"
	"github.com/juanvgus/prueba-syc/internal/interfaces"
	"github.com/juanvgus/prueba-syc/internal/repository"
)

type State string

const (
	StateReceived           State = "RECEIVED"
	StateDedupeChecked      State = "DEDUPE_CHECKED"
	StateValidated          State = "VALIDATED"
	StateDebtQueried        State = "DEBT_QUERIED"
	StateTransactionCreated State = "TRANSACTION_CREATED"
	StateReplied            State = "REPLIED"
	StatePersisted          State = "PERSISTED"
	StateError              State = "ERROR"
)

// ErrRateLimited is recorded when a user sends messages faster than allowed.
var ErrRateLimited = errors.New("user rate limit exceeded")

// Outcome describes how one inbound event was handled.
type Outcome struct {
	EventID   string
	UserID    string
	State     State
	Trail     []State
	Duplicate bool
	Reply     *entities.OutboundMessage
	Err       error
}

func (o *Outcome) advance(s State) {
	if o.State == StateError {
		return
	}
	o.State = s
	o.Trail = append(o.Trail, s)
}

func (o *Outcome) fail(err error) {
	if o.Err == nil {
		o.Err = err
	}
	if o.State != StateError {
		o.State = StateError
		o.Trail = append(o.Trail, StateError)
	}
}

// RateLimiter throttles end users.
type RateLimiter interface {
	Allow(userID string) bool
}

type OrchestratorOption func(*Orchestrator)

func WithAlerter(a interfaces.Alerter) OrchestratorOption {
	return func(o *Orchestrator) {
		if a != nil {
			o.alerter = a
		}
	}
}

func WithRateLimiter(l RateLimiter) OrchestratorOption {
	return func(o *Orchestrator) { o.limiter = l }
}

func WithLogger(l zerolog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.log = l }
}

// WithServiceTimeout bounds every external call made by the pipeline.
func WithServiceTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithMaxConcurrent bounds the pipelines running in the background.
func WithMaxConcurrent(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.sem = make(chan struct{}, n)
		}
	}
}

func WithCTALabel(label string) OrchestratorOption {
	return func(o *Orchestrator) {
		if label != "" {
			o.ctaLabel = label
		}
	}
}

type job struct {
	ctx   context.Context
	event entities.InboundEvent
	out   Outcome
	done  chan Outcome // nil for dispatched jobs
}

// userQueue runs the pipelines of one user in arrival order.
type userQueue struct {
	jobs []job
}

// Orchestrator drives an inbound event from receipt to the persisted reply.
type Orchestrator struct {
	store     interfaces.ConversationStore
	provider  interfaces.TransactionProvider
	messenger interfaces.Messenger
	composer  *Composer
	alerter   interfaces.Alerter
	limiter   RateLimiter
	log       zerolog.Logger
	timeout   time.Duration
	ctaLabel  string
	now       func() time.Time
	newID     func() string

	// intake covers dedupe and every append, pipeline covers a whole run
	intake   *infrastructure.UserLocks
	pipeline *infrastructure.UserLocks

	sem    chan struct{}
	wg     sync.WaitGroup
	qmu    sync.Mutex
	queues map[string]*userQueue
}

func NewOrchestrator(
	store interfaces.ConversationStore,
	provider interfaces.TransactionProvider,
	messenger interfaces.Messenger,
	composer *Composer,
	opts ...OrchestratorOption,
) *Orchestrator {
	if composer == nil {
		composer = NewComposer(DefaultFooter)
	}
	o := &Orchestrator{
		store:     store,
		provider:  provider,
		messenger: messenger,
		composer:  composer,
		alerter:   infrastructure.NopAlerter{},
		log:       zerolog.Nop(),
		timeout:   30 * time.Second,
		ctaLabel:  DefaultCTALabel,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
		intake:    infrastructure.NewUserLocks(),
		pipeline:  infrastructure.NewUserLocks(),
		sem:       make(chan struct{}, 64),
		queues:    make(map[string]*userQueue),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Handle runs the whole pipeline for ev before returning. Concurrent calls
// for one user run their pipelines in the order they were received, same as
// Dispatch.
func (o *Orchestrator) Handle(ctx context.Context, ev entities.InboundEvent) Outcome {
	out, accepted, release := o.receive(ctx, ev)
	if !accepted {
		release()
		return out
	}
	done := make(chan Outcome, 1)
	o.enqueue(job{ctx: ctx, event: ev, out: out, done: done})
	release()
	return <-done
}

// Dispatch records ev as received and continues the pipeline in the
// background. The returned Outcome reflects the receive phase only.
func (o *Orchestrator) Dispatch(ctx context.Context, ev entities.InboundEvent) Outcome {
	out, accepted, release := o.receive(ctx, ev)
	if accepted {
		// still under the intake lock so the queue keeps arrival order
		o.enqueue(job{ctx: context.WithoutCancel(ctx), event: ev, out: out})
	}
	release()
	return out
}

// Wait blocks until every dispatched pipeline and pending alert finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) enqueue(j job) {
	o.wg.Add(1)

	o.qmu.Lock()
	defer o.qmu.Unlock()
	userID := j.event.From
	if q, ok := o.queues[userID]; ok {
		q.jobs = append(q.jobs, j)
		return
	}
	q := &userQueue{jobs: []job{j}}
	o.queues[userID] = q
	go o.drain(userID, q)
}

func (o *Orchestrator) drain(userID string, q *userQueue) {
	for {
		o.qmu.Lock()
		if len(q.jobs) == 0 {
			delete(o.queues, userID)
			o.qmu.Unlock()
			return
		}
		j := q.jobs[0]
		q.jobs = q.jobs[1:]
		o.qmu.Unlock()

		o.sem <- struct{}{}
		out := o.runJob(j)
		<-o.sem
		if j.done != nil {
			j.done <- out
		}
		o.wg.Done()
	}
}

func (o *Orchestrator) runJob(j job) (out Outcome) {
	out = j.out
	defer func() {
		if r := recover(); r != nil {
			o.log.Error().Str("idUser", j.event.From).Interface("panic", r).Msg("pipeline panicked")
			out.fail(fmt.Errorf("pipeline panicked: %v", r))
		}
	}()
	out = o.process(j.ctx, j.event, j.out)
	o.log.Debug().
		Str("idUser", out.UserID).
		Str("externalId", out.EventID).
		Str("state", string(out.State)).
		Msg("pipeline finished")
	return out
}

// receive deduplicates ev and appends the inbound entry. The returned release
// func frees the user's intake scope.
func (o *Orchestrator) receive(ctx context.Context, ev entities.InboundEvent) (Outcome, bool, func()) {
	out := Outcome{EventID: ev.ExternalID, UserID: ev.From}
	out.advance(StateReceived)

	release := o.intake.Lock(ev.From)

	seen, err := o.store.HasSeen(ctx, ev.From, ev.ExternalID)
	if err != nil {
		o.persistenceFailed(ctx, &out, "has_seen", err)
	}
	if seen {
		out.Duplicate = true
		out.advance(StatePersisted)
		return out, false, release
	}
	out.advance(StateDedupeChecked)

	entry := entities.Entry{
		ID:         o.newID(),
		ExternalID: ev.ExternalID,
		Direction:  entities.Inbound,
		Type:       inboundEntryType(ev),
		Status:     entities.StatusReceived,
		Payload:    ev.Payload(),
		Timestamp:  o.now(),
	}
	if err := o.store.Append(ctx, ev.From, entry); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			out.Duplicate = true
			out.advance(StatePersisted)
			return out, false, release
		}
		o.persistenceFailed(ctx, &out, "append_inbound", err)
	}
	return out, true, release
}

func inboundEntryType(ev entities.InboundEvent) entities.EntryType {
	if ev.Type == entities.MessageInteractive {
		return entities.EntryInteractive
	}
	return entities.EntryText
}

func (o *Orchestrator) process(ctx context.Context, ev entities.InboundEvent, out Outcome) Outcome {
	release := o.pipeline.Lock(ev.From)
	defer release()

	switch ev.Type {
	case entities.MessageText:
		o.plateFlow(ctx, ev, &out)
	case entities.MessageInteractive:
		o.replyFlow(ctx, ev, &out)
	case entities.MessageAudio:
		o.finish(ctx, &out, o.composer.ComposeText(ev.From, MsgAudio))
	default:
		o.finish(ctx, &out, o.composer.ComposeText(ev.From, MsgDefault))
	}
	return out
}

func (o *Orchestrator) plateFlow(ctx context.Context, ev entities.InboundEvent, out *Outcome) {
	query, err := ExtractPlate(ev.Text)
	if err != nil {
		out.fail(err)
		o.reply(ctx, out, o.composer.ComposeText(ev.From, MsgWelcome))
		return
	}
	out.advance(StateValidated)

	if o.limiter != nil && !o.limiter.Allow(ev.From) {
		out.fail(ErrRateLimited)
		o.reply(ctx, out, o.composer.ComposeText(ev.From, MsgSlowDown))
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	res, err := o.provider.CreateTransaction(callCtx, query)
	cancel()
	switch {
	case errors.Is(err, entities.ErrNoDebt):
		out.fail(err)
		o.reply(ctx, out, o.composer.ComposeText(ev.From, fmt.Sprintf(MsgNoDebt, query.Plate)))
		return
	case err != nil:
		o.log.Warn().Err(err).
			Str("idUser", ev.From).
			Str("placa", query.Plate).
			Str("kind", string(entities.KindOf(err))).
			Msg("transaction provider failed")
		out.fail(err)
		o.reply(ctx, out, o.composer.ComposeText(ev.From, MsgUnavailable))
		return
	}
	out.advance(StateDebtQueried)
	out.advance(StateTransactionCreated)

	msg := o.composer.ComposeInteractive(ev.From, PaymentText(res), o.ctaLabel, res.PaymentURL)
	wamid, sendErr := o.send(ctx, out, msg)

	report := entities.NewDebtReport(ev.From, res, o.now())
	if err := o.store.UpsertReport(ctx, ev.From, report); err != nil {
		o.persistenceFailed(ctx, out, "upsert_report", err)
	}
	o.appendOutbound(ctx, out, msg, wamid, sendErr)
	out.advance(StatePersisted)
}

func (o *Orchestrator) replyFlow(ctx context.Context, ev entities.InboundEvent, out *Outcome) {
	if !payReplyIDs[strings.ToLower(strings.TrimSpace(ev.ReplyID))] {
		o.finish(ctx, out, o.composer.ComposeText(ev.From, MsgDone))
		return
	}

	report, err := o.store.LatestReport(ctx, ev.From)
	if err != nil {
		o.persistenceFailed(ctx, out, "latest_report", err)
	}
	if report == nil || report.Report.PaymentURL == "" {
		o.finish(ctx, out, o.composer.ComposeText(ev.From, MsgWelcome))
		return
	}
	res := entities.TransactionResult{
		TransactionID:    report.Report.TransactionID,
		PaymentReference: report.Report.PaymentReference,
		PaymentURL:       report.Report.PaymentURL,
		Debt:             report.Report.DebtItem,
	}
	o.finish(ctx, out, o.composer.ComposeInteractive(ev.From, PaymentText(res), o.ctaLabel, res.PaymentURL))
}

// finish sends a reply on a path that did not fail.
func (o *Orchestrator) finish(ctx context.Context, out *Outcome, msg entities.OutboundMessage) {
	o.reply(ctx, out, msg)
	out.advance(StatePersisted)
}

// reply sends msg and appends the outbound entry whatever the send result.
func (o *Orchestrator) reply(ctx context.Context, out *Outcome, msg entities.OutboundMessage) {
	wamid, sendErr := o.send(ctx, out, msg)
	o.appendOutbound(ctx, out, msg, wamid, sendErr)
}

func (o *Orchestrator) send(ctx context.Context, out *Outcome, msg entities.OutboundMessage) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	wamid, err := o.messenger.Send(callCtx, msg)
	if err != nil {
		o.log.Error().Err(err).Str("idUser", msg.To).Msg("send reply failed")
		o.alert(ctx, fmt.Sprintf("⚠️ WhatsApp send failed for %s: %v", msg.To, err))
		out.fail(fmt.Errorf("send reply: %w", err))
		return "", err
	}
	out.Reply = &msg
	out.advance(StateReplied)
	return wamid, nil
}

func (o *Orchestrator) appendOutbound(ctx context.Context, out *Outcome, msg entities.OutboundMessage, wamid string, sendErr error) {
	release := o.intake.Lock(msg.To)
	defer release()

	payload := entities.PayloadOf(msg)
	status := entities.StatusSent
	if sendErr != nil {
		status = entities.StatusFailed
		payload["error"] = sendErr.Error()
	}
	if wamid != "" {
		payload["wamid"] = wamid
	}

	entry := entities.Entry{
		ID:        o.newID(),
		Direction: entities.Outbound,
		Type:      msg.EntryType(),
		Status:    status,
		Payload:   payload,
		Timestamp: o.now(),
	}
	if err := o.store.Append(ctx, msg.To, entry); err != nil {
		o.persistenceFailed(ctx, out, "append_outbound", err)
	}
}

func (o *Orchestrator) persistenceFailed(ctx context.Context, out *Outcome, op string, err error) {
	perr := &PersistenceError{Op: op, Err: err}
	o.log.Error().Err(err).
		Str("idUser", out.UserID).
		Str("externalId", out.EventID).
		Str("op", op).
		Msg("conversation store write failed")
	o.alert(ctx, fmt.Sprintf("🚨 Conversation store %s failed for %s: %v", op, out.UserID, err))
	out.fail(perr)
}

// alert notifies operators without holding up the caller.
func (o *Orchestrator) alert(ctx context.Context, text string) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := o.alerter.Alert(actx, text); err != nil {
			o.log.Warn().Err(err).Msg("operator alert failed")
		}
	}()
}
