package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeStale     Outcome = "stale"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeFailed    Outcome = "failed"
)

type Result struct {
	Outcome        Outcome
	State          *State
	NotificationID uint
}

type ReconcilerConfig struct {
	Store         Store
	Billing       BillingClient
	Notifier      Notifier
	Plans         *PlanCatalog
	Clock         Clock
	Logger        zerolog.Logger
	Metrics       Recorder
	MaxAttempts   int
	NotifyTimeout time.Duration
}

// Reconciler applies verified webhook events to stored subscriptions.
type Reconciler struct {
	store         Store
	billing       BillingClient
	notifier      Notifier
	reducer       Reducer
	clock         Clock
	log           zerolog.Logger
	metrics       Recorder
	maxAttempts   int
	notifyTimeout time.Duration
}

func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	if cfg.Clock == nil {
		cfg.Clock = RealClock{}
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 10 * time.Second
	}
	return &Reconciler{
		store:         cfg.Store,
		billing:       cfg.Billing,
		notifier:      cfg.Notifier,
		reducer:       NewReducer(cfg.Plans),
		clock:         cfg.Clock,
		log:           cfg.Logger.With().Str("component", "reconciler").Logger(),
		metrics:       cfg.Metrics,
		maxAttempts:   cfg.MaxAttempts,
		notifyTimeout: cfg.NotifyTimeout,
	}
}

// Handle reconciles one event. Accepted no-ops come back as the matching
// sentinel error (see IsAccepted); anything else is a *ReconciliationError.
func (r *Reconciler) Handle(ctx context.Context, ev Event) (Result, error) {
	start := r.clock.Now()
	meta := ev.Meta()

	res, err := r.handle(ctx, ev)
	if res.Outcome == "" {
		res.Outcome = outcomeFor(err)
	}
	if r.metrics != nil {
		r.metrics.ReconcileOutcome(meta.Type, string(res.Outcome))
	}

	logEvent := r.log.Info()
	switch {
	case err != nil && !IsAccepted(err):
		logEvent = r.log.Error().Err(err)
	case err != nil:
		logEvent = r.log.Info().Str("reason", err.Error())
	}
	logEvent.
		Str("event_id", meta.ID).
		Str("type", meta.Type).
		Str("subscription_id", ev.Subscription()).
		Str("outcome", string(res.Outcome)).
		Dur("took", r.clock.Now().Sub(start)).
		Msg("Stripe webhook event reconciled")

	return res, err
}

func (r *Reconciler) handle(ctx context.Context, ev Event) (Result, error) {
	switch e := ev.(type) {
	case UnknownEvent:
		return Result{Outcome: OutcomeIgnored}, fmt.Errorf("%w: %s", ErrUnknownEventType, e.Type)
	case CheckoutCompleted:
		if !e.IsSubscription() {
			return r.recordPurchase(ctx, e)
		}
	}
	if ev.Subscription() == "" {
		return Result{Outcome: OutcomeIgnored}, ErrNoSubscriptionContext
	}

	// Cheap pre-check outside the transaction so stale and duplicate
	// deliveries never reach account resolution or the provider API.
	pre, err := r.store.GetSubscription(ctx, ev.Subscription())
	if err != nil {
		return Result{}, r.fail("load subscription", ev, err)
	}
	if _, err := r.reducer.Apply(pre, ev); err != nil && !lateSettlement(ev, err) {
		return Result{}, err
	}

	acct, err := r.resolveAccount(ctx, pre, ev)
	if err != nil {
		return Result{}, err
	}

	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{}, r.fail("commit", ev, err)
		}
		res, notif, err := r.applyOnce(ctx, ev, acct)
		if errors.Is(err, ErrVersionConflict) {
			lastErr = err
			r.log.Debug().
				Str("event_id", ev.Meta().ID).
				Str("subscription_id", ev.Subscription()).
				Int("attempt", attempt).
				Msg("Subscription changed concurrently, retrying")
			continue
		}
		r.deliver(ctx, res.NotificationID, notif)
		return res, err
	}
	return Result{}, r.fail("commit", ev, lastErr)
}

func (r *Reconciler) applyOnce(ctx context.Context, ev Event, acct Account) (Result, *Notification, error) {
	meta := ev.Meta()
	var (
		res   Result
		notif *Notification
		late  error
	)

	err := r.store.Transaction(ctx, func(tx Store) error {
		res, notif, late = Result{}, nil, nil
		cur, err := tx.GetSubscription(ctx, ev.Subscription())
		if err != nil {
			return r.fail("load subscription", ev, err)
		}
		next, err := r.reducer.Apply(cur, ev)
		if lateSettlement(ev, err) {
			late = err
			return r.recordLate(ctx, tx, cur, ev, acct, &res, &notif)
		}
		if err != nil {
			return err
		}
		next.AccountID = acct.ID
		if cur.Exists && cur.AccountID != 0 {
			next.AccountID = cur.AccountID
		}
		n := Decide(cur, next, ev, acct)
		if n != nil && n.TemplateID == TemplateSubscriptionStarted {
			next.StartedNotified = true
		}

		if err := tx.MarkEventProcessed(ctx, meta.ID, meta.Type); err != nil {
			if errors.Is(err, ErrDuplicateEvent) {
				return err
			}
			return r.fail("record event", ev, err)
		}
		if err := tx.UpsertSubscription(ctx, next, cur.Version); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				return err
			}
			return r.fail("save subscription", ev, err)
		}
		if p := paymentFor(ev, next); p != nil {
			if _, err := tx.AppendPaymentRecord(ctx, *p); err != nil {
				return r.fail("append payment", ev, err)
			}
		}
		if n != nil {
			id, err := tx.EnqueueNotification(ctx, *n)
			if err != nil {
				return r.fail("enqueue notification", ev, err)
			}
			notif = n
			res.NotificationID = id
		}

		if next.NeedsReview && !cur.NeedsReview {
			r.log.Warn().
				Str("subscription_id", next.SubscriptionID).
				Uint("account_id", next.AccountID).
				Str("reason", next.ReviewReason).
				Msg("Subscription flagged for operator review")
		}
		res.Outcome = OutcomeProcessed
		res.State = &next
		return nil
	})
	if err != nil {
		return res, nil, err
	}
	return res, notif, late
}

// lateSettlement reports whether err rejected a settled invoice only for
// ordering reasons. The payment still belongs in the ledger.
func lateSettlement(ev Event, err error) bool {
	if !errors.Is(err, ErrStaleEvent) && !errors.Is(err, ErrSubscriptionCanceled) {
		return false
	}
	switch ev.(type) {
	case InvoicePaid, InvoicePaymentFailed:
		return true
	default:
		return false
	}
}

// recordLate books a settled invoice that arrived after newer state was
// applied. The subscription row is left untouched.
func (r *Reconciler) recordLate(ctx context.Context, tx Store, cur Snapshot, ev Event, acct Account, res *Result, notif **Notification) error {
	meta := ev.Meta()
	if err := tx.MarkEventProcessed(ctx, meta.ID, meta.Type); err != nil {
		if errors.Is(err, ErrDuplicateEvent) {
			return err
		}
		return r.fail("record event", ev, err)
	}

	owner := cur.State
	if owner.AccountID == 0 {
		owner.AccountID = acct.ID
	}
	if p := paymentFor(ev, owner); p != nil {
		if _, err := tx.AppendPaymentRecord(ctx, *p); err != nil {
			return r.fail("append payment", ev, err)
		}
	}

	if _, ok := ev.(InvoicePaid); ok {
		// An empty previous snapshot keeps the receipt from claiming recovery.
		if n := Decide(Snapshot{}, cur.State, ev, acct); n != nil {
			id, err := tx.EnqueueNotification(ctx, *n)
			if err != nil {
				return r.fail("enqueue notification", ev, err)
			}
			*notif = n
			res.NotificationID = id
		}
	}

	r.log.Info().
		Str("event_id", meta.ID).
		Str("subscription_id", ev.Subscription()).
		Msg("Late invoice recorded without changing subscription state")
	res.Outcome = OutcomeStale
	state := cur.State
	res.State = &state
	return nil
}

func (r *Reconciler) recordPurchase(ctx context.Context, e CheckoutCompleted) (Result, error) {
	acct, err := r.store.FindAccount(ctx, e.Account)
	if err != nil {
		return Result{}, r.fail("resolve account", e, err)
	}
	if e.PaymentStatus != "" && e.PaymentStatus != "paid" {
		return Result{Outcome: OutcomeIgnored}, nil
	}

	var (
		res   Result
		notif *Notification
	)
	err = r.store.Transaction(ctx, func(tx Store) error {
		if err := tx.MarkEventProcessed(ctx, e.ID, e.Type); err != nil {
			if errors.Is(err, ErrDuplicateEvent) {
				return err
			}
			return r.fail("record event", e, err)
		}
		_, err := tx.AppendPaymentRecord(ctx, Payment{
			AccountID:  acct.ID,
			Amount:     e.AmountTotal,
			Currency:   e.Currency,
			Status:     PaymentPaid,
			Reference:  e.SessionID,
			Attempt:    1,
			EventID:    e.ID,
			OccurredAt: e.Created,
		})
		if err != nil {
			return r.fail("append payment", e, err)
		}
		if n := DecidePurchase(e, acct); n != nil {
			id, err := tx.EnqueueNotification(ctx, *n)
			if err != nil {
				return r.fail("enqueue notification", e, err)
			}
			notif = n
			res.NotificationID = id
		}
		res.Outcome = OutcomeProcessed
		return nil
	})
	if err != nil {
		return res, err
	}
	r.deliver(ctx, res.NotificationID, notif)
	return res, nil
}

// resolveAccount finds the owner of the subscription an event refers to.
// The stored owner wins; otherwise the event's hints are tried, and as a last
// resort the billing provider is asked for the subscription's metadata.
func (r *Reconciler) resolveAccount(ctx context.Context, cur Snapshot, ev Event) (Account, error) {
	ref := ev.Owner()
	if cur.Exists && cur.AccountID != 0 {
		ref = AccountRef{AccountID: cur.AccountID}
	}

	var (
		acct Account
		err  = ErrAccountNotFound
	)
	if !ref.Empty() {
		acct, err = r.store.FindAccount(ctx, ref)
	}
	if errors.Is(err, ErrAccountNotFound) && r.billing != nil {
		remote, rerr := r.billing.GetSubscription(ctx, ev.Subscription())
		if rerr != nil {
			r.log.Warn().Err(rerr).
				Str("subscription_id", ev.Subscription()).
				Msg("Billing provider cross-check failed")
		} else {
			acct, err = r.store.FindAccount(ctx, AccountRef{AccountID: remote.AccountID, CustomerID: remote.CustomerID})
		}
	}
	if err != nil {
		return Account{}, r.fail("resolve account", ev, err)
	}
	return acct, nil
}

// deliver sends a committed notification. Failures are logged only: the
// outbox row stays retryable and the subscription state is already durable.
func (r *Reconciler) deliver(ctx context.Context, id uint, n *Notification) {
	if r.notifier == nil || n == nil {
		return
	}
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.notifyTimeout)
	defer cancel()
	if err := r.notifier.Deliver(sendCtx, id, *n); err != nil {
		r.log.Warn().Err(err).
			Uint("notification_id", id).
			Str("template", n.TemplateID).
			Msg("Notification delivery failed, left for retry")
	}
}

func (r *Reconciler) fail(op string, ev Event, err error) error {
	var rerr *ReconciliationError
	if errors.As(err, &rerr) {
		return err
	}
	return &ReconciliationError{
		Op:             op,
		EventID:        ev.Meta().ID,
		SubscriptionID: ev.Subscription(),
		Err:            err,
	}
}

func paymentFor(ev Event, next State) *Payment {
	var (
		inv    Invoice
		status PaymentStatus
	)
	switch e := ev.(type) {
	case InvoicePaid:
		inv, status = e.Invoice, PaymentPaid
	case InvoicePaymentFailed:
		inv, status = e.Invoice, PaymentFailed
	default:
		return nil
	}
	return &Payment{
		AccountID:      next.AccountID,
		SubscriptionID: inv.SubscriptionID,
		Amount:         inv.Amount,
		Currency:       inv.Currency,
		Status:         status,
		Reference:      inv.InvoiceID,
		Attempt:        inv.AttemptCount,
		EventID:        inv.ID,
		OccurredAt:     inv.Created,
	}
}

func outcomeFor(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeProcessed
	case errors.Is(err, ErrDuplicateEvent):
		return OutcomeDuplicate
	case errors.Is(err, ErrStaleEvent), errors.Is(err, ErrSubscriptionCanceled):
		return OutcomeStale
	case IsAccepted(err):
		return OutcomeIgnored
	default:
		return OutcomeFailed
	}
}
