// Package tracker синхронизирует записи отслеживания заказов с сервисом заказов.
//
// Synchronizer хранит для каждого заказа подтверждённую сервером запись и список
// оптимистичных изменений, ожидающих ответа. Каждый запрос получает порядковый номер
// в момент отправки; ответы применяются только в порядке отправки, устаревшие отбрасываются.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/mmeshcher/order-tracker/internal/metrics"
	"github.com/mmeshcher/order-tracker/internal/model"
	"github.com/mmeshcher/order-tracker/internal/status"
	"github.com/mmeshcher/order-tracker/internal/transition"
)

// OrderService описывает операции сервиса заказов, используемые синхронизатором.
type OrderService interface {
	GetTracking(ctx context.Context, token, orderID string) (*model.TrackingRecord, error)
	UpdateTracking(ctx context.Context, token, trackingID string, s model.Status) (*model.TrackingRecord, error)
	ConfirmPayment(ctx context.Context, token, trackingID string) (*model.TrackingRecord, error)
	OverrideStatus(ctx context.Context, token, orderID string, s model.Status) (*model.Order, error)
}

// Listener получает подтверждённые изменения записей. Вызывается один раз на изменение.
type Listener interface {
	StatusChanged(ctx context.Context, change model.StatusChange) error
}

// Guard реализует флаг «запрос выполняется», разделяемый между экземплярами сервиса.
type Guard interface {
	Acquire(ctx context.Context, orderID string, target model.Status, owner string) (bool, error)
	Release(ctx context.Context, orderID string, target model.Status, owner string) error
}

// Outcome описывает результат запроса на изменение записи.
type Outcome string

const (
	OutcomeApplied           Outcome = "applied"
	OutcomeAdopted           Outcome = "adopted"
	OutcomeUnchanged         Outcome = "unchanged"
	OutcomeStale             Outcome = "stale"
	OutcomeDiscarded         Outcome = "discarded"
	OutcomeInvalidTransition Outcome = "invalid_transition"
	OutcomeForbidden         Outcome = "forbidden"
	OutcomeNotFound          Outcome = "not_found"
	OutcomeNetworkFailure    Outcome = "network_failure"
	OutcomeInFlight          Outcome = "in_flight"
	OutcomeFailed            Outcome = "failed"
)

// Succeeded сообщает, что запрос не завершился ошибкой.
func (o Outcome) Succeeded() bool {
	switch o {
	case OutcomeApplied, OutcomeAdopted, OutcomeUnchanged, OutcomeStale, OutcomeDiscarded:
		return true
	}
	return false
}

// View описывает состояние заказа для поверхностей отображения.
type View struct {
	Record       model.TrackingRecord `json:"record"`
	Status       model.Status         `json:"status"`
	PaymentState model.PaymentState   `json:"paymentState"`
	Updating     bool                 `json:"updating"`
	Entry        status.Entry         `json:"entry"`
	Progress     status.Progress      `json:"progress"`
}

// Result содержит размеченный результат запроса на переход или подтверждение оплаты.
type Result struct {
	Outcome   Outcome      `json:"outcome"`
	Requested model.Status `json:"requested,omitempty"`
	Seq       uint64       `json:"seq"`
	View      View         `json:"view"`
	Err       error        `json:"-"`
}

type pendingUpdate struct {
	seq    uint64
	status model.Status
	paid   bool
}

// appliedSeq отмечает последний принятый ответ на изменение, по нему
// отбрасываются устаревшие ответы на изменения. refreshSeq отмечает границу,
// ниже которой ответы на перечитывание устарели.
type entry struct {
	confirmed  model.TrackingRecord
	appliedSeq uint64
	refreshSeq uint64
	pending    []pendingUpdate
}

func (e *entry) displayedStatus() model.Status {
	for i := len(e.pending) - 1; i >= 0; i-- {
		if e.pending[i].status != "" {
			return e.pending[i].status
		}
	}
	return e.confirmed.Status
}

func (e *entry) displayedPayment() model.PaymentState {
	for _, p := range e.pending {
		if p.paid {
			return model.PaymentPaid
		}
	}
	return e.confirmed.PaymentState
}

func (e *entry) hasPending(target model.Status, paid bool) bool {
	for _, p := range e.pending {
		if paid && p.paid {
			return true
		}
		if !paid && p.status == target {
			return true
		}
	}
	return false
}

func (e *entry) dropPending(keep func(p pendingUpdate) bool) {
	kept := e.pending[:0]
	for _, p := range e.pending {
		if keep(p) {
			kept = append(kept, p)
		}
	}
	e.pending = kept
}

func (e *entry) view() View {
	s := e.displayedStatus()
	rec := e.confirmed
	return View{
		Record:       rec,
		Status:       s,
		PaymentState: e.displayedPayment(),
		Updating:     len(e.pending) > 0,
		Entry:        status.Lookup(s),
		Progress:     status.ProgressOf(s),
	}
}

// Option настраивает Synchronizer.
type Option func(*Synchronizer)

// WithListeners добавляет получателей подтверждённых изменений.
func WithListeners(listeners ...Listener) Option {
	return func(s *Synchronizer) {
		for _, l := range listeners {
			if l != nil {
				s.listeners = append(s.listeners, l)
			}
		}
	}
}

// WithGuard подключает разделяемый флаг выполнения запроса.
func WithGuard(g Guard) Option {
	return func(s *Synchronizer) {
		s.guard = g
	}
}

// WithMetrics подключает метрики.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Synchronizer) {
		s.metrics = m
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Synchronizer) {
		s.now = now
	}
}

// Synchronizer согласует локальное оптимистичное состояние заказов с сервисом заказов.
type Synchronizer struct {
	svc       OrderService
	logger    *zap.Logger
	listeners []Listener
	guard     Guard
	metrics   *metrics.Metrics
	now       func() time.Time

	mu      sync.Mutex
	seq     uint64
	entries map[string]*entry

	refreshes singleflight.Group
}

// NewSynchronizer создаёт синхронизатор поверх клиента сервиса заказов.
func NewSynchronizer(svc OrderService, logger *zap.Logger, opts ...Option) *Synchronizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Synchronizer{
		svc:     svc,
		logger:  logger,
		now:     time.Now,
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Synchronizer) nextSeq() uint64 {
	s.seq++
	return s.seq
}

// Snapshot возвращает текущее состояние заказа, если он отслеживается.
func (s *Synchronizer) Snapshot(orderID string) (View, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[orderID]
	if !ok {
		return View{}, false
	}
	return e.view(), true
}

// Tracked возвращает идентификаторы отслеживаемых заказов.
func (s *Synchronizer) Tracked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	return ids
}

// Forget прекращает отслеживание заказа. Ответы на уже отправленные запросы будут отброшены.
func (s *Synchronizer) Forget(orderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, orderID)
}

// Refresh перечитывает запись отслеживания из сервиса заказов.
// Одновременные обновления одного заказа объединяются в один запрос.
func (s *Synchronizer) Refresh(ctx context.Context, actor model.Actor, orderID string) (View, error) {
	view, err := s.refreshUnchecked(ctx, actor, orderID)
	if err != nil {
		return View{}, err
	}

	if err := transition.CheckView(actor, view.Record); err != nil {
		return View{}, err
	}
	return view, nil
}

func (s *Synchronizer) refresh(ctx context.Context, actor model.Actor, orderID string) (View, error) {
	s.mu.Lock()
	seq := s.nextSeq()
	e := s.entries[orderID]
	s.mu.Unlock()

	rec, err := s.svc.GetTracking(ctx, actor.Token, orderID)
	if err != nil {
		s.metrics.ObserveRefresh(false)
		return View{}, fmt.Errorf("refresh order %s: %w", orderID, err)
	}
	s.metrics.ObserveRefresh(true)

	if rec.OrderID == "" {
		rec.OrderID = orderID
	}
	s.checkUnknown(rec.OrderID, rec.Status)

	s.mu.Lock()
	current, tracked := s.entries[orderID]
	switch {
	case !tracked && e == nil:
		// первое чтение заказа
		current = &entry{confirmed: *rec, refreshSeq: seq}
		s.entries[orderID] = current
		view := current.view()
		s.mu.Unlock()
		return view, nil
	case !tracked || (e != nil && current != e):
		// заказ забыли или начали отслеживать заново, пока шёл запрос
		s.mu.Unlock()
		return viewOf(*rec), nil
	}

	var changes []model.StatusChange
	if seq > current.refreshSeq {
		current.refreshSeq = seq
		if ch, changed := s.adopt(current, *rec, seq, model.Actor{Role: model.RoleSystem}, false); changed {
			changes = append(changes, ch)
		}
	}
	view := current.view()
	s.mu.Unlock()

	s.notify(ctx, changes)
	return view, nil
}

// RequestTransition оптимистично переводит заказ в статус to и отправляет запрос сервису заказов.
// Ожидаемые виды ошибок возвращаются в Result; error не равен nil только для непредвиденных сбоев.
func (s *Synchronizer) RequestTransition(ctx context.Context, actor model.Actor, orderID string, to model.Status) (Result, error) {
	target, known := status.Parse(string(to))
	if !known {
		res := Result{
			Outcome:   OutcomeInvalidTransition,
			Requested: to,
			Err:       fmt.Errorf("%w: %w %q", model.ErrInvalidTransition, model.ErrUnknownStatus, to),
		}
		s.metrics.ObserveTransition(string(res.Outcome))
		return res, nil
	}

	if _, ok := s.Snapshot(orderID); !ok {
		if _, err := s.Refresh(ctx, actor, orderID); err != nil {
			return s.failBeforeIssue(target, err)
		}
	}

	s.mu.Lock()
	e, ok := s.entries[orderID]
	if !ok {
		s.mu.Unlock()
		return s.failBeforeIssue(target, fmt.Errorf("%w: order %s", model.ErrNotFound, orderID))
	}

	if e.hasPending(target, false) {
		res := Result{Outcome: OutcomeInFlight, Requested: target, View: e.view(), Err: model.ErrUpdating}
		s.mu.Unlock()
		s.metrics.ObserveTransition(string(res.Outcome))
		return res, nil
	}

	// оплата учитывается только подтверждённая сервером
	current := e.confirmed
	current.Status = e.displayedStatus()
	if err := transition.Check(actor, current, target); err != nil {
		res := Result{Outcome: outcomeOf(err), Requested: target, View: e.view(), Err: err}
		s.mu.Unlock()
		s.metrics.ObserveTransition(string(res.Outcome))
		return res, nil
	}

	seq := s.nextSeq()
	e.pending = append(e.pending, pendingUpdate{seq: seq, status: target})
	base := e.confirmed
	s.mu.Unlock()

	owner := uuid.NewString()
	if !s.acquire(ctx, orderID, target, owner) {
		s.mu.Lock()
		e.dropPending(func(p pendingUpdate) bool { return p.seq != seq })
		res := Result{Outcome: OutcomeInFlight, Requested: target, Seq: seq, View: e.view(), Err: model.ErrUpdating}
		s.mu.Unlock()
		s.metrics.ObserveTransition(string(res.Outcome))
		return res, nil
	}
	defer s.release(orderID, target, owner)

	var rec *model.TrackingRecord
	var err error
	if actor.Role == model.RoleAdmin {
		var order *model.Order
		order, err = s.svc.OverrideStatus(ctx, actor.Token, orderID, target)
		if err == nil {
			merged := base.ApplyOrder(*order)
			rec = &merged
		}
	} else {
		rec, err = s.svc.UpdateTracking(ctx, actor.Token, base.ID, target)
	}

	return s.complete(ctx, actor, orderID, e, seq, target, rec, err)
}

// ConfirmPayment отмечает заказ оплаченным по сигналу платёжной системы. Статус не меняется.
func (s *Synchronizer) ConfirmPayment(ctx context.Context, actor model.Actor, orderID string) (Result, error) {
	if _, ok := s.Snapshot(orderID); !ok {
		if _, err := s.refreshUnchecked(ctx, actor, orderID); err != nil {
			return s.failBeforeIssue("", err)
		}
	}

	s.mu.Lock()
	e, ok := s.entries[orderID]
	if !ok {
		s.mu.Unlock()
		return s.failBeforeIssue("", fmt.Errorf("%w: order %s", model.ErrNotFound, orderID))
	}

	current := e.confirmed
	current.Status = e.displayedStatus()
	if err := transition.CheckPayment(actor, current); err != nil {
		res := Result{Outcome: outcomeOf(err), View: e.view(), Err: err}
		s.mu.Unlock()
		s.metrics.ObserveTransition(string(res.Outcome))
		return res, nil
	}

	if e.confirmed.IsPaid() {
		res := Result{Outcome: OutcomeUnchanged, View: e.view()}
		s.mu.Unlock()
		s.metrics.ObserveTransition(string(res.Outcome))
		return res, nil
	}

	if e.hasPending("", true) {
		res := Result{Outcome: OutcomeInFlight, View: e.view(), Err: model.ErrUpdating}
		s.mu.Unlock()
		s.metrics.ObserveTransition(string(res.Outcome))
		return res, nil
	}

	seq := s.nextSeq()
	e.pending = append(e.pending, pendingUpdate{seq: seq, paid: true})
	trackingID := e.confirmed.ID
	s.mu.Unlock()

	rec, err := s.svc.ConfirmPayment(ctx, actor.Token, trackingID)
	return s.complete(ctx, actor, orderID, e, seq, "", rec, err)
}

// refreshUnchecked перечитывает запись без проверки прав на просмотр:
// платёжная система не является участником заказа.
func (s *Synchronizer) refreshUnchecked(ctx context.Context, actor model.Actor, orderID string) (View, error) {
	v, err, _ := s.refreshes.Do(orderID+"\x00"+actor.Token, func() (any, error) {
		return s.refresh(ctx, actor, orderID)
	})
	if err != nil {
		return View{}, err
	}
	return v.(View), nil
}

// complete применяет ответ сервиса заказов на запрос с номером seq.
func (s *Synchronizer) complete(ctx context.Context, actor model.Actor, orderID string, issued *entry, seq uint64,
	requested model.Status, rec *model.TrackingRecord, callErr error) (Result, error) {
	s.mu.Lock()

	res := Result{Requested: requested, Seq: seq}
	current, tracked := s.entries[orderID]

	if !tracked || current != issued {
		s.mu.Unlock()
		res.Outcome = OutcomeDiscarded
		if rec != nil {
			res.View = viewOf(*rec)
		}
		s.metrics.ObserveTransition(string(res.Outcome))
		s.logger.Debug("response for forgotten order discarded",
			zap.String("order", orderID), zap.Uint64("seq", seq))
		return res, nil
	}

	if callErr != nil {
		// откат: убираем изменение и всё, что было построено поверх него
		current.dropPending(func(p pendingUpdate) bool { return p.seq < seq })
		res.Outcome = outcomeOf(callErr)
		res.Err = callErr
		res.View = current.view()
		s.mu.Unlock()

		s.metrics.ObserveTransition(string(res.Outcome))
		if res.Outcome == OutcomeFailed {
			s.logger.Error("order service request failed",
				zap.Error(callErr), zap.String("order", orderID), zap.Uint64("seq", seq))
			return res, callErr
		}
		s.logger.Info("order update rolled back",
			zap.Error(callErr), zap.String("order", orderID), zap.Uint64("seq", seq),
			zap.String("outcome", string(res.Outcome)))
		return res, nil
	}

	if rec.OrderID == "" {
		rec.OrderID = orderID
	}

	if seq <= current.appliedSeq {
		current.dropPending(func(p pendingUpdate) bool { return p.seq != seq })
		res.Outcome = OutcomeStale
		res.View = current.view()
		s.mu.Unlock()

		s.metrics.ObserveTransition(string(res.Outcome))
		s.logger.Debug("stale response discarded",
			zap.String("order", orderID), zap.Uint64("seq", seq))
		return res, nil
	}

	s.checkUnknown(orderID, rec.Status)

	ch, changed := s.adopt(current, *rec, seq, actor, true)
	res.View = current.view()

	adoptedStatus, _ := status.Parse(string(rec.Status))
	switch {
	case requested != "" && adoptedStatus != requested:
		// сервер авторитетен: другой статус в ответе принимается как есть
		res.Outcome = OutcomeAdopted
	case !changed:
		res.Outcome = OutcomeUnchanged
	default:
		res.Outcome = OutcomeApplied
	}
	s.mu.Unlock()

	s.metrics.ObserveTransition(string(res.Outcome))
	if changed {
		s.notify(ctx, []model.StatusChange{ch})
	}
	return res, nil
}

// adopt принимает запись сервера как подтверждённую. Вызывается под s.mu.
// При settle снимаются оптимистичные изменения с номерами не больше seq,
// а перечитывания, начатые до этого момента, считаются устаревшими.
// Обновление через Refresh ожидающие изменения не трогает, они ждут собственных ответов.
func (s *Synchronizer) adopt(e *entry, rec model.TrackingRecord, seq uint64, actor model.Actor, settle bool) (model.StatusChange, bool) {
	prev := e.confirmed
	e.confirmed = rec.RetainTimestamps(prev)
	if settle {
		e.appliedSeq = seq
		e.refreshSeq = max(e.refreshSeq, s.seq)
		e.dropPending(func(p pendingUpdate) bool { return p.seq > seq })
	}

	if prev.Status == e.confirmed.Status && prev.PaymentState == e.confirmed.PaymentState {
		return model.StatusChange{}, false
	}

	changedAt := e.confirmed.UpdatedAt
	if changedAt.IsZero() {
		changedAt = s.now()
	}

	return model.StatusChange{
		ID:           uuid.NewString(),
		OrderID:      e.confirmed.OrderID,
		TrackingID:   e.confirmed.ID,
		From:         prev.Status,
		To:           e.confirmed.Status,
		PaymentState: e.confirmed.PaymentState,
		ActorRole:    actor.Role,
		ActorID:      actor.ID,
		ChangedAt:    changedAt,
		Record:       e.confirmed,
	}, true
}

func (s *Synchronizer) notify(ctx context.Context, changes []model.StatusChange) {
	ctx = context.WithoutCancel(ctx)
	for _, ch := range changes {
		for _, l := range s.listeners {
			if err := l.StatusChanged(ctx, ch); err != nil {
				s.logger.Warn("status change listener failed",
					zap.Error(err), zap.String("order", ch.OrderID), zap.String("to", string(ch.To)))
			}
		}
	}
}

func (s *Synchronizer) checkUnknown(orderID string, raw model.Status) {
	if status.IsKnown(raw) {
		return
	}
	s.metrics.ObserveUnknownStatus()
	s.logger.Warn("order service returned unknown status",
		zap.String("order", orderID), zap.String("status", string(raw)),
		zap.Error(model.ErrUnknownStatus))
}

func (s *Synchronizer) acquire(ctx context.Context, orderID string, target model.Status, owner string) bool {
	if s.guard == nil {
		return true
	}
	ok, err := s.guard.Acquire(ctx, orderID, target, owner)
	if err != nil {
		// при недоступности общего флага полагаемся на локальный
		s.logger.Warn("in-flight guard unavailable", zap.Error(err), zap.String("order", orderID))
		return true
	}
	return ok
}

func (s *Synchronizer) release(orderID string, target model.Status, owner string) {
	if s.guard == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.guard.Release(ctx, orderID, target, owner); err != nil {
		s.logger.Warn("release in-flight guard", zap.Error(err), zap.String("order", orderID))
	}
}

func (s *Synchronizer) failBeforeIssue(target model.Status, err error) (Result, error) {
	res := Result{Outcome: outcomeOf(err), Requested: target, Err: err}
	s.metrics.ObserveTransition(string(res.Outcome))
	if res.Outcome == OutcomeFailed {
		return res, err
	}
	return res, nil
}

func outcomeOf(err error) Outcome {
	switch {
	case errors.Is(err, model.ErrInvalidTransition):
		return OutcomeInvalidTransition
	case errors.Is(err, model.ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, model.ErrForbidden):
		return OutcomeForbidden
	case errors.Is(err, model.ErrNetworkFailure),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return OutcomeNetworkFailure
	case errors.Is(err, model.ErrUpdating):
		return OutcomeInFlight
	default:
		return OutcomeFailed
	}
}

func viewOf(rec model.TrackingRecord) View {
	return View{
		Record:       rec,
		Status:       rec.Status,
		PaymentState: rec.PaymentState,
		Entry:        status.Lookup(rec.Status),
		Progress:     status.ProgressOf(rec.Status),
	}
}
