package tracker

import (
	"context"
	"sync"

	"github.com/mmeshcher/order-tracker/internal/model"
)

type reply struct {
	rec *model.TrackingRecord
	err error
}

type call struct {
	method string
	status model.Status
	reply  chan reply
}

// fakeService имитирует сервис заказов в памяти. При включённых шлюзах вызовы
// передаются в calls и ждут ответа от теста.
type fakeService struct {
	mu          sync.Mutex
	record      model.TrackingRecord
	updateErr   error
	getErr      error
	gateGets    bool
	gateUpdates bool
	updates     int
	overrides   int

	calls chan call
}

func newFakeService(rec model.TrackingRecord) *fakeService {
	return &fakeService{
		record: rec,
		calls:  make(chan call, 16),
	}
}

func (f *fakeService) setRecord(rec model.TrackingRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record = rec
}

func (f *fakeService) gate(gets, updates bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gateGets = gets
	f.gateUpdates = updates
}

func (f *fakeService) wait(ctx context.Context, method string, s model.Status) (*model.TrackingRecord, error) {
	c := call{method: method, status: s, reply: make(chan reply, 1)}
	f.calls <- c
	select {
	case r := <-c.reply:
		return r.rec, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeService) GetTracking(ctx context.Context, token, orderID string) (*model.TrackingRecord, error) {
	f.mu.Lock()
	gated, rec, err := f.gateGets, f.record, f.getErr
	f.mu.Unlock()

	if gated {
		return f.wait(ctx, "get", "")
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (f *fakeService) UpdateTracking(ctx context.Context, token, trackingID string, s model.Status) (*model.TrackingRecord, error) {
	f.mu.Lock()
	f.updates++
	gated, err := f.gateUpdates, f.updateErr
	f.mu.Unlock()

	if gated {
		return f.wait(ctx, "update", s)
	}
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.record.Status = s
	rec := f.record
	return &rec, nil
}

func (f *fakeService) ConfirmPayment(ctx context.Context, token, trackingID string) (*model.TrackingRecord, error) {
	f.mu.Lock()
	gated, err := f.gateUpdates, f.updateErr
	f.mu.Unlock()

	if gated {
		return f.wait(ctx, "payment", "")
	}
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.record.PaymentState = model.PaymentPaid
	rec := f.record
	return &rec, nil
}

func (f *fakeService) OverrideStatus(ctx context.Context, token, orderID string, s model.Status) (*model.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.overrides++
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	f.record.Status = s
	return &model.Order{
		ID:           orderID,
		VendorID:     f.record.VendorID,
		Status:       s,
		PaymentState: f.record.PaymentState,
	}, nil
}

func (f *fakeService) updateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updates
}

type recordingListener struct {
	mu      sync.Mutex
	changes []model.StatusChange
}

func (l *recordingListener) StatusChanged(ctx context.Context, ch model.StatusChange) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.changes = append(l.changes, ch)
	return nil
}

func (l *recordingListener) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.changes)
}

type fakeGuard struct {
	mu    sync.Mutex
	held  map[string]string
	calls int
}

func (g *fakeGuard) Acquire(ctx context.Context, orderID string, target model.Status, owner string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	key := orderID + "/" + string(target)
	if _, ok := g.held[key]; ok {
		return false, nil
	}
	g.held[key] = owner
	return true, nil
}

func (g *fakeGuard) Release(ctx context.Context, orderID string, target model.Status, owner string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := orderID + "/" + string(target)
	if g.held[key] == owner {
		delete(g.held, key)
	}
	return nil
}
