package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"relay-trader/internal/exchange"
)

type mockGateway struct {
	mu            sync.Mutex
	orders        []float64
	leverageCalls []int64
	leverageErr   error
	failAtIndex   int
}

func newMockGateway() *mockGateway {
	return &mockGateway{failAtIndex: -1}
}

func (m *mockGateway) CreateMarketOrder(_ context.Context, symbol string, side exchange.Side, amount float64) (exchange.OrderRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	index := len(m.orders)
	if m.failAtIndex >= 0 && index == m.failAtIndex {
		return exchange.OrderRecord{}, errors.New("insufficient margin")
	}

	m.orders = append(m.orders, amount)
	return exchange.OrderRecord{
		ID:     fmt.Sprintf("order-%d", index),
		Symbol: symbol,
		Side:   side,
		Type:   exchange.OrderTypeMarket,
		Amount: amount,
	}, nil
}

func (m *mockGateway) SetLeverage(_ context.Context, _ string, leverage int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.leverageErr != nil {
		return m.leverageErr
	}
	m.leverageCalls = append(m.leverageCalls, leverage)
	return nil
}

func (m *mockGateway) orderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

func newTestCoordinator(sleeps *[]time.Duration) *Coordinator {
	c := NewCoordinator(NewRegistry(10), nil)
	c.randFloat = func() float64 { return 0.5 }
	c.sleep = func(_ context.Context, d time.Duration) error {
		if sleeps != nil {
			*sleeps = append(*sleeps, d)
		}
		return nil
	}
	return c
}

func baseRequest() Request {
	return Request{
		Symbol:          "BTC/USDT:USDT",
		Side:            exchange.SideBuy,
		TotalAmount:     10,
		Count:           3,
		DurationMinutes: 10,
		MinAmount:       1,
		MaxAmount:       6,
	}
}

func TestCoordinator_ExecutesAllBatches(t *testing.T) {
	var sleeps []time.Duration
	coord := newTestCoordinator(&sleeps)
	gateway := newMockGateway()

	id, err := coord.Start(context.Background(), gateway, baseRequest())
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	coord.Wait()

	job, err := coord.Job(id)
	if err != nil {
		t.Fatalf("Job returned error: %v", err)
	}
	if job.Status != StatusCompleted {
		t.Fatalf("expected status completed, got %s (error=%q)", job.Status, job.Error)
	}
	if len(job.Orders) != 3 {
		t.Fatalf("expected 3 sub-orders, got %d", len(job.Orders))
	}

	sum := 0.0
	for i, sub := range job.Orders {
		sum += sub.Amount
		if sub.Index != i {
			t.Errorf("sub-order %d has index %d", i, sub.Index)
		}
		if i < len(job.Orders)-1 && (sub.Amount < 1 || sub.Amount > 6) {
			t.Errorf("sub-order %d amount %v outside [1, 6]", i, sub.Amount)
		}
	}
	if diff := sum - job.TotalAmount; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("sub-order sum %v != total %v", sum, job.TotalAmount)
	}
	if diff := job.ExecutedAmount - job.TotalAmount; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("executed amount %v != total %v", job.ExecutedAmount, job.TotalAmount)
	}

	// 3批10分钟：批间间隔200秒，最后一批之后不再等待。
	if len(sleeps) != 2 {
		t.Fatalf("expected 2 pacing sleeps, got %d", len(sleeps))
	}
	for _, d := range sleeps {
		if d != 200*time.Second {
			t.Errorf("expected 200s pacing, got %v", d)
		}
	}
}

func TestCoordinator_SingleBatchTakesTotal(t *testing.T) {
	var sleeps []time.Duration
	coord := newTestCoordinator(&sleeps)
	gateway := newMockGateway()

	req := baseRequest()
	req.Count = 1
	req.MaxAmount = 10

	id, err := coord.Start(context.Background(), gateway, req)
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	coord.Wait()

	job, _ := coord.Job(id)
	if job.Status != StatusCompleted {
		t.Fatalf("expected status completed, got %s", job.Status)
	}
	if len(job.Orders) != 1 || job.Orders[0].Amount != req.TotalAmount {
		t.Fatalf("expected single sub-order of %v, got %+v", req.TotalAmount, job.Orders)
	}
	if len(sleeps) != 0 {
		t.Errorf("expected no pacing sleep for single batch, got %d", len(sleeps))
	}
}

func TestCoordinator_SubOrderFailureHaltsJob(t *testing.T) {
	coord := newTestCoordinator(nil)
	gateway := newMockGateway()
	gateway.failAtIndex = 1

	id, err := coord.Start(context.Background(), gateway, baseRequest())
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	coord.Wait()

	job, _ := coord.Job(id)
	if job.Status != StatusError {
		t.Fatalf("expected status error, got %s", job.Status)
	}
	if len(job.Orders) != 1 {
		t.Fatalf("expected exactly 1 recorded sub-order, got %d", len(job.Orders))
	}
	if diff := job.ExecutedAmount - job.Orders[0].Amount; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("executed amount %v != recorded sub-order sum %v", job.ExecutedAmount, job.Orders[0].Amount)
	}
	if gateway.orderCount() != 1 {
		t.Errorf("expected no submissions after failure, gateway recorded %d", gateway.orderCount())
	}
	if job.Error == "" {
		t.Errorf("expected terminal error message")
	}
}

func TestCoordinator_LeverageFailureAbortsBeforeOrders(t *testing.T) {
	coord := newTestCoordinator(nil)
	gateway := newMockGateway()
	gateway.leverageErr = errors.New("leverage rejected")

	req := baseRequest()
	req.Leverage = 20

	id, err := coord.Start(context.Background(), gateway, req)
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	coord.Wait()

	job, _ := coord.Job(id)
	if job.Status != StatusError {
		t.Fatalf("expected status error, got %s", job.Status)
	}
	if len(job.Orders) != 0 || gateway.orderCount() != 0 {
		t.Fatalf("expected zero sub-orders after leverage failure, got %d recorded / %d submitted",
			len(job.Orders), gateway.orderCount())
	}
}

func TestCoordinator_AppliesLeverageOnce(t *testing.T) {
	coord := newTestCoordinator(nil)
	gateway := newMockGateway()

	req := baseRequest()
	req.Leverage = 10

	if _, err := coord.Start(context.Background(), gateway, req); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	coord.Wait()

	if len(gateway.leverageCalls) != 1 || gateway.leverageCalls[0] != 10 {
		t.Fatalf("expected single SetLeverage(10) call, got %v", gateway.leverageCalls)
	}
}

func TestCoordinator_RejectsInfeasibleRequest(t *testing.T) {
	coord := newTestCoordinator(nil)
	gateway := newMockGateway()

	req := baseRequest()
	req.MinAmount = 4 // 3*4 > 10

	if _, err := coord.Start(context.Background(), gateway, req); err == nil {
		t.Fatalf("expected validation error for infeasible request")
	}
	if coord.registry.Len() != 0 {
		t.Errorf("rejected request must not register a job")
	}
}

func TestCoordinator_StatusReadableWhileActive(t *testing.T) {
	coord := NewCoordinator(NewRegistry(10), nil)
	coord.randFloat = func() float64 { return 0.5 }

	release := make(chan struct{})
	coord.sleep = func(ctx context.Context, _ time.Duration) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	gateway := newMockGateway()
	id, err := coord.Start(context.Background(), gateway, baseRequest())
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	// 第一批提交后任务仍应处于 active 且可查询。
	deadline := time.Now().Add(2 * time.Second)
	for {
		job, getErr := coord.Job(id)
		if getErr != nil {
			t.Fatalf("Job returned error: %v", getErr)
		}
		if len(job.Orders) >= 1 {
			if job.Status != StatusActive {
				t.Fatalf("expected active status mid-run, got %s", job.Status)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for first sub-order")
		}
		time.Sleep(time.Millisecond)
	}

	close(release)
	coord.Wait()

	job, _ := coord.Job(id)
	if job.Status != StatusCompleted {
		t.Fatalf("expected completed after release, got %s", job.Status)
	}
}

func TestRegistry_GetUnknownJob(t *testing.T) {
	reg := NewRegistry(10)
	if _, err := reg.Get("missing"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestRegistry_EvictsOldestFinished(t *testing.T) {
	reg := NewRegistry(2)

	reg.put(Job{ID: "active-1", Status: StatusActive})
	for i := 0; i < 3; i++ {
		reg.put(Job{ID: fmt.Sprintf("done-%d", i), Status: StatusCompleted})
	}

	if _, err := reg.Get("done-0"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected oldest finished job evicted, got err=%v", err)
	}
	if _, err := reg.Get("done-2"); err != nil {
		t.Errorf("expected newest finished job retained, got err=%v", err)
	}
	if _, err := reg.Get("active-1"); err != nil {
		t.Errorf("active job must never be evicted, got err=%v", err)
	}
}

func TestRegistry_RejectsDuplicateJobID(t *testing.T) {
	reg := NewRegistry(10)

	first := Job{ID: "BTC/USDT:USDT_buy_1", TotalAmount: 10, Status: StatusActive}
	if err := reg.add(first); err != nil {
		t.Fatalf("add returned error: %v", err)
	}

	dup := Job{ID: "BTC/USDT:USDT_buy_1", TotalAmount: 99, Status: StatusActive}
	if err := reg.add(dup); !errors.Is(err, ErrJobExists) {
		t.Fatalf("expected ErrJobExists, got %v", err)
	}

	job, err := reg.Get("BTC/USDT:USDT_buy_1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if job.TotalAmount != 10 {
		t.Errorf("duplicate add must not overwrite, total amount is %v", job.TotalAmount)
	}
	if reg.Len() != 1 {
		t.Errorf("expected 1 registered job, got %d", reg.Len())
	}
}

func TestCoordinator_ShutdownInterruptDistinguishable(t *testing.T) {
	coord := newTestCoordinator(nil)
	coord.sleep = func(context.Context, time.Duration) error {
		return context.Canceled
	}
	gateway := newMockGateway()

	id, err := coord.Start(context.Background(), gateway, baseRequest())
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	coord.Wait()

	job, _ := coord.Job(id)
	if job.Status != StatusError {
		t.Fatalf("expected status error, got %s", job.Status)
	}
	if !strings.HasPrefix(job.Error, InterruptedPrefix) {
		t.Errorf("interrupted job error %q lacks prefix %q", job.Error, InterruptedPrefix)
	}

	// 交易所侧失败不得带中断前缀。
	failed := newTestCoordinator(nil)
	gateway = newMockGateway()
	gateway.failAtIndex = 0

	id, err = failed.Start(context.Background(), gateway, baseRequest())
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	failed.Wait()

	job, _ = failed.Job(id)
	if strings.HasPrefix(job.Error, InterruptedPrefix) {
		t.Errorf("gateway failure %q must not carry interrupt prefix", job.Error)
	}
}

func TestCoordinator_ObserverSeesTerminalJob(t *testing.T) {
	coord := newTestCoordinator(nil)

	var observed []Job
	coord.SetObserver(func(job Job) {
		observed = append(observed, job)
	})

	gw := newMockGateway()
	id, err := coord.Start(context.Background(), gw, baseRequest())
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	coord.Wait()

	if len(observed) != 1 {
		t.Fatalf("expected 1 observed job, got %d", len(observed))
	}
	if observed[0].ID != id || observed[0].Status != StatusCompleted {
		t.Errorf("unexpected observed job: %+v", observed[0])
	}
}
