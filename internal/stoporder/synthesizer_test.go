package stoporder

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"relay-trader/internal/exchange"
)

type mockStopClient struct {
	lastPrice   float64
	tickerCalls int
	specs       []exchange.OrderSpec
	failTypes   map[string]error
}

func (m *mockStopClient) FetchLastPrice(_ context.Context, _ string) (float64, error) {
	m.tickerCalls++
	return m.lastPrice, nil
}

func (m *mockStopClient) CreateOrder(_ context.Context, spec exchange.OrderSpec) (exchange.OrderRecord, error) {
	if err := m.failTypes[spec.Type]; err != nil {
		return exchange.OrderRecord{}, err
	}
	m.specs = append(m.specs, spec)
	return exchange.OrderRecord{
		ID:     fmt.Sprintf("stop-%d", len(m.specs)),
		Symbol: spec.Symbol,
		Side:   spec.Side,
		Type:   spec.Type,
		Amount: spec.Amount,
	}, nil
}

func basePlan() Plan {
	return Plan{
		Symbol:       "BTC/USDT:USDT",
		Side:         exchange.SideBuy,
		PositionSize: 2,
	}
}

func TestSynthesize_BuyEntryPrices(t *testing.T) {
	client := &mockStopClient{lastPrice: 100}
	synth := NewSynthesizer(client, nil)

	plan := basePlan()
	plan.TakeProfitPct = 5
	plan.StopLossPct = 5

	placed, err := synth.Synthesize(context.Background(), plan)
	if err != nil {
		t.Fatalf("Synthesize returned error: %v", err)
	}
	if len(placed) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(placed))
	}
	if client.tickerCalls != 1 {
		t.Errorf("expected single ticker fetch, got %d", client.tickerCalls)
	}

	tp, sl := client.specs[0], client.specs[1]
	if tp.Side != exchange.SideSell || sl.Side != exchange.SideSell {
		t.Errorf("expected sell side for both protective orders, got %s / %s", tp.Side, sl.Side)
	}
	if tp.StopPrice != 105 {
		t.Errorf("expected take-profit trigger 105, got %v", tp.StopPrice)
	}
	if sl.StopPrice != 95 {
		t.Errorf("expected stop-loss trigger 95, got %v", sl.StopPrice)
	}
	if !tp.ReduceOnly || !sl.ReduceOnly {
		t.Errorf("protective orders must be reduce-only")
	}
	if tp.Amount != 2 || sl.Amount != 2 {
		t.Errorf("expected full position size 2, got %v / %v", tp.Amount, sl.Amount)
	}
}

func TestSynthesize_SellEntryInvertsPrices(t *testing.T) {
	client := &mockStopClient{lastPrice: 100}
	synth := NewSynthesizer(client, nil)

	plan := basePlan()
	plan.Side = exchange.SideSell
	plan.TakeProfitPct = 5
	plan.StopLossPct = 5

	if _, err := synth.Synthesize(context.Background(), plan); err != nil {
		t.Fatalf("Synthesize returned error: %v", err)
	}

	tp, sl := client.specs[0], client.specs[1]
	if tp.Side != exchange.SideBuy || sl.Side != exchange.SideBuy {
		t.Errorf("expected buy side for both protective orders, got %s / %s", tp.Side, sl.Side)
	}
	if tp.StopPrice != 95 {
		t.Errorf("expected take-profit trigger 95, got %v", tp.StopPrice)
	}
	if sl.StopPrice != 105 {
		t.Errorf("expected stop-loss trigger 105, got %v", sl.StopPrice)
	}
}

func TestSynthesize_PartialSizing(t *testing.T) {
	client := &mockStopClient{lastPrice: 100}
	synth := NewSynthesizer(client, nil)

	plan := basePlan()
	plan.TakeProfitPct = 5
	plan.StopLossPct = 5
	plan.PartialTP = true
	plan.PartialPct = 25

	if _, err := synth.Synthesize(context.Background(), plan); err != nil {
		t.Fatalf("Synthesize returned error: %v", err)
	}

	tp, sl := client.specs[0], client.specs[1]
	if tp.Amount != 0.5 {
		t.Errorf("expected partial take-profit amount 0.5, got %v", tp.Amount)
	}
	if sl.Amount != 2 {
		t.Errorf("expected full stop-loss amount 2, got %v", sl.Amount)
	}
}

func TestSynthesize_OnlyRequestedOrders(t *testing.T) {
	client := &mockStopClient{lastPrice: 100}
	synth := NewSynthesizer(client, nil)

	plan := basePlan()
	plan.StopLossPct = 3

	placed, err := synth.Synthesize(context.Background(), plan)
	if err != nil {
		t.Fatalf("Synthesize returned error: %v", err)
	}
	if len(placed) != 1 || placed[0].Kind != KindStopLoss {
		t.Fatalf("expected single stop-loss order, got %+v", placed)
	}

	// 两个百分比都缺省时不访问网关。
	idle := &mockStopClient{lastPrice: 100}
	idleSynth := NewSynthesizer(idle, nil)
	placed, err = idleSynth.Synthesize(context.Background(), basePlan())
	if err != nil || len(placed) != 0 {
		t.Fatalf("expected no-op synthesis, got %+v (%v)", placed, err)
	}
	if idle.tickerCalls != 0 {
		t.Errorf("no-op synthesis must not fetch ticker, got %d calls", idle.tickerCalls)
	}
}

func TestSynthesize_PartialFailureKeepsSuccess(t *testing.T) {
	client := &mockStopClient{
		lastPrice: 100,
		failTypes: map[string]error{exchange.OrderTypeStop: errors.New("rejected")},
	}
	synth := NewSynthesizer(client, nil)

	plan := basePlan()
	plan.TakeProfitPct = 5
	plan.StopLossPct = 5

	placed, err := synth.Synthesize(context.Background(), plan)
	if err == nil {
		t.Fatalf("expected aggregated error for stop-loss failure")
	}
	if len(placed) != 1 || placed[0].Kind != KindTakeProfit {
		t.Fatalf("expected surviving take-profit order, got %+v", placed)
	}
}
