package application

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	eventdomain "github.com/wyfcoding/paymentprocessor/internal/event/domain"
	"github.com/wyfcoding/paymentprocessor/internal/gateway/domain"
	payoutapp "github.com/wyfcoding/paymentprocessor/internal/payout/application"
	payoutdomain "github.com/wyfcoding/paymentprocessor/internal/payout/domain"
	settlementdomain "github.com/wyfcoding/paymentprocessor/internal/settlement/domain"
)

type fakeEventRepo struct {
	mu        sync.Mutex
	events    []*eventdomain.ProcessorEvent
	failTopic string
}

func (f *fakeEventRepo) Append(ctx context.Context, topic string, payload any) (*eventdomain.ProcessorEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTopic != "" && topic == f.failTopic {
		return nil, errors.New("event store unavailable")
	}
	ev := &eventdomain.ProcessorEvent{ID: "ev", Topic: topic}
	f.events = append(f.events, ev)
	return ev, nil
}

func (f *fakeEventRepo) List(ctx context.Context, topic string, limit int) ([]*eventdomain.ProcessorEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*eventdomain.ProcessorEvent
	for _, ev := range f.events {
		if topic == "" || ev.Topic == topic {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f *fakeEventRepo) topics() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	for i, ev := range f.events {
		out[i] = ev.Topic
	}
	return out
}

type fakePayoutRepo struct {
	mu     sync.Mutex
	byRef  map[string]*payoutdomain.Payout
	failed bool
}

func newFakePayoutRepo() *fakePayoutRepo {
	return &fakePayoutRepo{byRef: map[string]*payoutdomain.Payout{}}
}

func (f *fakePayoutRepo) CreateOrGet(ctx context.Context, txn *payoutdomain.Transaction, payout *payoutdomain.Payout) (*payoutdomain.Payout, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failed {
		return nil, false, errors.New("database unavailable")
	}
	if existing, ok := f.byRef[payout.ExternalRef]; ok {
		return existing, false, nil
	}
	f.byRef[payout.ExternalRef] = payout
	return payout, true, nil
}

func (f *fakePayoutRepo) GetByExternalRef(ctx context.Context, ref string) (*payoutdomain.Payout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byRef[ref], nil
}

func (f *fakePayoutRepo) GetByTransactionID(ctx context.Context, txnID string) (*payoutdomain.Payout, error) {
	return nil, nil
}

func (f *fakePayoutRepo) ListPending(ctx context.Context, payoutType string, limit int) ([]*payoutdomain.Payout, error) {
	return nil, nil
}

func (f *fakePayoutRepo) Update(ctx context.Context, payout *payoutdomain.Payout) error {
	return nil
}

type fakeClearingRepo struct {
	mu      sync.Mutex
	entries []*settlementdomain.ClearingEntry
	failed  bool
}

func (f *fakeClearingRepo) CreateEntry(ctx context.Context, entry *settlementdomain.ClearingEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failed {
		return errors.New("database unavailable")
	}
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeClearingRepo) ListIncluded(ctx context.Context, limit int) ([]*settlementdomain.ClearingEntry, error) {
	return nil, nil
}

func (f *fakeClearingRepo) ListEntries(ctx context.Context, status string, limit int) ([]*settlementdomain.ClearingEntry, error) {
	return nil, nil
}

func (f *fakeClearingRepo) CreateBatchAndSettle(ctx context.Context, batch *settlementdomain.SettlementBatch, entryIDs []string) error {
	return nil
}

func (f *fakeClearingRepo) GetBatch(ctx context.Context, batchID string) (*settlementdomain.SettlementBatch, error) {
	return nil, nil
}

func (f *fakeClearingRepo) ListBatches(ctx context.Context, limit int) ([]*settlementdomain.SettlementBatch, error) {
	return nil, nil
}

func newTestService(events *fakeEventRepo, payouts *fakePayoutRepo, clearing *fakeClearingRepo) *ProcessingService {
	payoutService := payoutapp.NewService(payouts, nil)
	return NewProcessingService(events, payoutService, clearing, nil)
}

func validPayoutFields() map[string]any {
	return map[string]any{
		"type":          "iso20022",
		"protocol":      "101.1",
		"auth_code":     "4821",
		"creditor_name": "ACME GmbH",
		"amount":        "50",
		"currency":      "EUR",
		"merchant_id":   "m-1",
		"txn_id":        "txn-abc",
		"payoutDetails": map[string]any{"iban": "DE89370400440532013000"},
	}
}

func TestProcessStructuredApproved(t *testing.T) {
	events := &fakeEventRepo{}
	payouts := newFakePayoutRepo()
	svc := newTestService(events, payouts, &fakeClearingRepo{})

	outcome := svc.Process(context.Background(), validPayoutFields())

	if !outcome.Approved || outcome.ResponseCode != domain.CodeApproved {
		t.Fatalf("outcome = %+v, want approved 00", outcome)
	}
	if outcome.TxnID != "txn-abc" {
		t.Errorf("TxnID = %q, want provided txn id echoed", outcome.TxnID)
	}
	if !strings.HasPrefix(outcome.GatewayTxnID, "ISS-") {
		t.Errorf("GatewayTxnID = %q, want ISS- prefix", outcome.GatewayTxnID)
	}
	if outcome.AuthCode != "4821" {
		t.Errorf("AuthCode = %q, want echoed for DE38", outcome.AuthCode)
	}

	topics := events.topics()
	if len(topics) != 1 || topics[0] != eventdomain.TopicPayoutIncoming {
		t.Errorf("event topics = %v, want single payout.incoming", topics)
	}
	if _, ok := payouts.byRef["txn-abc"]; !ok {
		t.Errorf("payout not created with txn_id as reference")
	}
}

func TestProcessStructuredRejectedCollectsAllReasons(t *testing.T) {
	events := &fakeEventRepo{}
	svc := newTestService(events, newFakePayoutRepo(), &fakeClearingRepo{})

	outcome := svc.Process(context.Background(), map[string]any{
		"type":      "iso20022",
		"protocol":  "99.1",
		"auth_code": "12",
	})

	if outcome.Approved || outcome.ResponseCode != domain.CodeDeclined {
		t.Fatalf("outcome = %+v, want declined 05", outcome)
	}
	for _, want := range []string{"invalid_protocol", "invalid_auth_code", "missing_iban"} {
		if !strings.Contains(outcome.ErrorDetail, want) {
			t.Errorf("ErrorDetail %q missing %q", outcome.ErrorDetail, want)
		}
	}
	if !strings.HasPrefix(outcome.ErrorDetail, "validation_failed:") {
		t.Errorf("ErrorDetail = %q, want validation_failed prefix", outcome.ErrorDetail)
	}

	topics := events.topics()
	if len(topics) != 1 || topics[0] != eventdomain.TopicPayoutIncomingRejected {
		t.Errorf("event topics = %v, want single rejection event", topics)
	}
}

func TestProcessRejectionAuditFailureDoesNotMaskOutcome(t *testing.T) {
	events := &fakeEventRepo{failTopic: eventdomain.TopicPayoutIncomingRejected}
	svc := newTestService(events, newFakePayoutRepo(), &fakeClearingRepo{})

	outcome := svc.Process(context.Background(), map[string]any{
		"type":     "iso20022",
		"protocol": "bad",
	})
	if outcome.ResponseCode != domain.CodeDeclined {
		t.Errorf("ResponseCode = %q, want 05 despite audit failure", outcome.ResponseCode)
	}
}

func TestProcessApprovalAuditFailureIsMalfunction(t *testing.T) {
	events := &fakeEventRepo{failTopic: eventdomain.TopicPayoutIncoming}
	payouts := newFakePayoutRepo()
	svc := newTestService(events, payouts, &fakeClearingRepo{})

	outcome := svc.Process(context.Background(), validPayoutFields())
	if outcome.Approved || outcome.ResponseCode != domain.CodeMalfunction {
		t.Errorf("outcome = %+v, want 96 when approval audit cannot be written", outcome)
	}
	if len(payouts.byRef) != 0 {
		t.Errorf("payout created despite failed audit write")
	}
}

func TestProcessPayoutCreationFailure(t *testing.T) {
	payouts := newFakePayoutRepo()
	payouts.failed = true
	svc := newTestService(&fakeEventRepo{}, payouts, &fakeClearingRepo{})

	outcome := svc.Process(context.Background(), validPayoutFields())
	if outcome.Approved || outcome.ResponseCode != domain.CodeMalfunction {
		t.Errorf("outcome = %+v, want 96 on payout persistence failure", outcome)
	}
}

func TestProcessStructuredIdempotentReplay(t *testing.T) {
	events := &fakeEventRepo{}
	payouts := newFakePayoutRepo()
	svc := newTestService(events, payouts, &fakeClearingRepo{})

	first := svc.Process(context.Background(), validPayoutFields())
	second := svc.Process(context.Background(), validPayoutFields())

	if first.ResponseCode != domain.CodeApproved || second.ResponseCode != domain.CodeApproved {
		t.Fatalf("codes = %q/%q, want 00/00", first.ResponseCode, second.ResponseCode)
	}
	if len(payouts.byRef) != 1 {
		t.Errorf("payouts = %d, want replay to reuse the existing record", len(payouts.byRef))
	}
}

func TestProcessLegacyCardApproved(t *testing.T) {
	events := &fakeEventRepo{}
	clearing := &fakeClearingRepo{}
	svc := newTestService(events, newFakePayoutRepo(), clearing)

	outcome := svc.Process(context.Background(), map[string]any{
		"2":      "4111111111111111",
		"amount": "1000",
		"49":     "USD",
	})

	if !outcome.Approved || outcome.ResponseCode != domain.CodeApproved {
		t.Fatalf("outcome = %+v, want approved 00", outcome)
	}
	if len(clearing.entries) != 1 {
		t.Fatalf("clearing entries = %d, want 1", len(clearing.entries))
	}
	entry := clearing.entries[0]
	if entry.Status != settlementdomain.ClearingStatusIncluded {
		t.Errorf("entry status = %q, want INCLUDED", entry.Status)
	}
	if entry.Amount.String() != "1000" {
		t.Errorf("entry amount = %s, want 1000", entry.Amount)
	}
	if entry.Currency != "USD" {
		t.Errorf("entry currency = %q", entry.Currency)
	}

	topics := events.topics()
	if len(topics) != 1 || topics[0] != eventdomain.TopicClearingIncoming {
		t.Errorf("event topics = %v, want clearing.incoming", topics)
	}
}

func TestProcessLegacyCardStructuralFailure(t *testing.T) {
	events := &fakeEventRepo{}
	clearing := &fakeClearingRepo{}
	svc := newTestService(events, newFakePayoutRepo(), clearing)

	outcome := svc.Process(context.Background(), map[string]any{
		"2": "1234567890123456",
	})

	if outcome.Approved || outcome.ResponseCode != domain.CodeMalfunction {
		t.Fatalf("outcome = %+v, want 96", outcome)
	}
	if len(clearing.entries) != 0 {
		t.Errorf("clearing entries = %d, want none for rejected card", len(clearing.entries))
	}
	topics := events.topics()
	if len(topics) != 1 || topics[0] != eventdomain.TopicClearingIncoming {
		t.Errorf("event topics = %v, rejected card must still be audited", topics)
	}
}

func TestProcessUnclassifiable(t *testing.T) {
	events := &fakeEventRepo{}
	svc := newTestService(events, newFakePayoutRepo(), &fakeClearingRepo{})

	outcome := svc.Process(context.Background(), map[string]any{"hello": "world"})
	if outcome.Approved || outcome.ResponseCode != domain.CodeMalfunction {
		t.Errorf("outcome = %+v, want 96 for unrecognized message", outcome)
	}
	topics := events.topics()
	if len(topics) != 1 || topics[0] != eventdomain.TopicClearingIncoming {
		t.Errorf("event topics = %v, want clearing.incoming", topics)
	}
}

func TestProcessClearingEntryFailure(t *testing.T) {
	clearing := &fakeClearingRepo{failed: true}
	svc := newTestService(&fakeEventRepo{}, newFakePayoutRepo(), clearing)

	outcome := svc.Process(context.Background(), map[string]any{"2": "4111111111111111"})
	if outcome.Approved || outcome.ResponseCode != domain.CodeMalfunction {
		t.Errorf("outcome = %+v, want 96 on clearing persistence failure", outcome)
	}
}
