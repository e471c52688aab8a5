package tcp

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	eventdomain "github.com/wyfcoding/paymentprocessor/internal/event/domain"
	eventmysql "github.com/wyfcoding/paymentprocessor/internal/event/infrastructure/persistence/mysql"
	gatewayapp "github.com/wyfcoding/paymentprocessor/internal/gateway/application"
	"github.com/wyfcoding/paymentprocessor/internal/gateway/infrastructure/codec"
	payoutapp "github.com/wyfcoding/paymentprocessor/internal/payout/application"
	payoutmysql "github.com/wyfcoding/paymentprocessor/internal/payout/infrastructure/persistence/mysql"
	settlementdomain "github.com/wyfcoding/paymentprocessor/internal/settlement/domain"
	settlementmysql "github.com/wyfcoding/paymentprocessor/internal/settlement/infrastructure/persistence/mysql"
	"gorm.io/gorm"
)

type testStack struct {
	events   eventdomain.Repository
	clearing settlementdomain.Repository
	addr     string
	cancel   context.CancelFunc
}

func startTestServer(t *testing.T) *testStack {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("raw db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&eventmysql.EventModel{},
		&settlementmysql.ClearingEntryModel{},
		&settlementmysql.SettlementBatchModel{},
		&payoutmysql.TransactionModel{},
		&payoutmysql.PayoutModel{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	events := eventmysql.NewEventRepository(db)
	clearing := settlementmysql.NewClearingRepository(db)
	payouts := payoutapp.NewService(payoutmysql.NewPayoutRepository(db), nil)
	svc := gatewayapp.NewProcessingService(events, payouts, clearing, nil)

	server := NewServer("127.0.0.1:0", 5*time.Second, codec.MaxFrameBytes, svc, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_ = server.Run(ctx)
	}()
	t.Cleanup(cancel)

	deadline := time.Now().Add(2 * time.Second)
	for server.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatal("server did not start listening")
		}
		time.Sleep(5 * time.Millisecond)
	}

	return &testStack{
		events:   events,
		clearing: clearing,
		addr:     server.Addr().String(),
		cancel:   cancel,
	}
}

func sendFrame(t *testing.T, conn net.Conn, payload []byte) map[string]string {
	t.Helper()

	if _, err := conn.Write(codec.Encode(payload)); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(conn, header); err != nil {
		t.Fatalf("read response header: %v", err)
	}
	body := make([]byte, binary.BigEndian.Uint32(header))
	if _, err := io.ReadFull(conn, body); err != nil {
		t.Fatalf("read response body: %v", err)
	}

	if len(body) < 4 || string(body[:4]) != "0210" {
		t.Fatalf("response not 0210-prefixed: %q", body)
	}
	var resp struct {
		Fields map[string]string `json:"fields"`
	}
	if err := json.Unmarshal(body[4:], &resp); err != nil {
		t.Fatalf("unmarshal response %q: %v", body, err)
	}
	return resp.Fields
}

func TestEndToEndStructuredPayout(t *testing.T) {
	stack := startTestServer(t)
	conn, err := net.Dial("tcp", stack.addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	payload, _ := json.Marshal(map[string]any{
		"type":          "iso20022",
		"protocol":      "101.1",
		"auth_code":     "4821",
		"amount":        50,
		"currency":      "EUR",
		"payoutDetails": map[string]any{"iban": "DE89370400440532013000"},
	})
	fields := sendFrame(t, conn, payload)

	if fields["39"] != "00" {
		t.Errorf("DE39 = %q, want 00", fields["39"])
	}
	if fields["38"] != "4821" {
		t.Errorf("DE38 = %q, want echoed auth code", fields["38"])
	}

	events, err := stack.events.List(context.Background(), eventdomain.TopicPayoutIncoming, 10)
	if err != nil {
		t.Fatalf("List events: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("payout.incoming events = %d, want 1", len(events))
	}
}

func TestEndToEndLegacyCard(t *testing.T) {
	stack := startTestServer(t)
	conn, err := net.Dial("tcp", stack.addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	fields := sendFrame(t, conn, []byte(`{"2":"4111111111111111","amount":"1000"}`))
	if fields["39"] != "00" {
		t.Errorf("DE39 = %q, want 00 for 16-digit visa-prefixed card", fields["39"])
	}

	entries, err := stack.clearing.ListEntries(context.Background(), settlementdomain.ClearingStatusIncluded, 10)
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("clearing entries = %d, want 1", len(entries))
	}
}

func TestEndToEndInvalidPayoutDeclined(t *testing.T) {
	stack := startTestServer(t)
	conn, err := net.Dial("tcp", stack.addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	fields := sendFrame(t, conn, []byte(`{"type":"iso20022","protocol":"bad","auth_code":"x"}`))
	if fields["39"] != "05" {
		t.Errorf("DE39 = %q, want 05", fields["39"])
	}

	events, err := stack.events.List(context.Background(), eventdomain.TopicPayoutIncomingRejected, 10)
	if err != nil {
		t.Fatalf("List events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("rejection events = %d, want 1", len(events))
	}
	for _, want := range []string{"invalid_protocol", "invalid_auth_code", "missing_iban"} {
		if !strings.Contains(events[0].Payload, want) {
			t.Errorf("rejection payload %q missing %q", events[0].Payload, want)
		}
	}
}

func TestEndToEndGarbageKeepsConnectionOpen(t *testing.T) {
	stack := startTestServer(t)
	conn, err := net.Dial("tcp", stack.addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	fields := sendFrame(t, conn, []byte{0x01, 0x02, 0x03, 0x04})
	if fields["39"] != "96" {
		t.Errorf("DE39 = %q, want 96 for undecodable payload", fields["39"])
	}

	// 同一连接继续发下一帧，必须仍然可用。
	fields = sendFrame(t, conn, []byte(`{"2":"4111111111111111"}`))
	if fields["39"] != "00" {
		t.Errorf("DE39 = %q, want 00 on the frame after garbage", fields["39"])
	}
}

func TestEndToEndConcurrentConnections(t *testing.T) {
	stack := startTestServer(t)

	done := make(chan string, 2)
	for i := 0; i < 2; i++ {
		go func() {
			code, err := exchangeFrame(stack.addr, []byte(`{"2":"5500000000000004"}`))
			if err != nil {
				done <- err.Error()
				return
			}
			done <- code
		}()
	}

	for i := 0; i < 2; i++ {
		select {
		case code := <-done:
			if code != "00" {
				t.Errorf("connection %d got %q, want 00", i, code)
			}
		case <-time.After(3 * time.Second):
			t.Fatal("timed out waiting for concurrent responses")
		}
	}
}

// exchangeFrame 建立连接、发一帧并返回 DE39，供并发场景使用。
func exchangeFrame(addr string, payload []byte) (string, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	if _, err := conn.Write(codec.Encode(payload)); err != nil {
		return "", err
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(conn, header); err != nil {
		return "", err
	}
	body := make([]byte, binary.BigEndian.Uint32(header))
	if _, err := io.ReadFull(conn, body); err != nil {
		return "", err
	}

	var resp struct {
		Fields map[string]string `json:"fields"`
	}
	if err := json.Unmarshal(body[4:], &resp); err != nil {
		return "", err
	}
	return resp.Fields["39"], nil
}
