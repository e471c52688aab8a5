// 商户流量模拟器：向网关发送帧式卡报文和结构化出款报文，
// 打印响应码分布。用于本地联调与压测。
package main

import (
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/wyfcoding/paymentprocessor/internal/gateway/infrastructure/codec"
)

var (
	addr     = flag.String("addr", "127.0.0.1:9000", "gateway address")
	count    = flag.Int("count", 10, "number of messages to send")
	mode     = flag.String("mode", "mixed", "traffic mode: card, payout, invalid, mixed")
	interval = flag.Duration("interval", 100*time.Millisecond, "delay between messages")
)

func main() {
	flag.Parse()

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial %s: %v\n", *addr, err)
		os.Exit(1)
	}
	defer conn.Close()

	codes := map[string]int{}
	for i := 0; i < *count; i++ {
		payload := buildMessage(*mode, i)

		if _, err := conn.Write(codec.Encode(payload)); err != nil {
			fmt.Fprintf(os.Stderr, "write: %v\n", err)
			os.Exit(1)
		}

		code, err := readResponseCode(conn)
		if err != nil {
			fmt.Fprintf(os.Stderr, "read response: %v\n", err)
			os.Exit(1)
		}
		codes[code]++
		fmt.Printf("#%d %s -> %s\n", i+1, *mode, code)

		time.Sleep(*interval)
	}

	fmt.Println("---")
	for code, n := range codes {
		fmt.Printf("code %s: %d\n", code, n)
	}
}

// buildMessage 按模式构造一条出站报文。mixed 模式轮流产生三种流量。
func buildMessage(mode string, i int) []byte {
	if mode == "mixed" {
		switch i % 3 {
		case 0:
			mode = "card"
		case 1:
			mode = "payout"
		default:
			mode = "invalid"
		}
	}

	switch mode {
	case "card":
		msg := map[string]any{
			"2":      "4111111111111111",
			"amount": fmt.Sprintf("%d", 100+rand.Intn(9900)),
			"49":     "USD",
			"42":     "merchant-sim",
			"txn_id": uuid.NewString(),
		}
		b, _ := json.Marshal(msg)
		return b
	case "payout":
		msg := map[string]any{
			"type":          "iso20022",
			"protocol":      "101.1",
			"auth_code":     fmt.Sprintf("%04d", rand.Intn(10000)),
			"creditor_name": "Sim Merchant GmbH",
			"amount":        fmt.Sprintf("%d.50", 10+rand.Intn(490)),
			"currency":      "EUR",
			"merchant_id":   "merchant-sim",
			"txn_id":        uuid.NewString(),
			"payoutDetails": map[string]any{
				"iban": "DE89370400440532013000",
			},
		}
		b, _ := json.Marshal(msg)
		return b
	default:
		return []byte{0x01, 0x02, 0x03, 0x04}
	}
}

// readResponseCode 读一帧响应并提取 fields.39。
func readResponseCode(conn net.Conn) (string, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(conn, header); err != nil {
		return "", err
	}
	length := binary.BigEndian.Uint32(header)
	if length == 0 || length > codec.MaxFrameBytes {
		return "", fmt.Errorf("invalid response length %d", length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(conn, body); err != nil {
		return "", err
	}

	// 响应负载是 0210 前缀加 JSON。
	if len(body) > 4 && body[0] != '{' {
		body = body[4:]
	}
	var resp struct {
		Fields map[string]string `json:"fields"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", err
	}
	return resp.Fields["39"], nil
}
