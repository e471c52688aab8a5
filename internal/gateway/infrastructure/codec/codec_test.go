package codec

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"testing"
)

func TestEncodeRoundTrip(t *testing.T) {
	payload := []byte(`{"mti":"0200","fields":{"39":"00"}}`)
	framed := Encode(payload)

	if got := binary.BigEndian.Uint32(framed[:4]); got != uint32(len(payload)) {
		t.Fatalf("declared length = %d, want %d", got, len(payload))
	}

	msg, err := Decode(framed)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.MTI != "0200" {
		t.Errorf("MTI = %q, want 0200", msg.MTI)
	}
	if msg.Fields["39"] != "00" {
		t.Errorf("fields[39] = %v, want 00", msg.Fields["39"])
	}
}

func TestDecodePrefixedEnvelope(t *testing.T) {
	body := []byte(`{"mti":"0210","fields":{"39":"05"}}`)
	msg, err := Decode(Encode(body))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.MTI != "0210" || msg.Fields["39"] != "05" {
		t.Errorf("got mti=%q fields=%v", msg.MTI, msg.Fields)
	}
}

func TestDecodeMismatchedPrefixRecovered(t *testing.T) {
	// 长度前缀与实际负载长度不一致，但剥掉 4 字节后是合法 JSON，
	// 按宽容路径恢复。
	body := []byte(`{"type":"iso20022","protocol":"101.1"}`)
	framed := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(framed, uint32(len(body)+7))
	copy(framed[4:], body)

	msg, err := Decode(framed)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.Fields["type"] != "iso20022" {
		t.Errorf("fields[type] = %v", msg.Fields["type"])
	}
}

func TestDecodeRawJSONNoPrefix(t *testing.T) {
	raw := []byte(`{"mti":"0100","fields":{"2":"4111111111111111"}}`)
	msg, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.MTI != "0100" {
		t.Errorf("MTI = %q, want 0100", msg.MTI)
	}
	if msg.Fields["2"] != "4111111111111111" {
		t.Errorf("fields[2] = %v", msg.Fields["2"])
	}
}

func TestDecodeBareObjectIsFieldMap(t *testing.T) {
	raw := []byte(`{"2":"4111111111111111","amount":"1000"}`)
	msg, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.MTI != DefaultMTI {
		t.Errorf("MTI = %q, want %q", msg.MTI, DefaultMTI)
	}
	if msg.Fields["amount"] != "1000" {
		t.Errorf("fields[amount] = %v", msg.Fields["amount"])
	}
}

func TestDecodeLegacyEmbeddedJSON(t *testing.T) {
	raw := append([]byte("0100"), []byte(`{"2":"5500000000000004"}`)...)
	msg, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.MTI != "0100" {
		t.Errorf("MTI = %q, want 0100", msg.MTI)
	}
	if msg.Fields["2"] != "5500000000000004" {
		t.Errorf("fields[2] = %v", msg.Fields["2"])
	}
}

func TestDecodeLegacyRawHex(t *testing.T) {
	tail := []byte{0xde, 0xad, 0xbe, 0xef}
	raw := append([]byte("0800"), tail...)
	msg, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.MTI != "0800" {
		t.Errorf("MTI = %q, want 0800", msg.MTI)
	}
	if msg.Fields["raw_hex"] != hex.EncodeToString(tail) {
		t.Errorf("fields[raw_hex] = %v", msg.Fields["raw_hex"])
	}
}

func TestDecodeMalformed(t *testing.T) {
	cases := map[string][]byte{
		"empty":           {},
		"random bytes":    {0x01, 0x02, 0x03, 0x04},
		"short binary":    {0xff, 0xfe},
		"broken json":     []byte(`{"mti":`),
		"legacy bad json": append([]byte("0100"), []byte(`{broken`)...),
	}
	for name, buf := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Decode(buf); !errors.Is(err, ErrMalformedFrame) {
				t.Errorf("Decode(%x) err = %v, want ErrMalformedFrame", buf, err)
			}
		})
	}
}

func TestDecodeNeverPanics(t *testing.T) {
	inputs := [][]byte{
		nil,
		{0},
		{0xff, 0xff, 0xff, 0xff},
		append([]byte{0, 0, 0, 1}, 'x'),
		[]byte("012"),
	}
	for _, buf := range inputs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Errorf("Decode(%x) panicked: %v", buf, r)
				}
			}()
			_, _ = Decode(buf)
		}()
	}
}

func TestDecodeOversizedPrefixNotTrusted(t *testing.T) {
	// 声明长度超出上限时前缀不可信，整个缓冲区重新解析；
	// 以二进制开头的缓冲区没有其他合法解释，判为畸形帧。
	raw, _ := json.Marshal(map[string]any{"fields": map[string]any{"39": "00"}})
	framed := make([]byte, 4+len(raw))
	binary.BigEndian.PutUint32(framed, MaxFrameBytes+1)
	copy(framed[4:], raw)

	if _, err := Decode(framed); !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("err = %v, want ErrMalformedFrame", err)
	}
}
