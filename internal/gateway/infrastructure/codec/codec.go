// Package codec 实现帧编解码：4 字节大端长度前缀加 JSON 负载，
// 兼容若干历史方言（前缀长度不符、无前缀裸 JSON、ASCII MTI 传统帧）。
// 解码按固定优先级宽容恢复，歧义由优先级裁决而不是拒绝。
package codec

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// MaxFrameBytes 是单帧负载的上限。
const MaxFrameBytes = 10 << 20

// DefaultMTI 是 JSON 报文缺省的报文类型标识。
const DefaultMTI = "0200"

// ErrMalformedFrame 表示缓冲区按所有已知方言都无法解析。
// 调用方应当以 96 响应，而不是静默断开连接。
var ErrMalformedFrame = errors.New("malformed frame")

// Message 是解码后的报文：MTI 加字段集。
type Message struct {
	MTI    string         `json:"mti"`
	Fields map[string]any `json:"fields"`
}

// envelope 是带 mti 的标准 JSON 信封。
type envelope struct {
	MTI    string         `json:"mti"`
	Fields map[string]any `json:"fields"`
}

// Encode 为负载加上 4 字节大端长度前缀。
func Encode(payload []byte) []byte {
	out := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(out, uint32(len(payload)))
	copy(out[4:], payload)
	return out
}

// Decode 按优先级解析一帧：
//  1. 可信的长度前缀（剩余字节数吻合，或剥去前缀后以 '{' 开头）→ 剥前缀；
//  2. 以 '{' 开头 → JSON（信封、无 mti 信封、或裸字段对象）；
//  3. JSON 失败 → 传统帧：前 4 字节为 ASCII MTI，余下是内嵌 JSON 或裸字节；
//  4. 全部失败 → ErrMalformedFrame。
//
// Decode 对任何输入都不会 panic。
func Decode(buf []byte) (*Message, error) {
	if len(buf) == 0 {
		return nil, fmt.Errorf("%w: empty buffer", ErrMalformedFrame)
	}

	data := buf
	if len(buf) > 4 {
		declared := binary.BigEndian.Uint32(buf[:4])
		if declared > 0 && declared <= MaxFrameBytes {
			rest := buf[4:]
			if int(declared) == len(rest) || rest[0] == '{' {
				data = rest
			}
		}
	}

	if len(data) > 0 && data[0] == '{' {
		if msg, ok := decodeJSON(data); ok {
			return msg, nil
		}
	}

	if msg, ok := decodeLegacy(data); ok {
		return msg, nil
	}

	return nil, ErrMalformedFrame
}

// decodeJSON 解析 JSON 方言。带 fields 的信封按原样取用，
// 其余任何 JSON 对象本身就是字段集。
func decodeJSON(data []byte) (*Message, bool) {
	var env envelope
	if err := json.Unmarshal(data, &env); err == nil && env.Fields != nil {
		mti := env.MTI
		if mti == "" {
			mti = DefaultMTI
		}
		return &Message{MTI: mti, Fields: env.Fields}, true
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err == nil {
		return &Message{MTI: DefaultMTI, Fields: fields}, true
	}
	return nil, false
}

// decodeLegacy 解析传统帧：4 位数字 MTI，余下是内嵌 JSON
// 或以 raw_hex 暴露的裸字节。
func decodeLegacy(data []byte) (*Message, bool) {
	if len(data) < 4 {
		return nil, false
	}
	mti := data[:4]
	for _, b := range mti {
		if b < '0' || b > '9' {
			return nil, false
		}
	}

	rest := data[4:]
	if len(rest) > 0 && rest[0] == '{' {
		var fields map[string]any
		if err := json.Unmarshal(rest, &fields); err == nil {
			return &Message{MTI: string(mti), Fields: fields}, true
		}
		return nil, false
	}

	return &Message{
		MTI:    string(mti),
		Fields: map[string]any{"raw_hex": hex.EncodeToString(rest)},
	}, true
}
