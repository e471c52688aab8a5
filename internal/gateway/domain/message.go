// Package domain 包含网关的报文领域模型：方言分类、字段别名解析与校验规则。
// 入站字段名存在历史方言差异（auth_code/authCode 等），统一在入口处
// 通过固定别名表解析一次，后续逻辑不再做散落的字段探测。
package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// 响应码常量（DE39 语义）。两种方言共用。
const (
	CodeApproved    = "00"
	CodeDeclined    = "05"
	CodeMalfunction = "96"
)

// 报文方言。
const (
	DialectStructured = "iso20022"
	DialectLegacyCard = "legacy_card"
)

var (
	protocolPattern = regexp.MustCompile(`^101\.\d+$`)
	authCodePattern = regexp.MustCompile(`^\d{3,6}$`)
)

// fieldAliases 是字段别名表。每个规范字段名对应入站报文中可能出现的
// 键名，按表序取第一个命中的非空值。
var fieldAliases = map[string][]string{
	"auth_code":      {"auth_code", "authCode"},
	"txn_id":         {"txn_id", "txnId"},
	"correlation_id": {"correlation_id", "correlationId"},
	"card_number":    {"2", "cardNumber"},
	"amount":         {"amount", "4"},
	"currency":       {"currency", "49"},
	"merchant_id":    {"merchant_id", "merchantId", "42"},
	"creditor_name":  {"creditor_name", "creditorName"},
	"protocol":       {"protocol"},
	"method":         {"method"},
}

// Outcome 是报文处理结果。ResponseCode 是贯穿所有层的规范状态信号。
type Outcome struct {
	Approved      bool   `json:"approved"`
	ResponseCode  string `json:"response_code"`
	GatewayTxnID  string `json:"gateway_txn_id,omitempty"`
	TxnID         string `json:"txn_id,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	AuthCode      string `json:"auth_code,omitempty"`
	ErrorDetail   string `json:"error_detail,omitempty"`
}

// StructuredPayoutMessage 是结构化出款报文，字段已经过别名解析。
type StructuredPayoutMessage struct {
	Protocol      string
	AuthCode      string
	CreditorName  string
	Amount        string
	Currency      string
	IBAN          string
	MerchantID    string
	Method        string
	TxnID         string
	CorrelationID string
	Raw           map[string]any
}

// LegacyCardMessage 是传统卡报文，字段已经过别名解析。
type LegacyCardMessage struct {
	PAN        string
	Amount     string
	Currency   string
	MerchantID string
	TxnID      string
	Raw        map[string]any
}

// Classify 按类型判别字段把入站字段集解析为两种方言之一。
// type == "iso20022" 走结构化出款路径，其余全部走传统卡路径；
// 卡路径自身再做结构校验，不可识别的报文在那里拒绝。
func Classify(fields map[string]any) (*StructuredPayoutMessage, *LegacyCardMessage) {
	if asString(fields["type"]) == DialectStructured {
		msg := &StructuredPayoutMessage{
			Protocol:      resolveAlias(fields, "protocol"),
			AuthCode:      resolveAlias(fields, "auth_code"),
			CreditorName:  resolveAlias(fields, "creditor_name"),
			Amount:        resolveAlias(fields, "amount"),
			Currency:      resolveAlias(fields, "currency"),
			MerchantID:    resolveAlias(fields, "merchant_id"),
			Method:        resolveAlias(fields, "method"),
			TxnID:         resolveAlias(fields, "txn_id"),
			CorrelationID: resolveAlias(fields, "correlation_id"),
			IBAN:          extractIBAN(fields),
			Raw:           fields,
		}
		return msg, nil
	}

	return nil, &LegacyCardMessage{
		PAN:        resolveAlias(fields, "card_number"),
		Amount:     resolveAlias(fields, "amount"),
		Currency:   resolveAlias(fields, "currency"),
		MerchantID: resolveAlias(fields, "merchant_id"),
		TxnID:      resolveAlias(fields, "txn_id"),
		Raw:        fields,
	}
}

// Validate 对结构化出款报文执行三条独立校验，返回全部失败原因。
// 三条规则互不短路，审计记录需要看到所有被违反的规则。
func (m *StructuredPayoutMessage) Validate() []string {
	var reasons []string
	if !protocolPattern.MatchString(m.Protocol) {
		reasons = append(reasons, fmt.Sprintf("invalid_protocol:%s", m.Protocol))
	}
	if !authCodePattern.MatchString(m.AuthCode) {
		reasons = append(reasons, fmt.Sprintf("invalid_auth_code:%s", m.AuthCode))
	}
	if m.IBAN == "" {
		reasons = append(reasons, "missing_iban")
	}
	return reasons
}

// StructurallyValid 对卡号做结构校验：前缀 4/5/6 且长度为 15/16/19。
// 这只是卡组前缀与长度形状检查，不是完整 Luhn 校验。
func (m *LegacyCardMessage) StructurallyValid() bool {
	if m.PAN == "" {
		return false
	}
	switch m.PAN[0] {
	case '4', '5', '6':
	default:
		return false
	}
	switch len(m.PAN) {
	case 15, 16, 19:
		return true
	}
	return false
}

// resolveAlias 按别名表解析规范字段，返回第一个命中的非空字符串值。
func resolveAlias(fields map[string]any, canonical string) string {
	for _, key := range fieldAliases[canonical] {
		if v := asString(fields[key]); v != "" {
			return v
		}
	}
	return ""
}

// extractIBAN 从 payoutDetails.iban 提取受益人 IBAN。
func extractIBAN(fields map[string]any) string {
	details, ok := fields["payoutDetails"].(map[string]any)
	if !ok {
		return ""
	}
	return strings.TrimSpace(asString(details["iban"]))
}

// asString 把 JSON 解码出的标量值规整为字符串。
func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	case bool:
		return fmt.Sprintf("%t", t)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}
