/**
 * @description
 * This file defines the wire shapes of the M-Pesa Daraja STK push callback and
 * the single translation from that provider-specific envelope into the internal
 * CallbackResult. Everything past this boundary works with CallbackResult only,
 * so provider field names like CheckoutRequestID never leak into business logic.
 */
package domain

import (
	"fmt"
	"strconv"
)

// STKCallbackEnvelope is the body Daraja POSTs to the callback URL.
type STKCallbackEnvelope struct {
	Body struct {
		STKCallback *STKCallback `json:"stkCallback"`
	} `json:"Body"`
}

// STKCallback is the provider's report on a previously initiated charge.
// CallbackMetadata is only present when ResultCode is 0.
type STKCallback struct {
	MerchantRequestID string            `json:"MerchantRequestID"`
	CheckoutRequestID string            `json:"CheckoutRequestID"`
	ResultCode        int               `json:"ResultCode"`
	ResultDesc        string            `json:"ResultDesc"`
	CallbackMetadata  *CallbackMetadata `json:"CallbackMetadata,omitempty"`
}

// CallbackMetadata is a flat name/value list; items are located by name, never
// by position.
type CallbackMetadata struct {
	Item []CallbackMetadataItem `json:"Item"`
}

type CallbackMetadataItem struct {
	Name  string      `json:"Name"`
	Value interface{} `json:"Value,omitempty"`
}

// Valid reports whether the envelope carries the minimum shape needed to
// correlate the callback against an initiated charge.
func (e *STKCallbackEnvelope) Valid() bool {
	return e != nil && e.Body.STKCallback != nil && e.Body.STKCallback.CheckoutRequestID != ""
}

// CallbackResult is the internal representation of a provider callback.
type CallbackResult struct {
	CorrelationID   string
	Succeeded       bool
	ResultCode      int
	ResultDesc      string
	Amount          float64
	ReceiptNumber   string
	TransactionDate string
	PhoneNumber     string
}

// ToResult translates the provider callback into the internal domain shape,
// pulling the metadata items a successful charge carries.
func (c *STKCallback) ToResult() CallbackResult {
	res := CallbackResult{
		CorrelationID: c.CheckoutRequestID,
		Succeeded:     c.ResultCode == 0,
		ResultCode:    c.ResultCode,
		ResultDesc:    c.ResultDesc,
	}
	if c.CallbackMetadata == nil {
		return res
	}
	for _, item := range c.CallbackMetadata.Item {
		switch item.Name {
		case "Amount":
			if v, ok := metadataNumber(item.Value); ok {
				res.Amount = v
			}
		case "MpesaReceiptNumber":
			res.ReceiptNumber = metadataString(item.Value)
		case "TransactionDate":
			res.TransactionDate = metadataString(item.Value)
		case "PhoneNumber":
			res.PhoneNumber = metadataString(item.Value)
		}
	}
	return res
}

// metadataNumber extracts a numeric metadata value. Daraja sends numbers as
// JSON numbers but sandbox payloads occasionally quote them.
func metadataNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		parsed, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

func metadataString(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		// Receipt-adjacent fields like TransactionDate and PhoneNumber arrive
		// as integers; keep their full precision.
		return strconv.FormatInt(int64(s), 10)
	default:
		return fmt.Sprintf("%v", s)
	}
}
