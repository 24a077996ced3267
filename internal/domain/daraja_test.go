package domain

import (
	"encoding/json"
	"testing"
)

func TestSTKCallbackEnvelope_Valid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want bool
	}{
		{
			name: "well-formed success callback",
			body: `{"Body":{"stkCallback":{"MerchantRequestID":"m1","CheckoutRequestID":"ws_CO_1","ResultCode":0,"ResultDesc":"ok"}}}`,
			want: true,
		},
		{
			name: "missing stkCallback",
			body: `{"Body":{}}`,
			want: false,
		},
		{
			name: "missing checkout request id",
			body: `{"Body":{"stkCallback":{"MerchantRequestID":"m1","ResultCode":0}}}`,
			want: false,
		},
		{
			name: "empty object",
			body: `{}`,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var envelope STKCallbackEnvelope
			if err := json.Unmarshal([]byte(tt.body), &envelope); err != nil {
				t.Fatalf("unexpected decode error: %v", err)
			}
			if got := envelope.Valid(); got != tt.want {
				t.Fatalf("Valid() = %t, want %t", got, tt.want)
			}
		})
	}
}

func TestSTKCallback_ToResultExtractsMetadataByName(t *testing.T) {
	body := `{
		"Body": {
			"stkCallback": {
				"MerchantRequestID": "29115-34620561-1",
				"CheckoutRequestID": "ws_CO_191220191020363925",
				"ResultCode": 0,
				"ResultDesc": "The service request is processed successfully.",
				"CallbackMetadata": {
					"Item": [
						{"Name": "Amount", "Value": 500.00},
						{"Name": "MpesaReceiptNumber", "Value": "ABC123"},
						{"Name": "TransactionDate", "Value": 20191219102115},
						{"Name": "PhoneNumber", "Value": 254712345678}
					]
				}
			}
		}
	}`

	var envelope STKCallbackEnvelope
	if err := json.Unmarshal([]byte(body), &envelope); err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}

	result := envelope.Body.STKCallback.ToResult()
	if !result.Succeeded {
		t.Fatal("expected ResultCode 0 to mark the result successful")
	}
	if result.CorrelationID != "ws_CO_191220191020363925" {
		t.Fatalf("unexpected correlation id %q", result.CorrelationID)
	}
	if result.Amount != 500 {
		t.Fatalf("expected amount 500, got %v", result.Amount)
	}
	if result.ReceiptNumber != "ABC123" {
		t.Fatalf("expected receipt ABC123, got %q", result.ReceiptNumber)
	}
	if result.TransactionDate != "20191219102115" {
		t.Fatalf("expected transaction date preserved, got %q", result.TransactionDate)
	}
	if result.PhoneNumber != "254712345678" {
		t.Fatalf("expected phone number preserved, got %q", result.PhoneNumber)
	}
}

func TestSTKCallback_ToResultFailureCarriesReason(t *testing.T) {
	callback := STKCallback{
		CheckoutRequestID: "ws_CO_1",
		ResultCode:        1032,
		ResultDesc:        "Request cancelled by user",
	}

	result := callback.ToResult()
	if result.Succeeded {
		t.Fatal("expected non-zero ResultCode to mark the result failed")
	}
	if result.ResultCode != 1032 {
		t.Fatalf("expected result code 1032, got %d", result.ResultCode)
	}
	if result.ResultDesc != "Request cancelled by user" {
		t.Fatalf("expected result description preserved, got %q", result.ResultDesc)
	}
}

func TestSTKCallback_ToResultToleratesQuotedNumbers(t *testing.T) {
	callback := STKCallback{
		CheckoutRequestID: "ws_CO_1",
		ResultCode:        0,
		CallbackMetadata: &CallbackMetadata{
			Item: []CallbackMetadataItem{
				{Name: "Amount", Value: "500"},
				{Name: "MpesaReceiptNumber", Value: "ABC123"},
			},
		},
	}

	result := callback.ToResult()
	if result.Amount != 500 {
		t.Fatalf("expected quoted amount to parse, got %v", result.Amount)
	}
}
