package models

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// MetadataKind tags the variant stored in a Metadata value.
type MetadataKind string

// Known metadata variants. Anything else decodes as MetadataKindUnstructured.
const (
	MetadataKindNone         MetadataKind = ""
	MetadataKindPurchase     MetadataKind = "purchase"
	MetadataKindRedemption   MetadataKind = "redemption"
	MetadataKindRefund       MetadataKind = "refund"
	MetadataKindChargeback   MetadataKind = "chargeback"
	MetadataKindUnstructured MetadataKind = "unstructured"
)

// PurchaseMetadata describes the payment that put value on a card.
type PurchaseMetadata struct {
	PaymentID   uint64 `json:"paymentId"`
	ProviderRef string `json:"providerRef,omitempty"`
}

// RedemptionMetadata describes where value left a card.
type RedemptionMetadata struct {
	Method       RedemptionMethod `json:"method"`
	MerchantID   uint64           `json:"merchantId"`
	RedemptionID uint64           `json:"redemptionId,omitempty"`
}

// RefundMetadata describes a balance reversal.
type RefundMetadata struct {
	Reason    string  `json:"reason,omitempty"`
	PaymentID *uint64 `json:"paymentId,omitempty"`
}

// Chargeback phases recorded on ledger entries.
const (
	ChargebackPhaseCancel  = "cancel"
	ChargebackPhaseRestore = "restore"
)

// ChargebackMetadata links a ledger entry to a payment dispute.
type ChargebackMetadata struct {
	ChargebackID uint64 `json:"chargebackId,omitempty"`
	ExternalID   string `json:"externalId,omitempty"`
	Reason       string `json:"reason,omitempty"`
	Phase        string `json:"phase"`
}

// Metadata is a closed union of event metadata shapes. At most one variant
// pointer is set and Kind names it. Unknown kinds keep their raw JSON.
type Metadata struct {
	Kind       MetadataKind
	Purchase   *PurchaseMetadata
	Redemption *RedemptionMetadata
	Refund     *RefundMetadata
	Chargeback *ChargebackMetadata
	Raw        json.RawMessage
}

// NewPurchaseMetadata wraps a purchase variant.
func NewPurchaseMetadata(m PurchaseMetadata) Metadata {
	return Metadata{Kind: MetadataKindPurchase, Purchase: &m}
}

// NewRedemptionMetadata wraps a redemption variant.
func NewRedemptionMetadata(m RedemptionMetadata) Metadata {
	return Metadata{Kind: MetadataKindRedemption, Redemption: &m}
}

// NewRefundMetadata wraps a refund variant.
func NewRefundMetadata(m RefundMetadata) Metadata {
	return Metadata{Kind: MetadataKindRefund, Refund: &m}
}

// NewChargebackMetadata wraps a chargeback variant.
func NewChargebackMetadata(m ChargebackMetadata) Metadata {
	return Metadata{Kind: MetadataKindChargeback, Chargeback: &m}
}

// IsZero reports whether no variant is set.
func (m Metadata) IsZero() bool {
	return m.Kind == MetadataKindNone
}

// MarshalJSON encodes the active variant flattened next to a "kind" field.
func (m Metadata) MarshalJSON() ([]byte, error) {
	var body any
	switch m.Kind {
	case MetadataKindNone:
		return []byte("null"), nil
	case MetadataKindPurchase:
		body = m.Purchase
	case MetadataKindRedemption:
		body = m.Redemption
	case MetadataKindRefund:
		body = m.Refund
	case MetadataKindChargeback:
		body = m.Chargeback
	default:
		if len(m.Raw) == 0 {
			return []byte("null"), nil
		}
		return append([]byte(nil), m.Raw...), nil
	}

	fields := map[string]json.RawMessage{}
	if body != nil {
		encoded, errMarshal := json.Marshal(body)
		if errMarshal != nil {
			return nil, errMarshal
		}
		if errUnmarshal := json.Unmarshal(encoded, &fields); errUnmarshal != nil {
			return nil, errUnmarshal
		}
	}
	kind, _ := json.Marshal(string(m.Kind))
	fields["kind"] = kind
	return json.Marshal(fields)
}

// UnmarshalJSON decodes a tagged payload. Unknown kinds are preserved raw.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	*m = Metadata{}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}

	var head struct {
		Kind string `json:"kind"`
	}
	if errHead := json.Unmarshal(trimmed, &head); errHead != nil {
		m.Kind = MetadataKindUnstructured
		m.Raw = append(json.RawMessage(nil), trimmed...)
		return nil
	}

	var errDecode error
	switch MetadataKind(head.Kind) {
	case MetadataKindPurchase:
		m.Purchase = &PurchaseMetadata{}
		errDecode = json.Unmarshal(trimmed, m.Purchase)
	case MetadataKindRedemption:
		m.Redemption = &RedemptionMetadata{}
		errDecode = json.Unmarshal(trimmed, m.Redemption)
	case MetadataKindRefund:
		m.Refund = &RefundMetadata{}
		errDecode = json.Unmarshal(trimmed, m.Refund)
	case MetadataKindChargeback:
		m.Chargeback = &ChargebackMetadata{}
		errDecode = json.Unmarshal(trimmed, m.Chargeback)
	default:
		m.Kind = MetadataKindUnstructured
		m.Raw = append(json.RawMessage(nil), trimmed...)
		return nil
	}
	if errDecode != nil {
		return fmt.Errorf("metadata: decode %s: %w", head.Kind, errDecode)
	}
	m.Kind = MetadataKind(head.Kind)
	return nil
}

// Value implements driver.Valuer.
func (m Metadata) Value() (driver.Value, error) {
	if m.IsZero() {
		return nil, nil
	}
	encoded, err := m.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(encoded), nil
}

// Scan implements sql.Scanner.
func (m *Metadata) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case []byte:
		return m.UnmarshalJSON(v)
	case string:
		return m.UnmarshalJSON([]byte(v))
	default:
		return fmt.Errorf("metadata: unsupported scan type %T", value)
	}
}
