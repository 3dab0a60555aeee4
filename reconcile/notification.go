package reconcile

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
)

var ErrNoPaymentID = errors.New("notification carries no payment id")

// Notification is an inbound gateway delivery. Only PaymentID is trusted,
// and only as a lookup key.
type Notification struct {
	Type      string
	Action    string
	PaymentID string
	Payload   []byte
}

type envelope struct {
	Type   string `json:"type"`
	Topic  string `json:"topic"`
	Action string `json:"action"`
	Data   struct {
		ID json.RawMessage `json:"id"`
	} `json:"data"`
}

// ParseNotification reads the JSON envelope {type, action, data:{id}} and
// falls back to the query forms ?type=payment&data.id= and ?topic=payment&id=
func ParseNotification(body []byte, query url.Values) (Notification, error) {
	n := Notification{Payload: body}
	if len(bytes.TrimSpace(body)) > 0 {
		var env envelope
		if err := json.Unmarshal(body, &env); err == nil {
			n.Type = firstNonEmpty(env.Type, env.Topic)
			n.Action = env.Action
			n.PaymentID = rawID(env.Data.ID)
		}
	}
	if n.Type == "" {
		n.Type = firstNonEmpty(query.Get("type"), query.Get("topic"))
	}
	if n.PaymentID == "" {
		n.PaymentID = firstNonEmpty(query.Get("data.id"), query.Get("id"))
	}
	n.Type = strings.ToLower(strings.TrimSpace(n.Type))
	n.PaymentID = strings.TrimSpace(n.PaymentID)
	if n.IsPayment() && n.PaymentID == "" {
		return n, ErrNoPaymentID
	}
	return n, nil
}

// IsPayment reports whether this is a payment notification; no other type is handled
func (n Notification) IsPayment() bool {
	return n.Type == "payment"
}

// rawID accepts both "123" and 123
func rawID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var num json.Number
	if err := json.Unmarshal(raw, &num); err == nil {
		return num.String()
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
