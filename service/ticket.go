package service

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/anchel/voucher-seckill/model"
)

func ticketArgs(t model.Ticket) ([]any, error) {
	trace := ""
	if len(t.Trace) > 0 {
		b, err := json.Marshal(t.Trace)
		if err != nil {
			return nil, err
		}
		trace = string(b)
	}
	return []any{t.VoucherID, t.UserID, t.OrderID, t.AdmittedAt, trace}, nil
}

// DecodeTicket reads a ticket from stream entry fields.
func DecodeTicket(values map[string]any) (model.Ticket, error) {
	var t model.Ticket
	var err error

	if t.UserID, err = int64Field(values, "userId"); err != nil {
		return t, err
	}
	if t.VoucherID, err = int64Field(values, "voucherId"); err != nil {
		return t, err
	}
	if t.OrderID, err = int64Field(values, "id"); err != nil {
		return t, err
	}
	if _, ok := values["admittedAt"]; ok {
		if t.AdmittedAt, err = int64Field(values, "admittedAt"); err != nil {
			return t, err
		}
	}
	if raw, ok := values["trace"].(string); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &t.Trace); err != nil {
			return t, fmt.Errorf("field trace: %w", err)
		}
	}
	return t, nil
}

func int64Field(values map[string]any, name string) (int64, error) {
	raw, ok := values[name]
	if !ok {
		return 0, fmt.Errorf("field %s missing", name)
	}
	s, ok := raw.(string)
	if !ok {
		return 0, fmt.Errorf("field %s: unexpected type %T", name, raw)
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("field %s: %w", name, err)
	}
	return v, nil
}
