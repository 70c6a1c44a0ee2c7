package compliance

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/diegoholiveira/jsonlogic/v3"
	"github.com/shopspring/decimal"
)

// conditionData builds the JSON-logic data object for an invoice: the facts
// at top level plus grossAmount, smallAmount and values.
func conditionData(inv Invoice, small bool) map[string]any {
	data := make(map[string]any, len(inv.Facts)+3)
	for k, v := range inv.Facts {
		data[k] = v
	}
	data["grossAmount"] = json.RawMessage(inv.GrossAmount.String())
	data["smallAmount"] = small
	if inv.Values != nil {
		data["values"] = inv.Values
	} else {
		data["values"] = map[string]any{}
	}
	return data
}

// EvalCondition applies a JSON-logic rule to data and reports whether the
// result is truthy.
func EvalCondition(rule map[string]any, data map[string]any) (bool, error) {
	ruleJSON, err := json.Marshal(rule)
	if err != nil {
		return false, fmt.Errorf("marshal condition: %w", err)
	}
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return false, fmt.Errorf("marshal condition data: %w", err)
	}

	var result bytes.Buffer
	if err := jsonlogic.Apply(bytes.NewReader(ruleJSON), bytes.NewReader(dataJSON), &result); err != nil {
		return false, fmt.Errorf("apply condition: %w", err)
	}

	out := strings.TrimSpace(result.String())
	if out == "" || out == "null" {
		return false, nil
	}

	var res any
	dec := json.NewDecoder(strings.NewReader(out))
	dec.UseNumber()
	if err := dec.Decode(&res); err != nil {
		return false, fmt.Errorf("decode condition result: %w", err)
	}
	return truthy(res), nil
}

// truthy follows JSON-logic truthiness: false, 0, "", null and [] are false.
func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case json.Number:
		d, err := decimal.NewFromString(val.String())
		return err == nil && !d.IsZero()
	case []any:
		return len(val) > 0
	default:
		return true
	}
}
