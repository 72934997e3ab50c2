package underwriting

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/Dan9191/underwriting-service/internal/models"
)

// DecodeBundle reads a metrics bundle from JSON. A group that does not decode, such as
// an unknown trend or a string where a rate belongs, is reported as a ValidationError
// naming the group and field. Input that is not a JSON object is a plain decode error.
func DecodeBundle(r io.Reader) (models.MetricsBundle, error) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return models.MetricsBundle{}, fmt.Errorf("failed to decode metrics bundle: %w", err)
	}

	var m models.MetricsBundle
	if err := decodeGroup(raw, GroupCashFlow, &m.CashFlow); err != nil {
		return models.MetricsBundle{}, err
	}
	if err := decodeGroup(raw, GroupDebt, &m.Debt); err != nil {
		return models.MetricsBundle{}, err
	}
	if err := decodeGroup(raw, GroupChargebacks, &m.Chargebacks); err != nil {
		return models.MetricsBundle{}, err
	}
	if err := decodeGroup(raw, GroupReserves, &m.Reserves); err != nil {
		return models.MetricsBundle{}, err
	}
	return m, nil
}

func decodeGroup[T any](raw map[string]json.RawMessage, group string, dst **T) error {
	data, ok := raw[group]
	if !ok {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return groupDecodeError[T](group, data, err)
	}
	return nil
}

// groupDecodeError finds the field that broke decoding. Type mismatches carry their
// field; other failures are located by decoding the group's fields one at a time.
func groupDecodeError[T any](group string, data json.RawMessage, err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return newValidationError(group, typeErr.Field, fmt.Sprintf("must be %s, got %s", typeErr.Type, typeErr.Value))
	}

	var fields map[string]json.RawMessage
	if json.Unmarshal(data, &fields) != nil {
		return newValidationError(group, "", "must be an object")
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		single, _ := json.Marshal(map[string]json.RawMessage{name: fields[name]})
		var one T
		if fieldErr := json.Unmarshal(single, &one); fieldErr != nil {
			return newValidationError(group, name, fieldErr.Error())
		}
	}
	return newValidationError(group, "", err.Error())
}
