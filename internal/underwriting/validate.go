package underwriting

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/Dan9191/underwriting-service/internal/models"
	"github.com/go-playground/validator/v10"
)

// newValidator returns a validator that knows the metric-specific tags and reports
// json field names
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// Registration only fails on empty tags or nil funcs.
	_ = v.RegisterValidation("finite", func(fl validator.FieldLevel) bool {
		f := fl.Field()
		if f.Kind() != reflect.Float32 && f.Kind() != reflect.Float64 {
			return true
		}
		x := f.Float()
		return !math.IsNaN(x) && !math.IsInf(x, 0)
	})
	_ = v.RegisterValidation("notnan", func(fl validator.FieldLevel) bool {
		f := fl.Field()
		if f.Kind() != reflect.Float32 && f.Kind() != reflect.Float64 {
			return true
		}
		return !math.IsNaN(f.Float())
	})
	_ = v.RegisterValidation("trend", func(fl validator.FieldLevel) bool {
		t, ok := fl.Field().Interface().(models.Trend)
		return ok && t.Valid()
	})
	return v
}

// validateBundle rejects bundles the scorer cannot score faithfully
func (s *Scorer) validateBundle(m models.MetricsBundle) error {
	if m.CashFlow == nil {
		return newValidationError(GroupCashFlow, "", "group is missing")
	}
	if m.Reserves == nil {
		return newValidationError(GroupReserves, "", "group is missing")
	}

	if err := s.validateGroup(GroupCashFlow, m.CashFlow); err != nil {
		return err
	}
	cf := m.CashFlow
	months := len(cf.Months)
	series := []struct {
		field  string
		values []float64
	}{
		{"monthlyRevenue", cf.MonthlyRevenue},
		{"monthlyExpenses", cf.MonthlyExpenses},
		{"monthlyNetCashFlow", cf.MonthlyNetCashFlow},
	}
	for _, sr := range series {
		if len(sr.values) != months {
			return newValidationError(GroupCashFlow, sr.field,
				fmt.Sprintf("has %d entries, expected %d to match months", len(sr.values), months))
		}
	}

	if m.Debt != nil {
		if err := s.validateGroup(GroupDebt, m.Debt); err != nil {
			return err
		}
		if n := len(m.Debt.MonthlyDebtPayments); n != 0 && n != months {
			return newValidationError(GroupDebt, "monthlyDebtPayments",
				fmt.Sprintf("has %d entries, expected %d to match months", n, months))
		}
		if m.Debt.TotalDebtPayments > 0 && m.Debt.DSCR == nil {
			return newValidationError(GroupDebt, "dscr", "is required when debt payments are present")
		}
	}

	if m.Chargebacks != nil {
		if err := s.validateGroup(GroupChargebacks, m.Chargebacks); err != nil {
			return err
		}
	}

	return s.validateGroup(GroupReserves, m.Reserves)
}

func (s *Scorer) validateGroup(group string, v interface{}) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		reason := fmt.Sprintf("failed '%s' check", fe.Tag())
		if fe.Param() != "" {
			reason = fmt.Sprintf("failed '%s=%s' check", fe.Tag(), fe.Param())
		}
		return newValidationError(group, fe.Field(), reason)
	}
	return newValidationError(group, "", err.Error())
}
