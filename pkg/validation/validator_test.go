package validation

import (
	"encoding/json"
	"math"
	"reflect"
	"testing"
)

type sample struct {
	Name  string   `json:"name" validate:"required"`
	Price *float64 `json:"price,omitempty" validate:"omitempty,finite"`
	Last4 *string  `json:"last4" validate:"omitempty,last4"`
	Month *int     `json:"month" validate:"omitempty,min=1,max=12"`
}

func ptr[T any](v T) *T { return &v }

func TestValidateStruct(t *testing.T) {
	cases := []struct {
		name       string
		in         sample
		wantFields []string
	}{
		{"ok minimal", sample{Name: "x"}, nil},
		{"ok full", sample{Name: "x", Price: ptr(1.5), Last4: ptr("4242"), Month: ptr(12)}, nil},
		{"missing name", sample{}, []string{"name"}},
		{"nan price", sample{Name: "x", Price: ptr(math.NaN())}, []string{"price"}},
		{"inf price", sample{Name: "x", Price: ptr(math.Inf(1))}, []string{"price"}},
		{"short last4", sample{Name: "x", Last4: ptr("42")}, []string{"last4"}},
		{"alpha last4", sample{Name: "x", Last4: ptr("42a2")}, []string{"last4"}},
		{"month 13", sample{Name: "x", Month: ptr(13)}, []string{"month"}},
		{"month 0", sample{Name: "x", Month: ptr(0)}, []string{"month"}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			errs := ValidateStruct(c.in)
			var got []string
			if len(errs) > 0 {
				got = errs.Fields()
			}
			if !reflect.DeepEqual(got, c.wantFields) {
				t.Errorf("fields = %v; want %v (%v)", got, c.wantFields, errs)
			}
		})
	}
}

func TestValidationErrors_Error(t *testing.T) {
	ve := ValidationErrors{
		{Field: "a", Message: "a is required"},
		{Field: "b", Message: "b must be at most 3"},
	}
	want := "a: a is required; b: b must be at most 3"
	if got := ve.Error(); got != want {
		t.Errorf("Error() = %q; want %q", got, want)
	}
	if (ValidationErrors{}).Error() != "" {
		t.Error("empty ValidationErrors should render as empty string")
	}
}

func TestRequireKeys(t *testing.T) {
	var data map[string]json.RawMessage
	if err := json.Unmarshal([]byte(`{"id":1,"type":null}`), &data); err != nil {
		t.Fatal(err)
	}
	errs := RequireKeys(data, []string{"id", "type", "accountId"})
	if got := errs.Fields(); !reflect.DeepEqual(got, []string{"accountId"}) {
		t.Errorf("missing = %v; want [accountId]", got)
	}
}

func TestSanitizeString(t *testing.T) {
	if got := SanitizeString("  AA\x00PL\x07 \n"); got != "AAPL" {
		t.Errorf("SanitizeString = %q; want %q", got, "AAPL")
	}
	s := ptr(" visa ")
	SanitizeOptional(s)
	if *s != "visa" {
		t.Errorf("SanitizeOptional = %q; want visa", *s)
	}
	SanitizeOptional(nil)
}
