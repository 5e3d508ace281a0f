package validator

import (
	"testing"
)

func TestIsEmpty(t *testing.T) {
	cases := []struct {
		input string
		want  bool
	}{
		{"", true},
		{"   ", true},
		{"abc", false},
		{" abc ", false},
	}
	for _, c := range cases {
		got := IsEmpty(c.input)
		if got != c.want {
			t.Errorf("IsEmpty(%q) = %v, want %v", c.input, got, c.want)
		}
	}
}

func TestIsValidDate(t *testing.T) {
	valid := []string{"2024-05-01", "1999-12-31", "2024-02-29", "0001-01-01", "9999-12-31"}
	invalid := []string{"", "2024-5-1", "2024/05/01", "2023-02-29", "2024-13-01", "2024-05-01T00:00:00Z", "yesterday", " 2024-05-01"}
	for _, d := range valid {
		if _, ok := IsValidDate(d); !ok {
			t.Errorf("IsValidDate(%q) = false, want true", d)
		}
	}
	for _, d := range invalid {
		if _, ok := IsValidDate(d); ok {
			t.Errorf("IsValidDate(%q) = true, want false", d)
		}
	}
}

func TestIsInSlice(t *testing.T) {
	formats := []string{"csv", "excel", "pdf"}
	if !IsInSlice("pdf", formats) {
		t.Error("IsInSlice(pdf) = false, want true")
	}
	if IsInSlice("PDF", formats) {
		t.Error("IsInSlice(PDF) = true, want false")
	}
	if IsInSlice("", nil) {
		t.Error("IsInSlice on nil slice = true, want false")
	}
}

func TestValidationErrors(t *testing.T) {
	var errs ValidationErrors
	if errs.Err() != nil {
		t.Fatal("empty ValidationErrors should yield nil error")
	}

	errs.Add("date", "must be YYYY-MM-DD")
	errs.Add("format", "unsupported")

	err := errs.Err()
	if err == nil {
		t.Fatal("expected error")
	}
	if got, want := err.Error(), "date: must be YYYY-MM-DD; format: unsupported"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	m := errs.ToMap()
	if m["date"] != "must be YYYY-MM-DD" || m["format"] != "unsupported" {
		t.Errorf("ToMap() = %v", m)
	}
}
