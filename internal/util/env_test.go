package util

import (
	"reflect"
	"testing"
)

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		name         string
		value        string
		defaultValue bool
		expected     bool
	}{
		{name: "unset uses default", value: "", defaultValue: true, expected: true},
		{name: "true", value: "true", defaultValue: false, expected: true},
		{name: "numeric true", value: "1", defaultValue: false, expected: true},
		{name: "yes", value: "yes", defaultValue: false, expected: true},
		{name: "on", value: "on", defaultValue: false, expected: true},
		{name: "false", value: "false", defaultValue: true, expected: false},
		{name: "numeric false", value: "0", defaultValue: true, expected: false},
		{name: "mixed case", value: "TRUE", defaultValue: false, expected: true},
		{name: "whitespace", value: "  true  ", defaultValue: false, expected: true},
		{name: "invalid uses default", value: "maybe", defaultValue: true, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value != "" {
				t.Setenv("AKASHA_TEST_BOOL", tt.value)
			}
			if got := ParseBoolEnv("AKASHA_TEST_BOOL", tt.defaultValue); got != tt.expected {
				t.Errorf("ParseBoolEnv(%q, %v) = %v, expected %v", tt.value, tt.defaultValue, got, tt.expected)
			}
		})
	}
}

func TestParseIntEnv(t *testing.T) {
	tests := []struct {
		name         string
		value        string
		defaultValue int
		expected     int
	}{
		{name: "unset uses default", value: "", defaultValue: 7, expected: 7},
		{name: "valid", value: "42", defaultValue: 0, expected: 42},
		{name: "zero", value: "0", defaultValue: 7, expected: 0},
		{name: "negative", value: "-3", defaultValue: 0, expected: -3},
		{name: "whitespace", value: " 15 ", defaultValue: 0, expected: 15},
		{name: "invalid uses default", value: "seven", defaultValue: 7, expected: 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value != "" {
				t.Setenv("AKASHA_TEST_INT", tt.value)
			}
			if got := ParseIntEnv("AKASHA_TEST_INT", tt.defaultValue); got != tt.expected {
				t.Errorf("ParseIntEnv(%q, %d) = %d, expected %d", tt.value, tt.defaultValue, got, tt.expected)
			}
		})
	}
}

func TestParseListEnv(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		expected []string
	}{
		{name: "unset", value: "", expected: nil},
		{name: "single", value: "628111@s.whatsapp.net", expected: []string{"628111@s.whatsapp.net"}},
		{name: "multiple", value: "a@s.whatsapp.net,b@s.whatsapp.net", expected: []string{"a@s.whatsapp.net", "b@s.whatsapp.net"}},
		{name: "whitespace trimmed", value: " a@s.whatsapp.net , b@s.whatsapp.net ", expected: []string{"a@s.whatsapp.net", "b@s.whatsapp.net"}},
		{name: "empty entries dropped", value: "a@s.whatsapp.net,,  ,b@s.whatsapp.net", expected: []string{"a@s.whatsapp.net", "b@s.whatsapp.net"}},
		{name: "only separators", value: ", ,", expected: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value != "" {
				t.Setenv("AKASHA_TEST_LIST", tt.value)
			}
			if got := ParseListEnv("AKASHA_TEST_LIST"); !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("ParseListEnv(%q) = %v, expected %v", tt.value, got, tt.expected)
			}
		})
	}
}
