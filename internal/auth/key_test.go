package auth

import (
	"reflect"
	"testing"
)

func TestValidateKey(t *testing.T) {
	accepted := []string{"key-alpha", "key-beta"}

	tests := []struct {
		name     string
		provided string
		want     bool
	}{
		{name: "first key matches", provided: "key-alpha", want: true},
		{name: "second key matches", provided: "key-beta", want: true},
		{name: "unknown key", provided: "key-gamma", want: false},
		{name: "empty key", provided: "", want: false},
		{name: "prefix of a key", provided: "key-alph", want: false},
		{name: "key with trailing space", provided: "key-alpha ", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateKey(tt.provided, accepted); got != tt.want {
				t.Errorf("ValidateKey(%q) = %v, want %v", tt.provided, got, tt.want)
			}
		})
	}
}

func TestValidateKeyNoAccepted(t *testing.T) {
	if ValidateKey("anything", nil) {
		t.Error("ValidateKey with no accepted keys should return false")
	}
	if ValidateKey("", []string{""}) {
		t.Error("ValidateKey must not match an empty configured key")
	}
}

func TestParseKeys(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{name: "single key", raw: "abc", want: []string{"abc"}},
		{name: "multiple keys", raw: "abc,def,ghi", want: []string{"abc", "def", "ghi"}},
		{name: "whitespace trimmed", raw: " abc , def ", want: []string{"abc", "def"}},
		{name: "empty entries dropped", raw: "abc,,def,", want: []string{"abc", "def"}},
		{name: "empty string", raw: "", want: nil},
		{name: "only commas", raw: ",,,", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseKeys(tt.raw); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseKeys(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestKeysFromEnv(t *testing.T) {
	t.Setenv(DefaultEnvVar, "env-key-1, env-key-2")

	got := KeysFromEnv()
	want := []string{"env-key-1", "env-key-2"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("KeysFromEnv() = %v, want %v", got, want)
	}
}
