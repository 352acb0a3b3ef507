package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestID_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    ID
		wantErr bool
	}{
		{name: "integer", input: `42`, want: IntID(42)},
		{name: "negative integer", input: `-7`, want: IntID(-7)},
		{name: "string", input: `"abc-123"`, want: StringID("abc-123")},
		{name: "numeric string stays string", input: `"42"`, want: StringID("42")},
		{name: "unicode string", input: `"héllo-世界"`, want: StringID("héllo-世界")},
		{name: "null", input: `null`, want: ID{}},
		{name: "fraction", input: `1.5`, wantErr: true},
		{name: "exponent", input: `1e3`, wantErr: true},
		{name: "object", input: `{"a":1}`, wantErr: true},
		{name: "bool", input: `true`, wantErr: true},
		{name: "overflow", input: `99999999999999999999`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got ID
			err := json.Unmarshal([]byte(tt.input), &got)

			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestID_MarshalJSON(t *testing.T) {
	tests := []struct {
		id   ID
		want string
	}{
		{IntID(42), `42`},
		{StringID("42"), `"42"`},
		{StringID(`quo"te`), `"quo\"te"`},
		{ID{}, `null`},
	}

	for _, tt := range tests {
		if got := string(tt.id.Raw()); got != tt.want {
			t.Errorf("Raw() = %s, want %s", got, tt.want)
		}
	}
}

func TestParseID(t *testing.T) {
	id, err := ParseID(nil)
	if err != nil || !id.IsZero() {
		t.Errorf("ParseID(nil) = %v, %v; want zero id", id, err)
	}

	if _, err := ParseID(json.RawMessage(`[1]`)); !errors.Is(err, ErrInvalidID) {
		t.Errorf("ParseID([1]) error = %v, want ErrInvalidID", err)
	}

	id, err = ParseID(json.RawMessage(` 7 `))
	if err != nil || !id.IsNumber() || id.Int() != 7 {
		t.Errorf("ParseID(7) = %v, %v", id, err)
	}
}

func TestNewRandomID(t *testing.T) {
	a, b := NewRandomID(), NewRandomID()
	if !a.IsString() || a.String() == "" {
		t.Fatalf("NewRandomID() = %#v, want non-empty string id", a)
	}
	if a == b {
		t.Error("NewRandomID returned the same id twice")
	}
}
