package scheduler

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestJobJSONFlattensMeta(t *testing.T) {
	t.Parallel()
	j := Job{
		ID:        "j1",
		Action:    "send",
		Payload:   json.RawMessage(`{"text":"hi"}`),
		ExecuteAt: 1_700_000_000_000,
		CreatedAt: 1_699_999_999_000,
		Meta: map[string]json.RawMessage{
			"channel": json.RawMessage(`"alpha"`),
			"userId":  json.RawMessage(`42`),
		},
	}

	b, err := json.Marshal(j)
	if err != nil {
		t.Fatal(err)
	}

	// Meta keys appear at the top level of the object, not nested.
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(b, &obj); err != nil {
		t.Fatal(err)
	}
	if string(obj["channel"]) != `"alpha"` || string(obj["userId"]) != "42" {
		t.Fatalf("meta not flattened: %s", b)
	}
	if _, nested := obj["meta"]; nested {
		t.Fatalf("unexpected nested meta key: %s", b)
	}

	var back Job
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatal(err)
	}
	if back.ID != j.ID || back.Action != j.Action || back.ExecuteAt != j.ExecuteAt {
		t.Fatalf("round trip lost fixed fields: %+v", back)
	}
	if string(back.Payload) != `{"text":"hi"}` {
		t.Fatalf("payload = %s", back.Payload)
	}
	if string(back.Meta["channel"]) != `"alpha"` || string(back.Meta["userId"]) != "42" {
		t.Fatalf("meta round trip = %+v", back.Meta)
	}
}

func TestJobJSONFixedFieldsWinOverMeta(t *testing.T) {
	t.Parallel()
	j := Job{
		ID:        "real-id",
		Action:    "send",
		ExecuteAt: 1000,
		Meta: map[string]json.RawMessage{
			"id":     json.RawMessage(`"spoofed"`),
			"action": json.RawMessage(`"spoofed"`),
			"extra":  json.RawMessage(`true`),
		},
	}
	b, err := json.Marshal(j)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(b), "spoofed") {
		t.Fatalf("reserved keys overridden by meta: %s", b)
	}

	var back Job
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatal(err)
	}
	if back.ID != "real-id" {
		t.Fatalf("id = %q", back.ID)
	}
	if string(back.Meta["extra"]) != "true" {
		t.Fatalf("non-reserved meta dropped: %+v", back.Meta)
	}
}

func TestJobJSONUnknownKeysBecomeMeta(t *testing.T) {
	t.Parallel()
	raw := `{"id":"j1","action":"send","executeAt":5,"createdAt":1,"legacyField":{"a":1},"note":"kept"}`
	var j Job
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		t.Fatal(err)
	}
	if string(j.Meta["legacyField"]) != `{"a":1}` || string(j.Meta["note"]) != `"kept"` {
		t.Fatalf("unknown keys not preserved: %+v", j.Meta)
	}

	// And they survive a rewrite of the file.
	b, err := json.Marshal(j)
	if err != nil {
		t.Fatal(err)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(b, &obj); err != nil {
		t.Fatal(err)
	}
	if _, ok := obj["legacyField"]; !ok {
		t.Fatalf("passthrough key lost on marshal: %s", b)
	}
}

func TestFilterMetaComparesByContent(t *testing.T) {
	t.Parallel()
	j := Job{
		Action: "send",
		Meta:   map[string]json.RawMessage{"route": json.RawMessage(`{"a":1,"b":2}`)},
	}
	f := Filter{Meta: map[string]json.RawMessage{
		"route": json.RawMessage(`{ "a": 1, "b": 2 }`), // same JSON, different spacing
	}}
	if !f.matches(j) {
		t.Fatal("whitespace-only difference broke the meta filter")
	}
	f = Filter{Meta: map[string]json.RawMessage{"route": json.RawMessage(`{"a":1}`)}}
	if f.matches(j) {
		t.Fatal("different JSON value matched")
	}
	f = Filter{Meta: map[string]json.RawMessage{"missing": json.RawMessage(`1`)}}
	if f.matches(j) {
		t.Fatal("absent meta key matched")
	}
}

func TestFormatRemaining(t *testing.T) {
	t.Parallel()
	cases := []struct {
		d    time.Duration
		want string
	}{
		{-time.Second, "overdue"},
		{0, "overdue"},
		{500 * time.Millisecond, "under 1s"},
		{42 * time.Second, "42s"},
		{5*time.Minute + 12*time.Second, "5m 12s"},
		{2 * time.Minute, "2m"},
		{3*time.Hour + 7*time.Minute + 9*time.Second, "3h 7m"},
		{48*time.Hour + 30*time.Minute, "2d 30m"},
		{26 * time.Hour, "1d 2h"},
	}
	for _, tc := range cases {
		if got := formatRemaining(tc.d); got != tc.want {
			t.Errorf("formatRemaining(%v) = %q, want %q", tc.d, got, tc.want)
		}
	}
}
