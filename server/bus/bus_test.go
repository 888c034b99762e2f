package bus

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestIsSelfOrigin(t *testing.T) {
	cases := []struct {
		origin, node string
		want         bool
	}{
		{"nodeA", "nodeA", true},
		{"nodeA", "nodeB", false},
		{"", "nodeA", false},
	}
	for _, c := range cases {
		if got := isSelfOrigin(c.origin, c.node); got != c.want {
			t.Errorf("isSelfOrigin(%q, %q) = %v, want %v", c.origin, c.node, got, c.want)
		}
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	type privmsg struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	body, err := json.Marshal(privmsg{Type: "privmsg", Text: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	env := Envelope{Origin: "nodeA", MsgBody: body}

	data, err := json.Marshal(env)
	if err != nil {
		t.Fatal(err)
	}

	var decoded Envelope
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}

	var gotBody privmsg
	if err := json.Unmarshal(decoded.MsgBody, &gotBody); err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(privmsg{Type: "privmsg", Text: "hi"}, gotBody); diff != "" {
		t.Errorf("body mismatch (-want +got):\n%s", diff)
	}
	if decoded.Origin != "nodeA" {
		t.Errorf("origin = %q, want nodeA", decoded.Origin)
	}
}
