package compose

import (
	"strings"
	"testing"

	"dealbot/internal/crm/hubspot"
)

func TestLinesSkipsBlankAndEscapes(t *testing.T) {
	t.Parallel()
	d := hubspot.Deal{ID: "42", Properties: map[string]string{
		"dealname":  "Tom & Jerry <Ltd>",
		"dealstage": "appointmentscheduled",
		"amount":    "  ",
		"owner":     "77",
	}}
	fields := DefaultFields(hubspot.Properties{Owner: "owner", Location: "loc"}, Field{Label: "pipeline", Prop: "pipeline"})
	got := Lines(d, fields)
	want := []string{
		"📌 New deal: Tom &amp; Jerry &lt;Ltd&gt;",
		"ID: 42",
		"dealstage: appointmentscheduled",
		"hubspot_owner_id: 77",
	}
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Fatalf("Lines =\n%s\nwant\n%s", strings.Join(got, "\n"), strings.Join(want, "\n"))
	}
}

func TestLinesNoTitle(t *testing.T) {
	t.Parallel()
	got := Lines(hubspot.Deal{ID: "1", Properties: map[string]string{}}, nil)
	if got[0] != "📌 New deal: (no title)" {
		t.Fatalf("first line = %q", got[0])
	}
}

func TestPostWithInterest(t *testing.T) {
	t.Parallel()
	d := hubspot.Deal{ID: "1", Properties: map[string]string{"dealname": "X"}}
	if p := Post(d, nil, nil); strings.Contains(p, "Interested") {
		t.Fatalf("post without responders mentions interest: %q", p)
	}
	p := Post(d, nil, []string{"alice", "b<o>b"})
	if !strings.HasSuffix(p, "🙋 Interested (2): alice, b&lt;o&gt;b") {
		t.Fatalf("post = %q", p)
	}
}

func TestReminderAndMention(t *testing.T) {
	t.Parallel()
	owners := map[string]string{"77": "jane", "78": "@joe", "79": " "}
	if m := Mention(owners, "77"); m != "@jane" {
		t.Fatalf("Mention(77) = %q", m)
	}
	if m := Mention(owners, "78"); m != "@joe" {
		t.Fatalf("Mention(78) = %q", m)
	}
	if m := Mention(owners, "79") + Mention(owners, "80"); m != "" {
		t.Fatalf("blank mentions = %q", m)
	}

	r := hubspot.Record{ID: "5", Title: "Fish & Chips"}
	got := Reminder(r, "location", "@jane")
	want := "⏰ Reminder: <b>Fish &amp; Chips</b> (ID: 5) still has no location.\n@jane, please fill it in."
	if got != want {
		t.Fatalf("Reminder = %q, want %q", got, want)
	}
	if got := Reminder(hubspot.Record{ID: "6"}, "location", ""); strings.Contains(got, "please") || !strings.Contains(got, "(no title)") {
		t.Fatalf("Reminder without mention = %q", got)
	}
}
