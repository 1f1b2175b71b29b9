// Package compose renders deal records into chat messages (HTML parse mode).
package compose

import (
	"fmt"
	"strings"

	"dealbot/internal/crm/hubspot"
	"dealbot/pkg/tgui"
)

// Field maps a display label to a deal property.
type Field struct {
	Label string
	Prop  string
}

// DefaultFields is the render table used for new-deal posts.
func DefaultFields(p hubspot.Properties, extra ...Field) []Field {
	out := []Field{
		{Label: "dealstage", Prop: "dealstage"},
		{Label: "amount", Prop: "amount"},
		{Label: "hubspot_owner_id", Prop: p.Owner},
		{Label: "location", Prop: p.Location},
	}
	return append(out, extra...)
}

// Lines returns the display lines of a new-deal post, skipping absent or blank values.
func Lines(d hubspot.Deal, fields []Field) []string {
	title := strings.TrimSpace(d.Prop("dealname"))
	if title == "" {
		title = "(no title)"
	}
	lines := []string{
		"📌 New deal: " + tgui.Esc(title).String(),
		"ID: " + tgui.Esc(d.ID).String(),
	}
	for _, f := range fields {
		if f.Prop == "" {
			continue
		}
		v := strings.TrimSpace(d.Prop(f.Prop))
		if v == "" {
			continue
		}
		lines = append(lines, tgui.JoinH(": ", tgui.Esc(f.Label), tgui.Esc(v)).String())
	}
	return lines
}

// Post renders the full new-deal message including the interest line.
func Post(d hubspot.Deal, fields []Field, responders []string) string {
	lines := Lines(d, fields)
	if l := InterestLine(responders); l != "" {
		lines = append(lines, "", l)
	}
	return strings.Join(lines, "\n")
}

// InterestLine summarizes responders; empty when nobody clicked yet.
func InterestLine(responders []string) string {
	if len(responders) == 0 {
		return ""
	}
	names := make([]string, len(responders))
	for i, r := range responders {
		names[i] = tgui.Esc(r).String()
	}
	return fmt.Sprintf("🙋 Interested (%d): %s", len(responders), strings.Join(names, ", "))
}

// Reminder renders the periodic nudge for a deal whose terminal field is still empty.
// mention may be empty when the owner has no chat handle.
func Reminder(r hubspot.Record, fieldLabel, mention string) string {
	title := r.Title
	if title == "" {
		title = "(no title)"
	}
	var b strings.Builder
	b.WriteString("⏰ Reminder: ")
	b.WriteString(tgui.B(title).String())
	b.WriteString(" (ID: ")
	b.WriteString(tgui.Esc(r.ID).String())
	b.WriteString(") still has no ")
	b.WriteString(tgui.Esc(fieldLabel).String())
	b.WriteString(".")
	if mention = strings.TrimSpace(mention); mention != "" {
		b.WriteString("\n")
		b.WriteString(tgui.Esc(mention).String())
		b.WriteString(", please fill it in.")
	}
	return b.String()
}

// Mention resolves a CRM owner id to a chat handle via the configured table.
func Mention(owners map[string]string, ownerID string) string {
	h := strings.TrimSpace(owners[ownerID])
	if h == "" {
		return ""
	}
	if !strings.HasPrefix(h, "@") {
		h = "@" + h
	}
	return h
}
