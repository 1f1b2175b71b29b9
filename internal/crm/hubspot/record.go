package hubspot

import (
	"context"
	"strings"
)

// Record is the derived view of a deal the reminder pipeline cares about.
type Record struct {
	ID       string
	Title    string
	Gating   bool
	Terminal string
	Owner    string
	Deal     Deal
}

// TerminalSet reports whether the terminal field holds a value.
func (r Record) TerminalSet() bool { return IsSet(r.Terminal) }

func (r Record) HasOwner() bool { return IsSet(r.Owner) }

// Eligible is true while reminders should keep going.
func (r Record) Eligible() bool { return r.Gating && !r.TerminalSet() }

// IsSet treats absent, empty and whitespace-only values alike.
func IsSet(v string) bool { return strings.TrimSpace(v) != "" }

// Truthy parses a HubSpot checkbox/boolean property value.
func Truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "yes", "y", "1", "on":
		return true
	default:
		return false
	}
}

// RecordFromDeal maps a raw deal through the configured property names. An
// empty gating property name means every deal passes the gate.
func RecordFromDeal(d Deal, p Properties) Record {
	gating := true
	if p.Gating != "" {
		gating = Truthy(d.Prop(p.Gating))
	}
	return Record{
		ID:       d.ID,
		Title:    strings.TrimSpace(d.Prop("dealname")),
		Gating:   gating,
		Terminal: strings.TrimSpace(d.Prop(p.Terminal)),
		Owner:    strings.TrimSpace(d.Prop(p.Owner)),
		Deal:     d,
	}
}

// FetchRecord fetches a deal and maps it to a Record.
func (c *Client) FetchRecord(ctx context.Context, id string) (Record, error) {
	d, err := c.GetDeal(ctx, id)
	if err != nil {
		return Record{}, err
	}
	return RecordFromDeal(d, c.cfg.Props), nil
}
