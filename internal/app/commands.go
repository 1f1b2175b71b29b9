package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"dealbot/internal/businesshours"
	"dealbot/internal/storage"
	kit "dealbot/internal/transport"
	"dealbot/internal/transport/telegram/router"
	logx "dealbot/pkg/logx"
	"dealbot/pkg/tgui"
)

// DealUpdater patches CRM deal properties.
type DealUpdater interface {
	UpdateDeal(ctx context.Context, id string, props map[string]string) error
}

// Commands implements the operator chat commands.
type Commands struct {
	svc     *Service
	crm     DealUpdater
	out     Outbox
	store   storage.Store
	target  kit.ChatTarget
	clock   businesshours.Clock
	loc     *time.Location
	now     func() time.Time
	timeout time.Duration
}

func NewCommands(svc *Service, crm DealUpdater, out Outbox, store storage.Store, target kit.ChatTarget, clock businesshours.Clock) *Commands {
	loc := clock.Location()
	if loc == nil {
		loc = time.UTC
	}
	return &Commands{svc: svc, crm: crm, out: out, store: store, target: target, clock: clock, loc: loc, now: time.Now, timeout: 30 * time.Second}
}

// Register installs every command and the interest callback.
func (c *Commands) Register(m *router.CommandManager) {
	m.Register(
		router.Command{
			Name:        "assign",
			Description: "Set deal properties in the CRM",
			Usage:       "/assign <deal_id> key=value ...",
			Access:      router.AccessOwnerOnly,
			Timeout:     c.timeout,
			Handle:      c.assign,
		},
		router.Command{
			Name:        "posttest",
			Description: "Send a test line to the deal chat",
			Access:      router.AccessOwnerOnly,
			Timeout:     c.timeout,
			Handle:      c.postTest,
		},
		router.Command{
			Name:        "reminders",
			Description: "List running reminder loops",
			Access:      router.AccessOwnerOnly,
			Handle:      c.reminders,
		},
		router.Command{
			Name:        "recover",
			Description: "Re-run the reminder recovery scan",
			Access:      router.AccessOwnerOnly,
			Timeout:     5 * time.Minute,
			Handle:      c.recover,
		},
	)
	m.RegisterCallback(router.CallbackRoute{
		Prefix:  strings.TrimSuffix(InterestPrefix, ":"),
		Access:  router.AccessEveryone,
		Timeout: c.timeout,
		Handle:  c.interest,
	})
}

// ParseAssignArgs splits "<deal_id> key=value ..." into an id and properties.
func ParseAssignArgs(args []string) (string, map[string]string, error) {
	if len(args) < 2 {
		return "", nil, errors.New("usage: /assign <deal_id> key=value ...")
	}
	id := strings.TrimSpace(args[0])
	props := make(map[string]string, len(args)-1)
	for _, kv := range args[1:] {
		k, v, ok := strings.Cut(kv, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return "", nil, fmt.Errorf("bad property %q, want key=value", kv)
		}
		props[k] = v
	}
	return id, props, nil
}

func (c *Commands) assign(ctx context.Context, req *router.Request) error {
	id, props, err := ParseAssignArgs(req.Args)
	if err != nil {
		return err
	}
	err = c.crm.UpdateDeal(ctx, id, props)
	c.audit(ctx, req, "assign", id, props, err)
	if err != nil {
		return fmt.Errorf("update deal %s: %w", id, err)
	}
	return req.Reply(ctx, fmt.Sprintf("✅ Deal %s updated: %s", tgui.Code(id), tgui.Esc(strings.Join(req.Args[1:], " "))))
}

func (c *Commands) postTest(ctx context.Context, req *router.Request) error {
	text := "✅ Test message from dealbot at " + c.now().In(c.loc).Format("2006-01-02 15:04 MST")
	if _, err := c.out.Send(ctx, kit.Notification{Target: c.target, Text: text, Key: "posttest"}); err != nil {
		return err
	}
	if req.Chat != c.target {
		return req.Reply(ctx, "sent")
	}
	return nil
}

func (c *Commands) reminders(ctx context.Context, req *router.Request) error {
	sup := c.svc.Reminders()
	hours := "closed"
	if c.clock.Location() != nil && c.clock.InWindow(c.now()) {
		hours = "open"
	}
	status := fmt.Sprintf("Business hours %s. %d loops started since boot.", hours, sup.Started())

	active := sup.Active()
	if len(active) == 0 {
		return req.Reply(ctx, "No reminder loops running.\n"+status)
	}
	var b strings.Builder
	b.WriteString(tgui.B(fmt.Sprintf("Reminder loops (%d)", len(active))).String())
	b.WriteString("\n" + status)
	for _, in := range active {
		fmt.Fprintf(&b, "\n%s owner %s since %s",
			tgui.Code(in.ID),
			tgui.Esc(in.Owner),
			in.StartedAt.In(c.loc).Format("Jan 2 15:04"))
	}
	return req.Reply(ctx, b.String())
}

func (c *Commands) recover(ctx context.Context, req *router.Request) error {
	res, err := c.svc.Recover(ctx)
	if err != nil {
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("Recovery: %d candidates, %d restored, %d skipped, %d errored (%s)",
		res.Candidates, res.Restored, res.Skipped, res.Errored, res.Took.Round(time.Millisecond)))
}

func (c *Commands) interest(ctx context.Context, req *router.Request, dealID string) (string, error) {
	who := req.FromName
	if who == "" {
		who = fmt.Sprintf("user %d", req.FromID)
	}
	n, err := c.svc.OnInterestClick(ctx, dealID, who)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Noted (%d interested)", n), nil
}

func (c *Commands) audit(ctx context.Context, req *router.Request, action, target string, meta any, opErr error) {
	if c.store == nil {
		return
	}
	e := storage.AuditEntry{
		At:            c.now(),
		ActorID:       req.FromID,
		ActorUsername: req.FromName,
		ChatID:        req.Chat.ChatID,
		Action:        action,
		Target:        target,
	}
	if opErr != nil {
		e.Error = opErr.Error()
	}
	if meta != nil {
		if b, err := json.Marshal(meta); err == nil {
			e.MetaJSON = string(b)
		}
	}
	if err := c.store.AppendAudit(ctx, e); err != nil {
		req.Logger.Warn("audit append failed", logx.Err(err))
	}
}
