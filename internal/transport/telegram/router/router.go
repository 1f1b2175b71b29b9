package router

import (
	"context"
	"fmt"
	"html"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	rtsup "dealbot/internal/runtime/supervisor"
	kit "dealbot/internal/transport"
	logx "dealbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	// AccessOwnerOnly restricts to configured owners; with no owners configured everyone passes.
	AccessOwnerOnly
)

type Command struct {
	Name        string
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

type CallbackHandlerFunc func(ctx context.Context, req *Request, payload string) (answer string, err error)

// CallbackRoute handles inline-button data of the form "<prefix>:<payload>".
type CallbackRoute struct {
	Prefix  string
	Access  Access
	Timeout time.Duration
	Handle  CallbackHandlerFunc
}

type Request struct {
	Update   kit.Update
	Chat     kit.ChatTarget
	FromID   int64
	FromName string
	Command  string
	Args     []string
	ReqID    string

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Reply sends text to the request's chat (HTML parse mode).
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	return err
}

type CommandManager struct {
	mu        sync.RWMutex
	commands  map[string]Command
	callbacks map[string]CallbackRoute
	owners    []int64

	log     logx.Logger
	adapter kit.Adapter
	workers int

	jobs chan func()
}

func NewCommandManager(log logx.Logger, adapter kit.Adapter, owners []int64) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	// copy to avoid callers mutating the slice after construction
	ownCopy := append([]int64(nil), owners...)
	return &CommandManager{
		commands:  map[string]Command{},
		callbacks: map[string]CallbackRoute{},
		owners:    ownCopy,
		log:       log,
		adapter:   adapter,
		workers:   2,
		jobs:      make(chan func(), 64),
	}
}

func (m *CommandManager) Register(cmds ...Command) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range cmds {
		m.commands[strings.ToLower(c.Name)] = c
	}
}

func (m *CommandManager) RegisterCallback(routes ...CallbackRoute) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range routes {
		m.callbacks[r.Prefix] = r
	}
}

func (m *CommandManager) SetOwners(owners []int64) {
	m.mu.Lock()
	m.owners = append([]int64(nil), owners...)
	m.mu.Unlock()
}

// Menu returns command name -> description for the bot menu.
func (m *CommandManager) Menu() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.commands))
	for name, c := range m.commands {
		out[name] = c.Description
	}
	return out
}

func (m *CommandManager) allowed(access Access, from int64) bool {
	if access != AccessOwnerOnly {
		return true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.owners) == 0 {
		return true
	}
	for _, o := range m.owners {
		if o == from {
			return true
		}
	}
	return false
}

// DispatchLoop routes updates to handlers on a small worker pool until ctx is done.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx,
		rtsup.WithLogger(m.log.With(logx.String("comp", "telegram.router"))),
		rtsup.WithCancelOnError(false),
	)
	for i := 0; i < m.workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-m.jobs:
					func() {
						defer func() {
							if r := recover(); r != nil {
								m.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithStopOnCleanExit(true),
		)
	}
	m.log.Info("command dispatcher started", logx.Int("workers", m.workers))

	defer func() {
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Stop(wctx)
		cancel()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.Route(ctx, up)
		}
	}
}

func (m *CommandManager) enqueue(fn func()) bool {
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// Route handles one update. Handlers run on the worker pool.
func (m *CommandManager) Route(root context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		m.routeMessage(root, up)
	case kit.UpdateCallback:
		m.routeCallback(root, up)
	}
}

func (m *CommandManager) routeMessage(root context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}
	parts := strings.Fields(text)
	word := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	if word == "help" {
		_, _ = m.adapter.SendText(root, chat, m.helpText(), &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
		return
	}
	m.mu.RLock()
	cmd, ok := m.commands[word]
	m.mu.RUnlock()
	if !ok {
		return
	}
	if !m.allowed(cmd.Access, msg.FromID) {
		_, _ = m.adapter.SendText(root, chat, "unauthorized", nil)
		return
	}

	rid := uuid.NewString()
	req := &Request{
		Update:   up,
		Chat:     chat,
		FromID:   msg.FromID,
		FromName: msg.FromUsername,
		Command:  cmd.Name,
		Args:     parts[1:],
		ReqID:    rid,
		Adapter:  m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
	}
	final := Chain(cmd.Handle, MWPanicRecover(m.log), MWRequestLog(m.log), MWTimeout(cmd.Timeout))
	if !m.enqueue(func() {
		if err := final(root, req); err != nil {
			_ = req.Reply(root, "❌ "+html.EscapeString(err.Error()))
		}
	}) {
		_, _ = m.adapter.SendText(root, chat, "busy, try again", nil)
	}
}

func (m *CommandManager) routeCallback(root context.Context, up kit.Update) {
	cb := up.Callback
	if cb == nil {
		return
	}
	prefix, payload, ok := strings.Cut(strings.TrimSpace(cb.Data), ":")
	if !ok {
		return
	}
	m.mu.RLock()
	route, ok := m.callbacks[prefix]
	m.mu.RUnlock()
	if !ok {
		_ = m.adapter.AnswerCallback(root, cb.ID, "")
		return
	}
	if !m.allowed(route.Access, cb.FromID) {
		_ = m.adapter.AnswerCallback(root, cb.ID, "forbidden")
		return
	}

	rid := uuid.NewString()
	req := &Request{
		Update:   up,
		Chat:     kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID},
		FromID:   cb.FromID,
		FromName: cb.FromUsername,
		Command:  "cb:" + prefix,
		ReqID:    rid,
		Adapter:  m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", cb.ChatID),
			logx.Int64("from_id", cb.FromID),
			logx.String("cmd", "cb:"+prefix),
		),
	}
	var answer string
	h := func(ctx context.Context, r *Request) error {
		var err error
		answer, err = route.Handle(ctx, r, payload)
		return err
	}
	final := Chain(h, MWPanicRecover(m.log), MWRequestLog(m.log), MWTimeout(route.Timeout))
	if !m.enqueue(func() {
		if err := final(root, req); err != nil {
			answer = "error"
		}
		// stops the button's loading state
		_ = m.adapter.AnswerCallback(root, cb.ID, answer)
	}) {
		_ = m.adapter.AnswerCallback(root, cb.ID, "busy")
	}
}

func (m *CommandManager) helpText() string {
	m.mu.RLock()
	cmds := make([]Command, 0, len(m.commands))
	for _, c := range m.commands {
		cmds = append(cmds, c)
	}
	m.mu.RUnlock()
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name < cmds[j].Name })

	var b strings.Builder
	b.WriteString("<b>Commands</b>")
	for _, c := range cmds {
		usage := c.Usage
		if usage == "" {
			usage = "/" + c.Name
		}
		lock := ""
		if c.Access == AccessOwnerOnly {
			lock = " 🔒"
		}
		fmt.Fprintf(&b, "\n<code>%s</code>%s\n  %s", html.EscapeString(usage), lock, html.EscapeString(c.Description))
	}
	return b.String()
}
