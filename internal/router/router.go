// Package router turns incoming chat updates into command invocations. It
// understands both slash commands ("/indexes") and bare keywords ("活跃市值"),
// since most users type the chinese name directly.
package router

import (
	"context"
	"fmt"
	"strings"
	"sync"

	kit "stockcast/internal/transport"
	"stockcast/pkg/logx"
)

// Request is one parsed command invocation.
type Request struct {
	Msg     *kit.Message
	Command string // canonical command name
	Args    string // raw text after the command, trimmed
}

// Response is what gets sent back to the originating chat. Zero value
// means "nothing to send".
type Response struct {
	Text  string
	Photo *kit.Photo
}

func (r Response) empty() bool {
	return r.Text == "" && r.Photo == nil
}

type HandlerFunc func(ctx context.Context, req Request) (Response, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain applies middlewares outermost-first.
func Chain(h HandlerFunc, mws ...Middleware) HandlerFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// Command is one registered command.
type Command struct {
	Name        string
	Aliases     []string // slash aliases and bare keywords
	Description string
	Usage       string
	OwnerOnly   bool
	Handler     HandlerFunc
}

type Router struct {
	log    logx.Logger
	owners map[int64]bool

	mu      sync.RWMutex
	byName  map[string]*Command // canonical names and aliases, lowercased
	ordered []*Command
	mws     []Middleware
}

func New(log logx.Logger, ownerIDs []int64) *Router {
	owners := make(map[int64]bool, len(ownerIDs))
	for _, id := range ownerIDs {
		owners[id] = true
	}
	return &Router{
		log:    log.With(logx.String("component", "router")),
		owners: owners,
		byName: make(map[string]*Command),
	}
}

// Use appends middleware applied to every command. Must be called before
// dispatching starts.
func (r *Router) Use(mws ...Middleware) {
	r.mu.Lock()
	r.mws = append(r.mws, mws...)
	r.mu.Unlock()
}

func (r *Router) Register(cmd Command) error {
	if cmd.Name == "" || cmd.Handler == nil {
		return fmt.Errorf("command needs a name and a handler")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := append([]string{cmd.Name}, cmd.Aliases...)
	for _, k := range keys {
		k = strings.ToLower(k)
		if _, dup := r.byName[k]; dup {
			return fmt.Errorf("command key %q already registered", k)
		}
	}
	c := cmd
	for _, k := range keys {
		r.byName[strings.ToLower(k)] = &c
	}
	r.ordered = append(r.ordered, &c)
	return nil
}

// Commands lists registered commands in registration order, for help output.
func (r *Router) Commands() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Command, 0, len(r.ordered))
	for _, c := range r.ordered {
		out = append(out, *c)
	}
	return out
}

// Dispatch parses and runs one update. It reports whether the update
// matched a command; non-matching chatter is ignored, not an error.
func (r *Router) Dispatch(ctx context.Context, upd kit.Update) (Response, bool) {
	if upd.Kind != kit.UpdateMessage || upd.Message == nil {
		return Response{}, false
	}
	cmd, req, ok := r.parse(upd.Message)
	if !ok {
		return Response{}, false
	}
	if cmd.OwnerOnly && !r.owners[upd.Message.FromID] {
		return Response{Text: "该命令仅限管理员使用"}, true
	}

	r.mu.RLock()
	h := Chain(cmd.Handler, r.mws...)
	r.mu.RUnlock()

	resp, err := h(ctx, req)
	if err != nil {
		r.log.Warn("command failed",
			logx.String("command", req.Command),
			logx.Int64("from", upd.Message.FromID),
			logx.Err(err))
		if resp.empty() {
			resp = Response{Text: "获取数据失败，请稍后重试"}
		}
	}
	return resp, true
}

// parse matches a message against registered commands: "/name args" with an
// optional @botname suffix, or the bare first token as a keyword alias.
func (r *Router) parse(msg *kit.Message) (*Command, Request, bool) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return nil, Request{}, false
	}

	var key, args string
	if strings.HasPrefix(text, "/") {
		head, rest, _ := strings.Cut(text[1:], " ")
		if at := strings.IndexByte(head, '@'); at >= 0 {
			head = head[:at]
		}
		key, args = head, rest
	} else {
		head, rest, _ := strings.Cut(text, " ")
		key, args = head, rest
	}

	r.mu.RLock()
	cmd, ok := r.byName[strings.ToLower(key)]
	r.mu.RUnlock()
	if !ok {
		return nil, Request{}, false
	}
	return cmd, Request{
		Msg:     msg,
		Command: cmd.Name,
		Args:    strings.TrimSpace(args),
	}, true
}
