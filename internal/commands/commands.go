// Package commands wires the interactive stock commands into the router.
// Replies keep the chinese copy users of the original bot know.
package commands

import (
	"context"
	"fmt"
	"strings"

	"stockcast/internal/broadcast"
	"stockcast/internal/market"
	"stockcast/internal/router"
	"stockcast/internal/storage"
	kit "stockcast/internal/transport"
)

// Snapshotter is the broadcast status surface consumed by /broadcast.
type Snapshotter interface {
	Snapshot() broadcast.Status
}

type Deps struct {
	Market    *market.Client
	Broadcast Snapshotter
	Store     storage.Store // optional, nil when the delivery log is disabled
}

// Register installs all commands on the router.
func Register(r *router.Router, deps Deps) error {
	cmds := []router.Command{
		{
			Name:        "help",
			Aliases:     []string{"帮助"},
			Description: "查看可用命令",
			Handler:     helpHandler(r),
		},
		{
			Name:        "indexes",
			Aliases:     []string{"活跃市值"},
			Description: "获取活跃市值数据",
			Handler:     deps.indexes,
		},
		{
			Name:        "analyze",
			Aliases:     []string{"异动"},
			Description: "获取指定股票的异动分析数据",
			Usage:       "异动 [股票代码]",
			Handler:     deps.analyze,
		},
		{
			Name:        "limitup",
			Aliases:     []string{"涨停看板"},
			Description: "获取涨停看板图片",
			Handler:     deps.board(market.BoardLimitUp, "涨停看板"),
		},
		{
			Name:        "limitdown",
			Aliases:     []string{"跌停看板"},
			Description: "获取跌停看板图片",
			Handler:     deps.board(market.BoardLimitDown, "跌停看板"),
		},
		{
			Name:        "selectstock",
			Aliases:     []string{"选股"},
			Description: "按策略选股",
			Usage:       "选股 [策略]",
			Handler:     deps.selectStock,
		},
		{
			Name:        "broadcast",
			Description: "查看定时广播状态",
			OwnerOnly:   true,
			Handler:     deps.broadcastStatus,
		},
	}
	for _, cmd := range cmds {
		if err := r.Register(cmd); err != nil {
			return err
		}
	}
	return nil
}

// helpHandler renders the command list from the router's own registry, so
// the reply never drifts from what is actually registered.
func helpHandler(r *router.Router) router.HandlerFunc {
	return func(ctx context.Context, req router.Request) (router.Response, error) {
		var b strings.Builder
		b.WriteString("可用命令：\n")
		for _, cmd := range r.Commands() {
			name := cmd.Name
			if len(cmd.Aliases) > 0 {
				name = cmd.Aliases[0]
			}
			fmt.Fprintf(&b, "- %s：%s", name, cmd.Description)
			if cmd.Usage != "" {
				fmt.Fprintf(&b, "（%s）", cmd.Usage)
			}
			if cmd.OwnerOnly {
				b.WriteString("（仅限管理员）")
			}
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "选股策略：%s", strings.Join(market.StrategyNames(), "、"))
		return router.Response{Text: b.String()}, nil
	}
}

func (d Deps) indexes(ctx context.Context, req router.Request) (router.Response, error) {
	text, err := d.Market.Indexes(ctx)
	if err != nil {
		return router.Response{Text: "获取活跃市值数据失败，请稍后重试。"}, err
	}
	return router.Response{Text: "📊 指数看板：\n\n" + text}, nil
}

func (d Deps) analyze(ctx context.Context, req router.Request) (router.Response, error) {
	code := strings.TrimSpace(req.Args)
	if code == "" {
		return router.Response{Text: "请输入股票代码，格式：异动 [股票代码]"}, nil
	}
	text, err := d.Market.Analyze(ctx, code)
	if err != nil {
		return router.Response{Text: fmt.Sprintf("获取股票 %s 异动数据失败，请稍后重试。", code)}, err
	}
	return router.Response{Text: fmt.Sprintf("📈 股票 %s 异动分析：\n\n%s", code, text)}, nil
}

func (d Deps) board(b market.Board, label string) router.HandlerFunc {
	return func(ctx context.Context, req router.Request) (router.Response, error) {
		img, err := d.Market.BoardImage(ctx, b)
		if err != nil {
			return router.Response{Text: fmt.Sprintf("获取%s图片失败，请稍后重试。", label)}, err
		}
		return router.Response{Photo: &kit.Photo{
			Data: img,
			Name: string(b) + ".png",
		}}, nil
	}
}

func (d Deps) selectStock(ctx context.Context, req router.Request) (router.Response, error) {
	name := strings.TrimSpace(req.Args)
	if name == "" {
		return router.Response{Text: "请输入选股策略，格式：选股 [策略]"}, nil
	}
	key, ok := market.ResolveStrategy(name)
	if !ok {
		return router.Response{Text: fmt.Sprintf(
			"不支持的选股策略：%s\n支持的策略：N型(1)、填坑(2)、少妇(3)、突破(4)、补票(5)、少妇pro(6)", name)}, nil
	}
	text, err := d.Market.Select(ctx, key)
	if err != nil {
		return router.Response{Text: "获取选股数据失败，请稍后重试。"}, err
	}
	return router.Response{Text: fmt.Sprintf("选股策略【%s】结果：\n\n%s", name, text)}, nil
}

func (d Deps) broadcastStatus(ctx context.Context, req router.Request) (router.Response, error) {
	if d.Broadcast == nil {
		return router.Response{Text: "定时广播未启用"}, nil
	}
	st := d.Broadcast.Snapshot()

	var b strings.Builder
	fmt.Fprintf(&b, "定时广播状态\n启用：%v\n时区：%s\n任务数：%d\n", st.Enabled, st.Timezone, st.TaskCount)
	if st.LastMinute != "" {
		fmt.Fprintf(&b, "最近处理分钟：%s\n", st.LastMinute)
	}
	for _, task := range st.Tasks {
		fmt.Fprintf(&b, "- %s %s → %d 个目标，时间 %s\n",
			task.Content, task.Kind, task.Targets, strings.Join(task.Schedule, " "))
	}
	if len(st.Retries) == 0 {
		b.WriteString("重试队列：空")
	} else {
		fmt.Fprintf(&b, "重试队列：%d 条\n", len(st.Retries))
		for _, re := range st.Retries {
			fmt.Fprintf(&b, "- %s @%s 已尝试 %d 次\n", re.Content, re.ScheduledAt, re.Attempts)
		}
	}
	d.appendRecentDeliveries(ctx, &b)
	return router.Response{Text: b.String()}, nil
}

// appendRecentDeliveries adds the tail of the delivery log to the status
// reply. A disabled or failing store just leaves the section out.
func (d Deps) appendRecentDeliveries(ctx context.Context, b *strings.Builder) {
	if d.Store == nil {
		return
	}
	recs, err := d.Store.RecentDeliveries(ctx, 5)
	if err != nil || len(recs) == 0 {
		return
	}
	b.WriteString("\n最近投递：\n")
	for _, rec := range recs {
		result := "成功"
		if !rec.OK {
			result = "失败：" + rec.Error
		}
		fmt.Fprintf(b, "- %s %s → %s（%s）%s\n",
			rec.At.Format("01-02 15:04"), rec.Content, rec.Target, rec.Attempt, result)
	}
}
