package commands

import (
	"context"
	"strconv"

	"stockcast/internal/config"
	"stockcast/internal/router"
)

const blacklistedReply = "您已被加入黑名单，无法使用此功能。"

// Blacklist builds router middleware that refuses blacklisted users and
// channels, per command or globally. IDs in config are strings so they can
// cover both user and channel namespaces.
func Blacklist(cfg config.BlacklistConfig) router.Middleware {
	globalUsers := toSet(cfg.Users)
	globalChannels := toSet(cfg.Channels)
	perCommand := make(map[string]struct{ users, channels map[string]bool }, len(cfg.Commands))
	for name, bl := range cfg.Commands {
		perCommand[name] = struct{ users, channels map[string]bool }{
			users:    toSet(bl.Users),
			channels: toSet(bl.Channels),
		}
	}

	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx context.Context, req router.Request) (router.Response, error) {
			user := strconv.FormatInt(req.Msg.FromID, 10)
			channel := strconv.FormatInt(req.Msg.ChatID, 10)
			if globalUsers[user] || globalChannels[channel] {
				return router.Response{Text: blacklistedReply}, nil
			}
			if bl, ok := perCommand[req.Command]; ok {
				if bl.users[user] || bl.channels[channel] {
					return router.Response{Text: blacklistedReply}, nil
				}
			}
			return next(ctx, req)
		}
	}
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id != "" {
			set[id] = true
		}
	}
	return set
}
