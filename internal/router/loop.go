package router

import (
	"context"

	kit "stockcast/internal/transport"
	"stockcast/pkg/logx"
)

// Loop consumes adapter updates until ctx is done or the channel closes,
// dispatching each and sending the response back to the originating chat.
// Send failures are logged, never fatal.
func (r *Router) Loop(ctx context.Context, updates <-chan kit.Update, adapter kit.Adapter) {
	for {
		select {
		case <-ctx.Done():
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			resp, handled := r.Dispatch(ctx, upd)
			if !handled || resp.empty() {
				continue
			}
			r.reply(ctx, adapter, upd.Message, resp)
		}
	}
}

func (r *Router) reply(ctx context.Context, adapter kit.Adapter, msg *kit.Message, resp Response) {
	to := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	var err error
	if resp.Photo != nil {
		_, err = adapter.SendPhoto(ctx, to, *resp.Photo, nil)
	} else {
		_, err = adapter.SendText(ctx, to, resp.Text, nil)
	}
	if err != nil {
		r.log.Warn("reply failed",
			logx.Int64("chat", msg.ChatID),
			logx.Err(err))
	}
}
