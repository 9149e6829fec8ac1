package journey

import (
	"context"
	"encoding/json"

	"github.com/piukhq/midas-sub000/internal/agents"
	"github.com/piukhq/midas-sub000/internal/core"
)

// RemoveRequest identifies an account the user deleted from their wallet.
type RemoveRequest struct {
	SchemeAccountID int64
	Scheme          string
	MessageUID      string
	UserInfo        core.UserInfo
	Credentials     json.RawMessage
}

// Remove tells the merchant an account was removed. It is fire-and-forget:
// nothing is persisted and nothing is retried. Declared merchant errors are
// logged; anything else goes to the reporter.
func (r *Runner) Remove(ctx context.Context, rr RemoveRequest) {
	log := r.logger.With(
		"scheme_account_id", rr.SchemeAccountID,
		"scheme", rr.Scheme,
		"message_uid", rr.MessageUID,
	)

	agent, err := r.registry.Resolve(rr.Scheme)
	if err != nil {
		log.WarnContext(ctx, "account removed for unknown scheme", "error", err)
		return
	}
	remover, ok := agent.(agents.Remover)
	if !ok {
		log.DebugContext(ctx, "scheme does not handle account removal")
		return
	}

	creds, err := r.decrypter.Decrypt(ctx, rr.Credentials)
	if err != nil {
		log.WarnContext(ctx, "failed to decrypt credentials", "error", err)
		creds = map[string]any{}
	}
	err = remover.Remove(ctx, &agents.Request{
		SchemeAccountID: rr.SchemeAccountID,
		Scheme:          rr.Scheme,
		MessageUID:      rr.MessageUID,
		UserInfo:        rr.UserInfo,
		Credentials:     creds,
	})
	switch {
	case err == nil:
		log.InfoContext(ctx, "account removal sent")
	case core.KindOf(err).Known():
		log.WarnContext(ctx, "account removal failed", "kind", core.KindOf(err), "error", err)
	default:
		r.reporter.Report(ctx, err,
			"scheme_account_id", rr.SchemeAccountID,
			"scheme", rr.Scheme,
			"journey", "remove",
		)
	}
}
