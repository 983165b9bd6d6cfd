package authapi

import (
	"context"
	"log/slog"
	"net/netip"
)

// audit writes a security event to the structured log. Identifiers are
// recorded; credentials never are.
func (h *Handler) audit(ctx context.Context, action string, ip netip.Addr, ua string, attrs ...any) {
	base := []any{"action", action, "user_agent", ua}
	if ip.IsValid() {
		base = append(base, "ip", ip.String())
	}
	h.log.Log(ctx, auditLevel(action), "auth.audit", append(base, attrs...)...)
}

func auditLevel(action string) slog.Level {
	switch action {
	case "auth.refresh.reuse_detected", "auth.login.rate_limited":
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
