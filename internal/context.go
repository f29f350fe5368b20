package internal

import "context"

type ctxKey string

const ContextWalletKey ctxKey = "walletID"

// WalletIDFromContext returns the authenticated wallet holder, or "" when the
// request was not authenticated.
func WalletIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if walletID, ok := ctx.Value(ContextWalletKey).(string); ok {
		return walletID
	}
	return ""
}

func ContextWithWalletID(ctx context.Context, walletID string) context.Context {
	return context.WithValue(ctx, ContextWalletKey, walletID)
}
