package auth

import (
	"context"
	"errors"

	"github.com/beam-cloud/mailsync/pkg/types"
)

type ctxKey int

const authInfoKey ctxKey = iota

var (
	ErrAuthRequired = errors.New("authentication required")
	ErrForbidden    = errors.New("access denied")
)

// --- Context get/set ---

func WithAuthInfo(ctx context.Context, info *types.AuthInfo) context.Context {
	return context.WithValue(ctx, authInfoKey, info)
}

func AuthInfoFromContext(ctx context.Context) *types.AuthInfo {
	info, _ := ctx.Value(authInfoKey).(*types.AuthInfo)
	return info
}

// --- Authorization checks ---

func RequireOperator(ctx context.Context) error {
	if !AuthInfoFromContext(ctx).IsOperator() {
		return ErrAuthRequired
	}
	return nil
}

func RequireBusinessAccess(ctx context.Context, businessId uint) error {
	i := AuthInfoFromContext(ctx)
	if i == nil {
		return ErrAuthRequired
	}
	if !i.HasBusinessAccess(businessId) {
		return ErrForbidden
	}
	return nil
}

// --- Field accessors ---

func Subject(ctx context.Context) string {
	if i := AuthInfoFromContext(ctx); i != nil {
		return i.Subject
	}
	return ""
}
