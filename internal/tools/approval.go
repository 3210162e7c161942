package tools

import "context"

type approvalKey struct{}

// WithApproval marks ctx as carrying a user approval for the gated call
// about to run under it.
func WithApproval(ctx context.Context) context.Context {
	return context.WithValue(ctx, approvalKey{}, true)
}

// HasApproval reports whether ctx carries an approval.
func HasApproval(ctx context.Context) bool {
	approved, _ := ctx.Value(approvalKey{}).(bool)
	return approved
}
