// Package limiter derives the concurrency key and limit of a flow.
// Flows in a named group share one pooled limit under a "group:" key; flows
// without a group get a private "flow:" key. Enforcement itself happens inside
// the repository claim operation, which counts in-progress runs per key
// atomically with the claim.
package limiter

import (
	"fmt"

	model "github.com/flowmill/flowmill/pkg/flow/core/domain/model"
)

// KeyFor returns the concurrency key of the flow.
// Grouped flows share "group:<name>"; ungrouped flows get "flow:<name>".
func KeyFor(flow *model.Flow) string {
	if flow.ConcurrencyGroup != "" {
		return fmt.Sprintf("group:%s", flow.ConcurrencyGroup)
	}
	return fmt.Sprintf("flow:%s", flow.Name)
}

// LimitFor returns the in-progress run limit enforced under the flow's key.
// Grouped flows use the group limit, falling back to the flow's own limit when
// the group does not set one. A flow that declares no limit at all defaults to
// a single in-progress run.
func LimitFor(flow *model.Flow) int {
	limit := flow.ConcurrencyLimit
	if flow.ConcurrencyGroup != "" && flow.ConcurrencyGroupLimit > 0 {
		limit = flow.ConcurrencyGroupLimit
	}
	if limit <= 0 {
		return 1
	}
	return limit
}
