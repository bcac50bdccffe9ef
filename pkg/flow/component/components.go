// Package component registers the built-in sources, runtimes, and sinks.
// Importing it makes every built-in kind available through the registry.
package component

import (
	_ "github.com/flowmill/flowmill/pkg/flow/component/runtime/mapping"
	_ "github.com/flowmill/flowmill/pkg/flow/component/runtime/noop"
	_ "github.com/flowmill/flowmill/pkg/flow/component/sink/jsonl"
	_ "github.com/flowmill/flowmill/pkg/flow/component/sink/memory"
	_ "github.com/flowmill/flowmill/pkg/flow/component/sink/parquet"
	_ "github.com/flowmill/flowmill/pkg/flow/component/source/sequence"
	_ "github.com/flowmill/flowmill/pkg/flow/component/source/sqltable"
)
