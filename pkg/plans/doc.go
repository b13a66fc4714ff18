// Package plans holds the static plan catalog: the closed set of
// subscription tiers, their monthly credit allotments and prices, and the
// per-action credit cost table.
//
// The catalog is the only place action costs are defined. An action missing
// from the cost table is a configuration error and is rejected with
// ErrUnknownAction rather than treated as free; zero-cost actions must be
// listed explicitly.
//
// The catalog ships with built-in defaults and can be overridden by a YAML
// file. When a file is used, a Watcher reloads it on change so cost changes
// do not require a restart.
package plans
