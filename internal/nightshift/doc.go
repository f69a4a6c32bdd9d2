// Package nightshift decides when expensive background tasks may run: only
// while the operator is away, inside a nightly window that is anchored either
// by an explicit good-night phrase plus a safety buffer or by a configured
// clock range. Tasks queue by priority, run one at a time per agent, retry a
// bounded number of times, and stop instantly deferring to the operator the
// moment a new interaction arrives.
package nightshift
