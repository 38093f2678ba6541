// Package ui implements an interactive terminal view of the offline queue using bubbletea's Elm architecture.
//
// The [Model] shows three lists, switched with tab: offline posts, queued operations, and dead letters.
// A status line reports queue counts and connectivity, and shows drain progress while a drain runs.
//
// Changes made elsewhere (the CLI, another process, the drainer) arrive as queue events, so the lists stay current
// without polling from the view. Progress updates flow through a channel from the [tasks.Drainer].
//
// Keys: d drains, r refreshes, x removes the selected entry, tab switches lists, q quits.
package ui
