// Package monitor serves live tracker state over HTTP.
//
// A Board collects the latest frame and short trajectory trails of every
// stream through pipeline sinks. The Server exposes the board as JSON,
// Prometheus metrics, an echarts trajectory page under the tsweb debug
// handler and, when a track store is attached, a tailsql console.
package monitor
