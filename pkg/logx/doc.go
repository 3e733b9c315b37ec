// Package logx provides a small structured logging facade over zerolog.
//
// Components hold a Logger value; loggers created from a Service stay live
// across Service.Apply() calls, so log level and sinks can be changed at
// runtime without re-wiring components.
package logx
