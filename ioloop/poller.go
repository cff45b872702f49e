// Package ioloop doc comment lives in doc.go; this file only documents the
// fd-registration surface shared by the platform pollers.
//
// # I/O Registration
//
// RegisterFD is idempotent: registering an already-tracked fd replaces its
// callback/interest set via a modify instead of erroring. Readiness is
// reported as a six-flag IOEvents bitset (readable, writable, read-closed,
// write-closed, error, priority), and DelReadEvent/DelWriteEvent/DelEvent
// narrow or drop interest one direction at a time — see poller_linux.go,
// poller_darwin.go and poller_windows.go for the epoll/kqueue/IOCP specifics.
//
// # Usage
//
//	loop.RegisterFD(fd, EventRead, func(events IOEvents) {
//	    // Handle readable event
//	})
//
// # Safety
//
// Always call UnregisterFD (or DelEvent) before closing a file descriptor
// to prevent stale event delivery due to FD recycling.
package ioloop
