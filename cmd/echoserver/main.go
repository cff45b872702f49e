// Command echoserver is the runnable form of spec.md §8 scenario 1: a TCP
// echo server whose connection-handling coroutines block on hook.Read/
// hook.Write exactly like ordinary blocking-socket code, while actually
// running cooperatively atop one worker's event loop.
//
// Grounded on original_source/examples/02hooked_echo_server.rs: a listener
// fiber loops fiber_accept, spawning one echo_client fiber per connection
// that reads, echoes the bytes back, and closes the connection once the
// client sends a line starting with "end". This rewrite keeps that shape —
// an accept loop plus one coroutine per connection — using hook.Accept/
// hook.Read/hook.Write instead of raw libc calls wrapped by libfiber.
package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/joeycumines/logiface"

	"github.com/joeycumines/niocoro/config"
	"github.com/joeycumines/niocoro/coroutine"
	"github.com/joeycumines/niocoro"
	"github.com/joeycumines/niocoro/hook"
	"github.com/joeycumines/niocoro/internal/rtlog"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:9898", "listen address")
	verbose := flag.Bool("v", false, "enable info-level logging")
	flag.Parse()

	if *verbose {
		rtlog.SetLevel(logiface.LevelInformational)
	}

	cfg, err := config.FromEnv(config.WithWorkers(1))
	if err != nil {
		rtlog.Error("resolving config", err, nil)
		os.Exit(1)
	}

	rt, err := niocoro.New(cfg)
	if err != nil {
		rtlog.Error("starting runtime", err, nil)
		os.Exit(1)
	}

	listenFD, err := listenTCP(*addr)
	if err != nil {
		rtlog.Error("listening", err, rtlog.Fields{"addr": *addr})
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rt.Go(func(sus *coroutine.Suspender, h *hook.Hooks) (any, error) {
		acceptLoop(sus, rt, h, listenFD)
		return nil, nil
	})

	rtlog.Info("echoserver listening", rtlog.Fields{"addr": *addr})
	<-ctx.Done()

	rtlog.Info("shutting down", nil)
	_ = unix.Close(listenFD)
	_ = rt.Shutdown(context.Background())
}

// listenTCP opens a raw, non-blocking-capable listening socket directly via
// golang.org/x/sys/unix rather than net.Listen, because hook.Accept/
// hook.Read/hook.Write need the bare fd to register with the worker's
// event loop — net.Listener hides it behind *os.File/runtime-integrated
// netpoll, which would fight niocoro's own poller for the same fd.
func listenTCP(addr string) (int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return -1, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return -1, err
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return -1, &net.AddrError{Err: "invalid IPv4 address", Addr: host}
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return -1, &net.AddrError{Err: "only IPv4 listen addresses are supported", Addr: host}
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return -1, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}

	sa := &unix.SockaddrInet4{Port: port}
	copy(sa.Addr[:], ip4)
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	if err := unix.Listen(fd, 128); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

func acceptLoop(sus *coroutine.Suspender, rt *niocoro.Runtime, h *hook.Hooks, listenFD int) {
	for {
		clientFD, _, err := h.Accept(sus, listenFD, time.Time{})
		if err != nil {
			rtlog.Warn("accept loop exiting", rtlog.Fields{"error": err.Error()})
			return
		}
		rtlog.Info("accepted connection", rtlog.Fields{"fd": clientFD})

		rt.Go(func(sus *coroutine.Suspender, h *hook.Hooks) (any, error) {
			echoClient(sus, h, clientFD)
			return nil, nil
		})
	}
}

func echoClient(sus *coroutine.Suspender, h *hook.Hooks, fd int) {
	defer func() { _ = h.Close(fd) }()

	buf := make([]byte, 4096)
	for {
		n, err := h.Read(sus, fd, buf, time.Time{})
		if err != nil || n == 0 {
			rtlog.Warn("connection read ended", rtlog.Fields{"fd": fd, "error": errString(err)})
			return
		}

		received := string(buf[:n])
		rtlog.Info("echoing", rtlog.Fields{"fd": fd, "bytes": n})

		if _, err := h.Write(sus, fd, buf[:n], time.Time{}); err != nil {
			rtlog.Warn("write failed", rtlog.Fields{"fd": fd, "error": err.Error()})
			return
		}

		if strings.HasPrefix(received, "end") {
			rtlog.Info("client requested close", rtlog.Fields{"fd": fd})
			return
		}
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
