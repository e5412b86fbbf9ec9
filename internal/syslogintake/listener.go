// Package syslogintake feeds the log-collector (spec.md §4.9, C13)
// from the system log. The original agent subscribed to OpenWrt's
// ubus "log" object and streamed parsed blobmsg entries off a file
// descriptor (apps/collector/ubus.c); there is no ubus binding in this
// stack, so this package listens on a syslog datagram socket instead
// and parses the RFC 3164 <PRI> header by hand, the direct Go
// equivalent of that stream's facility/priority extraction.
package syslogintake

import (
	"context"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// Enqueuer is the subset of logcollector.Collector this package
// depends on.
type Enqueuer interface {
	Enqueue(program, message, facility, priority string)
}

// Listener reads syslog datagrams off a Unix domain socket (the role
// /dev/log plays on a real device) and forwards each parsed entry to
// an Enqueuer.
type Listener struct {
	socketPath string
	collector  Enqueuer
	logger     *slog.Logger

	conn *net.UnixConn
}

// New creates a Listener. socketPath is typically /dev/log; tests
// point it at a throwaway path under t.TempDir().
func New(socketPath string, collector Enqueuer, logger *slog.Logger) *Listener {
	return &Listener{socketPath: socketPath, collector: collector, logger: logger}
}

// Start binds the datagram socket and begins reading in a background
// goroutine. It removes any stale socket file left behind by a prior
// crashed run, mirroring the other socket-owning components in this
// agent (spec.md §4.10's ipcserver does the same for its listener).
func (l *Listener) Start(ctx context.Context) error {
	_ = os.Remove(l.socketPath)

	addr := &net.UnixAddr{Name: l.socketPath, Net: "unixgram"}
	conn, err := net.ListenUnixgram("unixgram", addr)
	if err != nil {
		return err
	}
	_ = os.Chmod(l.socketPath, 0o666)
	l.conn = conn

	go l.readLoop(ctx)
	return nil
}

// Close releases the listening socket.
func (l *Listener) Close() error {
	if l.conn == nil {
		return nil
	}
	err := l.conn.Close()
	_ = os.Remove(l.socketPath)
	return err
}

func (l *Listener) readLoop(ctx context.Context) {
	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_ = l.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, err := l.conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}
		l.handle(string(buf[:n]))
	}
}

func (l *Listener) handle(line string) {
	_, facility, severity, rest, ok := parsePriority(line)
	if !ok {
		return
	}
	if !shouldProcess(severity) {
		return
	}

	program, message := splitTag(rest)
	l.collector.Enqueue(program, message, facilityName(facility), severityName(severity))
}

var severityNames = [8]string{"emerg", "alert", "crit", "err", "warning", "notice", "info", "debug"}

var facilityNames = [24]string{
	"kern", "user", "mail", "daemon", "auth", "syslog", "lpr", "news",
	"uucp", "cron", "authpriv", "ftp", "ntp", "security", "console", "cron2",
	"local0", "local1", "local2", "local3", "local4", "local5", "local6", "local7",
}

func severityName(severity int) string {
	if severity < 0 || severity >= len(severityNames) {
		return "info"
	}
	return severityNames[severity]
}

func facilityName(facility int) string {
	if facility < 0 || facility >= len(facilityNames) {
		return "user"
	}
	return facilityNames[facility]
}

// parsePriority extracts an RFC 3164 "<PRI>" header. facility and
// severity follow the same bit layout collect.c's entry population
// uses: facility = priority >> 3, severity = priority & 0x7.
func parsePriority(line string) (priority, facility, severity int, rest string, ok bool) {
	if len(line) == 0 || line[0] != '<' {
		return 0, 0, 0, line, false
	}
	end := strings.IndexByte(line, '>')
	if end < 0 {
		return 0, 0, 0, line, false
	}
	p, err := strconv.Atoi(line[1:end])
	if err != nil {
		return 0, 0, 0, line, false
	}
	return p, p >> 3, p & 0x7, line[end+1:], true
}

// shouldProcess filters out debug-level messages, matching
// ubus.c's should_process_log.
func shouldProcess(severity int) bool {
	const severityDebug = 7
	return severity != severityDebug
}

// splitTag pulls the leading "program: " tag a syslog message
// conventionally carries off the front of the message body.
func splitTag(msg string) (program, message string) {
	msg = strings.TrimLeft(msg, " ")
	idx := strings.IndexByte(msg, ':')
	if idx <= 0 || idx > 32 {
		return "syslog", msg
	}
	tag := strings.TrimSpace(msg[:idx])
	if strings.ContainsAny(tag, " \t") {
		return "syslog", msg
	}
	return tag, strings.TrimLeft(msg[idx+1:], " ")
}
