package utils

import (
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"sync"
)

// RemoteLogger is an optional sink a TaggedLogger forwards every line
// to: any number of operators can attach over TCP and tail a running
// hub's log stream without shelling in.
type RemoteLogger struct {
	Port     int
	Listener net.Listener

	mu      sync.Mutex
	clients []net.Conn
}

// NewRemoteLogger starts a TCP listener on the given port.
func NewRemoteLogger(port int) (*RemoteLogger, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		rl := &RemoteLogger{}
		return rl, err
	}
	rl := &RemoteLogger{
		Port:     port,
		Listener: ln,
	}
	go rl.acceptClients()
	return rl, nil
}

// acceptClients accepts incoming TCP connections.
func (rl *RemoteLogger) acceptClients() {
	for {
		conn, err := rl.Listener.Accept()
		if err != nil {
			return
		}
		rl.mu.Lock()
		rl.clients = append(rl.clients, conn)
		rl.mu.Unlock()
	}
}

// Logf sends a formatted log message to all connected clients.
func (rl *RemoteLogger) Logf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	live := rl.clients[:0]
	for _, conn := range rl.clients {
		if _, err := fmt.Fprintln(conn, msg); err == nil {
			live = append(live, conn)
		}
	}
	rl.clients = live
}

// TaggedLogger prefixes every line with a bracketed component tag, e.g.
// "[HUB] room abcdef01 loaded from disk". Components hold their own
// instance rather than sharing the stdlib logger's prefix so nested
// components (room within hub) can compose tags.
type TaggedLogger struct {
	tag    string
	output *log.Logger
	remote *RemoteLogger // nil unless AttachRemote was called
}

// NewTaggedLogger builds a logger writing to w (os.Stdout when w is nil)
// with every line stamped "[tag] ...".
func NewTaggedLogger(tag string, w io.Writer) *TaggedLogger {
	if w == nil {
		w = os.Stdout
	}
	return &TaggedLogger{
		tag:    tag,
		output: log.New(w, "", log.LstdFlags),
	}
}

func (l *TaggedLogger) Printf(format string, args ...any) {
	line := fmt.Sprintf("[%s] %s", l.tag, fmt.Sprintf(format, args...))
	l.output.Print(line)
	if l.remote != nil {
		l.remote.Logf("%s", line)
	}
}

func (l *TaggedLogger) Println(args ...any) {
	l.output.Println(append([]any{"[" + l.tag + "]"}, args...)...)
	if l.remote != nil {
		l.remote.Logf("[%s] %s", l.tag, fmt.Sprintln(args...))
	}
}

// With returns a child logger whose tag is "parent.child", used when a
// subsystem (e.g. a single room inside the hub) wants its own lines
// distinguishable without losing the parent's tag. Any attached remote
// sink carries over to the child.
func (l *TaggedLogger) With(childTag string) *TaggedLogger {
	return &TaggedLogger{tag: l.tag + "." + childTag, output: l.output, remote: l.remote}
}

// AttachRemote returns a copy of l that also forwards every line to rl,
// for an operator tailing a running hub over the network.
func (l *TaggedLogger) AttachRemote(rl *RemoteLogger) *TaggedLogger {
	return &TaggedLogger{tag: l.tag, output: l.output, remote: rl}
}
