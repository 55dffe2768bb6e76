package pool

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/loykin/mcpgate/internal/framer"
	"github.com/loykin/mcpgate/internal/jsonrpc"
)

// ErrHandshakeInProgress is returned when a handshake is attempted while
// another goroutine is already running one for the same process.
var ErrHandshakeInProgress = errors.New("initialize handshake already in progress")

// CrashLoopError reports that the crash-loop breaker refused a spawn.
type CrashLoopError struct {
	ServerID string
	Crashes  int
	Window   time.Duration
}

func (e *CrashLoopError) Error() string {
	return fmt.Sprintf("server %s unavailable: %d crashes within %s, refusing respawn until the window passes",
		e.ServerID, e.Crashes, e.Window)
}

// IsCrashLoop reports whether err is a crash-loop refusal.
func IsCrashLoop(err error) bool {
	var cl *CrashLoopError
	return errors.As(err, &cl)
}

// HandshakeError reports that the backend rejected the initialize request
// with a protocol-level error response.
type HandshakeError struct {
	ServerID string
	RPCErr   *jsonrpc.Error
}

func (e *HandshakeError) Error() string {
	if e.RPCErr != nil {
		return fmt.Sprintf("server %s rejected initialize: %s", e.ServerID, e.RPCErr.Error())
	}
	return fmt.Sprintf("server %s failed initialize handshake", e.ServerID)
}

// retryable classifies failures worth re-dispatching on a fresh process:
// response timeouts and stream failures caused by the process dying under
// the request. Protocol errors, handshake rejections and duplicate ids are
// deterministic and excluded.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	if framer.IsTimeout(err) {
		return true
	}
	var dup *framer.DuplicateIDError
	if errors.As(err, &dup) {
		return false
	}
	msg := err.Error()
	for _, s := range []string{
		"process exited",
		"stdin",
		"broken pipe",
		"file already closed",
		"process already finished",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
