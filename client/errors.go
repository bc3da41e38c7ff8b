package client

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// ErrForwardRequired is returned by a sharded server when the request belongs
// to another node.
type ErrForwardRequired struct {
	TargetNodeID string
	TargetAddr   string
}

func (e *ErrForwardRequired) Error() string {
	return fmt.Sprintf("FORWARD_REQUIRED: target=%s addr=%s", e.TargetNodeID, e.TargetAddr)
}

var forwardErrorRegex = regexp.MustCompile(`FORWARD_REQUIRED: target=(\S*) addr=(\S*)`)

// IsForwardRequired extracts a redirect from err, which is usually a gRPC
// status carrying the message text. It returns nil when err is not a redirect.
func IsForwardRequired(err error) *ErrForwardRequired {
	if err == nil {
		return nil
	}

	var fwd *ErrForwardRequired
	if errors.As(err, &fwd) {
		return fwd
	}

	msg := err.Error()
	if !strings.Contains(msg, "FORWARD_REQUIRED") {
		return nil
	}
	m := forwardErrorRegex.FindStringSubmatch(msg)
	if len(m) != 3 {
		return nil
	}
	return &ErrForwardRequired{
		TargetNodeID: m[1],
		TargetAddr:   m[2],
	}
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF)
}
