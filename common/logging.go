// Package common provides the process-wide logging setup for rtcore.
//
// Error-level entries are routed to stderr, everything else to stdout, so
// container log collectors can treat the two streams differently.
package common

import (
	"bytes"
	"os"

	"github.com/sirupsen/logrus"
)

// OutputSplitter routes formatted log lines to stdout or stderr by severity.
type OutputSplitter struct{}

func (splitter *OutputSplitter) Write(p []byte) (n int, err error) {
	if bytes.Contains(p, []byte("level=error")) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// Logger is the process-wide logger. Components should prefer a
// *ContextLogger built from it via NewContextLogger rather than using it
// directly, so that component fields are attached consistently.
var Logger = logrus.New()

func init() {
	Logger.SetOutput(&OutputSplitter{})
}
