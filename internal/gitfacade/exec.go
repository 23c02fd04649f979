package gitfacade

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
)

// Exec runs a raw git command in dir and returns trimmed stdout and the
// raw error (including stderr as part of the error text), without
// taxonomy classification. It is exported for sibling packages (e.g.
// statusprobe) that need to shell out to git for queries the Git
// interface doesn't cover, while sharing the same subprocess plumbing
// (timeout/cancellation via ctx, GIT_TERMINAL_PROMPT=0) as the facade.
func Exec(ctx context.Context, dir string, args ...string) (stdout string, err error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")

	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf

	if runErr := cmd.Run(); runErr != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		msg := strings.TrimSpace(errBuf.String())
		if msg == "" {
			msg = runErr.Error()
		}
		return strings.TrimSpace(out.String()), &Error{Kind: KindGitOperation, Op: strings.Join(args, " "), Err: errWithMessage(msg)}
	}
	return strings.TrimSpace(out.String()), nil
}

type simpleError string

func (e simpleError) Error() string { return string(e) }

func errWithMessage(msg string) error { return simpleError(msg) }
