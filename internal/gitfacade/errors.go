package gitfacade

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the git-error taxonomy: a single tagged error type with
// variants, rather than a hierarchy of typed errors per kind.
type Kind int

const (
	KindUnknown Kind = iota
	KindGitNotInitialized
	KindGitOperation
	KindFastForwardImpossible
	KindLFS
	KindNoUpstream
	KindWorktreeNotClean
	// KindWorktreePathExists is git's "already exists" complaint: a
	// non-worktree directory or file is already sitting at the target
	// path. Fixed by removing the stray path, not by pruning.
	KindWorktreePathExists
	// KindWorktreeAlreadyRegistered is git's "already registered" /
	// "already used by worktree" complaint: the bare repo's worktree
	// admin list has a stale entry. Fixed by `worktree prune`.
	KindWorktreeAlreadyRegistered
	KindPathResolution
	KindConfigValidation
)

func (k Kind) String() string {
	switch k {
	case KindGitNotInitialized:
		return "git-not-initialized"
	case KindGitOperation:
		return "git-operation"
	case KindFastForwardImpossible:
		return "fast-forward-impossible"
	case KindLFS:
		return "lfs"
	case KindNoUpstream:
		return "no-upstream"
	case KindWorktreeNotClean:
		return "worktree-not-clean"
	case KindWorktreePathExists:
		return "worktree-path-exists"
	case KindWorktreeAlreadyRegistered:
		return "worktree-already-registered"
	case KindPathResolution:
		return "path-resolution"
	case KindConfigValidation:
		return "config-validation"
	default:
		return "unknown"
	}
}

// Error is branchsync's single tagged error type. Operation labels and
// reasons travel as fields rather than as distinct Go types, so callers
// classify with errors.As(&gitfacade.Error{}) and a switch on Kind.
type Error struct {
	Kind    Kind
	Op      string   // operation label, e.g. "fetch", "worktree add"
	Branch  string   // set for FastForwardImpossible
	Path    string   // set for WorktreeNotClean, PathResolution
	Reasons []string // set for WorktreeNotClean
	Field   string   // set for ConfigValidation
	Err     error    // wrapped underlying error, if any
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Op != "" {
		fmt.Fprintf(&b, " (%s)", e.Op)
	}
	if e.Branch != "" {
		fmt.Fprintf(&b, " branch=%s", e.Branch)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " path=%s", e.Path)
	}
	if len(e.Reasons) > 0 {
		fmt.Fprintf(&b, " reasons=%s", strings.Join(e.Reasons, ","))
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " field=%s", e.Field)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %s", e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is supports errors.Is(err, gitfacade.ErrKind(k)) style comparisons by
// matching on Kind alone.
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return e.Kind == te.Kind
	}
	return false
}

// ErrKind builds a bare sentinel of the given kind for errors.Is checks.
func ErrKind(k Kind) error { return &Error{Kind: k} }

// Wrap produces a KindGitOperation error labeled op, or reclassifies it
// into a more specific Kind by matching known git stderr patterns —
// string matching on stderr is the only reliable contract git offers.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return classify(op, err)
}

// classifyTable centralizes the stderr substring patterns used to
// reclassify a generic git failure into a specific taxonomy Kind.
var classifyTable = []struct {
	kind     Kind
	patterns []string
}{
	{KindFastForwardImpossible, []string{
		"not possible to fast-forward",
		"Not possible to fast-forward",
		"fatal: Not possible to fast-forward",
	}},
	{KindLFS, []string{
		"smudge filter lfs failed",
		"Object does not exist on the server",
		"external filter 'git-lfs filter-process' failed",
	}},
	{KindNoUpstream, []string{
		"no upstream configured",
		"no upstream branch",
		"ambiguous argument",
	}},
	{KindWorktreePathExists, []string{
		"already exists",
	}},
	{KindWorktreeAlreadyRegistered, []string{
		"already registered",
		"already used by worktree",
	}},
}

func classify(op string, err error) error {
	msg := err.Error()
	for _, row := range classifyTable {
		for _, p := range row.patterns {
			if strings.Contains(msg, p) {
				return &Error{Kind: row.kind, Op: op, Err: err}
			}
		}
	}
	return &Error{Kind: KindGitOperation, Op: op, Err: err}
}

// NotClean builds a KindWorktreeNotClean error carrying the status
// probe's reasons for why a worktree isn't safe to remove.
func NotClean(path string, reasons []string) error {
	return &Error{Kind: KindWorktreeNotClean, Path: path, Reasons: reasons}
}

// PathError builds a KindPathResolution error.
func PathError(path, reason string) error {
	return &Error{Kind: KindPathResolution, Path: path, Err: errors.New(reason)}
}

// ConfigError builds a KindConfigValidation error.
func ConfigError(field, reason string) error {
	return &Error{Kind: KindConfigValidation, Field: field, Err: errors.New(reason)}
}

// NotInitialized builds a KindGitNotInitialized error.
func NotInitialized(op string) error {
	return &Error{Kind: KindGitNotInitialized, Op: op}
}
