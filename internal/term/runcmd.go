package term

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoSession is returned for terminal operations without a live shell.
var ErrNoSession = errors.New("no terminal session")

// ErrUnsupported is returned for files with no known run command.
var ErrUnsupported = errors.New("unsupported file type")

// runTemplates maps an extension to its compile/execute command line.
// %[1]s is the path, %[2]s the leaf with the extension stripped.
var runTemplates = map[string]string{
	"js":   "node %[1]s",
	"py":   "python %[1]s",
	"java": "javac %[1]s && java %[2]s",
	"cpp":  "g++ %[1]s -o %[2]s && ./%[2]s",
	"c":    "gcc %[1]s -o %[2]s && ./%[2]s",
	"go":   "go run %[1]s",
	"rs":   "rustc %[1]s && ./%[2]s",
	"php":  "php %[1]s",
	"rb":   "ruby %[1]s",
	"sh":   "bash %[1]s",
	"ps1":  "powershell %[1]s",
}

// CommandFor returns the shell command line that compiles and runs path.
func CommandFor(path string) (string, error) {
	leaf := path
	if i := strings.LastIndex(path, "/"); i >= 0 {
		leaf = path[i+1:]
	}
	dot := strings.LastIndex(leaf, ".")
	if dot < 0 {
		return "", fmt.Errorf("%w: %q has no extension", ErrUnsupported, path)
	}
	ext := strings.ToLower(leaf[dot+1:])
	tpl, ok := runTemplates[ext]
	if !ok {
		return "", fmt.Errorf("%w: .%s", ErrUnsupported, ext)
	}
	base := leaf[:dot]
	return fmt.Sprintf(tpl, path, base), nil
}
