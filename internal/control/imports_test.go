package control

import (
	"go/parser"
	"go/token"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// The loop records cycles through an interface, so neither it nor the
// record types may link the sqlite journal.
func TestLoopDoesNotLinkJournal(t *testing.T) {
	forbidden := []string{
		"internal/journal",
		"modernc.org/sqlite",
		"github.com/golang-migrate/migrate",
		"github.com/tailscale/tailsql",
	}
	for _, dir := range []string{".", "../history"} {
		files, err := filepath.Glob(filepath.Join(dir, "*.go"))
		if err != nil {
			t.Fatal(err)
		}
		for _, name := range files {
			if strings.HasSuffix(name, "_test.go") {
				continue
			}
			f, err := parser.ParseFile(token.NewFileSet(), name, nil, parser.ImportsOnly)
			if err != nil {
				t.Fatalf("parse %s: %v", name, err)
			}
			for _, imp := range f.Imports {
				path, _ := strconv.Unquote(imp.Path.Value)
				for _, bad := range forbidden {
					if strings.Contains(path, bad) {
						t.Errorf("%s imports %s", name, path)
					}
				}
			}
		}
	}
}
