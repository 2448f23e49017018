package version

import "testing"

func TestFields(t *testing.T) {
	Version, GitSHA = "v0.3.1", "abc123"
	defer func() { Version, GitSHA = "dev", "unknown" }()

	got := Fields()
	if got["version"] != "v0.3.1" || got["git_sha"] != "abc123" || got["build_time"] != "unknown" {
		t.Errorf("Fields() = %v", got)
	}
}
