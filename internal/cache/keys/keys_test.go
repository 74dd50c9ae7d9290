package keys

import (
	"path"
	"regexp"
	"strings"
	"testing"
)

const hirise = "https://hirise.lpl.arizona.edu/PDS/EXTRAS/RDR/ESP/ORB_011200_011299/ESP_011265_1560/ESP_011265_1560_RED.browse.jpg"

func TestLocation_Deterministic(t *testing.T) {
	k1 := Location("ode", hirise)
	k2 := Location("ode", hirise)
	if k1 != k2 {
		t.Fatalf("determinism failed:\n k1=%s\n k2=%s", k1, k2)
	}
	if !regexp.MustCompile(`^loc:ode:[0-9a-f]{16}$`).MatchString(k1) {
		t.Fatalf("unexpected key shape: %s", k1)
	}
}

func TestLocation_NamespaceSeparates(t *testing.T) {
	if Location("ode", hirise) == Location("other", hirise) {
		t.Fatalf("namespaces must not collide")
	}
}

func TestLocation_HostCaseAndFragmentIgnored(t *testing.T) {
	a := Location("ode", "https://Example.ORG/a/b.png#frag")
	b := Location("ode", "https://example.org/a/b.png")
	if a != b {
		t.Fatalf("normalized keys differ: %s vs %s", a, b)
	}
	c := Location("ode", "https://example.org/a/B.png")
	if a == c {
		t.Fatalf("path case must matter")
	}
}

func TestRelPath_KeepsSuffixAndShards(t *testing.T) {
	p := RelPath("ode", hirise)
	if !strings.HasSuffix(p, "-ESP_011265_1560_RED.browse.jpg") {
		t.Fatalf("suffix lost: %s", p)
	}
	parts := strings.Split(p, "/")
	if len(parts) != 3 || parts[0] != "ode" || len(parts[1]) != 2 {
		t.Fatalf("unexpected layout: %s", p)
	}
	if !strings.HasPrefix(parts[2], parts[1]) {
		t.Fatalf("shard dir must be hash prefix: %s", p)
	}
}

func TestRelPath_UnsafeNamesSanitized(t *testing.T) {
	p := RelPath("o/d e", "https://example.org/dir/..%2F..%2Fetc%2Fpasswd")
	if strings.Contains(p, "..") {
		t.Fatalf("path traversal leaked into %s", p)
	}
	if path.Clean(p) != p {
		t.Fatalf("path not clean: %s", p)
	}
	if !strings.HasPrefix(p, "o-d_e/") {
		t.Fatalf("namespace not sanitized: %s", p)
	}
}

func TestRelPath_LongNameTruncatedKeepsExt(t *testing.T) {
	long := "https://example.org/" + strings.Repeat("a", 300) + ".png"
	p := RelPath("ode", long)
	if !strings.HasSuffix(p, ".png") {
		t.Fatalf("extension lost: %s", p)
	}
	if len(path.Base(p)) > 16+1+96 {
		t.Fatalf("base too long: %d", len(path.Base(p)))
	}
}
