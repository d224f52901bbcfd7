package docs

import (
	"strings"
	"testing"
)

func TestTopics(t *testing.T) {
	got := strings.Join(Topics(), ",")
	if got != "api,config,protocol,ranking" {
		t.Fatalf("topics = %q", got)
	}
}

func TestGet(t *testing.T) {
	body, ok := Get(" Protocol ")
	if !ok || !strings.Contains(body, "activateTab") {
		t.Fatalf("Get(protocol) = %q, %v", body, ok)
	}
	for _, bad := range []string{"", "missing", "../docs", `content\api`} {
		if _, ok := Get(bad); ok {
			t.Fatalf("Get(%q) should fail", bad)
		}
	}
}
