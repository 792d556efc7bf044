package claims

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCommandLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Command
	}{
		{"update with status", "update bh-42 --status in_progress", Command{Name: "update", BeadID: "bh-42", Status: "in_progress"}},
		{"update with equals form", "update bh-42 --status=closed", Command{Name: "update", BeadID: "bh-42", Status: "closed"}},
		{"close", "close bh-7", Command{Name: "close", BeadID: "bh-7"}},
		{"delete", "delete bh-7", Command{Name: "delete", BeadID: "bh-7"}},
		{"reopen", "reopen bh-9", Command{Name: "reopen", BeadID: "bh-9"}},
		{"unrelated command keeps no bead", "list --status open", Command{Name: "list"}},
		{"empty", "", Command{}},
		{"bare update", "update", Command{Name: "update"}},
		{"status flag without value", "update bh-1 --status", Command{Name: "update", BeadID: "bh-1"}},
		{"first status flag wins", "update bh-1 --status=open --status closed", Command{Name: "update", BeadID: "bh-1", Status: "open"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseCommandLine(tt.line))
		})
	}
}

func TestConflictReason(t *testing.T) {
	c := &Conflict{BeadID: "bh-42", Alias: "ada-programmer", HumanName: "Ada L"}
	assert.Equal(t, "bh-42 is being worked on by ada-programmer (Ada L)", c.Reason())
}
