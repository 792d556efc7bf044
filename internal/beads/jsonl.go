package beads

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jordanhubbard/beadhub/internal/httperr"
)

const (
	// MaxBodyBytes bounds an uploaded JSONL payload.
	MaxBodyBytes = 10 << 20
	// MaxEntries bounds the number of issues per upload.
	MaxEntries = 10000
	// MaxNestingDepth bounds per-entry JSON structure depth.
	MaxNestingDepth = 10
)

// Ref points at another bead.
type Ref struct {
	Repo   string `json:"repo"`
	Branch string `json:"branch"`
	BeadID string `json:"bead_id"`
}

// Issue is one parsed JSONL entry.
type Issue struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Status      string   `json:"status"`
	Priority    int      `json:"priority"`
	IssueType   string   `json:"issue_type"`
	Assignee    string   `json:"assignee"`
	CreatedBy   string   `json:"created_by"`
	Labels      []string `json:"labels"`
	BlockedBy   []Ref    `json:"blocked_by"`
	Parent      *Ref     `json:"parent_id"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
}

// ParseJSONL decodes newline-delimited issue records, enforcing the
// upload limits. Violations come back as 400s with a machine-readable
// detail so the CLI can surface them directly.
func ParseJSONL(body []byte) ([]Issue, error) {
	if len(body) > MaxBodyBytes {
		return nil, httperr.BadRequest("JSONL body too large: %d bytes (max %d)", len(body), MaxBodyBytes)
	}

	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), MaxBodyBytes+1)

	issues := []Issue{}
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if len(issues) >= MaxEntries {
			return nil, httperr.BadRequest("too many issues: max %d entries", MaxEntries)
		}
		if depth := structuralDepth(line); depth > MaxNestingDepth {
			return nil, httperr.BadRequest("issue on line %d exceeds max JSON nesting depth %d", lineNo, MaxNestingDepth)
		}
		var issue Issue
		if err := json.Unmarshal([]byte(line), &issue); err != nil {
			return nil, httperr.BadRequest("invalid JSON on line %d: %s", lineNo, err.Error())
		}
		if issue.ID == "" {
			return nil, httperr.BadRequest("issue on line %d is missing an id", lineNo)
		}
		issues = append(issues, normalize(issue))
	}
	if err := scanner.Err(); err != nil {
		return nil, httperr.BadRequest("failed to read JSONL body: %s", err.Error())
	}
	return issues, nil
}

// structuralDepth measures the maximum bracket nesting of a JSON
// document with a linear scan. A plain counter over non-string bytes
// cannot blow the stack the way a recursive decoder would, which is
// the point of checking depth before unmarshalling.
func structuralDepth(s string) int {
	depth, maxDepth := 0, 0
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case '}', ']':
			depth--
		}
	}
	return maxDepth
}

// validStatuses and validTypes define the accepted enumerations; out
// of range values fall back to the schema defaults rather than
// failing the whole batch.
var validStatuses = map[string]bool{"open": true, "in_progress": true, "closed": true}
var validTypes = map[string]bool{"bug": true, "feature": true, "task": true, "epic": true, "chore": true}

func normalize(issue Issue) Issue {
	if !validStatuses[issue.Status] {
		issue.Status = "open"
	}
	if !validTypes[issue.IssueType] {
		issue.IssueType = "task"
	}
	if issue.Labels == nil {
		issue.Labels = []string{}
	}
	if issue.BlockedBy == nil {
		issue.BlockedBy = []Ref{}
	}
	return issue
}

// EncodeJSONL is the inverse of ParseJSONL, used by tests and the
// direct JSON upload endpoint which re-frames a JSON array as JSONL.
func EncodeJSONL(issues []Issue) ([]byte, error) {
	var buf bytes.Buffer
	for _, issue := range issues {
		data, err := json.Marshal(issue)
		if err != nil {
			return nil, fmt.Errorf("failed to encode issue %s: %w", issue.ID, err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}
