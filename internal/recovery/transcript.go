package recovery

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// TranscriptsRoot returns the directory holding persisted conversation
// transcripts (~/.claude/projects). Overridable for tests via the
// TERMWATCH_TRANSCRIPTS env var.
func TranscriptsRoot() string {
	if dir := os.Getenv("TERMWATCH_TRANSCRIPTS"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".claude", "projects")
}

// projectDirName munges a working directory into the transcript project
// directory name: every path separator and dot becomes a dash.
func projectDirName(workingDir string) string {
	var b strings.Builder
	for _, r := range workingDir {
		switch r {
		case '/', '\\', '.', ':':
			b.WriteRune('-')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// FindTranscript locates the most recently modified conversation transcript
// for a working directory. Auto-generated agent transcripts (agent- prefix)
// are skipped. Returns os.ErrNotExist if the project has no transcript;
// callers treat that as a data problem, not a timing problem.
func FindTranscript(workingDir string) (string, error) {
	root := TranscriptsRoot()
	if root == "" {
		return "", fmt.Errorf("transcript root: %w", os.ErrNotExist)
	}

	dir := filepath.Join(root, projectDirName(workingDir))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("transcript dir %s: %w", dir, os.ErrNotExist)
	}

	var newest string
	var newestMod int64
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".jsonl") || strings.HasPrefix(name, "agent-") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if mod := info.ModTime().UnixNano(); newest == "" || mod > newestMod {
			newest = filepath.Join(dir, name)
			newestMod = mod
		}
	}
	if newest == "" {
		return "", fmt.Errorf("no transcript under %s: %w", dir, os.ErrNotExist)
	}
	return newest, nil
}

// Repair strips thinking segments from a transcript and reports how many
// were removed. The original file is copied to <path>.backup first; on a
// write failure the backup is restored. Lines that are not valid JSON pass
// through untouched.
func Repair(path string) (removed int, err error) {
	backup := path + ".backup"
	if err := copyFile(path, backup); err != nil {
		return 0, fmt.Errorf("backing up transcript: %w", err)
	}

	in, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening transcript: %w", err)
	}

	var out strings.Builder
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 1024*1024), 32*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		fixed, n, ok := stripThinking(line)
		if !ok {
			out.WriteString(line)
			out.WriteByte('\n')
			continue
		}
		removed += n
		out.WriteString(fixed)
		out.WriteByte('\n')
	}
	scanErr := scanner.Err()
	in.Close()
	if scanErr != nil {
		return 0, fmt.Errorf("reading transcript: %w", scanErr)
	}

	if err := os.WriteFile(path, []byte(out.String()), 0644); err != nil {
		// Restore from backup so a partial write never corrupts the file
		// further.
		if restoreErr := copyFile(backup, path); restoreErr != nil {
			return 0, fmt.Errorf("writing transcript: %v (restore also failed: %w)", err, restoreErr)
		}
		return 0, fmt.Errorf("writing transcript: %w", err)
	}
	return removed, nil
}

// stripThinking removes thinking entries from one transcript line. Returns
// ok=false when the line is not a JSON record with a message content array.
func stripThinking(line string) (string, int, bool) {
	var record map[string]interface{}
	if err := json.Unmarshal([]byte(line), &record); err != nil {
		return "", 0, false
	}
	msg, ok := record["message"].(map[string]interface{})
	if !ok {
		return "", 0, false
	}
	content, ok := msg["content"].([]interface{})
	if !ok {
		return "", 0, false
	}

	kept := make([]interface{}, 0, len(content))
	removed := 0
	for _, c := range content {
		if seg, ok := c.(map[string]interface{}); ok && seg["type"] == "thinking" {
			removed++
			continue
		}
		kept = append(kept, c)
	}
	if removed == 0 {
		return "", 0, false
	}

	msg["content"] = kept
	fixed, err := json.Marshal(record)
	if err != nil {
		return "", 0, false
	}
	return string(fixed), removed, true
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// TranscriptInfo summarizes a transcript for the repair command's listing.
type TranscriptInfo struct {
	Path           string
	SessionID      string
	Project        string
	Messages       int
	ThinkingBlocks int
}

// ListRecent returns the most recently modified transcripts across all
// projects, newest first, skipping agent- transcripts.
func ListRecent(limit int) ([]TranscriptInfo, error) {
	root := TranscriptsRoot()
	if root == "" {
		return nil, os.ErrNotExist
	}

	matches, err := filepath.Glob(filepath.Join(root, "*", "*.jsonl"))
	if err != nil {
		return nil, err
	}

	type candidate struct {
		path string
		mod  int64
	}
	var cands []candidate
	for _, path := range matches {
		if strings.HasPrefix(filepath.Base(path), "agent-") {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		cands = append(cands, candidate{path, info.ModTime().UnixNano()})
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].mod > cands[j].mod })
	if limit > 0 && len(cands) > limit {
		cands = cands[:limit]
	}

	out := make([]TranscriptInfo, 0, len(cands))
	for _, c := range cands {
		info := TranscriptInfo{
			Path:      c.path,
			SessionID: strings.TrimSuffix(filepath.Base(c.path), ".jsonl"),
			Project:   filepath.Base(filepath.Dir(c.path)),
		}
		info.Messages, info.ThinkingBlocks = countTranscript(c.path)
		out = append(out, info)
	}
	return out, nil
}

// Preview returns the first user message of a transcript, whitespace
// collapsed and truncated to limit runes. Used by listings and confirmation
// prompts to say what a session was about. Returns "" when the transcript
// has no readable user message.
func Preview(path string, limit int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 32*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var record map[string]interface{}
		if err := json.Unmarshal(line, &record); err != nil {
			continue
		}
		if record["type"] != "user" {
			continue
		}
		msg, ok := record["message"].(map[string]interface{})
		if !ok {
			continue
		}
		if text := contentText(msg["content"]); text != "" {
			return truncate(text, limit), nil
		}
	}
	return "", scanner.Err()
}

// contentText flattens a message content field, which is either a plain
// string or an array of typed segments.
func contentText(content interface{}) string {
	switch c := content.(type) {
	case string:
		return strings.Join(strings.Fields(c), " ")
	case []interface{}:
		var parts []string
		for _, seg := range c {
			m, ok := seg.(map[string]interface{})
			if !ok || m["type"] != "text" {
				continue
			}
			if text, ok := m["text"].(string); ok {
				parts = append(parts, strings.Fields(text)...)
			}
		}
		return strings.Join(parts, " ")
	}
	return ""
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if limit <= 0 || len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "…"
}

// countTranscript tallies messages and thinking segments in a transcript.
func countTranscript(path string) (messages, thinking int) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 32*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var record map[string]interface{}
		if err := json.Unmarshal(line, &record); err != nil {
			continue
		}
		msg, ok := record["message"].(map[string]interface{})
		if !ok {
			continue
		}
		messages++
		content, ok := msg["content"].([]interface{})
		if !ok {
			continue
		}
		for _, c := range content {
			if seg, ok := c.(map[string]interface{}); ok && seg["type"] == "thinking" {
				thinking++
			}
		}
	}
	return messages, thinking
}
