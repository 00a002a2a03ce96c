package tree

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// TagLogName is the file job scripts and the executor append tags to,
// inside each node's working directory.
const TagLogName = "study_tree.log"

// Well-known tags shared with the job scripts. A job tags "started" when
// it begins and "completed" (or "failed") when it is done, which lets the
// orchestrator detect completion even when the scheduler has already
// forgotten the job.
const (
	TagStarted   = "started"
	TagCompleted = "completed"
	TagFailed    = "failed"
)

// TagRecord is one line of a node's tag log.
type TagRecord struct {
	Tag  string  `json:"tag"`
	Time string  `json:"time"`
	Unix float64 `json:"unix_time"`
}

// TagLog returns the path of the node's tag log.
func (n *Node) TagLog() string {
	return filepath.Join(n.Dir, TagLogName)
}

// Tag appends a tag record to the node's tag log.
func (n *Node) Tag(tag string) error {
	now := time.Now()
	record := TagRecord{
		Tag:  tag,
		Time: now.Format(time.RFC3339),
		Unix: float64(now.UnixNano()) / 1e9,
	}

	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode tag %q: %w", tag, err)
	}

	f, err := os.OpenFile(n.TagLog(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open tag log for node %s: %w", n.ID(), err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append tag %q for node %s: %w", tag, n.ID(), err)
	}
	return nil
}

// Tags reads the node's tag log. A missing log yields no records and no
// error: the node simply has not reported anything yet.
func (n *Node) Tags() ([]TagRecord, error) {
	f, err := os.Open(n.TagLog())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open tag log for node %s: %w", n.ID(), err)
	}
	defer f.Close()

	var records []TagRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var record TagRecord
		if err := json.Unmarshal(line, &record); err != nil {
			return nil, fmt.Errorf("corrupt tag log for node %s: %w", n.ID(), err)
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read tag log for node %s: %w", n.ID(), err)
	}
	return records, nil
}

// HasTag reports whether the node's tag log contains the given tag.
func (n *Node) HasTag(tag string) (bool, error) {
	records, err := n.Tags()
	if err != nil {
		return false, err
	}
	for _, record := range records {
		if record.Tag == tag {
			return true, nil
		}
	}
	return false, nil
}
