package atlas

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/log"
)

// OtherGroup collects tissues that the histology dictionary does not list.
const OtherGroup = "Other"

// Group is an organ group and its member tissues.
type Group struct {
	Name    string   `json:"name"`
	Tissues []string `json:"tissues"`
}

// parseHistology reads a histology dictionary: "#Group" lines open a group
// and every following non-blank line names one of its tissues.
// It returns the groups in file order and the number of skipped lines.
func parseHistology(r io.Reader, logger *log.Logger) ([]Group, int, error) {
	var (
		groups  []Group
		index   = make(map[string]int)
		owner   = make(map[string]string)
		current = -1
		skipped int
		lineNo  int
	)

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(strings.TrimPrefix(sc.Text(), "\ufeff"))
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "#") {
			name := strings.TrimSpace(line[1:])
			if name == "" {
				logger.Warn("skipping empty group header", "line", lineNo)
				current = -1
				skipped++
				continue
			}
			idx, ok := index[name]
			if !ok {
				idx = len(groups)
				index[name] = idx
				groups = append(groups, Group{Name: name})
			}
			current = idx
			continue
		}

		if current < 0 {
			logger.Warn("skipping tissue outside any group", "line", lineNo, "tissue", line)
			skipped++
			continue
		}

		key := strings.ToLower(line)
		if prev, dup := owner[key]; dup {
			if prev != groups[current].Name {
				logger.Warn("tissue listed in several groups, keeping first",
					"line", lineNo, "tissue", line, "group", prev)
			}
			skipped++
			continue
		}
		owner[key] = groups[current].Name
		groups[current].Tissues = append(groups[current].Tissues, line)
	}
	if err := sc.Err(); err != nil {
		return nil, skipped, fmt.Errorf("read histology dictionary: %w", err)
	}
	return groups, skipped, nil
}
