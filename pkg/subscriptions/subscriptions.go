// Package subscriptions reads the user-maintained list of watched tags.
package subscriptions

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Load reads the subscription list from a text file, one subscription per
// line. Blank lines and lines starting with '#' are ignored. A missing or
// unreadable file is an error; the run must not start without its input.
func Load(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("subscriptions file unavailable: %w", err)
	}
	defer file.Close()

	var subs []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		subs = append(subs, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read subscriptions file: %w", err)
	}

	return subs, nil
}
