package agent

import "strings"

// SplitMessage breaks text into chunks of at most max characters for
// platforms with a hard message length cap. Split points are chosen in
// priority order: after a complete code fence, before an unfinished
// fence, paragraph break, line break, word break, then a hard cut.
// Whitespace-only chunks are dropped.
func SplitMessage(text string, max int) []string {
	if max <= 0 {
		max = 2000
	}

	var chunks []string
	remaining := text
	for len(remaining) > max {
		window := remaining[:max]

		cut := -1
		if strings.Count(window, "```")%2 == 1 {
			// The window ends inside a code block. Prefer cutting just
			// after the last complete fence; otherwise cut before the
			// fence that the window truncates.
			if end := lastCompleteFenceEnd(window); end > max/4 {
				if nl := strings.Index(window[end:], "\n"); nl >= 0 {
					cut = end + nl + 1
				} else {
					cut = end
				}
			} else if first := strings.Index(window, "```"); first > max/4 {
				cut = first
			}
		}

		if cut == -1 {
			if i := strings.LastIndex(window, "\n\n"); i > max/3 {
				cut = i + 1
			} else if i := strings.LastIndex(window, "\n"); i > max/3 {
				cut = i + 1
			} else if i := strings.LastIndex(window, " "); i > max/2 {
				cut = i + 1
			} else {
				cut = max
			}
		}

		chunk := strings.TrimRight(remaining[:cut], " \t\n")
		remaining = strings.TrimLeft(remaining[cut:], "\n")
		if strings.TrimSpace(chunk) != "" {
			chunks = append(chunks, chunk)
		}
	}

	if strings.TrimSpace(remaining) != "" {
		chunks = append(chunks, remaining)
	}
	return chunks
}

// lastCompleteFenceEnd returns the index just past the closing ``` of
// the last complete fence pair in s, or -1 when no pair is complete.
func lastCompleteFenceEnd(s string) int {
	var positions []int
	idx := 0
	for {
		i := strings.Index(s[idx:], "```")
		if i < 0 {
			break
		}
		positions = append(positions, idx+i)
		idx += i + 3
	}
	if len(positions) < 2 {
		return -1
	}
	// With an odd count the final fence opens an unfinished block, so
	// the last complete pair closes at the second-to-last fence.
	n := len(positions)
	if n%2 == 1 {
		return positions[n-2] + 3
	}
	return positions[n-1] + 3
}
