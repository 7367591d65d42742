package atom

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// ParseText reads the plain input format used by content sources: one
// key:value pair per line, feed-level keys first, and each entry introduced
// by a line containing only "entry". Recognized keys are title, subtitle,
// link, updated, author, id and summary; unknown keys are ignored and blank
// lines are skipped.
func ParseText(r io.Reader) (*Feed, error) {
	f := &Feed{}
	var cur *Entry

	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if strings.TrimSpace(line) == "entry" {
			f.Entries = append(f.Entries, Entry{})
			cur = &f.Entries[len(f.Entries)-1]
			continue
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("atom: parse text: line %d: missing ':' in %q", lineNo, line)
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		if cur == nil {
			setFeedField(f, key, value)
		} else {
			setEntryField(cur, key, value)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("atom: parse text: %w", err)
	}
	return f, nil
}

func setFeedField(f *Feed, key, value string) {
	switch key {
	case "title":
		f.Title = value
	case "subtitle":
		f.Subtitle = value
	case "link":
		f.Link = &Link{Href: value}
	case "updated":
		f.Updated = value
	case "author":
		f.Author = &Author{Name: value}
	case "id":
		f.ID = value
	}
}

func setEntryField(e *Entry, key, value string) {
	switch key {
	case "title":
		e.Title = value
	case "link":
		e.Link = &Link{Href: value}
	case "updated":
		e.Updated = value
	case "author":
		e.Author = &Author{Name: value}
	case "id":
		e.ID = value
	case "summary":
		e.Summary = value
	}
}
