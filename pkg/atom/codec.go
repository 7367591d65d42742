package atom

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"

	"github.com/mmcdole/gofeed"
	gofeedatom "github.com/mmcdole/gofeed/atom"
)

// ErrUnsupportedFeed is returned by Decode when the document is not a feed
// format gofeed can detect.
var ErrUnsupportedFeed = errors.New("atom: unsupported feed format")

// Encode serializes f as an indented Atom 1.0 document with an XML header.
func Encode(f *Feed) ([]byte, error) {
	if f == nil {
		f = &Feed{}
	}
	out, err := xml.MarshalIndent(f, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("atom: encode: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

// Decode parses a feed document. Atom documents map field for field; other
// formats supported by gofeed are converted item by item.
func Decode(data []byte) (*Feed, error) {
	switch gofeed.DetectFeedType(bytes.NewReader(data)) {
	case gofeed.FeedTypeAtom:
		af, err := (&gofeedatom.Parser{}).Parse(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("atom: decode atom: %w", err)
		}
		return fromAtom(af), nil

	case gofeed.FeedTypeRSS, gofeed.FeedTypeJSON:
		uf, err := gofeed.NewParser().Parse(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("atom: decode: %w", err)
		}
		return fromUniversal(uf), nil

	default:
		return nil, ErrUnsupportedFeed
	}
}

func fromAtom(af *gofeedatom.Feed) *Feed {
	f := &Feed{
		Title:    af.Title,
		Subtitle: af.Subtitle,
		Link:     atomLink(af.Links),
		Updated:  af.Updated,
		Author:   atomAuthor(af.Authors),
		ID:       af.ID,
		Entries:  make([]Entry, 0, len(af.Entries)),
	}
	for _, e := range af.Entries {
		f.Entries = append(f.Entries, Entry{
			Title:   e.Title,
			Link:    atomLink(e.Links),
			ID:      e.ID,
			Updated: e.Updated,
			Author:  atomAuthor(e.Authors),
			Summary: e.Summary,
		})
	}
	return f
}

// atomLink picks the alternate link if present, else the first one.
func atomLink(links []*gofeedatom.Link) *Link {
	var pick *gofeedatom.Link
	for _, l := range links {
		if l == nil {
			continue
		}
		if pick == nil || (l.Rel == "alternate" && pick.Rel != "alternate") {
			pick = l
		}
	}
	if pick == nil {
		return nil
	}
	return &Link{Type: pick.Type, Href: pick.Href, Rel: pick.Rel}
}

func atomAuthor(people []*gofeedatom.Person) *Author {
	for _, p := range people {
		if p != nil {
			return &Author{Name: p.Name, Email: p.Email}
		}
	}
	return nil
}

func fromUniversal(uf *gofeed.Feed) *Feed {
	f := &Feed{
		Title:    uf.Title,
		Subtitle: uf.Description,
		Updated:  uf.Updated,
		Author:   universalAuthor(uf.Authors),
		ID:       uf.FeedLink,
		Entries:  make([]Entry, 0, len(uf.Items)),
	}
	if uf.Link != "" {
		f.Link = &Link{Href: uf.Link}
	}
	for _, it := range uf.Items {
		e := Entry{
			Title:   it.Title,
			ID:      it.GUID,
			Updated: it.Updated,
			Author:  universalAuthor(it.Authors),
			Summary: it.Description,
		}
		if e.Updated == "" {
			e.Updated = it.Published
		}
		if it.Link != "" {
			e.Link = &Link{Href: it.Link}
		}
		if e.ID == "" {
			e.ID = it.Link
		}
		f.Entries = append(f.Entries, e)
	}
	return f
}

func universalAuthor(people []*gofeed.Person) *Author {
	for _, p := range people {
		if p != nil {
			return &Author{Name: p.Name, Email: p.Email}
		}
	}
	return nil
}
