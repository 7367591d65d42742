package atom

import "encoding/xml"

// Namespace is the Atom 1.0 XML namespace.
const Namespace = "http://www.w3.org/2005/Atom"

// Feed is one Atom feed. Entries keep the order they were received in.
type Feed struct {
	XMLName  xml.Name `xml:"http://www.w3.org/2005/Atom feed" json:"-"`
	Title    string   `xml:"title,omitempty" json:"title,omitempty"`
	Subtitle string   `xml:"subtitle,omitempty" json:"subtitle,omitempty"`
	Link     *Link    `xml:"link,omitempty" json:"link,omitempty"`
	Updated  string   `xml:"updated,omitempty" json:"updated,omitempty"`
	Author   *Author  `xml:"author,omitempty" json:"author,omitempty"`
	ID       string   `xml:"id,omitempty" json:"id,omitempty"`
	Entries  []Entry  `xml:"entry" json:"entries"`
}

// Entry is a single feed entry. Entries are treated as immutable once
// decoded; copies of a Feed share their Link and Author values.
type Entry struct {
	Title   string  `xml:"title,omitempty" json:"title,omitempty"`
	Link    *Link   `xml:"link,omitempty" json:"link,omitempty"`
	ID      string  `xml:"id,omitempty" json:"id,omitempty"`
	Updated string  `xml:"updated,omitempty" json:"updated,omitempty"`
	Author  *Author `xml:"author,omitempty" json:"author,omitempty"`
	Summary string  `xml:"summary,omitempty" json:"summary,omitempty"`
}

// Author identifies the person responsible for a feed or entry.
type Author struct {
	Name  string `xml:"name,omitempty" json:"name,omitempty"`
	Email string `xml:"email,omitempty" json:"email,omitempty"`
}

// Link is an Atom link element; all fields are attributes.
type Link struct {
	Type string `xml:"type,attr,omitempty" json:"type,omitempty"`
	Href string `xml:"href,attr,omitempty" json:"href,omitempty"`
	Rel  string `xml:"rel,attr,omitempty" json:"rel,omitempty"`
}

// Clone returns a copy of f whose Entries slice can be modified without
// affecting f. A nil feed clones to nil.
func (f *Feed) Clone() *Feed {
	if f == nil {
		return nil
	}
	cp := *f
	cp.Entries = append([]Entry(nil), f.Entries...)
	return &cp
}

// Len returns the number of entries, treating a nil feed as empty.
func (f *Feed) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Entries)
}
