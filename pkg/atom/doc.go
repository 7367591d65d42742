// Package atom defines the feed model exchanged between content sources, the
// aggregation server and readers, together with its explicit encode/decode
// pair.
//
// Decode accepts Atom documents (parsed with gofeed's Atom parser so link
// attributes survive) and, for convenience, any other format gofeed's
// universal parser understands (RSS, JSON Feed), converted to the same
// model. Encode always writes Atom 1.0 with the element order
//
//	feed:  title, subtitle, link, updated, author, id, entry*
//	entry: title, link, id, updated, author, summary
//
// ParseText reads the plain key:value input files used by content sources.
package atom
