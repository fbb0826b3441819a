package model

// ReferenceDocument is a reference file that statements are validated against
type ReferenceDocument struct {
	Name      string `json:"name"`                 // Original filename, the cache key
	Content   []byte `json:"-"`                    // Raw bytes
	SourceURL string `json:"source_url,omitempty"` // Set when fetched over HTTP
}

// DocumentSet is an ordered collection of reference documents.
// Order is the order in which documents are validated.
type DocumentSet []ReferenceDocument

// Names returns the document filenames in order
func (s DocumentSet) Names() []string {
	names := make([]string, len(s))
	for i, d := range s {
		names[i] = d.Name
	}
	return names
}

// Lookup finds a document by filename
func (s DocumentSet) Lookup(name string) (ReferenceDocument, bool) {
	for _, d := range s {
		if d.Name == name {
			return d, true
		}
	}
	return ReferenceDocument{}, false
}
