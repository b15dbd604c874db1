package graph

// EdgeRecord is a stored collaboration edge
type EdgeRecord struct {
	Source       string   `json:"source"`
	Target       string   `json:"target"`
	Frequency    int      `json:"frequency"`
	Repositories []string `json:"repositories"`
	Owners       []string `json:"owners"`
	Names        []string `json:"names"`
}
