package graph

import (
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// edgeFromRecord maps a row returned by the collaborator queries
func edgeFromRecord(record *neo4j.Record) EdgeRecord {
	return EdgeRecord{
		Source:       recordString(record, "source"),
		Target:       recordString(record, "target"),
		Frequency:    recordInt(record, "frequency"),
		Repositories: recordStrings(record, "repositories"),
		Owners:       recordStrings(record, "owners"),
		Names:        recordStrings(record, "names"),
	}
}

func recordString(record *neo4j.Record, key string) string {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return ""
	}
	str, _ := val.(string)
	return str
}

// recordInt accepts the driver's int64 as well as plain ints
func recordInt(record *neo4j.Record, key string) int {
	val, _ := record.Get(key)
	switch v := val.(type) {
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// recordStrings reads a list property; missing lists come back empty, not nil
func recordStrings(record *neo4j.Record, key string) []string {
	val, _ := record.Get(key)
	list, ok := val.([]interface{})
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
