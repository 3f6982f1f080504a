package domain

// SortField orders query results by one column.
type SortField struct {
	Field string `json:"field" mapstructure:"field"`
	Desc  bool   `json:"desc" mapstructure:"desc"`
}

// FindOptions is the generic document store query: equality filter, projection, sort and limit.
type FindOptions struct {
	Filter map[string]any
	Fields []string
	Sort   []SortField
	Limit  int
}

// Newest sorts by creation time, most recent first.
var Newest = []SortField{{Field: "created_at", Desc: true}}
