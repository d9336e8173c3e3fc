// Package logg holds the structured log field keys shared by every layer.
package logg

const (
	Layer     = "layer"
	Operation = "op"
	RunID     = "run_id"
	URL       = "url"
	Selector  = "selector"
	Action    = "action"
	Step      = "step"
	Category  = "category"
	Count     = "count"
	Driver    = "driver"
)
