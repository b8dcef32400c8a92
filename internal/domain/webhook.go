package domain

// Operation kinds used in webhook responses.
const (
	OpAdd     = "add"
	OpReplace = "replace"
)

// Operation is a JSON-patch-like instruction returned to Commerce.
type Operation struct {
	Op       string `json:"op"`
	Path     string `json:"path"`
	Value    any    `json:"value"`
	Instance string `json:"instance,omitempty"`
}

// TaxOperation is an operation produced by tax collection.
type TaxOperation = Operation

// DataValue wraps a payload under the "data" key expected by typed Commerce instances.
type DataValue[T any] struct {
	Data T `json:"data"`
}
