package logfields

const (
	// Identifiers

	Operation = "operation"

	// Map geometry

	Base     = "base"
	Size     = "size"
	Capacity = "capacity"
	Stride   = "stride"
	Version  = "version"

	// Regions

	Address    = "address"
	Alignment  = "alignment"
	Attribute  = "attribute"
	Bytes      = "bytes"
	Floor      = "floor"
	Pages      = "pages"
	RegionType = "region-type"
	Slot       = "slot"

	// Common Misc

	Count = "count"

	// logging and tracing

	TraceID      = "traceID"
	SpanID       = "spanID"
	ParentSpanID = "parentSpanID"
)
