package aggregate

import "strings"

// Method is a per-bucket reduction.
type Method string

const (
	MethodAvg   Method = "avg"
	MethodMin   Method = "min"
	MethodMax   Method = "max"
	MethodFirst Method = "first"
	MethodLast  Method = "last"
	MethodCount Method = "count"
	MethodSum   Method = "sum"
)

// NormalizeMethod maps external aggregation names onto a Method. "mean" is
// accepted as an alias for avg; unknown names coerce to avg rather than fail.
func NormalizeMethod(name string) Method {
	switch Method(strings.ToLower(strings.TrimSpace(name))) {
	case MethodAvg, "mean":
		return MethodAvg
	case MethodMin:
		return MethodMin
	case MethodMax:
		return MethodMax
	case MethodFirst:
		return MethodFirst
	case MethodLast:
		return MethodLast
	case MethodCount:
		return MethodCount
	case MethodSum:
		return MethodSum
	}
	return MethodAvg
}

// CompanionSuffix is the column suffix pre-computed aggregate files use for
// this method, e.g. temperature_mean.
func (m Method) CompanionSuffix() string {
	if m == MethodAvg {
		return "_mean"
	}
	return "_" + string(m)
}
