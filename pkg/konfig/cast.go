package konfig

import "github.com/spf13/cast"

// CastFunc converts a resolved raw value into its final type.
type CastFunc func(interface{}) (interface{}, error)

// Ready-made casts for the common primitive conversions.
var (
	AsString      CastFunc = func(v interface{}) (interface{}, error) { return cast.ToStringE(v) }
	AsInt         CastFunc = func(v interface{}) (interface{}, error) { return cast.ToIntE(v) }
	AsBool        CastFunc = func(v interface{}) (interface{}, error) { return cast.ToBoolE(v) }
	AsFloat       CastFunc = func(v interface{}) (interface{}, error) { return cast.ToFloat64E(v) }
	AsStringSlice CastFunc = func(v interface{}) (interface{}, error) { return cast.ToStringSliceE(v) }
	AsDuration    CastFunc = func(v interface{}) (interface{}, error) { return cast.ToDurationE(v) }
)
