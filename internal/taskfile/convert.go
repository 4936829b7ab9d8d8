package taskfile

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"sort"
	"time"

	"github.com/zclconf/go-cty/cty"
)

// errNaN is returned for NaN, which cty numbers cannot hold.
var errNaN = errors.New("NaN cannot be used in task expressions")

// timeType carries datetimes through expressions unchanged, location
// included, so local dates and times keep their TOML kind.
var timeType = cty.CapsuleWithOps("datetime", reflect.TypeOf(time.Time{}), &cty.CapsuleOps{
	GoString: func(v interface{}) string {
		return fmt.Sprintf("datetime(%q)", v.(*time.Time).Format(time.RFC3339Nano))
	},
	TypeGoString: func(reflect.Type) string {
		return "datetime"
	},
	Equals: func(a, b interface{}) cty.Value {
		return cty.BoolVal(a.(*time.Time).Equal(*b.(*time.Time)))
	},
	RawEquals: func(a, b interface{}) bool {
		ta, tb := a.(*time.Time), b.(*time.Time)
		return ta.Equal(*tb) && ta.Location() == tb.Location()
	},
})

// toNative converts a cty value into the logical tree shape used by
// handles. Whole numbers that fit become int64, other numbers float64.
func toNative(v cty.Value) (any, error) {
	if v.IsNull() {
		return nil, nil
	}
	if !v.IsWhollyKnown() {
		return nil, fmt.Errorf("value is not known")
	}

	ty := v.Type()
	switch {
	case ty == cty.String:
		return v.AsString(), nil

	case ty == cty.Bool:
		return v.True(), nil

	case ty.Equals(timeType):
		return *v.EncapsulatedValue().(*time.Time), nil

	case ty == cty.Number:
		bf := v.AsBigFloat()
		if bf.IsInt() {
			if i, acc := bf.Int64(); acc == big.Exact {
				return i, nil
			}
		}
		f, _ := bf.Float64()
		return f, nil

	case ty.IsListType() || ty.IsTupleType() || ty.IsSetType():
		out := make([]any, 0, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			_, elem := it.Element()
			native, err := toNative(elem)
			if err != nil {
				return nil, err
			}
			out = append(out, native)
		}
		return out, nil

	case ty.IsObjectType() || ty.IsMapType():
		out := make(map[string]any, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			key, elem := it.Element()
			native, err := toNative(elem)
			if err != nil {
				return nil, fmt.Errorf("in attribute %q: %w", key.AsString(), err)
			}
			out[key.AsString()] = native
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported value type %s", ty.FriendlyName())
}

// fromNative converts a logical tree into a cty value. Mappings become
// objects and lists tuples, so mixed element types survive.
func fromNative(v any) (cty.Value, error) {
	switch x := v.(type) {
	case nil:
		return cty.NullVal(cty.DynamicPseudoType), nil
	case string:
		return cty.StringVal(x), nil
	case bool:
		return cty.BoolVal(x), nil
	case int64:
		return cty.NumberIntVal(x), nil
	case int:
		return cty.NumberIntVal(int64(x)), nil
	case float64:
		if math.IsNaN(x) {
			return cty.NilVal, errNaN
		}
		return cty.NumberFloatVal(x), nil
	case time.Time:
		t := x
		return cty.CapsuleVal(timeType, &t), nil
	case []any:
		if len(x) == 0 {
			return cty.EmptyTupleVal, nil
		}
		elems := make([]cty.Value, len(x))
		for i, elem := range x {
			cv, err := fromNative(elem)
			if err != nil {
				return cty.NilVal, err
			}
			elems[i] = cv
		}
		return cty.TupleVal(elems), nil
	case map[string]any:
		if len(x) == 0 {
			return cty.EmptyObjectVal, nil
		}
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		attrs := make(map[string]cty.Value, len(x))
		for _, k := range keys {
			cv, err := fromNative(x[k])
			if err != nil {
				return cty.NilVal, fmt.Errorf("in attribute %q: %w", k, err)
			}
			attrs[k] = cv
		}
		return cty.ObjectVal(attrs), nil
	}
	return cty.NilVal, fmt.Errorf("unsupported value type %T", v)
}

// toStrings converts a list-like value of strings.
func toStrings(v cty.Value) ([]string, error) {
	native, err := toNative(v)
	if err != nil {
		return nil, err
	}
	if native == nil {
		return nil, nil
	}
	list, ok := native.([]any)
	if !ok {
		return nil, fmt.Errorf("expected a list of strings, got %s", v.Type().FriendlyName())
	}
	out := make([]string, len(list))
	for i, elem := range list {
		s, ok := elem.(string)
		if !ok {
			return nil, fmt.Errorf("element %d is not a string", i)
		}
		out[i] = s
	}
	return out, nil
}
