// Package serialize turns typed resource structs into CloudFormation
// property maps and finds the references between them.
package serialize

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	fluffy "github.com/fluffyengine/fluffy-engine"
)

// Resource serializes a resource struct into CloudFormation properties.
// Field names come from json tags. Zero values are omitted, so a false bool
// or a 0 port never reaches the template. json.Marshaler values (intrinsics,
// stack handles) are emitted as they marshal.
func Resource(v any) (map[string]any, error) {
	val := reflect.Indirect(reflect.ValueOf(v))
	if val.Kind() != reflect.Struct {
		return nil, nil
	}
	return structProps(val, val.Type().Name())
}

func structProps(val reflect.Value, path string) (map[string]any, error) {
	props := make(map[string]any)
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		if !field.IsExported() {
			continue
		}
		name := propertyName(field)
		if name == "-" || omitted(val.Field(i)) {
			continue
		}
		out, err := encode(val.Field(i), path+"."+name)
		if err != nil {
			return nil, err
		}
		if out != nil {
			props[name] = out
		}
	}
	return props, nil
}

// propertyName is the json tag name, or the Go field name without one.
func propertyName(field reflect.StructField) string {
	name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
	if name == "" {
		return field.Name
	}
	return name
}

// omitted reports whether v is left out of the rendered properties.
func omitted(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface:
		return v.IsNil()
	case reflect.Slice, reflect.Map:
		return v.Len() == 0
	case reflect.Struct:
		if z, ok := v.Interface().(interface{ IsZero() bool }); ok {
			return z.IsZero()
		}
		return false
	default:
		return v.IsZero()
	}
}

var marshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()

// encode converts v into plain JSON values. path locates v in errors.
func encode(v reflect.Value, path string) (any, error) {
	for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil, nil
		}
		if v.Type().Implements(marshalerType) {
			break
		}
		v = v.Elem()
	}

	if v.Type().Implements(marshalerType) {
		return viaJSON(v.Interface(), path)
	}

	switch v.Kind() {
	case reflect.Struct:
		return structProps(v, path)
	case reflect.Slice, reflect.Array:
		if v.Len() == 0 {
			return nil, nil
		}
		items := make([]any, v.Len())
		for i := range items {
			item, err := encode(v.Index(i), fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			items[i] = item
		}
		return items, nil
	case reflect.Map:
		if v.Len() == 0 {
			return nil, nil
		}
		m := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			key := fmt.Sprint(iter.Key().Interface())
			item, err := encode(iter.Value(), path+"."+key)
			if err != nil {
				return nil, err
			}
			m[key] = item
		}
		return m, nil
	case reflect.String:
		return v.String(), nil
	case reflect.Bool:
		return v.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint(), nil
	case reflect.Float32, reflect.Float64:
		return v.Float(), nil
	default:
		return viaJSON(v.Interface(), path)
	}
}

func viaJSON(v any, path string) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return out, nil
}

// Normalize round-trips properties through JSON so numbers become float64
// and nested values become map[string]any / []any, matching what a template
// read back from disk or from CloudFormation looks like.
func Normalize(props map[string]any) (map[string]any, error) {
	if props == nil {
		return nil, nil
	}
	data, err := json.Marshal(props)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// References walks normalized properties and returns the logical names
// referenced through Ref or Fn::GetAtt, plus the GetAtt usages.
// Pseudo parameters (AWS::Region, ...) are skipped.
func References(props map[string]any) ([]string, []fluffy.AttrRefUsage) {
	seen := make(map[string]bool)
	var usages []fluffy.AttrRefUsage

	var walk func(v any)
	walk = func(v any) {
		switch val := v.(type) {
		case map[string]any:
			if ref, ok := val["Ref"].(string); ok && len(val) == 1 {
				if !strings.HasPrefix(ref, "AWS::") {
					seen[ref] = true
				}
				return
			}
			if getAtt, ok := val["Fn::GetAtt"].([]any); ok && len(val) == 1 && len(getAtt) == 2 {
				name, _ := getAtt[0].(string)
				attr, _ := getAtt[1].(string)
				if name != "" {
					seen[name] = true
					usages = append(usages, fluffy.AttrRefUsage{ResourceName: name, Attribute: attr})
				}
				return
			}
			for _, nested := range val {
				walk(nested)
			}
		case []any:
			for _, elem := range val {
				walk(elem)
			}
		}
	}
	walk(props)

	refs := make([]string, 0, len(seen))
	for name := range seen {
		refs = append(refs, name)
	}
	sort.Strings(refs)
	sort.Slice(usages, func(i, j int) bool {
		if usages[i].ResourceName != usages[j].ResourceName {
			return usages[i].ResourceName < usages[j].ResourceName
		}
		return usages[i].Attribute < usages[j].Attribute
	})
	return refs, usages
}
