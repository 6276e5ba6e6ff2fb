package config

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
)

// envVarPattern matches ${VAR} and ${VAR:-default}. Unlike os.ExpandEnv this
// distinguishes "undefined, no default" (a fatal UndefinedVariableError) from
// "undefined, has default" (substitute the default) from "defined as empty
// string" (substitute the empty string — see the pkg/config Open Question
// decision in DESIGN.md: an explicitly empty value is treated as a valid
// substitution, not as undefined).
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// ExpandEnv walks every string field reachable from v (which must be a
// pointer to a struct) and replaces ${VAR} / ${VAR:-default} references using
// lookup. It returns a *ConfigurationError aggregating one *UndefinedVariableError
// per string that references an undefined variable (naming the first such
// reference in that string), in the order encountered.
//
// Each string's position in the tree is tracked as a dotted path (struct
// fields by their yaml tag name, map entries by key, slice entries by index)
// so failures can name exactly where the undefined variable was referenced.
func ExpandEnv(v interface{}, lookup func(string) (string, bool)) error {
	var errs []error
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return nil
	}
	expandValue(rv.Elem(), "", lookup, &errs)
	return NewConfigurationError(errs)
}

func expandValue(v reflect.Value, path string, lookup func(string) (string, bool), errs *[]error) {
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface:
		if v.IsNil() {
			return
		}
		// A string held in an interface (e.g. a map[string]any value) cannot
		// be set through Elem, so the interface value is replaced whole.
		if v.Kind() == reflect.Interface && v.Elem().Kind() == reflect.String {
			if !v.CanSet() {
				return
			}
			expanded, err := expandString(v.Elem().String(), path, lookup)
			if err != nil {
				*errs = append(*errs, err)
				return
			}
			v.Set(reflect.ValueOf(expanded))
			return
		}
		expandValue(v.Elem(), path, lookup, errs)
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if field.PkgPath != "" { // unexported
				continue
			}
			name := fieldPathName(field)
			if name == "-" {
				continue
			}
			childPath := name
			if path != "" {
				childPath = path + "." + name
			}
			expandValue(v.Field(i), childPath, lookup, errs)
		}
	case reflect.Map:
		for _, key := range v.MapKeys() {
			childPath := fmt.Sprintf("%s.%v", path, key.Interface())
			val := v.MapIndex(key)
			if val.Kind() == reflect.String {
				expanded, err := expandString(val.String(), childPath, lookup)
				if err != nil {
					*errs = append(*errs, err)
					continue
				}
				v.SetMapIndex(key, reflect.ValueOf(expanded))
				continue
			}
			// Maps of non-string, non-addressable values (structs, pointers)
			// still need walking for nested strings.
			tmp := reflect.New(val.Type()).Elem()
			tmp.Set(val)
			expandValue(tmp, childPath, lookup, errs)
			v.SetMapIndex(key, tmp)
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			childPath := fmt.Sprintf("%s[%d]", path, i)
			expandValue(v.Index(i), childPath, lookup, errs)
		}
	case reflect.String:
		if !v.CanSet() {
			return
		}
		expanded, err := expandString(v.String(), path, lookup)
		if err != nil {
			*errs = append(*errs, err)
			return
		}
		v.SetString(expanded)
	default:
		// Non-string scalars pass through untouched.
	}
}

// fieldPathName returns the dotted-path component for a struct field, using
// its yaml tag name when present.
func fieldPathName(field reflect.StructField) string {
	tag := field.Tag.Get("yaml")
	if tag == "" {
		return strings.ToLower(field.Name)
	}
	parts := strings.Split(tag, ",")
	if parts[0] == "" {
		return strings.ToLower(field.Name)
	}
	return parts[0]
}

// expandString replaces every ${VAR} / ${VAR:-default} reference in s.
// Returns the first UndefinedVariableError encountered, if any.
func expandString(s, path string, lookup func(string) (string, bool)) (string, error) {
	var firstErr error
	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}
		sub := envVarPattern.FindStringSubmatch(match)
		name, hasDefault, def := sub[1], strings.Contains(match, ":-"), sub[2]

		if val, ok := lookup(name); ok {
			return val
		}
		if hasDefault {
			return def
		}
		firstErr = &UndefinedVariableError{VariableName: name, Path: path}
		return match
	})
	if firstErr != nil {
		return s, firstErr
	}
	return result, nil
}
