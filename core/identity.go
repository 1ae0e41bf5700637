package core

import (
	"strings"

	"go.uber.org/zap"
)

// Field is a loosely structured record that may describe an indicator, such
// as an object attribute ("name", "type", "value") or a parsed email header
// ("field_type", "field_value").
type Field map[string]string

// Identity is the (type, value) key that uniquely identifies an indicator
type Identity struct {
	Type  string
	Value string
}

// ResolveIdentity derives the indicator identity of a field. The second
// result is false when the field shape is not recognised.
func ResolveIdentity(f Field) (Identity, bool) {
	name, hasName := f["name"]
	objType, hasType := f["type"]
	value, hasValue := f["value"]
	if hasName && hasType && hasValue {
		return Identity{Type: JoinTypeName(objType, name), Value: NormalizeValue(value)}, true
	}

	fieldType, hasFieldType := f["field_type"]
	fieldValue, hasFieldValue := f["field_value"]
	if hasFieldType && hasFieldValue {
		return Identity{Type: fieldType, Value: NormalizeValue(fieldValue)}, true
	}

	return Identity{}, false
}

// RelationshipAlreadyExists reports whether the field's identity matches one
// of the related indicators. Unresolvable fields and nil entries are logged
// and never match.
func RelationshipAlreadyExists(f Field, related []*IndicatorRef, logger *zap.SugaredLogger) bool {
	if related == nil {
		return false
	}

	id, ok := ResolveIdentity(f)
	if !ok {
		logger.Errorw("Could not extract type/value pair of input field",
			"field_keys", fieldKeys(f),
			"related_count", len(related))
		return false
	}

	for _, ref := range related {
		if ref == nil {
			logger.Error("Indicator relationship is not valid: <nil>")
			continue
		}
		if ref.IndType == id.Type && ref.IndValue == id.Value {
			return true
		}
	}
	return false
}

func fieldKeys(f Field) string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	return strings.Join(keys, ",")
}
