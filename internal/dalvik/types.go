// Package dalvik holds the Dalvik type descriptor vocabulary shared by the
// program model, the value model and the resolvers.
package dalvik

import "strings"

// Null is the representation the instrumentation logs for a null reference.
const Null = "n"

// Well-known descriptors.
const (
	Object       = "Ljava/lang/Object;"
	String       = "Ljava/lang/String;"
	CharSequence = "Ljava/lang/CharSequence;"
	Class        = "Ljava/lang/Class;"
	Method       = "Ljava/lang/reflect/Method;"
	Field        = "Ljava/lang/reflect/Field;"
	Void         = "V"
	Clinit       = "<clinit>()V"
	OnLowMemory  = "onLowMemory()V"
	OutputStream = "Ljava/io/OutputStream;"
	Appendable   = "Ljava/lang/Appendable;"
	ObjectArray  = "[Ljava/lang/Object;"
)

var primitives = map[string]bool{
	"Z": true, "B": true, "S": true, "C": true,
	"I": true, "J": true, "F": true, "D": true,
}

// stringTypes are reference types whose logged value is a printable payload
// rather than an identity hash.
var stringTypes = map[string]bool{
	String:       true,
	Method:       true,
	Field:        true,
	CharSequence: true,
}

// identifiedStrings are logged as "<identity>:<payload>".
var identifiedStrings = map[string]bool{
	String:       true,
	CharSequence: true,
}

// BoxedPrimitive maps java primitive keywords to their wrapper descriptors.
var BoxedPrimitive = map[string]string{
	"boolean": "Ljava/lang/Boolean;",
	"byte":    "Ljava/lang/Byte;",
	"short":   "Ljava/lang/Short;",
	"char":    "Ljava/lang/Character;",
	"int":     "Ljava/lang/Integer;",
	"long":    "Ljava/lang/Long;",
	"float":   "Ljava/lang/Float;",
	"double":  "Ljava/lang/Double;",
}

func IsPrimitive(t string) bool { return primitives[t] }

// IsWide reports whether t occupies a register pair.
func IsWide(t string) bool { return t == "J" || t == "D" }

func IsFloating(t string) bool { return t == "F" || t == "D" }

// IsIntegral reports whether t is an arithmetic integer type.
func IsIntegral(t string) bool {
	switch t {
	case "B", "S", "C", "I", "J":
		return true
	}
	return false
}

func IsArray(t string) bool { return strings.HasPrefix(t, "[") }

func IsReference(t string) bool { return strings.HasPrefix(t, "L") }

func IsString(t string) bool { return stringTypes[t] }

// IsIdentifiedString reports whether values of t are logged with an identity
// prefix.
func IsIdentifiedString(t string) bool { return identifiedStrings[t] }

// ElementType strips one array dimension.
func ElementType(t string) string {
	if IsArray(t) {
		return t[1:]
	}
	return t
}

// IsNullLiteral reports whether a logged payload denotes null.
func IsNullLiteral(raw string) bool {
	return raw == "" || raw == Null || raw == "null"
}

// IsNullReference reports whether a logged reference identity denotes null.
// References are logged as identity hashes, where 0 is the null object.
func IsNullReference(raw string) bool {
	return IsNullLiteral(raw) || raw == "0"
}

// SplitIdentity splits a "<identity>:<payload>" string. ok is false when raw
// carries no identity prefix.
func SplitIdentity(raw string) (id, payload string, ok bool) {
	i := strings.Index(raw, ":")
	if i <= 0 {
		return raw, "", false
	}
	return raw[:i], raw[i+1:], true
}

// ClassOfField returns the owning class of a "Lpkg/C;->name:T" field key.
func ClassOfField(key string) string {
	if i := strings.Index(key, ";->"); i > 0 {
		return key[:i+1]
	}
	return ""
}
