package dalvik

import (
	"fmt"
	"strings"
)

// TypeToSmali converts a java type name such as "java.lang.String[]" into its
// descriptor "[Ljava/lang/String;".
func TypeToSmali(java string) string {
	dims := ""
	for strings.HasSuffix(java, "[]") {
		dims += "["
		java = strings.TrimSuffix(java, "[]")
	}
	switch java {
	case "":
		return ""
	case "void":
		return Void
	case "boolean":
		return dims + "Z"
	case "byte":
		return dims + "B"
	case "char":
		return dims + "C"
	case "short":
		return dims + "S"
	case "int":
		return dims + "I"
	case "float":
		return dims + "F"
	case "double":
		return dims + "D"
	case "long":
		return dims + "J"
	}
	return dims + "L" + strings.ReplaceAll(java, ".", "/") + ";"
}

// MethodToSmali converts the toString() form of a java.lang.reflect.Method,
// e.g. "public java.lang.String a.B.c(int,java.lang.String)", into a class
// descriptor and a smali method name "c(ILjava/lang/String;)Ljava/lang/String;".
func MethodToSmali(java string) (class, method string, err error) {
	fields := strings.Fields(stripThrows(java))
	if len(fields) < 2 {
		return "", "", fmt.Errorf("convert method %q: too few fields", java)
	}
	full := fields[len(fields)-1]
	ret := fields[len(fields)-2]

	open := strings.Index(full, "(")
	if open < 0 || !strings.HasSuffix(full, ")") {
		return "", "", fmt.Errorf("convert method %q: no argument list", java)
	}
	qualified := full[:open]
	dot := strings.LastIndex(qualified, ".")
	if dot <= 0 {
		return "", "", fmt.Errorf("convert method %q: unqualified name", java)
	}

	var args strings.Builder
	for _, a := range strings.Split(full[open+1:len(full)-1], ",") {
		args.WriteString(TypeToSmali(strings.TrimSpace(a)))
	}
	class = TypeToSmali(qualified[:dot])
	method = fmt.Sprintf("%s(%s)%s", qualified[dot+1:], args.String(), TypeToSmali(ret))
	return class, method, nil
}

// FieldToSmali converts the toString() form of a static java.lang.reflect.Field,
// e.g. "public static int a.B.count", into its attribute and field key
// "La/B;->count:I". Only static fields are supported.
func FieldToSmali(java string) (attr, key string, err error) {
	if !strings.Contains(java, "static") {
		return "", "", fmt.Errorf("convert field %q: only static fields are supported", java)
	}
	fields := strings.Fields(java)
	if len(fields) < 2 {
		return "", "", fmt.Errorf("convert field %q: too few fields", java)
	}
	full := fields[len(fields)-1]
	dot := strings.LastIndex(full, ".")
	if dot <= 0 {
		return "", "", fmt.Errorf("convert field %q: unqualified name", java)
	}
	class := TypeToSmali(full[:dot])
	typ := TypeToSmali(fields[len(fields)-2])
	return "static", fmt.Sprintf("%s->%s:%s", class, full[dot+1:], typ), nil
}

func stripThrows(s string) string {
	if i := strings.Index(s, " throws "); i > 0 {
		return s[:i]
	}
	return s
}
