package program

import (
	"strings"

	"smalien/internal/value"
)

// kindOf maps a smali mnemonic to its instruction kind. Unknown and
// unsupported mnemonics map to "".
func kindOf(op string) Kind {
	switch {
	case op == ".method":
		return KindMethodHead
	case op == ".end method":
		return KindMethodTail
	case op == "nop":
		return KindNop
	case strings.HasPrefix(op, "move-result"):
		return KindMoveResult
	case op == "move-exception":
		return KindMoveException
	case strings.HasPrefix(op, "move"):
		return KindMove
	case strings.HasPrefix(op, "return"):
		return KindReturn
	case strings.HasPrefix(op, "const-string"):
		return KindConstString
	case op == "const-class":
		return KindConstClass
	case op == "const-method-handle" || op == "const-method-type":
		return ""
	case strings.HasPrefix(op, "const"):
		return KindConst
	case op == "monitor-enter":
		return KindMonitorEnter
	case op == "monitor-exit":
		return KindMonitorExit
	case op == "check-cast":
		return KindCheckCast
	case op == "instance-of":
		return KindInstanceOf
	case op == "array-length":
		return KindArrayLength
	case op == "new-instance":
		return KindNewInstance
	case op == "new-array":
		return KindNewArray
	case strings.HasPrefix(op, "filled-new-array"):
		return KindFilledNewArray
	case op == "fill-array-data":
		return KindFillArrayData
	case op == "throw":
		return KindThrow
	case strings.HasPrefix(op, "goto"):
		return KindGoto
	case op == "packed-switch" || op == "sparse-switch":
		return KindSwitch
	case strings.HasPrefix(op, "if-") && strings.HasSuffix(op, "z"):
		return KindIfz
	case strings.HasPrefix(op, "if-"):
		return KindIf
	case strings.HasPrefix(op, "cmp"):
		return KindCmp
	case strings.HasPrefix(op, "aget"):
		return KindAget
	case strings.HasPrefix(op, "aput"):
		return KindAput
	case strings.HasPrefix(op, "iget"):
		return KindIget
	case strings.HasPrefix(op, "iput"):
		return KindIput
	case strings.HasPrefix(op, "sget"):
		return KindSget
	case strings.HasPrefix(op, "sput"):
		return KindSput
	case strings.HasPrefix(op, "invoke-polymorphic") || strings.HasPrefix(op, "invoke-custom"):
		return ""
	case strings.HasPrefix(op, "invoke-"):
		return KindInvoke
	case strings.HasSuffix(op, "/2addr"):
		return KindBinop2Addr
	case strings.Contains(op, "/lit") || op == "rsub-int":
		return KindBinopLit
	}
	if _, _, _, err := value.ParseUnary(op); err == nil {
		return KindUnop
	}
	if _, _, err := value.ParseBinary(op); err == nil {
		return KindBinop
	}
	return ""
}

func isWideOp(op string) bool {
	return strings.Contains(op, "-wide")
}

// parseCond extracts the relation of "if-lt" or "if-gez".
func parseCond(op string) (value.Cond, bool) {
	c := strings.TrimPrefix(op, "if-")
	if len(c) == 3 {
		c = strings.TrimSuffix(c, "z")
	}
	switch cond := value.Cond(c); cond {
	case value.Eq, value.Ne, value.Lt, value.Ge, value.Gt, value.Le:
		return cond, true
	}
	return "", false
}

// parseCmp decodes cmpl-float, cmpg-double and cmp-long.
func parseCmp(op string) (value.CompareBias, string, bool) {
	switch op {
	case "cmpl-float":
		return value.BiasLess, "F", true
	case "cmpg-float":
		return value.BiasGreater, "F", true
	case "cmpl-double":
		return value.BiasLess, "D", true
	case "cmpg-double":
		return value.BiasGreater, "D", true
	case "cmp-long":
		return value.BiasLess, "J", true
	}
	return 0, "", false
}

// Signature splits a smali method name such as "f(IJLa/B;)V" into its
// parameter types and return type.
func Signature(method string) (params []string, ret string, ok bool) {
	open := strings.Index(method, "(")
	closing := strings.LastIndex(method, ")")
	if open < 0 || closing < open {
		return nil, "", false
	}
	desc := method[open+1 : closing]
	for i := 0; i < len(desc); {
		j := i
		for j < len(desc) && desc[j] == '[' {
			j++
		}
		if j >= len(desc) {
			return nil, "", false
		}
		if desc[j] == 'L' {
			end := strings.IndexByte(desc[j:], ';')
			if end < 0 {
				return nil, "", false
			}
			j += end
		}
		params = append(params, desc[i:j+1])
		i = j + 1
	}
	return params, method[closing+1:], true
}
