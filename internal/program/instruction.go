package program

import (
	"smalien/internal/taint"
	"smalien/internal/value"
)

// Kind names an instruction family.
type Kind string

const (
	KindNop            Kind = "nop"
	KindMethodHead     Kind = "method_head"
	KindMethodTail     Kind = "method_tail"
	KindInvoke         Kind = "invoke"
	KindMoveResult     Kind = "move_result"
	KindMove           Kind = "move"
	KindReturn         Kind = "return"
	KindConst          Kind = "const"
	KindConstString    Kind = "const_string"
	KindConstClass     Kind = "const_class"
	KindNewInstance    Kind = "new_instance"
	KindNewArray       Kind = "new_array"
	KindFillArrayData  Kind = "fill_array_data"
	KindFilledNewArray Kind = "filled_new_array"
	KindArrayLength    Kind = "array_length"
	KindAget           Kind = "aget"
	KindAput           Kind = "aput"
	KindIget           Kind = "iget"
	KindIput           Kind = "iput"
	KindSget           Kind = "sget"
	KindSput           Kind = "sput"
	KindUnop           Kind = "unop"
	KindBinop          Kind = "binop"
	KindBinop2Addr     Kind = "binop2addr"
	KindBinopLit       Kind = "binoplit8"
	KindCmp            Kind = "cmp"
	KindIf             Kind = "if"
	KindIfz            Kind = "ifz"
	KindGoto           Kind = "goto"
	KindSwitch         Kind = "switch"
	KindThrow          Kind = "throw"
	KindMoveException  Kind = "move_exception"
	KindCheckCast      Kind = "check_cast"
	KindInstanceOf     Kind = "instance_of"
	KindMonitorEnter   Kind = "monitor_enter"
	KindMonitorExit    Kind = "monitor_exit"

	KindCondLabel       Kind = "cond_label"
	KindGotoLabel       Kind = "goto_label"
	KindSwitchLabel     Kind = "switch_label"
	KindSwitchDataLabel Kind = "switch_data_label"
	KindTryStartLabel   Kind = "try_start_label"
	KindTryEndLabel     Kind = "try_end_label"
	KindCatchData       Kind = "catch_data"
	KindArrayLabel      Kind = "array_label"
	KindCatchLabel      Kind = "catch_label"
)

// Instruction is one line-indexed node of a method body. The set of
// implementations is closed.
type Instruction interface {
	Kind() Kind
	Base() *Header
	instruction()
}

// Header is shared by every instruction.
type Header struct {
	Num        int
	Text       string
	InTryBlock bool
	// Logging is set when the instrumentation placed a log point here.
	Logging bool
}

func (h *Header) Base() *Header { return h }
func (h *Header) instruction() {}

type Nop struct{ Header }

type MethodHead struct {
	Header
	Params      []string
	ParamTypes  map[string]string
	Constructor bool
	Attribute   string
}

type MethodTail struct{ Header }

// Invoke is an invoke-kind instruction. The fields after MoveResult are
// annotations written during replay.
type Invoke struct {
	Header
	Class            string
	Method           string
	Static           bool
	Constructor      bool
	SuperConstructor bool
	InApp            bool
	Args             []string
	ArgTypes         map[string]string
	// NarrowArgs are Args without the second half of wide pairs.
	NarrowArgs []string
	RetType    string
	MoveResult *MoveResult

	IsSink           bool
	ReflectiveClass  string
	ReflectiveMethod string
	ReflectiveField  string
	// ReflectiveFieldAttr is "static" or "instance".
	ReflectiveFieldAttr string
	ReflectionSource    string
	TaintToReturn       *taint.Taint
	BaseObject          value.Value

	linkedInApp bool
}

func (i *Invoke) reset() {
	i.InApp = i.linkedInApp
	i.IsSink = false
	i.ReflectiveClass, i.ReflectiveMethod = "", ""
	i.ReflectiveField, i.ReflectiveFieldAttr = "", ""
	i.ReflectionSource = ""
	i.TaintToReturn = nil
	i.BaseObject = nil
}

// Target returns the invoked class and method, preferring a resolved
// reflective target.
func (i *Invoke) Target() (class, method string, reflective bool) {
	if i.ReflectiveClass != "" && i.ReflectiveMethod != "" {
		return i.ReflectiveClass, i.ReflectiveMethod, true
	}
	return i.Class, i.Method, false
}

type MoveResult struct {
	Header
	// Source is the preceding *Invoke or *FilledNewArray.
	Source     Instruction
	Dest       string
	DestPair   string
	DestType   string
	CastableTo string
}

type Move struct {
	Header
	Source     string
	SourcePair string
	Dest       string
	DestPair   string
}

type Return struct {
	Header
	Reg  string
	Type string
}

type Const struct {
	Header
	Dest     string
	DestPair string
	Type     string
	Literal  *value.Primitive
}

type ConstString struct {
	Header
	Dest  string
	Value string
}

type ConstClass struct {
	Header
	Dest      string
	ClassName string
}

type NewInstance struct {
	Header
	Dest      string
	ClassName string
	// Initialized is set when a constructor already produced the object.
	Initialized bool
}

type NewArray struct {
	Header
	Array     string
	Size      string
	ArrayType string
}

type FillArrayData struct {
	Header
	Array string
	Data  []string
}

type FilledNewArray struct {
	Header
	Args       []string
	RetType    string
	MoveResult *MoveResult
}

type ArrayLength struct {
	Header
	Array string
	Dest  string
}

type Aget struct {
	Header
	Dest     string
	DestPair string
	Array    string
	Index    string
}

type Aput struct {
	Header
	Source string
	Array  string
	Index  string
}

type Iget struct {
	Header
	Object     string
	Dest       string
	DestPair   string
	DestType   string
	CastableTo string
	Field      string
	InApp      bool
}

type Iput struct {
	Header
	Source     string
	SourceType string
	Object     string
	Field      string
}

type Sget struct {
	Header
	Dest       string
	DestPair   string
	DestType   string
	CastableTo string
	ClassName  string
	Field      string
	Default    string
	HasDefault bool
	InApp      bool
}

type Sput struct {
	Header
	Source     string
	SourceType string
	ClassName  string
	Field      string
	InApp      bool
}

type Unop struct {
	Header
	Op         value.UnaryOp
	Source     string
	SourceType string
	Dest       string
	DestPair   string
	DestType   string
}

// Binop covers the three-register, 2addr and literal forms.
type Binop struct {
	Header
	Form    Kind
	Op      value.BinaryOp
	Type    string
	Source1 string
	Source2 string
	Literal int64
	Dest    string
	// DestPair is set for wide results.
	DestPair string
}

func (b *Binop) Kind() Kind { return b.Form }

type Cmp struct {
	Header
	Bias       value.CompareBias
	SourceType string
	Source1    string
	Source2    string
	Dest       string
}

type If struct {
	Header
	Cond   value.Cond
	Reg1   string
	Reg2   string
	Label  string
	Target int
}

type Ifz struct {
	Header
	Cond   value.Cond
	Reg    string
	Label  string
	Target int
}

type Goto struct {
	Header
	Label  string
	Target int
}

type Switch struct {
	Header
	Reg     string
	Targets map[int64]int
}

type Throw struct {
	Header
	Reg string
}

type MoveException struct {
	Header
	Dest     string
	DestType string
}

type CheckCast struct {
	Header
	Reg       string
	ClassName string
}

type InstanceOf struct {
	Header
	Source    string
	Dest      string
	ClassName string
}

type MonitorEnter struct {
	Header
	Reg string
}

type MonitorExit struct {
	Header
	Reg string
}

// Label is any non-executing label or data directive.
type Label struct {
	Header
	LabelKind Kind
	Name      string
}

func (l *Label) Kind() Kind { return l.LabelKind }

type CatchLabel struct {
	Header
	Name          string
	MoveException *MoveException
}

func (*Nop) Kind() Kind { return KindNop }
func (*MethodHead) Kind() Kind { return KindMethodHead }
func (*MethodTail) Kind() Kind { return KindMethodTail }
func (*Invoke) Kind() Kind { return KindInvoke }
func (*MoveResult) Kind() Kind { return KindMoveResult }
func (*Move) Kind() Kind { return KindMove }
func (*Return) Kind() Kind { return KindReturn }
func (*Const) Kind() Kind { return KindConst }
func (*ConstString) Kind() Kind { return KindConstString }
func (*ConstClass) Kind() Kind { return KindConstClass }
func (*NewInstance) Kind() Kind { return KindNewInstance }
func (*NewArray) Kind() Kind { return KindNewArray }
func (*FillArrayData) Kind() Kind { return KindFillArrayData }
func (*FilledNewArray) Kind() Kind { return KindFilledNewArray }
func (*ArrayLength) Kind() Kind { return KindArrayLength }
func (*Aget) Kind() Kind { return KindAget }
func (*Aput) Kind() Kind { return KindAput }
func (*Iget) Kind() Kind { return KindIget }
func (*Iput) Kind() Kind { return KindIput }
func (*Sget) Kind() Kind { return KindSget }
func (*Sput) Kind() Kind { return KindSput }
func (*Unop) Kind() Kind { return KindUnop }
func (*Cmp) Kind() Kind { return KindCmp }
func (*If) Kind() Kind { return KindIf }
func (*Ifz) Kind() Kind { return KindIfz }
func (*Goto) Kind() Kind { return KindGoto }
func (*Switch) Kind() Kind { return KindSwitch }
func (*Throw) Kind() Kind { return KindThrow }
func (*MoveException) Kind() Kind { return KindMoveException }
func (*CheckCast) Kind() Kind { return KindCheckCast }
func (*InstanceOf) Kind() Kind { return KindInstanceOf }
func (*MonitorEnter) Kind() Kind { return KindMonitorEnter }
func (*MonitorExit) Kind() Kind { return KindMonitorExit }
func (*CatchLabel) Kind() Kind { return KindCatchLabel }
