package program

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"smalien/internal/dalvik"
	"smalien/internal/value"
)

// The description format mirrors what a smali parser produces: classes with
// their methods and an instruction list per method.

type rawProgram struct {
	Name    string     `yaml:"name"`
	Classes []rawClass `yaml:"classes"`
}

type rawClass struct {
	ID       int         `yaml:"id"`
	Name     string      `yaml:"name"`
	Parent   string      `yaml:"parent"`
	Family   []string    `yaml:"family"`
	Abstract bool        `yaml:"abstract"`
	Ignore   bool        `yaml:"ignore"`
	Fields   []rawField  `yaml:"fields"`
	Methods  []rawMethod `yaml:"methods"`
}

type rawField struct {
	Name    string  `yaml:"name"`
	Type    string  `yaml:"type"`
	Static  bool    `yaml:"static"`
	Default *string `yaml:"default"`
}

type rawParam struct {
	Reg  string `yaml:"reg"`
	Type string `yaml:"type"`
}

type rawMethod struct {
	Name         string     `yaml:"name"`
	Attribute    string     `yaml:"attribute"`
	Constructor  bool       `yaml:"constructor"`
	Locals       int        `yaml:"locals"`
	Params       []rawParam `yaml:"params"`
	Return       string     `yaml:"return"`
	Instructions []rawInst  `yaml:"instructions"`
}

type rawInst struct {
	Num  int    `yaml:"num"`
	Op   string `yaml:"op"`
	Kind string `yaml:"kind"`
	Text string `yaml:"text"`
	Try  bool   `yaml:"try"`
	Log  bool   `yaml:"log"`

	Dest       string            `yaml:"dest"`
	Src        string            `yaml:"src"`
	Src2       string            `yaml:"src2"`
	Reg        string            `yaml:"reg"`
	Reg2       string            `yaml:"reg2"`
	Object     string            `yaml:"object"`
	Array      string            `yaml:"array"`
	Index      string            `yaml:"index"`
	Type       string            `yaml:"type"`
	Value      string            `yaml:"value"`
	Class      string            `yaml:"class"`
	Method     string            `yaml:"method"`
	Field      string            `yaml:"field"`
	CastableTo string            `yaml:"castable_to"`
	Label      string            `yaml:"label"`
	Name       string            `yaml:"name"`
	Args       []string          `yaml:"args"`
	InApp      *bool             `yaml:"in_app"`
	Targets    map[string]string `yaml:"targets"`
	Data       []string          `yaml:"data"`
}

// Load reads a program description from a YAML or JSON file.
func Load(path string) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read program: %w", err)
	}
	return Parse(data)
}

// Parse decodes a program description.
func Parse(data []byte) (*Program, error) {
	var raw rawProgram
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProgram, err)
	}
	p := &Program{
		Name:    raw.Name,
		classes: make(map[string]*Class, len(raw.Classes)),
		byID:    make(map[int]*Class, len(raw.Classes)),
	}
	for _, rc := range raw.Classes {
		if !dalvik.IsReference(rc.Name) {
			return nil, fmt.Errorf("%w: class name %q is not a descriptor", ErrInvalidProgram, rc.Name)
		}
		if _, dup := p.classes[rc.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate class %s", ErrInvalidProgram, rc.Name)
		}
		c := &Class{
			ID:       rc.ID,
			Name:     rc.Name,
			Parent:   rc.Parent,
			Family:   map[string]bool{},
			Abstract: rc.Abstract,
			Ignore:   rc.Ignore,
			Fields:   map[string]*Field{},
			Methods:  map[string]*Method{},
		}
		for _, f := range rc.Family {
			c.Family[f] = true
		}
		if rc.Parent != "" {
			c.Family[rc.Parent] = true
		}
		for _, rf := range rc.Fields {
			key := rc.Name + "->" + rf.Name + ":" + rf.Type
			f := &Field{Key: key, Name: rf.Name, Type: rf.Type, Static: rf.Static}
			if rf.Default != nil {
				f.Default, f.HasDefault = unquote(*rf.Default), true
			}
			c.Fields[key] = f
		}
		p.classes[c.Name] = c
		if c.ID != 0 {
			if other, dup := p.byID[c.ID]; dup {
				return nil, fmt.Errorf("%w: class id %d used by %s and %s", ErrInvalidProgram, c.ID, other.Name, c.Name)
			}
			p.byID[c.ID] = c
		}
	}

	for _, rc := range raw.Classes {
		c := p.classes[rc.Name]
		for _, rm := range rc.Methods {
			m, err := p.buildMethod(c, rm)
			if err != nil {
				return nil, fmt.Errorf("%w: %s->%s: %v", ErrInvalidProgram, c.Name, rm.Name, err)
			}
			c.Methods[m.Name] = m
			c.byLine = append(c.byLine, m)
		}
		sort.Slice(c.byLine, func(i, j int) bool { return c.byLine[i].StartAt < c.byLine[j].StartAt })
		_, c.ClinitImplemented = c.Methods[dalvik.Clinit]
		c.OnLowMemory = c.Methods[dalvik.OnLowMemory]
	}

	p.closeFamilies()
	p.link()
	return p, nil
}

func (p *Program) buildMethod(c *Class, rm rawMethod) (*Method, error) {
	if rm.Name == "" {
		return nil, fmt.Errorf("method without name")
	}
	m := &Method{
		Class:        c.Name,
		Name:         rm.Name,
		Attribute:    rm.Attribute,
		Constructor:  rm.Constructor || strings.HasPrefix(rm.Name, "<init>"),
		Locals:       rm.Locals,
		ParamTypes:   map[string]string{},
		RetType:      rm.Return,
		Instructions: map[int]Instruction{},
	}
	if m.RetType == "" {
		_, m.RetType, _ = Signature(rm.Name)
	}
	if len(rm.Params) > 0 {
		for _, pr := range rm.Params {
			m.Params = append(m.Params, pr.Reg)
			m.ParamTypes[pr.Reg] = pr.Type
		}
	} else {
		m.Params, m.ParamTypes = deriveParams(c.Name, rm.Name, m.IsStatic())
	}

	labels := map[string]int{}
	for _, ri := range rm.Instructions {
		if name := strings.TrimPrefix(ri.Name, ":"); name != "" {
			labels[name] = ri.Num
		}
	}

	start, end := -1, -1
	for _, ri := range rm.Instructions {
		if _, dup := m.Instructions[ri.Num]; dup {
			return nil, fmt.Errorf("duplicate line %d", ri.Num)
		}
		inst, err := p.buildInstruction(c, m, ri, labels)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", ri.Num, err)
		}
		m.Instructions[ri.Num] = inst
		switch inst.Kind() {
		case KindMethodHead:
			start = ri.Num
		case KindMethodTail:
			end = ri.Num
		}
	}
	lines := m.Lines()
	if len(lines) == 0 {
		return nil, fmt.Errorf("empty method body")
	}
	if start < 0 {
		start = lines[0]
	}
	if end < 0 {
		end = lines[len(lines)-1]
	}
	m.StartAt, m.EndAt = start, end

	linkBody(m, lines)
	return m, nil
}

func deriveParams(class, name string, static bool) ([]string, map[string]string) {
	types, _, _ := Signature(name)
	if !static {
		types = append([]string{class}, types...)
	}
	params := []string{}
	paramTypes := map[string]string{}
	reg := 0
	for _, t := range types {
		r := "p" + strconv.Itoa(reg)
		params = append(params, r)
		paramTypes[r] = t
		reg++
		if dalvik.IsWide(t) {
			reg++
		}
	}
	return params, paramTypes
}

func (p *Program) buildInstruction(c *Class, m *Method, ri rawInst, labels map[string]int) (Instruction, error) {
	kind := Kind(ri.Kind)
	if kind == "" {
		kind = kindOf(ri.Op)
	}
	h := Header{Num: ri.Num, Text: ri.Text, InTryBlock: ri.Try, Logging: ri.Log}
	if h.Text == "" {
		h.Text = ri.Op
	}
	target := func() (int, error) {
		name := strings.TrimPrefix(ri.Label, ":")
		n, ok := labels[name]
		if !ok {
			return 0, fmt.Errorf("unknown label %q", ri.Label)
		}
		return n, nil
	}
	wideDest := func(t string) string {
		if dalvik.IsWide(t) || isWideOp(ri.Op) {
			return PairOf(ri.Dest)
		}
		return ""
	}

	switch kind {
	case KindNop:
		return &Nop{Header: h}, nil
	case KindMethodHead:
		types := make(map[string]string, len(m.ParamTypes))
		for k, v := range m.ParamTypes {
			types[k] = v
		}
		return &MethodHead{
			Header:      h,
			Params:      append([]string(nil), m.Params...),
			ParamTypes:  types,
			Constructor: m.Constructor,
			Attribute:   m.Attribute,
		}, nil
	case KindMethodTail:
		return &MethodTail{Header: h}, nil

	case KindInvoke:
		class, method := ri.Class, ri.Method
		if class == "" || method == "" {
			return nil, fmt.Errorf("invoke without target")
		}
		static := strings.Contains(ri.Op, "static")
		ptypes, ret, ok := Signature(method)
		if !ok {
			return nil, fmt.Errorf("malformed method signature %q", method)
		}
		if !static {
			ptypes = append([]string{class}, ptypes...)
		}
		argTypes := map[string]string{}
		i := 0
		for _, t := range ptypes {
			if i >= len(ri.Args) {
				return nil, fmt.Errorf("%s: expected more arguments than %v", method, ri.Args)
			}
			argTypes[ri.Args[i]] = t
			i++
			if dalvik.IsWide(t) {
				i++
			}
		}
		inv := &Invoke{
			Header:      h,
			Class:       class,
			Method:      method,
			Static:      static,
			Constructor: strings.HasPrefix(method, "<init>"),
			Args:        ri.Args,
			ArgTypes:    argTypes,
			RetType:     ret,
		}
		inv.SuperConstructor = inv.Constructor && strings.HasPrefix(ri.Op, "invoke-direct") && c.Family[class]
		inv.NarrowArgs = narrow(inv.Args, argTypes)
		if ri.InApp != nil {
			inv.InApp = *ri.InApp
		} else {
			inv.InApp = true // resolved against the program in link
		}
		return inv, nil

	case KindMoveResult:
		return &MoveResult{Header: h, Dest: ri.Dest, CastableTo: ri.CastableTo, DestType: ri.Type}, nil

	case KindMove:
		mv := &Move{Header: h, Source: ri.Src, Dest: ri.Dest}
		if isWideOp(ri.Op) {
			mv.SourcePair, mv.DestPair = PairOf(ri.Src), PairOf(ri.Dest)
		}
		return mv, nil

	case KindReturn:
		return &Return{Header: h, Reg: ri.Reg, Type: m.RetType}, nil

	case KindConst:
		t := ri.Type
		if t == "" {
			t = "I"
		}
		if isWideOp(ri.Op) && t == "I" {
			t = "J"
		}
		var (
			lit *value.Primitive
			err error
		)
		if (t == "F" || t == "D") && strings.HasPrefix(strings.TrimPrefix(ri.Value, "-"), "0x") {
			lit, err = value.FloatBits(t, ri.Value)
		} else {
			lit, err = value.ParseLiteral(t, ri.Value)
		}
		if err != nil {
			return nil, err
		}
		if isWideOp(ri.Op) && lit.IsFloat() && t == "J" {
			lit = value.NewFloat("D", lit.Float())
			t = "D"
		}
		return &Const{Header: h, Dest: ri.Dest, DestPair: wideDest(t), Type: t, Literal: lit}, nil

	case KindConstString:
		return &ConstString{Header: h, Dest: ri.Dest, Value: ri.Value}, nil
	case KindConstClass:
		return &ConstClass{Header: h, Dest: ri.Dest, ClassName: ri.Class}, nil
	case KindNewInstance:
		return &NewInstance{Header: h, Dest: ri.Dest, ClassName: ri.Class}, nil
	case KindNewArray:
		return &NewArray{Header: h, Array: ri.Dest, Size: ri.Src, ArrayType: ri.Type}, nil
	case KindFillArrayData:
		return &FillArrayData{Header: h, Array: ri.Array, Data: ri.Data}, nil
	case KindFilledNewArray:
		return &FilledNewArray{Header: h, Args: ri.Args, RetType: ri.Type}, nil
	case KindArrayLength:
		return &ArrayLength{Header: h, Array: ri.Array, Dest: ri.Dest}, nil
	case KindAget:
		ag := &Aget{Header: h, Dest: ri.Dest, Array: ri.Array, Index: ri.Index}
		ag.DestPair = wideDest("")
		return ag, nil
	case KindAput:
		return &Aput{Header: h, Source: ri.Src, Array: ri.Array, Index: ri.Index}, nil

	case KindIget:
		t := fieldType(ri.Field)
		return &Iget{Header: h, Object: ri.Object, Dest: ri.Dest, DestPair: wideDest(t), DestType: t,
			CastableTo: ri.CastableTo, Field: ri.Field, InApp: p.InApp(dalvik.ClassOfField(ri.Field))}, nil
	case KindIput:
		return &Iput{Header: h, Source: ri.Src, SourceType: fieldType(ri.Field), Object: ri.Object, Field: ri.Field}, nil
	case KindSget:
		t := fieldType(ri.Field)
		sg := &Sget{Header: h, Dest: ri.Dest, DestPair: wideDest(t), DestType: t, CastableTo: ri.CastableTo,
			ClassName: dalvik.ClassOfField(ri.Field), Field: ri.Field}
		sg.InApp = p.InApp(sg.ClassName)
		return sg, nil
	case KindSput:
		sp := &Sput{Header: h, Source: ri.Src, SourceType: fieldType(ri.Field), ClassName: dalvik.ClassOfField(ri.Field), Field: ri.Field}
		sp.InApp = p.InApp(sp.ClassName)
		return sp, nil

	case KindUnop:
		op, src, dst, err := value.ParseUnary(ri.Op)
		if err != nil {
			return nil, err
		}
		return &Unop{Header: h, Op: op, Source: ri.Src, SourceType: src, Dest: ri.Dest, DestPair: wideDest(dst), DestType: dst}, nil

	case KindBinop, KindBinop2Addr, KindBinopLit:
		op, t, err := value.ParseBinary(ri.Op)
		if err != nil {
			return nil, err
		}
		b := &Binop{Header: h, Form: kind, Op: op, Type: t, Dest: ri.Dest, DestPair: wideDest(t)}
		switch kind {
		case KindBinop:
			b.Source1, b.Source2 = ri.Src, ri.Src2
		case KindBinop2Addr:
			b.Source1, b.Source2 = ri.Dest, ri.Src
		case KindBinopLit:
			b.Source1 = ri.Src
			if b.Literal, err = value.ParseInt(ri.Value); err != nil {
				return nil, fmt.Errorf("literal %q: %w", ri.Value, err)
			}
		}
		return b, nil

	case KindCmp:
		bias, t, ok := parseCmp(ri.Op)
		if !ok {
			return nil, fmt.Errorf("unknown compare %q", ri.Op)
		}
		return &Cmp{Header: h, Bias: bias, SourceType: t, Source1: ri.Src, Source2: ri.Src2, Dest: ri.Dest}, nil

	case KindIf, KindIfz:
		cond, ok := parseCond(ri.Op)
		if !ok {
			return nil, fmt.Errorf("unknown condition %q", ri.Op)
		}
		n, err := target()
		if err != nil {
			return nil, err
		}
		if kind == KindIf {
			return &If{Header: h, Cond: cond, Reg1: ri.Reg, Reg2: ri.Reg2, Label: ri.Label, Target: n}, nil
		}
		return &Ifz{Header: h, Cond: cond, Reg: ri.Reg, Label: ri.Label, Target: n}, nil

	case KindGoto:
		n, err := target()
		if err != nil {
			return nil, err
		}
		return &Goto{Header: h, Label: ri.Label, Target: n}, nil

	case KindSwitch:
		sw := &Switch{Header: h, Reg: ri.Reg, Targets: map[int64]int{}}
		for k, l := range ri.Targets {
			key, err := value.ParseInt(k)
			if err != nil {
				return nil, fmt.Errorf("switch key %q: %w", k, err)
			}
			n, ok := labels[strings.TrimPrefix(l, ":")]
			if !ok {
				return nil, fmt.Errorf("unknown label %q", l)
			}
			sw.Targets[key] = n
		}
		return sw, nil

	case KindThrow:
		return &Throw{Header: h, Reg: ri.Reg}, nil
	case KindMoveException:
		t := ri.Type
		if t == "" {
			t = "Ljava/lang/Throwable;"
		}
		return &MoveException{Header: h, Dest: ri.Dest, DestType: t}, nil
	case KindCheckCast:
		return &CheckCast{Header: h, Reg: ri.Reg, ClassName: ri.Class}, nil
	case KindInstanceOf:
		return &InstanceOf{Header: h, Source: ri.Src, Dest: ri.Dest, ClassName: ri.Class}, nil
	case KindMonitorEnter:
		return &MonitorEnter{Header: h, Reg: ri.Reg}, nil
	case KindMonitorExit:
		return &MonitorExit{Header: h, Reg: ri.Reg}, nil

	case KindCatchLabel:
		return &CatchLabel{Header: h, Name: strings.TrimPrefix(ri.Name, ":")}, nil
	case KindCondLabel, KindGotoLabel, KindSwitchLabel, KindSwitchDataLabel,
		KindTryStartLabel, KindTryEndLabel, KindCatchData, KindArrayLabel:
		return &Label{Header: h, LabelKind: kind, Name: strings.TrimPrefix(ri.Name, ":")}, nil
	}
	return nil, fmt.Errorf("unsupported instruction %q (kind %q)", ri.Op, ri.Kind)
}

// linkBody connects move-results to their producers, catch labels to their
// move-exception and marks instructions inside try blocks.
func linkBody(m *Method, lines []int) {
	var producer Instruction
	inTry := false
	for i, n := range lines {
		inst := m.Instructions[n]
		switch x := inst.(type) {
		case *Invoke, *FilledNewArray:
			producer = x
		case *MoveResult:
			x.Source = producer
			switch src := producer.(type) {
			case *Invoke:
				src.MoveResult = x
				if x.DestType == "" {
					x.DestType = src.RetType
				}
			case *FilledNewArray:
				src.MoveResult = x
				if x.DestType == "" {
					x.DestType = src.RetType
				}
			}
			if dalvik.IsWide(x.DestType) {
				x.DestPair = PairOf(x.Dest)
			}
			producer = nil
		case *CatchLabel:
			if i+1 < len(lines) {
				if me, ok := m.Instructions[lines[i+1]].(*MoveException); ok {
					x.MoveException = me
				}
			}
		case *Label:
			switch x.LabelKind {
			case KindTryStartLabel:
				inTry = true
			case KindTryEndLabel:
				inTry = false
			}
		}
		if inTry {
			inst.Base().InTryBlock = true
		}
	}
}

// link resolves cross-class facts once every class is known.
func (p *Program) link() {
	for _, c := range p.classes {
		for _, m := range c.Methods {
			for _, inst := range m.Instructions {
				switch x := inst.(type) {
				case *Invoke:
					if x.InApp {
						x.InApp = p.implements(x.Class, x.Method)
					}
					x.linkedInApp = x.InApp
				case *Sget:
					if owner, ok := p.classes[x.ClassName]; ok {
						if f, ok := owner.Fields[x.Field]; ok && f.HasDefault {
							x.Default, x.HasDefault = f.Default, true
						}
					}
				}
			}
		}
	}
}

func (p *Program) implements(class, method string) bool {
	c, ok := p.classes[class]
	if !ok || c.Ignore {
		return false
	}
	m, ok := c.Methods[method]
	return ok && m.Implemented()
}

// closeFamilies adds transitive ancestors known to the program.
func (p *Program) closeFamilies() {
	for _, c := range p.classes {
		queue := make([]string, 0, len(c.Family))
		for f := range c.Family {
			queue = append(queue, f)
		}
		for len(queue) > 0 {
			name := queue[0]
			queue = queue[1:]
			anc, ok := p.classes[name]
			if !ok {
				continue
			}
			for f := range anc.Family {
				if !c.Family[f] && f != c.Name {
					c.Family[f] = true
					queue = append(queue, f)
				}
			}
		}
	}
}

func fieldType(key string) string {
	if i := strings.LastIndex(key, ":"); i >= 0 {
		return key[i+1:]
	}
	return ""
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' && s[len(s)-1] == '"' || s[0] == '\'' && s[len(s)-1] == '\'') {
		return s[1 : len(s)-1]
	}
	return s
}
