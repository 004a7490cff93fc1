package blocks

// Block 作者在编辑器里拼出的积木节点（Blockly JSON 序列化格式）
//
// 积木树是只读输入，解释执行不会修改它。
type Block struct {
	Type       string            `json:"type"`
	ID         string            `json:"id,omitempty"`
	Fields     map[string]any    `json:"fields,omitempty"`
	Inputs     map[string]*Input `json:"inputs,omitempty"`
	ExtraState map[string]any    `json:"extraState,omitempty"`
	Next       *Input            `json:"next,omitempty"`
}

// Input 输入槽，Block 为空时退回到 Shadow（编辑器里的默认值积木）
type Input struct {
	Block  *Block `json:"block,omitempty"`
	Shadow *Block `json:"shadow,omitempty"`
}

func (in *Input) target() *Block {
	if in == nil {
		return nil
	}
	if in.Block != nil {
		return in.Block
	}
	return in.Shadow
}

// Input 返回名为 name 的输入槽里连接的积木
func (b *Block) Input(name string) *Block {
	if b == nil || b.Inputs == nil {
		return nil
	}
	return b.Inputs[name].target()
}

// NextBlock 语句链中的下一块
func (b *Block) NextBlock() *Block {
	if b == nil {
		return nil
	}
	return b.Next.target()
}

// Field 读取字段原始值
func (b *Block) Field(name string) any {
	if b == nil || b.Fields == nil {
		return nil
	}
	return b.Fields[name]
}

// FieldString 读取字符串字段，缺失时返回空串
func (b *Block) FieldString(name string) string {
	s, _ := b.Field(name).(string)
	return s
}

func (b *Block) extra(name string) any {
	if b == nil || b.ExtraState == nil {
		return nil
	}
	return b.ExtraState[name]
}

// variableID VAR 字段既可能是 {"id": "..."} 也可能直接是字符串
func (b *Block) variableID() string {
	switch v := b.Field("VAR").(type) {
	case string:
		return v
	case map[string]any:
		if id, ok := v["id"].(string); ok && id != "" {
			return id
		}
		if name, ok := v["name"].(string); ok {
			return name
		}
	}
	return ""
}

// Variable 工作区声明的变量
type Variable struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// TopBlocks 工作区顶层积木
type TopBlocks struct {
	LanguageVersion int      `json:"languageVersion"`
	Blocks          []*Block `json:"blocks"`
}

// Workspace 一个代码格（code grid）的完整脚本
type Workspace struct {
	Blocks    TopBlocks  `json:"blocks"`
	Variables []Variable `json:"variables,omitempty"`
}
