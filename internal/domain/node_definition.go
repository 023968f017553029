package domain

// NodeCategory: категория типа узла.
type NodeCategory string

const (
	CategoryTrigger   NodeCategory = "trigger"
	CategoryAction    NodeCategory = "action"
	CategoryCondition NodeCategory = "condition"
	CategoryUtility   NodeCategory = "utility"
)

// NodeDefinition: описание типа узла в реестре.
type NodeDefinition struct {
	Type        string       `json:"type"`
	Name        string       `json:"name"`
	Category    NodeCategory `json:"category"`
	Description string       `json:"description,omitempty"`

	// ParameterSchema: JSON Schema для Node.Data.
	// Проверяется после подстановки переменных.
	ParameterSchema map[string]any `json:"parameter_schema,omitempty"`

	// Credentials: типы credentials, которые принимает узел.
	Credentials []string `json:"credentials,omitempty"`

	// Settings: настройки по умолчанию.
	Settings *NodeSettings `json:"settings,omitempty"`
}

// IsTrigger возвращает true для узлов-триггеров.
func (d *NodeDefinition) IsTrigger() bool {
	return d.Category == CategoryTrigger
}

// IsBranch возвращает true для узлов, выбирающих ветку через path.
func (d *NodeDefinition) IsBranch() bool {
	return d.Category == CategoryCondition
}
