package cloudformation

import "time"

type Stack struct {
	Name         string
	ID           string
	Status       string
	StatusReason string
	Outputs      []StackOutput
}

// Output returns the value of the named output and whether it exists.
func (s *Stack) Output(key string) (string, bool) {
	for _, o := range s.Outputs {
		if o.Key == key {
			return o.Value, true
		}
	}
	return "", false
}

type StackOutput struct {
	Key         string
	Value       string
	Description string
	ExportName  string
}

// StackInput describes a stack to create or update.
type StackInput struct {
	Name         string
	TemplateBody string
	Parameters   map[string]string
	Tags         map[string]string
}

type StackEvent struct {
	LogicalID string
	Type      string
	Status    string
	Reason    string
	Timestamp time.Time
}

// Operation names the stack operation a wait is for.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)
