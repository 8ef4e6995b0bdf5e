package steps

import (
	"encoding/json"
	"fmt"

	"github.com/dop251/goja"
)

type scriptExecutor struct{}

var _ StepExecutor = new(scriptExecutor)

// NewScriptExecutor returns the executor for "script" steps: a JavaScript
// expression from the "expression" parameter runs with $ bound to the
// execution data, and whatever $ holds afterwards becomes the step output.
func NewScriptExecutor() *scriptExecutor {
	return &scriptExecutor{}
}

func (e *scriptExecutor) Type() string {
	return "script"
}

func (e *scriptExecutor) Execute(req Request) (Outcome, error) {
	expression, ok := req.Input["expression"].(string)
	if !ok || expression == "" {
		return Failed("script step requires an expression parameter"), nil
	}
	data, err := json.Marshal(req.Data)
	if err != nil {
		return Failed(err.Error()), nil
	}
	script := fmt.Sprintf("var $ = %s;\n%s", data, expression)
	vm := goja.New()
	if _, err := vm.RunString(script); err != nil {
		return Failed(fmt.Sprintf("error executing javascript: %v", err)), nil
	}
	val, err := vm.RunString("$")
	if err != nil {
		return Failed(fmt.Sprintf("error executing javascript: %v", err)), nil
	}
	res, err := json.Marshal(val.Export())
	if err != nil {
		return Failed(err.Error()), nil
	}
	var output map[string]any
	if err := json.Unmarshal(res, &output); err != nil {
		return Failed("script must leave $ as an object"), nil
	}
	return Completed(output), nil
}
