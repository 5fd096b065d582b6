package shim

import (
	"fmt"

	"github.com/robertkrimen/otto"
)

// OttoBinding ties an Environment to the otto interpreter it was installed
// into.
type OttoBinding struct {
	vm       *otto.Otto
	env      *Environment
	document *otto.Object
	elements map[string]*otto.Object
}

// InstallOtto defines window, navigator, document and atob in the
// interpreter's global scope. window is the global this.
func InstallOtto(vm *otto.Otto, env *Environment) (*OttoBinding, error) {
	b := &OttoBinding{
		vm:       vm,
		env:      env,
		elements: make(map[string]*otto.Object),
	}

	if _, err := vm.Run(`var window = this;`); err != nil {
		return nil, fmt.Errorf("shim: install window: %w", err)
	}

	navigator, err := vm.Object(`({})`)
	if err != nil {
		return nil, fmt.Errorf("shim: install navigator: %w", err)
	}
	if err := navigator.Set("userAgent", env.Navigator.UserAgent); err != nil {
		return nil, fmt.Errorf("shim: install navigator: %w", err)
	}
	if err := vm.Set("navigator", navigator.Value()); err != nil {
		return nil, fmt.Errorf("shim: install navigator: %w", err)
	}

	document, err := vm.Object(`({})`)
	if err != nil {
		return nil, fmt.Errorf("shim: install document: %w", err)
	}
	for name, value := range map[string]interface{}{
		"getElementById": b.getElementByID,
		"createElement":  b.createElement,
		"cookie":         env.Document.Cookie,
	} {
		if err := document.Set(name, value); err != nil {
			return nil, fmt.Errorf("shim: install document.%s: %w", name, err)
		}
	}
	if err := vm.Set("document", document.Value()); err != nil {
		return nil, fmt.Errorf("shim: install document: %w", err)
	}
	b.document = document

	if err := vm.Set("atob", b.atob); err != nil {
		return nil, fmt.Errorf("shim: install atob: %w", err)
	}

	return b, nil
}

// Environment returns the environment behind the binding.
func (b *OttoBinding) Environment() *Environment {
	return b.env
}

// Sync copies the cookie string and retained element values back into the
// Go environment.
func (b *OttoBinding) Sync() {
	if v, err := b.document.Get("cookie"); err == nil && v.IsDefined() && !v.IsNull() {
		b.env.Document.Cookie = v.String()
	}
	for id, obj := range b.elements {
		if v, err := obj.Get("value"); err == nil && v.IsDefined() && !v.IsNull() {
			b.env.Document.GetElementByID(id).Value = v.String()
		}
	}
}

func (b *OttoBinding) getElementByID(call otto.FunctionCall) otto.Value {
	if !b.env.Document.retain {
		return b.newField()
	}

	id := call.Argument(0).String()
	if obj, ok := b.elements[id]; ok {
		return obj.Value()
	}
	obj, err := b.vm.Object(`({value: ""})`)
	if err != nil {
		return otto.UndefinedValue()
	}
	b.elements[id] = obj
	b.env.Document.GetElementByID(id)
	return obj.Value()
}

func (b *OttoBinding) createElement(call otto.FunctionCall) otto.Value {
	elem, err := b.vm.Object(`({firstChild: {href: ""}})`)
	if err != nil {
		return otto.UndefinedValue()
	}
	if first, err := elem.Get("firstChild"); err == nil {
		_ = first.Object().Set("href", b.env.Document.href)
	}
	return elem.Value()
}

func (b *OttoBinding) newField() otto.Value {
	obj, err := b.vm.Object(`({value: ""})`)
	if err != nil {
		return otto.UndefinedValue()
	}
	return obj.Value()
}

func (b *OttoBinding) atob(call otto.FunctionCall) otto.Value {
	var decoded string
	if arg := call.Argument(0); arg.IsDefined() && !arg.IsNull() {
		decoded = Latin1(Atob(arg.String()))
	}
	v, err := b.vm.ToValue(decoded)
	if err != nil {
		return otto.UndefinedValue()
	}
	return v
}
