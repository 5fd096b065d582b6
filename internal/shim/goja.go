package shim

import (
	"fmt"

	"github.com/dop251/goja"
)

// GojaBinding ties an Environment to the goja runtime it was installed into.
type GojaBinding struct {
	vm       *goja.Runtime
	env      *Environment
	document *goja.Object
	elements map[string]*goja.Object
}

// InstallGoja defines window, navigator, document and atob on the runtime's
// global object. window resolves to the global object itself.
func InstallGoja(vm *goja.Runtime, env *Environment) (*GojaBinding, error) {
	b := &GojaBinding{
		vm:       vm,
		env:      env,
		elements: make(map[string]*goja.Object),
	}

	if err := vm.Set("window", vm.GlobalObject()); err != nil {
		return nil, fmt.Errorf("shim: install window: %w", err)
	}

	navigator := vm.NewObject()
	if err := navigator.Set("userAgent", env.Navigator.UserAgent); err != nil {
		return nil, fmt.Errorf("shim: install navigator: %w", err)
	}
	if err := vm.Set("navigator", navigator); err != nil {
		return nil, fmt.Errorf("shim: install navigator: %w", err)
	}

	document := vm.NewObject()
	for name, value := range map[string]interface{}{
		"getElementById": b.getElementByID,
		"createElement":  b.createElement,
		"cookie":         env.Document.Cookie,
	} {
		if err := document.Set(name, value); err != nil {
			return nil, fmt.Errorf("shim: install document.%s: %w", name, err)
		}
	}
	if err := vm.Set("document", document); err != nil {
		return nil, fmt.Errorf("shim: install document: %w", err)
	}
	b.document = document

	if err := vm.Set("atob", b.atob); err != nil {
		return nil, fmt.Errorf("shim: install atob: %w", err)
	}

	return b, nil
}

// Environment returns the environment behind the binding.
func (b *GojaBinding) Environment() *Environment {
	return b.env
}

// Sync copies what the script wrote back into the Go environment: the
// cookie string and, when elements are retained, each element's value.
func (b *GojaBinding) Sync() {
	if v := b.document.Get("cookie"); v != nil && !goja.IsUndefined(v) && !goja.IsNull(v) {
		b.env.Document.Cookie = v.String()
	}
	for id, obj := range b.elements {
		if v := obj.Get("value"); v != nil && !goja.IsUndefined(v) && !goja.IsNull(v) {
			b.env.Document.GetElementByID(id).Value = v.String()
		}
	}
}

func (b *GojaBinding) getElementByID(call goja.FunctionCall) goja.Value {
	if !b.env.Document.retain {
		return b.newField()
	}

	id := call.Argument(0).String()
	if obj, ok := b.elements[id]; ok {
		return obj
	}
	obj := b.newField()
	b.elements[id] = obj
	b.env.Document.GetElementByID(id)
	return obj
}

func (b *GojaBinding) createElement(call goja.FunctionCall) goja.Value {
	link := b.vm.NewObject()
	_ = link.Set("href", b.env.Document.href)
	elem := b.vm.NewObject()
	_ = elem.Set("firstChild", link)
	return elem
}

func (b *GojaBinding) newField() *goja.Object {
	obj := b.vm.NewObject()
	_ = obj.Set("value", "")
	return obj
}

func (b *GojaBinding) atob(call goja.FunctionCall) goja.Value {
	arg := call.Argument(0)
	if goja.IsUndefined(arg) || goja.IsNull(arg) {
		return b.vm.ToValue("")
	}
	return b.vm.ToValue(Latin1(Atob(arg.String())))
}
