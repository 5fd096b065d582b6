package shim

import "fmt"

// Config holds the values the surrounding host supplies to the shim.
type Config struct {
	Domain         string // Host interpolated into anchor hrefs
	UserAgent      string // navigator.userAgent, empty unless overridden
	RetainElements bool   // Memoise getElementById results per id
}

// Navigator is the user-agent descriptor exposed as navigator.
type Navigator struct {
	UserAgent string
}

// Field is the value-bearing placeholder returned by getElementById.
type Field struct {
	Value string
}

// Link is the firstChild of a created element.
type Link struct {
	Href string
}

// Element is the placeholder returned by createElement.
type Element struct {
	FirstChild *Link
}

// Document is the document-like binding. Cookie is a plain string: writes
// overwrite it, reads return the last write.
type Document struct {
	Cookie string

	href     string
	retain   bool
	elements map[string]*Field
}

// Environment is the namespace every shimmed global is reachable from,
// including itself through Window.
type Environment struct {
	Window    *Environment
	Navigator *Navigator
	Document  *Document

	config Config
}

// New builds an environment for one script execution context.
func New(cfg Config) *Environment {
	env := &Environment{
		Navigator: &Navigator{UserAgent: cfg.UserAgent},
		Document: &Document{
			href:     AnchorHref(cfg.Domain),
			retain:   cfg.RetainElements,
			elements: make(map[string]*Field),
		},
		config: cfg,
	}
	env.Window = env
	return env
}

// Config returns the configuration the environment was built with.
func (e *Environment) Config() Config {
	return e.config
}

// Atob decodes base64 the way the shimmed atob global does.
func (e *Environment) Atob(input string) []byte {
	return Atob(input)
}

// AnchorHref renders the fixed anchor URL for domain. The domain is not
// validated.
func AnchorHref(domain string) string {
	return fmt.Sprintf("https://%s/", domain)
}

// GetElementByID returns a placeholder whose Value starts empty. Unless the
// environment retains elements, every call returns a new, unlinked Field.
func (d *Document) GetElementByID(id string) *Field {
	if !d.retain {
		return &Field{}
	}
	if f, ok := d.elements[id]; ok {
		return f
	}
	f := &Field{}
	d.elements[id] = f
	return f
}

// CreateElement returns a new placeholder carrying the anchor href. The tag
// is ignored.
func (d *Document) CreateElement(tag string) *Element {
	return &Element{FirstChild: &Link{Href: d.href}}
}

// Elements returns the retained elements keyed by id. It is empty unless the
// environment retains elements.
func (d *Document) Elements() map[string]*Field {
	out := make(map[string]*Field, len(d.elements))
	for id, f := range d.elements {
		out[id] = f
	}
	return out
}
