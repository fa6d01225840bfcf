package main

// PropertyKind identifies the editor widget the host renders for a property.
type PropertyKind string

const (
	PropertyPath PropertyKind = "path"
	PropertyText PropertyKind = "text"
)

// PathType selects the host's path dialog.
type PathType string

const PathFile PathType = "file"

// TextType selects the host's text widget.
type TextType string

const (
	TextDefault   TextType = "default"
	TextMultiline TextType = "multiline"
)

// Property describes one settings field in a segment's UI schema.
type Property struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Kind        PropertyKind `json:"kind"`

	// Path properties
	PathType    PathType `json:"path_type,omitempty"`
	Filter      string   `json:"filter,omitempty"`
	DefaultPath string   `json:"default_path,omitempty"`

	// Text properties
	TextType TextType `json:"text_type,omitempty"`
}

// Properties is the UI schema a segment returns on a properties request.
// The host takes ownership once it is written into the signal payload.
type Properties struct {
	Items []Property `json:"properties"`
}

// NewProperties returns an empty schema.
func NewProperties() *Properties {
	return &Properties{}
}

// AddPath appends a path picker.
func (p *Properties) AddPath(name, description string, pathType PathType, filter, defaultPath string) *Properties {
	p.Items = append(p.Items, Property{
		Name:        name,
		Description: description,
		Kind:        PropertyPath,
		PathType:    pathType,
		Filter:      filter,
		DefaultPath: defaultPath,
	})
	return p
}

// AddText appends a text field.
func (p *Properties) AddText(name, description string, textType TextType) *Properties {
	p.Items = append(p.Items, Property{
		Name:        name,
		Description: description,
		Kind:        PropertyText,
		TextType:    textType,
	})
	return p
}

// Get returns the property called name.
func (p *Properties) Get(name string) (Property, bool) {
	for _, it := range p.Items {
		if it.Name == name {
			return it, true
		}
	}
	return Property{}, false
}
