package loam

// TemplateMetadata is the frontmatter of a template document.
// The document body is the template text.
type TemplateMetadata struct {
	// Name overrides the name derived from the file path.
	Name string `json:"name" mapstructure:"name"`
	// Params lists the parameter names bound when the template is called.
	Params []string `json:"params" mapstructure:"params"`
	// Description is free text for authors; it is not rendered.
	Description string `json:"description" mapstructure:"description"`
}
