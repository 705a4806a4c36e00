package transform

import "sort"

// Spec describes a named transformation: a prompt template applied to a
// source's extracted content. Specs are read-only configuration; the
// executor looks them up by name.
type Spec struct {
	Name         string
	Title        string
	Description  string
	Prompt       string
	List         bool
	ApplyDefault bool
}

// Catalog holds the transformation specs known to the executor. Built-in
// specs cover the insights the product derives for every source; callers may
// register additional specs at construction.
type Catalog struct {
	specs map[string]Spec
}

var builtinSpecs = []Spec{
	{
		Name:         "key_insights",
		Title:        "Key Insights",
		Description:  "The main takeaways of the content as a flat list.",
		Prompt:       "Extract the key insights from the content below. Return one insight per line as a dash-prefixed list. Be specific and factual; do not editorialize.",
		List:         true,
		ApplyDefault: true,
	},
	{
		Name:         "simple_summary",
		Title:        "Simple Summary",
		Description:  "A short plain-language summary of the content.",
		Prompt:       "Write a concise summary of the content below in plain language. Keep it under 150 words and do not add information that is not in the content.",
		ApplyDefault: true,
	},
	{
		Name:         "reflection_questions",
		Title:        "Reflection Questions",
		Description:  "Open questions the reader should think about after reading.",
		Prompt:       "Write thought-provoking open questions that help the reader reflect on the content below. Return one question per line as a dash-prefixed list.",
		List:         true,
		ApplyDefault: true,
	},
	{
		Name:        "summarize_text",
		Title:       "Summarize Text",
		Description: "A parameterizable summary of the content.",
		Prompt:      "Summarize the content below. Respect any parameters provided (length, audience, focus). Stay faithful to the content.",
	},
	{
		Name:        "dense_summary",
		Title:       "Dense Summary",
		Description: "An information-dense summary preserving terminology.",
		Prompt:      "Write a dense, detailed summary of the content below. Preserve the original terminology, names, and figures. Favor completeness over brevity.",
	},
	{
		Name:        "table_of_contents",
		Title:       "Table of Contents",
		Description: "An outline of the content's structure.",
		Prompt:      "Produce an outline of the content below, one entry per line as a dash-prefixed list, reflecting the order topics appear in.",
		List:        true,
	},
}

// NewCatalog builds a catalog with the built-in specs plus any extras.
// An extra spec with a built-in name replaces the built-in.
func NewCatalog(extras ...Spec) *Catalog {
	specs := make(map[string]Spec, len(builtinSpecs)+len(extras))
	for _, spec := range builtinSpecs {
		specs[spec.Name] = spec
	}
	for _, spec := range extras {
		if spec.Name == "" {
			continue
		}
		specs[spec.Name] = spec
	}
	return &Catalog{specs: specs}
}

// Get looks up a spec by name.
func (c *Catalog) Get(name string) (Spec, bool) {
	spec, ok := c.specs[name]
	return spec, ok
}

// Defaults returns the specs applied automatically on ingest, in stable order.
func (c *Catalog) Defaults() []Spec {
	var out []Spec
	for _, spec := range c.specs {
		if spec.ApplyDefault {
			out = append(out, spec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// List returns every known spec in stable order.
func (c *Catalog) List() []Spec {
	out := make([]Spec, 0, len(c.specs))
	for _, spec := range c.specs {
		out = append(out, spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
