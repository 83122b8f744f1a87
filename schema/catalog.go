package schema

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Catalog is a named collection of definitions. It is safe for concurrent
// use.
type Catalog struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

// NewCatalog returns a catalog holding the built-in definitions.
func NewCatalog() *Catalog {
	c := &Catalog{defs: make(map[string]Definition)}
	for _, d := range builtins() {
		c.defs[d.Name] = d
	}
	return c
}

// Get looks up a definition by name.
func (c *Catalog) Get(name string) (Definition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.defs[name]
	return d, ok
}

// Names lists every definition name in order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedNames(c.defs)
}

// Register validates d and adds it, replacing any definition of the same
// name.
func (c *Catalog) Register(d Definition) error {
	if err := d.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	c.defs[d.Name] = d
	c.mu.Unlock()
	return nil
}

type catalogFile struct {
	Schemas []Definition `yaml:"schemas"`
}

// LoadFile registers every definition in a YAML or JSON file of the form
// {schemas: [{name, description, fields: [...]}]}. It returns the number of
// definitions loaded. Nothing is registered if any definition is invalid.
func (c *Catalog) LoadFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading schema file: %w", err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return 0, fmt.Errorf("parsing schema file %s: %w", path, err)
	}
	for _, d := range f.Schemas {
		if err := d.Validate(); err != nil {
			return 0, fmt.Errorf("schema file %s: %w", path, err)
		}
	}
	c.mu.Lock()
	for _, d := range f.Schemas {
		c.defs[d.Name] = d
	}
	c.mu.Unlock()
	return len(f.Schemas), nil
}

func str(name, desc string) Field {
	return Field{Name: name, Type: TypeString, Description: desc}
}

func optStr(name, desc string) Field {
	return Field{Name: name, Type: TypeString, Description: desc, Optional: true}
}

func list(name, desc, typeName string, fields ...Field) Field {
	return Field{Name: name, Type: TypeArray, Description: desc,
		Items: &Field{Type: TypeObject, TypeName: typeName, Fields: fields}}
}

func strList(name, desc string) Field {
	return Field{Name: name, Type: TypeArray, Description: desc, Items: &Field{Type: TypeString}}
}

func builtins() []Definition {
	return []Definition{
		{
			Name: "EntityList",
			Fields: []Field{list("entity_list", "Named entities appearing in the text.", "Entity",
				str("name", "The specific name of the entity."),
				str("type", "The type or category that the entity belongs to."),
			)},
		},
		{
			Name: "RelationList",
			Fields: []Field{list("relation_list", "The collection of relationships between various entities.", "Relation",
				str("head", "The starting entity in the relationship."),
				str("tail", "The ending entity in the relationship."),
				str("relation", "The predicate that defines the relationship between the two entities."),
			)},
		},
		{
			Name: "EventList",
			Fields: []Field{list("event_list", "The events presented in the text.", "Event",
				str("event_type", "The type of the event."),
				str("event_trigger", "A specific word or phrase that indicates the occurrence of the event."),
				Field{Name: "event_argument", Type: TypeObject, Description: "The arguments or participants involved in the event."},
			)},
		},
		{
			Name: "TripleList",
			Fields: []Field{list("triple_list", "The collection of triples and their types presented in the text.", "Triple",
				str("head", "The subject or head of the triple."),
				str("head_type", "The type of the subject entity."),
				str("relation", "The predicate or relation between the entities."),
				str("relation_type", "The type of the relation."),
				str("tail", "The object or tail of the triple."),
				str("tail_type", "The type of the object entity."),
			)},
		},
		{
			Name: "TextDescription",
			Fields: []Field{
				str("field", "The field of the given text, such as 'Science', 'Literature', 'Business', 'Medicine', 'Entertainment', etc."),
				str("genre", "The genre of the given text, such as 'Article', 'Novel', 'Dialog', 'Blog', 'Manual','Expository', 'News Report', 'Research Paper', etc."),
			},
		},
		{
			Name: "MetaData",
			Fields: []Field{
				str("title", "The title of the article"),
				strList("authors", "The list of the article's authors"),
				str("abstract", "The article's abstract"),
				strList("key_words", "The key words associated with the article"),
			},
		},
		{
			Name: "ExtractionTarget",
			Fields: []Field{
				strList("key_contributions", "The key contributions of the article"),
				str("limitation_of_sota", "the summary limitation of the existing work"),
				str("proposed_solution", "the proposed solution in details"),
				list("baselines", "The list of baseline methods and their details", "Baseline",
					str("method_name", "The name of the baseline method"),
					str("proposed_solution", "the proposed solution in details"),
					str("performance_metrics", "The performance metrics of the method and comparative analysis"),
				),
				str("performance_metrics", "The performance metrics of the method and comparative analysis"),
				str("paper_limitations", "The limitations of the proposed solution of the paper"),
			},
		},
		{
			Name: "NewsReport",
			Fields: []Field{
				str("title", "The title or headline of the news article"),
				{Name: "author", Type: TypeObject, TypeName: "Author", Description: "The author of the article", Fields: []Field{
					str("name", "The name of the author"),
					optStr("role", "The role or title of the author, if mentioned"),
				}},
				{Name: "content", Type: TypeObject, TypeName: "ArticleContent", Description: "The body and details of the news article", Fields: []Field{
					str("headline", "The title or headline of the news article"),
					optStr("subheading", "The subheading or supporting title of the article"),
					list("facts", "List of factual statements covered in the article", "Fact",
						str("statement", "A factual statement mentioned in the news article"),
						optStr("source", "The source of the fact, if mentioned"),
						optStr("relevance", "The relevance or importance of the fact to the overall article"),
					),
					strList("keywords", "List of keywords or topics covered in the article"),
					str("publication_date", "The publication date of the article"),
					optStr("location", "The location relevant to the article"),
				}},
			},
		},
	}
}
