package eval

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/brunobiangulo/goextract/task"
)

// ListKeys is the prediction field holding the records of each task.
var ListKeys = map[task.Type]string{
	task.NER:    "entity_list",
	task.RE:     "relation_list",
	task.EE:     "event_list",
	task.Triple: "triple_list",
}

// Dataset is a collection of labelled items for one task.
type Dataset struct {
	Name string    `json:"name"`
	Task task.Type `json:"task"`
	// Constraint is sent with every item, typically the label set of the
	// benchmark.
	Constraint any    `json:"constraint,omitempty"`
	Items      []Item `json:"items"`
}

// Item is one labelled text.
type Item struct {
	Text  string `json:"text"`
	Truth []any  `json:"truth"`
}

// LoadDataset reads items for t from path. The file is either JSON Lines
// or a single JSON array; each object carries the text under "sentence"
// or "text" and the gold records under the task's list key.
func LoadDataset(path string, t task.Type) (Dataset, error) {
	key, ok := ListKeys[t]
	if !ok {
		return Dataset{}, fmt.Errorf("eval: task %s has no record list", t)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Dataset{}, fmt.Errorf("reading dataset: %w", err)
	}

	objects, err := decodeObjects(data)
	if err != nil {
		return Dataset{}, fmt.Errorf("parsing %s: %w", path, err)
	}

	ds := Dataset{
		Name: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Task: t,
	}
	for i, obj := range objects {
		text, _ := obj["sentence"].(string)
		if text == "" {
			text, _ = obj["text"].(string)
		}
		if text == "" {
			return Dataset{}, fmt.Errorf("item %d: no sentence or text", i+1)
		}
		truth, _ := obj[key].([]any)
		ds.Items = append(ds.Items, Item{Text: text, Truth: truth})
	}
	return ds, nil
}

func decodeObjects(data []byte) ([]map[string]any, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var objects []map[string]any
		if err := json.Unmarshal(trimmed, &objects); err != nil {
			return nil, err
		}
		return objects, nil
	}

	var objects []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(text), &obj); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		objects = append(objects, obj)
	}
	return objects, sc.Err()
}

// LoadConstraint reads a label file such as a benchmark's class.json. JSON
// content is decoded; anything else is used as plain text.
func LoadConstraint(path string) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading constraint: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return strings.TrimSpace(string(data)), nil
	}
	return v, nil
}
