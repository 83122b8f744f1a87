package agent

import "strings"

// Prompt templates. Placeholders are {name} and are filled with fill.

const textAnalysisPrompt = `
**Instruction**: Please analyze and categorize the given text.
{examples}
**Text**: {text}

**Output Shema**: {schema}
`

const deduceSchemaJSONPrompt = `
**Instruction**: Generate an output format that meets the requirements as described in the task. Pay attention to the following requirements:
    - Format: Return your responses in dictionary format as a JSON object.
    - Content: Do not include any actual data; all attributes values should be set to null.
    - Note: Attributes not mentioned in the task description should be ignored.
{examples}
**Task**: {instruction}

**Text**: {distilled_text}
{text}

Now please deduce the output schema in json format. All attributes values should be set to null.
**Output Schema**:
`

const deduceSchemaCodePrompt = `
**Instruction**: Based on the provided text and task description, Define the output schema in Go as struct types with json tags and a trailing comment describing each field. Name the final extraction target type 'ExtractionTarget'.
{examples}
**Task**: {instruction}

**Text**: {distilled_text}
{text}

Now please deduce the output schema. Ensure that the output code snippet is wrapped in '` + "```" + `', and can be parsed as Go source.
**Output Schema**: `

const extractPrompt = `
**Instruction**: You are an agent skilled in information extarction. {instruction}
{examples}
**Text**: {text}
{additional_info}
**Output Schema**: {schema}

Now please extract the corresponding information from the text. Ensure that the information you extract has a clear reference in the given text. Set any property not explicitly mentioned in the text to null.
`

const summarizePrompt = `
**Instruction**: Below is a list of results obtained after segmenting and extracting information from a long article. Please consolidate all the answers to generate a final response.

**Task**: {instruction}

**Result List**: {answer_list}
{additional_info}
**Output Schema**: {schema}
Now summarize the information from the Result List.
`

const reflectPrompt = `**Instruction**: You are an agent skilled in reflection and optimization based on the original result. Refer to **Reflection Reference** to identify potential issues in the current extraction results.

**Reflection Reference**: {examples}

Now please review each element in the extraction result. Identify and improve any potential issues in the result based on the reflection. NOTE: If the original result is correct, no modifications are needed!

**Task**: {instruction}

**Text**: {text}

**Output Schema**: {schema}

**Original Result**: {result}

`

// compatibleInstructions are the task instructions understood by
// extraction-only models, which take a JSON envelope instead of prose.
var compatibleInstructions = map[string]string{
	"NER": "You are an expert in named entity recognition. Please extract entities that match the schema definition from the input. Return an empty list if the entity type does not exist. Please respond in the format of a JSON string.",
	"RE":  "You are an expert in relationship extraction. Please extract relationship triples that match the schema definition from the input. Return an empty list for relationships that do not exist. Please respond in the format of a JSON string.",
	"EE":  "You are an expert in event extraction. Please extract events from the input that conform to the schema definition. Return an empty list for events that do not exist, and return NAN for arguments that do not exist. If an argument has multiple values, please return a list. Respond in the format of a JSON string.",
}

const jsonSchemaExamples = `
**Task**: Please extract all economic policies affecting the stock market between 2015 and 2023 and the exact dates of their implementation.
**Text**: This text is from the field of Economics and represents the genre of Article.
...(example text)...
**Output Schema**:
{
  "economic_policies": [
      {
          "name": null,
          "implementation_date": null
      }
  ]
}

Example2:
**Task**: Tell me the main content of papers related to NLP between 2022 and 2023.
**Text**: This text is from the field of AI and represents the genre of Research Paper.
...(example text)...
**Output Schema**:
{
  "papers": [
      {
          "title": null,
          "content": null
      }
  ]
}
`

const codeSchemaExamples = "\nExample1:\n**Task**: Extract all the entities in the given text.\n**Text**:\n...(example text)...\n**Output Schema**:\n```go\n" +
	`type Entity struct {
	Label string ` + "`json:\"label\"`" + ` // The type or category of the entity, such as 'Process', 'Technique', 'Data Structure', 'Methodology', 'Person', etc.
	Name  string ` + "`json:\"name\"`" + ` // The specific name of the entity. It should represent a single, distinct concept and must not be an empty string.
}

type ExtractionTarget struct {
	EntityList []Entity ` + "`json:\"entity_list\"`" + ` // All the entities presented in the context. The entities should encode ONE concept.
}
` + "```\n\nExample2:\n**Task**: Extract all the information in the given text.\n**Text**: This text is from the field of Political and represents the genre of News Article.\n...(example text)...\n**Output Schema**:\n```go\n" +
	`type Person struct {
	Name     string  ` + "`json:\"name\"`" + `     // The name of the person
	Identity *string ` + "`json:\"identity\"`" + ` // The occupation, status or characteristics of the person.
	Role     *string ` + "`json:\"role\"`" + `     // The role or function the person plays in an event.
}

type Event struct {
	Name           string   ` + "`json:\"name\"`" + `            // Name of the event
	Time           *string  ` + "`json:\"time\"`" + `            // Time when the event took place
	PeopleInvolved []Person ` + "`json:\"people_involved\"`" + ` // People involved in the event
	Result         *string  ` + "`json:\"result\"`" + `          // Result or outcome of the event
}

type ExtractionTarget struct {
	Title    string   ` + "`json:\"title\"`" + `    // The title or headline of the news report
	Summary  string   ` + "`json:\"summary\"`" + `  // A brief summary of the news report
	Keywords []string ` + "`json:\"keywords\"`" + ` // List of keywords or topics covered in the news report
	Events   []Event  ` + "`json:\"events\"`" + `   // Events covered in the news report
}
` + "```\n"

func fill(tmpl string, kv ...string) string {
	return strings.NewReplacer(kv...).Replace(tmpl)
}

func exampleWrapper(examples string) string {
	if examples == "" {
		return ""
	}
	return "\nHere are some examples:\n" + examples + "\n(END OF EXAMPLES)\n\n"
}

func goodCaseWrapper(examples string) string {
	if examples == "" {
		return ""
	}
	return "\nHere are some examples:\n" + examples + "\n(END OF EXAMPLES)\nRefer to the reasoning steps and analysis in the examples to help complete the extraction task below.\n\n"
}

func badCaseWrapper(examples string) string {
	if examples == "" {
		return ""
	}
	return "\nHere are some examples of bad cases:\n" + examples + "\n(END OF EXAMPLES)\nRefer to the reflection rules and reflection steps in the examples to help optimize the original result below.\n\n"
}
