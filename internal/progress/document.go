package progress

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// Document is the persisted form of a tree: {"list": [...]}.
type Document struct {
	List Tree `json:"list"`
}

// EncodeDocument serialises a tree into its document form.
func EncodeDocument(t Tree) ([]byte, error) {
	data, err := json.Marshal(Document{List: t.Clone()})
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	return data, nil
}

// DecodeDocument validates and parses a stored document. Cached chapter
// progress is re-derived from the questions rather than trusted.
func DecodeDocument(data []byte) (Tree, error) {
	if err := validateDocument(data); err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	t := doc.List.Clone()
	for i := range t {
		for j := range t[i].Chapters {
			if err := checkKeys(t[i].Chapters[j]); err != nil {
				return nil, err
			}
			t[i].Chapters[j].Progress = ChapterProgress(t[i].Chapters[j])
		}
	}
	return t, nil
}

// checkKeys rejects map entries whose key is not the id they carry.
func checkKeys(c Chapter) error {
	for key, sec := range c.Sections {
		if key != sec.ID {
			return fmt.Errorf("chapter %s: section key %q does not match id %q", c.ID, key, sec.ID)
		}
		subs, _ := sec.SubExercises()
		for subKey, sub := range subs {
			if subKey != sub.ID {
				return fmt.Errorf("section %s: sub-exercise key %q does not match id %q", sec.ID, subKey, sub.ID)
			}
		}
	}
	return nil
}

type sectionJSON struct {
	ID           string          `json:"id"`
	Label        string          `json:"label"`
	Type         string          `json:"type"`
	Questions    json.RawMessage `json:"questions"`
	SubExercises json.RawMessage `json:"subExercises"`
}

type questionSectionJSON struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	Type      string    `json:"type"`
	Questions Questions `json:"questions"`
}

type exerciseSectionJSON struct {
	ID           string       `json:"id"`
	Label        string       `json:"label"`
	Type         string       `json:"type"`
	SubExercises SubExercises `json:"subExercises"`
}

// MarshalJSON writes the section with exactly one body key: subExercises
// for exercise sections, questions for every other kind.
func (s Section) MarshalJSON() ([]byte, error) {
	if s.Kind == KindExercise {
		subs, _ := s.Body.(SubExercises)
		if subs == nil {
			subs = SubExercises{}
		}
		return json.Marshal(exerciseSectionJSON{ID: s.ID, Label: s.Label, Type: s.Kind, SubExercises: subs})
	}
	questions, _ := s.Body.(Questions)
	return json.Marshal(questionSectionJSON{ID: s.ID, Label: s.Label, Type: s.Kind, Questions: questions})
}

// UnmarshalJSON reads a section whose body must match its type. The type
// is normalised like a requested kind; a body of the other shape is an
// error rather than being dropped.
func (s *Section) UnmarshalJSON(data []byte) error {
	var in sectionJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	kind := NormalizeKind(in.Type)
	s.ID = in.ID
	s.Label = in.Label
	s.Kind = kind

	if kind == KindExercise {
		if present(in.Questions) {
			return fmt.Errorf("section %s: exercise section carries questions", in.ID)
		}
		subs := SubExercises{}
		if present(in.SubExercises) {
			if err := json.Unmarshal(in.SubExercises, &subs); err != nil {
				return fmt.Errorf("section %s: %w", in.ID, err)
			}
		}
		s.Body = subs
		return nil
	}

	if present(in.SubExercises) {
		return fmt.Errorf("section %s: %s section carries sub-exercises", in.ID, kind)
	}
	questions := Questions{}
	if present(in.Questions) {
		if err := json.Unmarshal(in.Questions, &questions); err != nil {
			return fmt.Errorf("section %s: %w", in.ID, err)
		}
	}
	s.Body = questions
	return nil
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

// MarshalJSON writes an empty list as [] so exercise-less sections always
// carry an array.
func (q Questions) MarshalJSON() ([]byte, error) {
	if q == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]Question(q))
}

const documentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["list"],
  "properties": {
    "list": {"type": "array", "items": {"$ref": "#/definitions/subject"}}
  },
  "definitions": {
    "question": {
      "type": "object",
      "required": ["id", "completed"],
      "properties": {
        "id": {"type": "string"},
        "completed": {"type": "boolean"}
      }
    },
    "questions": {"type": "array", "items": {"$ref": "#/definitions/question"}},
    "subExercise": {
      "type": "object",
      "required": ["id", "name", "questions"],
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "name": {"type": "string"},
        "questions": {"$ref": "#/definitions/questions"}
      }
    },
    "section": {
      "type": "object",
      "required": ["id", "type"],
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "label": {"type": "string"},
        "type": {"type": "string", "minLength": 1},
        "questions": {"$ref": "#/definitions/questions"},
        "subExercises": {
          "type": "object",
          "additionalProperties": {"$ref": "#/definitions/subExercise"}
        }
      },
      "not": {"required": ["questions", "subExercises"]}
    },
    "chapter": {
      "type": "object",
      "required": ["id", "name"],
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "name": {"type": "string"},
        "progress": {"type": "integer", "minimum": 0, "maximum": 100},
        "sections": {
          "type": ["object", "null"],
          "additionalProperties": {"$ref": "#/definitions/section"}
        }
      }
    },
    "subject": {
      "type": "object",
      "required": ["id", "name"],
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "name": {"type": "string"},
        "chapters": {"type": ["array", "null"], "items": {"$ref": "#/definitions/chapter"}}
      }
    }
  }
}`

var loadSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewStringLoader(documentSchema))
})

func validateDocument(data []byte) error {
	schema, err := loadSchema()
	if err != nil {
		return fmt.Errorf("load document schema: %w", err)
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("validate document: %w", err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("invalid document: %s", strings.Join(msgs, "; "))
}
