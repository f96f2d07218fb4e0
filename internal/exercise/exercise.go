package exercise

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// The four SOAP note sections an exercise can belong to.
const (
	SectionSubjective = "Subjective"
	SectionObjective  = "Objective"
	SectionAssessment = "Assessment"
	SectionPlan       = "Plan"
)

// Sections lists every section in the order they appear in a SOAP note.
var Sections = []string{SectionSubjective, SectionObjective, SectionAssessment, SectionPlan}

var (
	// ErrFileNotFound is returned by Load when the exercises document does not exist.
	ErrFileNotFound = errors.New("exercises file not found")
	// ErrInvalidExercise is returned by ToRows when a record is missing a required field.
	ErrInvalidExercise = errors.New("invalid exercise")
	// ErrDuplicateID is returned by ToRows when two records share an identifier.
	ErrDuplicateID = errors.New("duplicate exercise id")
)

// Exercise is a single record of the exercises JSON document. The structured
// payloads are passed through to the backend untouched.
type Exercise struct {
	ID          string          `json:"id" validate:"required"`
	Language    string          `json:"language" validate:"required"`
	SOAPSection string          `json:"soapSection" validate:"required,oneof=Subjective Objective Assessment Plan"`
	BackStory   json.RawMessage `json:"backStory" validate:"required"`
	Task        json.RawMessage `json:"task" validate:"required"`
	Sentence    json.RawMessage `json:"sentence" validate:"required"`
	WordBank    json.RawMessage `json:"wordBank" validate:"required"`
	Validation  json.RawMessage `json:"validation" validate:"required"`
	Timing      json.RawMessage `json:"timing" validate:"required"`
	Difficulty  json.RawMessage `json:"difficulty" validate:"required"`
}

// Row is the soap_exercises table shape an Exercise is uploaded as.
type Row struct {
	ID          string          `json:"id"`
	Language    string          `json:"language"`
	SOAPSection string          `json:"soap_section"`
	Backstory   json.RawMessage `json:"backstory"`
	Task        json.RawMessage `json:"task"`
	Sentence    json.RawMessage `json:"sentence"`
	WordBank    json.RawMessage `json:"word_bank"`
	Validation  json.RawMessage `json:"validation"`
	Timing      json.RawMessage `json:"timing"`
	Difficulty  json.RawMessage `json:"difficulty"`
}

// document is the top level of the exercises file.
type document struct {
	Exercises []Exercise `json:"exercises"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report JSON keys so errors point at the source document, not Go fields.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return v
}

// Load reads the exercises document at path.
func Load(path string) ([]Exercise, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w at %s", ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("failed to read exercises file: %w", err)
	}

	var doc document
	err = json.Unmarshal(data, &doc)
	if err != nil {
		return nil, fmt.Errorf("failed to parse exercises file %s: %w", path, err)
	}

	return doc.Exercises, nil
}

// ToRows converts exercises to table rows. A record with a missing field or a
// repeated identifier aborts the whole batch; nothing is skipped.
func ToRows(exercises []Exercise) ([]Row, error) {
	rows := make([]Row, 0, len(exercises))
	seen := make(map[string]int, len(exercises))

	for i, ex := range exercises {
		err := validate.Struct(ex)
		if err != nil {
			return nil, describe(i, ex.ID, err)
		}

		if first, ok := seen[ex.ID]; ok {
			return nil, fmt.Errorf("%w: %q at index %d and %d", ErrDuplicateID, ex.ID, first, i)
		}
		seen[ex.ID] = i

		rows = append(rows, ex.Row())
	}

	return rows, nil
}

// Row renames the exercise fields to the table columns.
func (e Exercise) Row() Row {
	return Row{
		ID:          e.ID,
		Language:    e.Language,
		SOAPSection: e.SOAPSection,
		Backstory:   e.BackStory,
		Task:        e.Task,
		Sentence:    e.Sentence,
		WordBank:    e.WordBank,
		Validation:  e.Validation,
		Timing:      e.Timing,
		Difficulty:  e.Difficulty,
	}
}

func describe(index int, id string, err error) error {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return fmt.Errorf("%w at index %d: %v", ErrInvalidExercise, index, err)
	}

	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("missing field '%s'", fe.Field()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("field '%s' must be one of [%s], got %q", fe.Field(), fe.Param(), fe.Value()))
		default:
			msgs = append(msgs, fmt.Sprintf("field '%s' failed on validation: %s", fe.Field(), fe.Tag()))
		}
	}

	if id == "" {
		return fmt.Errorf("%w at index %d: %s", ErrInvalidExercise, index, strings.Join(msgs, ", "))
	}
	return fmt.Errorf("%w %q at index %d: %s", ErrInvalidExercise, id, index, strings.Join(msgs, ", "))
}
