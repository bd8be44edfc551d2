package progress

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// newID generates ids for subjects, chapters, sections and sub-exercises.
var newID = uuid.NewString

// QuestionRef addresses a single question. SubExerciseID is empty for
// questions stored directly on a section.
type QuestionRef struct {
	SubjectID     string `json:"subjectId"`
	ChapterID     string `json:"chapterId"`
	SectionID     string `json:"sectionId"`
	SubExerciseID string `json:"subExerciseId,omitempty"`
	QuestionID    string `json:"questionId"`
}

// AddSubject appends a subject with no chapters. Blank names are ignored.
func AddSubject(t Tree, name string) Tree {
	name = cleanName(name)
	if name == "" {
		return t
	}
	out := make(Tree, len(t), len(t)+1)
	copy(out, t)
	return append(out, Subject{
		ID:       newID(),
		Name:     name,
		Chapters: []Chapter{},
	})
}

// DeleteSubject removes a subject and everything under it.
func DeleteSubject(t Tree, subjectID string) Tree {
	for i, s := range t {
		if s.ID != subjectID {
			continue
		}
		out := make(Tree, 0, len(t)-1)
		out = append(out, t[:i]...)
		return append(out, t[i+1:]...)
	}
	return t
}

// AddChapter appends a chapter to a subject with one empty section per
// requested kind. Kinds are case-insensitive; "exercise" sections hold
// sub-exercises, every other kind holds a question list.
func AddChapter(t Tree, subjectID, name string, kinds []string) Tree {
	name = cleanName(name)
	if name == "" {
		return t
	}
	return updateSubject(t, subjectID, func(s Subject) (Subject, bool) {
		ch := Chapter{
			ID:       newID(),
			Name:     name,
			Sections: make(map[string]Section, len(kinds)),
		}
		for _, kind := range kinds {
			sec, ok := newSection(kind, "")
			if !ok {
				continue
			}
			ch.Sections[sec.ID] = sec
		}
		ch.Progress = ChapterProgress(ch)

		chapters := make([]Chapter, len(s.Chapters), len(s.Chapters)+1)
		copy(chapters, s.Chapters)
		s.Chapters = append(chapters, ch)
		return s, true
	})
}

// DeleteChapter removes a chapter from its subject.
func DeleteChapter(t Tree, subjectID, chapterID string) Tree {
	return updateSubject(t, subjectID, func(s Subject) (Subject, bool) {
		for i, c := range s.Chapters {
			if c.ID != chapterID {
				continue
			}
			chapters := make([]Chapter, 0, len(s.Chapters)-1)
			chapters = append(chapters, s.Chapters[:i]...)
			s.Chapters = append(chapters, s.Chapters[i+1:]...)
			return s, true
		}
		return s, false
	})
}

// AddGenericSection appends a custom section with an empty question list.
func AddGenericSection(t Tree, subjectID, chapterID, label string) Tree {
	label = cleanName(label)
	if label == "" {
		return t
	}
	return updateChapter(t, subjectID, chapterID, func(c Chapter) (Chapter, bool) {
		sec, _ := newSection(KindCustom, label)
		c.Sections = cloneSections(c.Sections)
		c.Sections[sec.ID] = sec
		return c, true
	})
}

// DeleteSection removes a section from a chapter.
func DeleteSection(t Tree, subjectID, chapterID, sectionID string) Tree {
	return updateChapter(t, subjectID, chapterID, func(c Chapter) (Chapter, bool) {
		if _, ok := c.Sections[sectionID]; !ok {
			return c, false
		}
		c.Sections = cloneSections(c.Sections)
		delete(c.Sections, sectionID)
		return c, true
	})
}

// ToggleQuestion flips the completion flag of exactly one question.
func ToggleQuestion(t Tree, ref QuestionRef) Tree {
	if ref.SubExerciseID != "" {
		return updateSubExercise(t, ref.SubjectID, ref.ChapterID, ref.SectionID, ref.SubExerciseID,
			func(sub SubExercise) (SubExercise, bool) {
				q, ok := sub.Questions.toggle(ref.QuestionID)
				sub.Questions = q
				return sub, ok
			})
	}
	return updateSection(t, ref.SubjectID, ref.ChapterID, ref.SectionID, func(sec Section) (Section, bool) {
		questions, ok := sec.Questions()
		if !ok {
			return sec, false
		}
		q, ok := questions.toggle(ref.QuestionID)
		sec.Body = q
		return sec, ok
	})
}

// GenerateQuestions replaces a section's question list with count fresh,
// incomplete questions q-1..q-count. Previous completion state for the
// section is discarded; count 0 resets the section. Exercise sections are
// left alone.
func GenerateQuestions(t Tree, subjectID, chapterID, sectionID string, count int) Tree {
	if count < 0 {
		return t
	}
	return updateSection(t, subjectID, chapterID, sectionID, func(sec Section) (Section, bool) {
		if sec.IsExercise() {
			return sec, false
		}
		sec.Body = NewQuestions(count)
		return sec, true
	})
}

// AddSubExercise adds a sub-exercise with count incomplete questions to an
// exercise section.
func AddSubExercise(t Tree, subjectID, chapterID, sectionID, name string, count int) Tree {
	name = cleanName(name)
	if name == "" || count < 0 {
		return t
	}
	return updateSection(t, subjectID, chapterID, sectionID, func(sec Section) (Section, bool) {
		subs, ok := sec.SubExercises()
		if !ok {
			return sec, false
		}
		sub := SubExercise{
			ID:        newID(),
			Name:      name,
			Questions: NewQuestions(count),
		}
		cp := make(SubExercises, len(subs)+1)
		for id, v := range subs {
			cp[id] = v
		}
		cp[sub.ID] = sub
		sec.Body = cp
		return sec, true
	})
}

// NewQuestions returns n incomplete questions with positional ids. The ids
// are only unique within one generation of a list.
func NewQuestions(n int) Questions {
	q := make(Questions, n)
	for i := range q {
		q[i] = Question{ID: fmt.Sprintf("q-%d", i+1)}
	}
	return q
}

// NormalizeKind maps a requested section kind to its stored form.
func NormalizeKind(kind string) string {
	return strings.ToLower(strings.TrimSpace(kind))
}

func newSection(kind, label string) (Section, bool) {
	kind = NormalizeKind(kind)
	if kind == "" {
		return Section{}, false
	}
	if label == "" {
		label = cases.Title(language.Und).String(kind)
	}
	sec := Section{ID: newID(), Label: label, Kind: kind}
	if kind == KindExercise {
		sec.Body = SubExercises{}
	} else {
		sec.Body = Questions{}
	}
	return sec, true
}

func cleanName(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
