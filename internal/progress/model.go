// Package progress models a user's study tree (subjects, chapters, sections,
// sub-exercises and questions) and the pure operations that transform it.
package progress

import "maps"

// KindExercise is the section kind whose questions live in sub-exercises.
const KindExercise = "exercise"

// KindCustom is the kind given to sections added one at a time.
const KindCustom = "custom"

// Tree is the full ordered list of subjects for one user.
type Tree []Subject

// Subject is a top-level course of study.
type Subject struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Chapters []Chapter `json:"chapters"`
}

// Chapter groups sections. Progress is derived from its questions and is
// recomputed by every operation that touches the chapter.
type Chapter struct {
	ID       string             `json:"id"`
	Name     string             `json:"name"`
	Progress int                `json:"progress"`
	Sections map[string]Section `json:"sections"`
}

// Section holds either a question list or a set of sub-exercises, depending
// on its kind. Body is never nil for a section built by this package.
type Section struct {
	ID    string
	Label string
	Kind  string
	Body  Body
}

// Body is the content of a section: Questions or SubExercises.
type Body interface {
	sectionBody()
}

// Questions is an ordered question list.
type Questions []Question

// SubExercises maps sub-exercise id to sub-exercise.
type SubExercises map[string]SubExercise

func (Questions) sectionBody()    {}
func (SubExercises) sectionBody() {}

// SubExercise is a named question list inside an exercise section.
type SubExercise struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Questions Questions `json:"questions"`
}

// Question is a leaf; the only node with a completion flag.
type Question struct {
	ID        string `json:"id"`
	Completed bool   `json:"completed"`
}

// IsExercise reports whether the section stores its questions in sub-exercises.
func (s Section) IsExercise() bool {
	_, ok := s.Body.(SubExercises)
	return ok
}

// Questions returns the section's direct question list. ok is false for
// exercise sections.
func (s Section) Questions() (Questions, bool) {
	q, ok := s.Body.(Questions)
	return q, ok
}

// SubExercises returns the section's sub-exercises. ok is false for
// non-exercise sections.
func (s Section) SubExercises() (SubExercises, bool) {
	se, ok := s.Body.(SubExercises)
	return se, ok
}

// Clone returns a deep copy of the tree that shares no mutable state with t.
func (t Tree) Clone() Tree {
	if t == nil {
		return Tree{}
	}
	out := make(Tree, len(t))
	for i, s := range t {
		out[i] = s.clone()
	}
	return out
}

// Subject returns the subject with the given id.
func (t Tree) Subject(id string) (Subject, bool) {
	for _, s := range t {
		if s.ID == id {
			return s, true
		}
	}
	return Subject{}, false
}

// Chapter returns the chapter with the given ids.
func (t Tree) Chapter(subjectID, chapterID string) (Chapter, bool) {
	s, ok := t.Subject(subjectID)
	if !ok {
		return Chapter{}, false
	}
	for _, c := range s.Chapters {
		if c.ID == chapterID {
			return c, true
		}
	}
	return Chapter{}, false
}

func (s Subject) clone() Subject {
	chapters := make([]Chapter, len(s.Chapters))
	for i, c := range s.Chapters {
		chapters[i] = c.clone()
	}
	s.Chapters = chapters
	return s
}

func (c Chapter) clone() Chapter {
	sections := make(map[string]Section, len(c.Sections))
	for id, sec := range c.Sections {
		sections[id] = sec.clone()
	}
	c.Sections = sections
	return c
}

func (s Section) clone() Section {
	switch b := s.Body.(type) {
	case Questions:
		s.Body = b.clone()
	case SubExercises:
		subs := make(SubExercises, len(b))
		for id, sub := range b {
			sub.Questions = sub.Questions.clone()
			subs[id] = sub
		}
		s.Body = subs
	default:
		s.Body = Questions{}
	}
	return s
}

func (q Questions) clone() Questions {
	out := make(Questions, len(q))
	copy(out, q)
	return out
}

// cloneSections copies the section map without copying the sections.
func cloneSections(m map[string]Section) map[string]Section {
	if m == nil {
		return map[string]Section{}
	}
	return maps.Clone(m)
}
