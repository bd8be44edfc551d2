package progress

import "maps"

// Path-addressed copy-on-write helpers. Each helper returns the input
// unchanged (same slice or value, ok=false) when the addressed node does not
// exist or fn declines the change; otherwise it returns a copy where only the
// nodes on the path are replaced and all siblings are shared.

func updateSubject(t Tree, subjectID string, fn func(Subject) (Subject, bool)) Tree {
	for i, s := range t {
		if s.ID != subjectID {
			continue
		}
		next, ok := fn(s)
		if !ok {
			return t
		}
		out := make(Tree, len(t))
		copy(out, t)
		out[i] = next
		return out
	}
	return t
}

// updateChapter is the only path into a chapter, so it is where the
// aggregate is re-derived.
func updateChapter(t Tree, subjectID, chapterID string, fn func(Chapter) (Chapter, bool)) Tree {
	return updateSubject(t, subjectID, func(s Subject) (Subject, bool) {
		for i, c := range s.Chapters {
			if c.ID != chapterID {
				continue
			}
			next, ok := fn(c)
			if !ok {
				return s, false
			}
			next.Progress = ChapterProgress(next)
			chapters := make([]Chapter, len(s.Chapters))
			copy(chapters, s.Chapters)
			chapters[i] = next
			s.Chapters = chapters
			return s, true
		}
		return s, false
	})
}

func updateSection(t Tree, subjectID, chapterID, sectionID string, fn func(Section) (Section, bool)) Tree {
	return updateChapter(t, subjectID, chapterID, func(c Chapter) (Chapter, bool) {
		sec, ok := c.Sections[sectionID]
		if !ok {
			return c, false
		}
		next, ok := fn(sec)
		if !ok {
			return c, false
		}
		c.Sections = cloneSections(c.Sections)
		c.Sections[sectionID] = next
		return c, true
	})
}

func updateSubExercise(t Tree, subjectID, chapterID, sectionID, subID string, fn func(SubExercise) (SubExercise, bool)) Tree {
	return updateSection(t, subjectID, chapterID, sectionID, func(sec Section) (Section, bool) {
		subs, ok := sec.SubExercises()
		if !ok {
			return sec, false
		}
		sub, ok := subs[subID]
		if !ok {
			return sec, false
		}
		next, ok := fn(sub)
		if !ok {
			return sec, false
		}
		cp := maps.Clone(subs)
		cp[subID] = next
		sec.Body = cp
		return sec, true
	})
}

// toggle flips the question with the given id, returning a new list.
func (q Questions) toggle(questionID string) (Questions, bool) {
	for i, question := range q {
		if question.ID != questionID {
			continue
		}
		out := q.clone()
		out[i].Completed = !question.Completed
		return out, true
	}
	return q, false
}
