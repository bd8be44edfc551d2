package curriculum

import "github.com/p-n-ai/study-tracker/internal/progress"

// Apply appends the template's subject to t using the mutation engine, so
// every chapter ends up with derived progress like any hand-built one.
// Exercises are added to the chapter's first exercise section; chapters
// without one ignore them.
func (tmpl Template) Apply(t progress.Tree) progress.Tree {
	next := progress.AddSubject(t, tmpl.Subject)
	if len(next) == len(t) {
		return t
	}
	subjectID := next[len(next)-1].ID

	for _, ct := range tmpl.Chapters {
		before, _ := next.Subject(subjectID)
		next = progress.AddChapter(next, subjectID, ct.Name, ct.Sections)
		s, _ := next.Subject(subjectID)
		if len(s.Chapters) == len(before.Chapters) {
			continue
		}
		ch := s.Chapters[len(s.Chapters)-1]

		sectionID, ok := exerciseSection(ch)
		if !ok {
			continue
		}
		for _, ex := range ct.Exercises {
			next = progress.AddSubExercise(next, subjectID, ch.ID, sectionID, ex.Name, ex.Questions)
		}
	}
	return next
}

func exerciseSection(ch progress.Chapter) (string, bool) {
	var id string
	for sid, sec := range ch.Sections {
		if !sec.IsExercise() {
			continue
		}
		// Pick deterministically when a chapter lists "exercise" twice.
		if id == "" || sid < id {
			id = sid
		}
	}
	return id, id != ""
}
