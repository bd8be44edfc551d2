package api

import (
	"fmt"

	"github.com/p-n-ai/study-tracker/internal/progress"
	"github.com/p-n-ai/study-tracker/internal/session"
)

// Command is a client request on the session socket. Op selects the
// operation; the remaining fields are read as that operation needs them.
type Command struct {
	Op            string   `json:"op"`
	SubjectID     string   `json:"subjectId,omitempty"`
	ChapterID     string   `json:"chapterId,omitempty"`
	SectionID     string   `json:"sectionId,omitempty"`
	SubExerciseID string   `json:"subExerciseId,omitempty"`
	QuestionID    string   `json:"questionId,omitempty"`
	Name          string   `json:"name,omitempty"`
	Label         string   `json:"label,omitempty"`
	Kinds         []string `json:"kinds,omitempty"`
	Count         int      `json:"count,omitempty"`
	TemplateID    string   `json:"templateId,omitempty"`
}

// Operations accepted on the session socket.
const (
	OpAddSubject        = "addSubject"
	OpDeleteSubject     = "deleteSubject"
	OpAddChapter        = "addChapter"
	OpDeleteChapter     = "deleteChapter"
	OpAddGenericSection = "addGenericSection"
	OpDeleteSection     = "deleteSection"
	OpToggleQuestion    = "toggleQuestion"
	OpGenerateQuestions = "generateQuestions"
	OpAddSubExercise    = "addSubExercise"
	OpApplyTemplate     = "applyTemplate"
)

// dispatch runs cmd against ctrl. A command that leaves the tree unchanged
// is not an error.
func (s *Server) dispatch(ctrl *session.Controller, cmd Command) error {
	switch cmd.Op {
	case OpAddSubject:
		ctrl.AddSubject(cmd.Name)
	case OpDeleteSubject:
		ctrl.DeleteSubject(cmd.SubjectID)
	case OpAddChapter:
		ctrl.AddChapter(cmd.SubjectID, cmd.Name, cmd.Kinds)
	case OpDeleteChapter:
		ctrl.DeleteChapter(cmd.SubjectID, cmd.ChapterID)
	case OpAddGenericSection:
		ctrl.AddGenericSection(cmd.SubjectID, cmd.ChapterID, cmd.Label)
	case OpDeleteSection:
		ctrl.DeleteSection(cmd.SubjectID, cmd.ChapterID, cmd.SectionID)
	case OpToggleQuestion:
		ctrl.ToggleQuestion(progress.QuestionRef{
			SubjectID:     cmd.SubjectID,
			ChapterID:     cmd.ChapterID,
			SectionID:     cmd.SectionID,
			SubExerciseID: cmd.SubExerciseID,
			QuestionID:    cmd.QuestionID,
		})
	case OpGenerateQuestions:
		ctrl.GenerateQuestions(cmd.SubjectID, cmd.ChapterID, cmd.SectionID, cmd.Count)
	case OpAddSubExercise:
		ctrl.AddSubExercise(cmd.SubjectID, cmd.ChapterID, cmd.SectionID, cmd.Name, cmd.Count)
	case OpApplyTemplate:
		if s.cfg.Templates == nil {
			return fmt.Errorf("no templates are configured")
		}
		tmpl, ok := s.cfg.Templates.GetTemplate(cmd.TemplateID)
		if !ok {
			return fmt.Errorf("unknown template %q", cmd.TemplateID)
		}
		ctrl.Update(tmpl.Apply)
	default:
		return fmt.Errorf("unknown op %q", cmd.Op)
	}
	return nil
}
