package curriculum

// Template is a ready-made subject outline loaded from YAML, e.g. a
// syllabus a student can add to their tree in one step.
type Template struct {
	ID       string            `yaml:"id" json:"id"`
	Subject  string            `yaml:"subject" json:"subject"`
	Syllabus string            `yaml:"syllabus" json:"syllabus,omitempty"`
	Chapters []ChapterTemplate `yaml:"chapters" json:"chapters"`
}

// ChapterTemplate describes one chapter: the section kinds it starts with
// and the sub-exercises seeded into its exercise section.
type ChapterTemplate struct {
	Name      string                `yaml:"name" json:"name"`
	Sections  []string              `yaml:"sections" json:"sections"`
	Exercises []SubExerciseTemplate `yaml:"exercises" json:"exercises,omitempty"`
}

// SubExerciseTemplate is a named block of questions.
type SubExerciseTemplate struct {
	Name      string `yaml:"name" json:"name"`
	Questions int    `yaml:"questions" json:"questions"`
}
