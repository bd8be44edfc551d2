package progress

import "math"

// ChapterProgress returns the percentage (0..100) of completed questions in
// the chapter, rounded to the nearest integer. A chapter without questions
// is at 0.
func ChapterProgress(c Chapter) int {
	completed, total := Tally(c)
	return percent(completed, total)
}

// SubjectProgress applies the chapter formula across every chapter of s.
func SubjectProgress(s Subject) int {
	var completed, total int
	for _, c := range s.Chapters {
		done, n := Tally(c)
		completed += done
		total += n
	}
	return percent(completed, total)
}

// Tally counts completed and total questions in a chapter. Exercise sections
// contribute the questions of all their sub-exercises.
func Tally(c Chapter) (completed, total int) {
	for _, sec := range c.Sections {
		switch b := sec.Body.(type) {
		case Questions:
			completed += b.completed()
			total += len(b)
		case SubExercises:
			for _, sub := range b {
				completed += sub.Questions.completed()
				total += len(sub.Questions)
			}
		}
	}
	return completed, total
}

func (q Questions) completed() int {
	n := 0
	for _, question := range q {
		if question.Completed {
			n++
		}
	}
	return n
}

func percent(completed, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(100 * float64(completed) / float64(total)))
}
