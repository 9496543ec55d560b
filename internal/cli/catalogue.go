package cli

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"live-quiz-service/internal/domain"
)

type catalogueFile struct {
	Quizzes []catalogueQuiz `yaml:"quizzes"`
}

type catalogueQuiz struct {
	ID        string              `yaml:"id"`
	Title     string              `yaml:"title"`
	Questions []catalogueQuestion `yaml:"questions"`
}

type catalogueQuestion struct {
	ID        string            `yaml:"id"`
	Text      string            `yaml:"text"`
	Type      string            `yaml:"type"`
	MaxPoints int               `yaml:"max_points"`
	TimeLimit int               `yaml:"time_limit"`
	Options   []catalogueOption `yaml:"options"`
}

type catalogueOption struct {
	Text    string `yaml:"text"`
	Correct bool   `yaml:"correct"`
}

// loadCatalogue reads a YAML quiz catalogue. Question positions follow
// file order.
func loadCatalogue(path string) (map[string]domain.Quiz, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file catalogueFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	quizzes := make(map[string]domain.Quiz, len(file.Quizzes))
	for _, q := range file.Quizzes {
		if q.ID == "" {
			return nil, fmt.Errorf("%s: quiz without id", path)
		}
		if _, dup := quizzes[q.ID]; dup {
			return nil, fmt.Errorf("%s: duplicate quiz %q", path, q.ID)
		}
		quiz := domain.Quiz{ID: q.ID, Title: q.Title}
		for i, cq := range q.Questions {
			question := domain.Question{
				ID:        cq.ID,
				Position:  i + 1,
				Text:      cq.Text,
				Type:      domain.QuestionType(cq.Type),
				MaxPoints: cq.MaxPoints,
				TimeLimit: cq.TimeLimit,
			}
			if question.ID == "" {
				question.ID = fmt.Sprintf("%s-q%d", q.ID, i+1)
			}
			if question.Type == "" {
				question.Type = domain.QuestionSingle
			}
			for _, opt := range cq.Options {
				question.Options = append(question.Options, domain.Option{Text: opt.Text, Correct: opt.Correct})
			}
			if len(question.CorrectIndices()) == 0 {
				return nil, fmt.Errorf("%s: question %s has no correct option", path, question.ID)
			}
			quiz.Questions = append(quiz.Questions, question)
		}
		quizzes[q.ID] = quiz
	}
	return quizzes, nil
}
