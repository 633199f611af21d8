// Package scoring computes per-question correctness and aggregate results for an attempt.
// Everything here is a pure function of its inputs.
package scoring

import (
	"bytes"
	"encoding/json"
	"math"
	"sort"
	"strings"

	"github.com/SAP-F-2025/exam-attempt-engine/internal/models"
)

type Outcome string

const (
	OutcomeCorrect    Outcome = "correct"
	OutcomeIncorrect  Outcome = "incorrect"
	OutcomePending    Outcome = "pending"
	OutcomeUnanswered Outcome = "unanswered"
)

type QuestionResult struct {
	QuestionID     string   `json:"question_id"`
	Number         int      `json:"number"`
	Outcome        Outcome  `json:"outcome"`
	PointsPossible float64  `json:"points_possible"`
	PointsEarned   *float64 `json:"points_earned"`
}

// Correctness is the value persisted on the answer row. Unanswered questions are stored as incorrect.
func (r QuestionResult) Correctness() models.Correctness {
	switch r.Outcome {
	case OutcomeCorrect:
		return models.Correct
	case OutcomePending:
		return models.Pending
	default:
		return models.Incorrect
	}
}

type Result struct {
	Score       float64          `json:"score"`
	TotalPoints float64          `json:"total_points"`
	Percentage  float64          `json:"percentage"`
	Correct     int              `json:"correct"`
	Incorrect   int              `json:"incorrect"`
	Pending     int              `json:"pending"`
	Unanswered  int              `json:"unanswered"`
	Questions   []QuestionResult `json:"questions"`
}

// Score grades answers against the exam's answer key. Questions are visited in display order;
// answers for questions outside the exam are ignored.
func Score(exam *models.Exam, answers []models.Answer) Result {
	byQuestion := make(map[string]models.Answer, len(answers))
	for _, a := range answers {
		byQuestion[a.QuestionID] = a
	}

	questions := make([]models.Question, len(exam.Questions))
	copy(questions, exam.Questions)
	sort.SliceStable(questions, func(i, j int) bool { return questions[i].Number < questions[j].Number })

	result := Result{Questions: make([]QuestionResult, 0, len(questions))}
	for _, q := range questions {
		result.add(scoreQuestion(q, byQuestion[q.ID].Value))
	}

	result.Percentage = Percentage(result.Score, result.TotalPoints)
	return result
}

// Graded rebuilds a Result from the grades stored on the answer rows at submission.
// The answer key is consulted only for rows that carry no grade. Blank or missing
// answers are unanswered.
func Graded(exam *models.Exam, answers []models.Answer) Result {
	byQuestion := make(map[string]models.Answer, len(answers))
	for _, a := range answers {
		byQuestion[a.QuestionID] = a
	}

	keyed := Score(exam, answers)
	result := Result{Questions: make([]QuestionResult, 0, len(keyed.Questions))}
	for _, qr := range keyed.Questions {
		if a, ok := byQuestion[qr.QuestionID]; ok && !IsBlank(a.Value) && a.Correctness != nil {
			qr.Outcome = outcomeOf(*a.Correctness)
			qr.PointsEarned = nil
			if a.PointsEarned != nil {
				qr.PointsEarned = points(*a.PointsEarned)
			}
		}
		result.add(qr)
	}

	result.Percentage = Percentage(result.Score, result.TotalPoints)
	return result
}

func (r *Result) add(qr QuestionResult) {
	r.TotalPoints += qr.PointsPossible
	if qr.PointsEarned != nil {
		r.Score += *qr.PointsEarned
	}
	switch qr.Outcome {
	case OutcomeCorrect:
		r.Correct++
	case OutcomeIncorrect:
		r.Incorrect++
	case OutcomePending:
		r.Pending++
	case OutcomeUnanswered:
		r.Unanswered++
	}
	r.Questions = append(r.Questions, qr)
}

func outcomeOf(c models.Correctness) Outcome {
	switch c {
	case models.Correct:
		return OutcomeCorrect
	case models.Pending:
		return OutcomePending
	default:
		return OutcomeIncorrect
	}
}

func scoreQuestion(q models.Question, value []byte) QuestionResult {
	qr := QuestionResult{QuestionID: q.ID, Number: q.Number, PointsPossible: q.Points}

	if IsBlank(value) {
		qr.Outcome = OutcomeUnanswered
		qr.PointsEarned = points(0)
		return qr
	}

	switch q.Type {
	case models.SingleChoice:
		var given string
		if err := json.Unmarshal(value, &given); err == nil && q.CorrectAnswer != nil && given == *q.CorrectAnswer {
			qr.Outcome = OutcomeCorrect
			qr.PointsEarned = points(q.Points)
		} else {
			qr.Outcome = OutcomeIncorrect
			qr.PointsEarned = points(0)
		}
	case models.MultipleSelect:
		var given []string
		if err := json.Unmarshal(value, &given); err == nil && sameSet(given, q.CorrectAnswers) {
			qr.Outcome = OutcomeCorrect
			qr.PointsEarned = points(q.Points)
		} else {
			qr.Outcome = OutcomeIncorrect
			qr.PointsEarned = points(0)
		}
	default:
		// free-form items are only checked for presence
		qr.Outcome = OutcomePending
	}

	return qr
}

// Percentage returns score/total as a percentage rounded to one decimal place.
func Percentage(score, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return Round1(score / total * 100)
}

func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// Passed compares against the snapshot threshold. No threshold means everyone passes.
func Passed(percentage float64, threshold *float64) bool {
	if threshold == nil {
		return true
	}
	return percentage >= *threshold
}

// IsBlank reports whether a stored answer value carries no answer at all.
func IsBlank(value []byte) bool {
	trimmed := bytes.TrimSpace(value)
	if len(trimmed) == 0 {
		return true
	}

	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return false
	}
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}

func sameSet(given, key []string) bool {
	if len(key) == 0 {
		return false
	}
	want := make(map[string]struct{}, len(key))
	for _, k := range key {
		want[k] = struct{}{}
	}
	got := make(map[string]struct{}, len(given))
	for _, g := range given {
		if _, ok := want[g]; !ok {
			return false
		}
		got[g] = struct{}{}
	}
	return len(got) == len(want)
}

func points(v float64) *float64 {
	return &v
}
