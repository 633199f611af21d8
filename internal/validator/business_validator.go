package validator

import (
	"fmt"

	"github.com/SAP-F-2025/exam-attempt-engine/internal/models"
)

// ValidateExamCreate runs struct validation followed by cross-field rules on the answer key.
func (v *Validator) ValidateExamCreate(req *models.ExamCreateRequest) error {
	var errs ValidationErrors
	if err := v.Validate(req); err != nil {
		errs = append(errs, ToValidationErrors(err)...)
	}
	errs = append(errs, examBusinessRules(req)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func examBusinessRules(req *models.ExamCreateRequest) ValidationErrors {
	var errs ValidationErrors

	if req.AvailableFrom != nil && req.AvailableUntil != nil && !req.AvailableUntil.After(*req.AvailableFrom) {
		errs = append(errs, ValidationError{
			Field:   "available_until",
			Message: "must be after available_from",
			Rule:    "business_logic",
		})
	}

	passageKeys := make(map[string]bool, len(req.Passages))
	for i, p := range req.Passages {
		if passageKeys[p.Key] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("passages[%d].key", i),
				Message: "duplicate passage key",
				Value:   p.Key,
				Rule:    "business_logic",
			})
		}
		passageKeys[p.Key] = true
	}

	numbers := make(map[int]bool, len(req.Questions))
	for i, q := range req.Questions {
		field := fmt.Sprintf("questions[%d]", i)

		if numbers[q.Number] {
			errs = append(errs, ValidationError{Field: field + ".number", Message: "duplicate question number", Value: q.Number, Rule: "business_logic"})
		}
		numbers[q.Number] = true

		if q.PassageKey != nil && !passageKeys[*q.PassageKey] {
			errs = append(errs, ValidationError{Field: field + ".passage_key", Message: "references an unknown passage", Value: *q.PassageKey, Rule: "business_logic"})
		}

		errs = append(errs, answerKeyRules(field, q)...)
	}

	return errs
}

func answerKeyRules(field string, q models.QuestionCreateRequest) ValidationErrors {
	var errs ValidationErrors

	optionIDs := make(map[string]bool, len(q.Options))
	for _, opt := range q.Options {
		optionIDs[opt.ID] = true
	}

	switch q.Type {
	case models.SingleChoice:
		if len(q.Options) < 2 {
			errs = append(errs, ValidationError{Field: field + ".options", Message: "single choice questions need at least 2 options", Rule: "business_logic"})
		}
		if q.CorrectAnswer == nil || !optionIDs[*q.CorrectAnswer] {
			errs = append(errs, ValidationError{Field: field + ".correct_answer", Message: "must match one of the option ids", Rule: "business_logic"})
		}
	case models.MultipleSelect:
		if len(q.Options) < 2 {
			errs = append(errs, ValidationError{Field: field + ".options", Message: "multiple select questions need at least 2 options", Rule: "business_logic"})
		}
		if len(q.CorrectAnswers) == 0 {
			errs = append(errs, ValidationError{Field: field + ".correct_answers", Message: "is required", Rule: "business_logic"})
		}
		for _, id := range q.CorrectAnswers {
			if !optionIDs[id] {
				errs = append(errs, ValidationError{Field: field + ".correct_answers", Message: "must only contain option ids", Value: id, Rule: "business_logic"})
			}
		}
	}

	return errs
}
