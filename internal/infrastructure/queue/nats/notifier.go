package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/laitim2001/freight-mapping-engine/internal/core/domain"
)

// SuggestionNotice is published once per new PENDING suggestion. A mail or
// chat bridge subscribed to the notify subject delivers it to reviewers.
type SuggestionNotice struct {
	SuggestionID              string   `json:"suggestionId"`
	OrganizationID            string   `json:"organizationId"`
	FieldName                 string   `json:"fieldName"`
	ProposedPattern           string   `json:"proposedPattern"`
	SupportingCorrectionCount int      `json:"supportingCorrectionCount"`
	Recipients                []string `json:"recipients"`
}

func newSuggestionNotice(recipients []string, s domain.RuleSuggestion) SuggestionNotice {
	if recipients == nil {
		recipients = []string{}
	}
	return SuggestionNotice{
		SuggestionID:              s.ID,
		OrganizationID:            s.OrganizationID,
		FieldName:                 s.FieldName,
		ProposedPattern:           s.ProposedPattern,
		SupportingCorrectionCount: s.SupportingCorrectionCount,
		Recipients:                recipients,
	}
}

// Notify implements the reviewer notification port.
func (q *Queue) Notify(ctx context.Context, recipients []string, suggestion domain.RuleSuggestion) error {
	payload, err := json.Marshal(newSuggestionNotice(recipients, suggestion))
	if err != nil {
		return fmt.Errorf("marshal suggestion notice: %w", err)
	}
	return q.publish(ctx, q.notifySubject, payload)
}
