package notifications

import (
	"strings"

	"github.com/bissquit/alert-relay/internal/domain"
)

// DefaultEmailSubject is used when an email request carries no subject.
const DefaultEmailSubject = "Alert Notification"

// NotificationRequest is the input of a single dispatch.
type NotificationRequest struct {
	UserID           string             `json:"userId" validate:"required,uuid"`
	RecipientType    domain.ChannelType `json:"recipientType" validate:"required"`
	RecipientAddress string             `json:"recipientAddress" validate:"required,max=320"`
	Subject          string             `json:"subject,omitempty" validate:"max=998"`
	MessageContent   string             `json:"messageContent" validate:"required"`
	AlertInstanceID  string             `json:"alertInstanceId,omitempty" validate:"omitempty,uuid"`
	TemplateID       string             `json:"templateId,omitempty" validate:"omitempty,max=64"`
	TemplateData     map[string]any     `json:"templateData,omitempty"`
	Priority         int                `json:"priority,omitempty" validate:"min=0"`
	IsTest           bool               `json:"isTest,omitempty"`
}

// validate performs the checks the dispatcher relies on when it is called
// from the queue, where no HTTP validator ran.
func (r NotificationRequest) validate() error {
	switch {
	case strings.TrimSpace(r.UserID) == "":
		return invalidRequest("user id is required")
	case strings.TrimSpace(r.RecipientAddress) == "":
		return invalidRequest("recipient address is required")
	case r.MessageContent == "" && r.TemplateID == "":
		return invalidRequest("message content is required")
	}
	return nil
}

// DispatchResult is the outcome of a dispatch. It serializes to the
// {success, message_id, error} reply of the dispatch endpoint.
type DispatchResult struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

func failedResult(err error) DispatchResult {
	return DispatchResult{Success: false, Error: err.Error()}
}
