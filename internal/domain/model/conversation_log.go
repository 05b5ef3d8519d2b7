package model

import (
	"time"

	"github.com/google/uuid"
)

type LogStatus string

const (
	LogStatusDetected  LogStatus = "detected"
	LogStatusApproved  LogStatus = "approved"
	LogStatusExecuting LogStatus = "executing"
	LogStatusCompleted LogStatus = "completed"
	LogStatusFailed    LogStatus = "failed"
	LogStatusSkipped   LogStatus = "skipped"
)

// ConversationLog records one detected chat turn and follows the task it spawned.
type ConversationLog struct {
	ID                string    `json:"id"`
	Timestamp         time.Time `json:"timestamp"`
	UserMessage       string    `json:"user_message"`
	AssistantResponse string    `json:"assistant_response"`
	Status            LogStatus `json:"status"`
	TaskID            *string   `json:"task_id"`
	Cost              float64   `json:"cost,omitempty"`
}

func NewConversationLog(userMessage, assistantResponse string, taskID string) *ConversationLog {
	l := &ConversationLog{
		ID:                "log_" + uuid.NewString(),
		Timestamp:         time.Now(),
		UserMessage:       userMessage,
		AssistantResponse: assistantResponse,
		Status:            LogStatusDetected,
	}
	if taskID != "" {
		l.TaskID = &taskID
	}
	return l
}
