package port

import "context"

type InlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

type EditMessageRequest struct {
	ChatID    string
	MessageID int64
	Text      string
	// Buttons is rendered one button per keyboard row; empty removes the keyboard
	Buttons []InlineButton
}

type ChatClient interface {
	// EditMessage replaces text and keyboard of an existing message
	EditMessage(ctx context.Context, req EditMessageRequest) error

	// AnswerCallback shows a toast (or alert) for a pressed button
	AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error
}
