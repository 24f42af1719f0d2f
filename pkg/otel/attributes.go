package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Standard attribute keys for v3kn spans.
const (
	AttrNPID           = "npid"
	AttrRequestID      = "request.id"
	AttrConversationID = "conversation.id"
	AttrTitleID        = "title.id"
	AttrUploadType     = "upload.type"
)

func NPID(id string) attribute.KeyValue           { return attribute.String(AttrNPID, id) }
func RequestID(id string) attribute.KeyValue      { return attribute.String(AttrRequestID, id) }
func ConversationID(id string) attribute.KeyValue { return attribute.String(AttrConversationID, id) }
func TitleID(id string) attribute.KeyValue        { return attribute.String(AttrTitleID, id) }
func UploadType(t string) attribute.KeyValue      { return attribute.String(AttrUploadType, t) }

// TagConversation sets the conversation attribute on the live span.
func TagConversation(ctx context.Context, id string) {
	if id == "" {
		return
	}
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(ConversationID(id))
	}
}
