package model

import (
	"encoding/json"
	"time"
)

// Activity types understood by the bot.
const (
	ActivityMessage            = "message"
	ActivityEvent              = "event"
	ActivityConversationUpdate = "conversationUpdate"
)

// EventPushSubscriptionAdded is sent by the web client once the browser has granted push permission.
const EventPushSubscriptionAdded = "pushsubscriptionadded"

// ChannelAccount identifies a participant of a conversation.
type ChannelAccount struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// ConversationAccount identifies a conversation.
type ConversationAccount struct {
	ID string `json:"id"`
}

// Activity is the envelope exchanged with the chat channel on /api/messages and on replies.
type Activity struct {
	Type         string              `json:"type"`
	ID           string              `json:"id,omitempty"`
	Timestamp    *time.Time          `json:"timestamp,omitempty"`
	ServiceURL   string              `json:"serviceUrl,omitempty"`
	ChannelID    string              `json:"channelId,omitempty"`
	From         ChannelAccount      `json:"from"`
	Recipient    ChannelAccount      `json:"recipient"`
	Conversation ConversationAccount `json:"conversation"`
	Text         string              `json:"text,omitempty"`
	Name         string              `json:"name,omitempty"`
	Value        json.RawMessage     `json:"value,omitempty"`
	MembersAdded []ChannelAccount    `json:"membersAdded,omitempty"`
	ReplyToID    string              `json:"replyToId,omitempty"`
}
