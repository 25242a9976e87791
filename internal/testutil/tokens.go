// Package testutil provides testing utilities for the agente project.
package testutil

// Safe test tokens that won't trigger secret scanning. Use these constants
// or similarly obvious fakes in tests.
const (
	// FakeTelegramBotToken is shaped like a bot token (<bot id>:<secret>).
	FakeTelegramBotToken = "123456:test-telegram-bot-token"

	// FakeWebhookSecret is a safe value for the webhook secret header.
	FakeWebhookSecret = "test-webhook-secret"

	// FakeOpenAIKey is a safe test API key for OpenAI.
	FakeOpenAIKey = "test-openai-api-key"
)
