package service

import (
	"fmt"
	"strings"

	"github.com/mercybot/mercybot/internal/model"
)

// DefaultLanguage is used when the request names no reply language.
const DefaultLanguage = "English"

// FallbackReply replaces a failed or empty completion.
const FallbackReply = "I'm sorry, I couldn't generate a response."

const systemInstructionTemplate = "You are a knowledgeable AI fluent in %[1]s. Respond clearly and naturally in %[1]s. " +
	"You are a professional AI assistant designed to provide accurate, unbiased, and fact-based information. " +
	"Your responses should be clear, concise, and grounded in verified knowledge, including up-to-date insights from credible sources across the internet. " +
	"Maintain a neutral tone, avoid personal opinions or speculation, and always aim to provide balanced viewpoints where applicable. " +
	"If a topic has multiple perspectives, present them objectively without favoring any side. " +
	"Prioritize reliability, transparency, and user clarity in every response."

// SystemInstruction returns the fixed persona text for language.
func SystemInstruction(language string) string {
	if strings.TrimSpace(language) == "" {
		language = DefaultLanguage
	}
	return fmt.Sprintf(systemInstructionTemplate, language)
}

// Transcript renders messages one per line. Document messages show their
// preview, never their body.
func Transcript(messages []model.Message) string {
	lines := make([]string, 0, len(messages))
	for i := range messages {
		msg := &messages[i]
		switch {
		case msg.Kind == model.KindDocument:
			lines = append(lines, "Document Info: "+msg.TextPreview())
		case msg.Role == model.RoleAI:
			lines = append(lines, "AI: "+msg.Body)
		default:
			lines = append(lines, "User: "+msg.Body)
		}
	}
	return strings.Join(lines, "\n")
}

// ComposePrompt builds the single prompt string sent to the completion client.
func ComposePrompt(language string, history []model.Message, documentText, question string) string {
	var b strings.Builder
	b.WriteString(SystemInstruction(language))
	b.WriteString("\n")
	b.WriteString(Transcript(history))
	if documentText != "" {
		b.WriteString("\n\nDocument Content:\n")
		b.WriteString(documentText)
	}
	b.WriteString("\nUser: ")
	b.WriteString(question)
	b.WriteString("\nAI:")
	return b.String()
}
