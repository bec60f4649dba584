package service

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mercybot/mercybot/internal/model"
)

func TestSystemInstruction(t *testing.T) {
	s := SystemInstruction("Spanish")
	assert.True(t, strings.HasPrefix(s, "You are a knowledgeable AI fluent in Spanish. Respond clearly and naturally in Spanish."))
	assert.True(t, strings.HasSuffix(s, "Prioritize reliability, transparency, and user clarity in every response."))

	assert.Contains(t, SystemInstruction(""), "fluent in English")
}

func TestTranscript(t *testing.T) {
	ts := time.Now()
	msgs := []model.Message{
		model.NewTextMessage(model.RoleUser, "Hello", ts),
		model.NewTextMessage(model.RoleAI, "Hi", ts),
		{
			Role:      model.RoleUser,
			Kind:      model.KindDocument,
			Body:      "full secret document body",
			Meta:      map[string]any{model.MetaTextPreview: "report.pdf, 3 pages"},
			Timestamp: ts,
		},
	}

	got := Transcript(msgs)
	assert.Equal(t, "User: Hello\nAI: Hi\nDocument Info: report.pdf, 3 pages", got)
	assert.NotContains(t, got, "secret")
}

func TestTranscript_Empty(t *testing.T) {
	assert.Equal(t, "", Transcript(nil))
}

func TestComposePrompt(t *testing.T) {
	history := []model.Message{model.NewTextMessage(model.RoleUser, "Hello", time.Now())}

	got := ComposePrompt("English", history, "", "Hello")
	assert.Equal(t, SystemInstruction("English")+"\nUser: Hello\nUser: Hello\nAI:", got)

	got = ComposePrompt("English", history, "doc", "Hello")
	assert.Equal(t, SystemInstruction("English")+"\nUser: Hello\n\nDocument Content:\ndoc\nUser: Hello\nAI:", got)
}
