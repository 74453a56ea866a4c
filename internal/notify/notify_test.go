package notify

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func sampleMessage() Message {
	return Message{
		Kind:         KindLevel,
		IssueID:      "issue-1",
		Token:        "tok",
		SiteID:       "site-1",
		CheckID:      "http-home",
		Level:        2,
		MaxLevel:     3,
		ContactName:  "Bo",
		ContactEmail: "bo@example.com",
		Link:         "https://status.example.com/issues/tok?level=2&signature=ab",
		Deadline:     time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestMessageRendering(t *testing.T) {
	msg := sampleMessage()
	assert.Equal(t, "[level 2/3] check http-home on site site-1 is critical", msg.Subject())
	assert.Contains(t, msg.Body(), "Hello Bo")
	assert.Contains(t, msg.Body(), msg.Link)

	msg.Kind = KindFinal
	assert.Contains(t, msg.Subject(), "exhausted")
	assert.Contains(t, msg.Body(), "EXHAUSTED")
}

func TestEmailNotifierSends(t *testing.T) {
	n, err := NewEmailNotifier(SMTPConfig{Host: "smtp.example.com", Port: 2525, Username: "bot@example.com", Password: "pw"})
	require.NoError(t, err)

	var gotAddr, gotFrom string
	var gotTo []string
	var gotBody []byte
	n.sendMail = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotBody = addr, from, to, msg
		return nil
	}

	require.NoError(t, n.Notify(context.Background(), sampleMessage()))
	assert.Equal(t, "smtp.example.com:2525", gotAddr)
	assert.Equal(t, "bot@example.com", gotFrom)
	assert.Equal(t, []string{"bo@example.com"}, gotTo)
	assert.True(t, strings.Contains(string(gotBody), "Subject: [level 2/3]"))
}

func TestEmailNotifierRejectsBadAddressAndWrapsErrors(t *testing.T) {
	n, err := NewEmailNotifier(SMTPConfig{Host: "smtp.example.com", Port: 25})
	require.NoError(t, err)
	n.sendMail = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("421 busy") }

	msg := sampleMessage()
	msg.ContactEmail = "nobody"
	assert.Error(t, n.Notify(context.Background(), msg))

	err = n.Notify(context.Background(), sampleMessage())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "421 busy")

	_, err = NewEmailNotifier(SMTPConfig{})
	assert.Error(t, err)
}

type fakeTelegram struct {
	mu   sync.Mutex
	sent []*bot.SendMessageParams
	err  error
}

func (f *fakeTelegram) SendMessage(_ context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, params)
	return &models.Message{}, f.err
}

func TestTelegramNotifier(t *testing.T) {
	fake := &fakeTelegram{}
	n := newTelegramNotifier(fake, 42, 10)

	require.NoError(t, n.Notify(context.Background(), sampleMessage()))
	require.Len(t, fake.sent, 1)
	assert.Equal(t, int64(42), fake.sent[0].ChatID)
	assert.Contains(t, fake.sent[0].Text, "issue-1")

	fake.err = errors.New("chat not found")
	assert.Error(t, n.Notify(context.Background(), sampleMessage()))

	_, err := NewTelegramNotifier("", 1, 1)
	assert.Error(t, err)
}

func TestFanoutJoinsFailures(t *testing.T) {
	var delivered int
	ok := NotifierFunc(func(context.Context, Message) error { delivered++; return nil })
	bad := NotifierFunc(func(context.Context, Message) error { return errors.New("down") })

	err := Fanout{ok, nil, bad, NewLogNotifier(zap.NewNop())}.Notify(context.Background(), sampleMessage())
	require.Error(t, err)
	assert.Equal(t, 1, delivered)
}
