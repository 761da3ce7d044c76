package email

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"
)

func TestSendValidation(t *testing.T) {
	t.Parallel()
	s := NewSender(nil, Config{})

	tests := []struct {
		name string
		msg  OutboundEmail
		want string
	}{
		{"missing recipient", OutboundEmail{Body: "hi"}, "Recipient (to) is required"},
		{"blank recipient", OutboundEmail{To: []string{" , "}, Body: "hi"}, "Recipient (to) is required"},
		{"missing body", OutboundEmail{To: []string{"a@example.com"}}, "Email body is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := s.Send(context.Background(), tt.msg)
			require.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSendWithoutSMTPLogsOnly(t *testing.T) {
	t.Parallel()
	s := NewSender(nil, Config{})
	called := false
	s.deliver = func(context.Context, *mail.Client, *mail.Msg) error {
		called = true
		return nil
	}

	res, err := s.Send(context.Background(), OutboundEmail{To: []string{"a@example.com"}, Body: "hello"})
	require.NoError(t, err)
	assert.False(t, res.Delivered)
	assert.False(t, called)
}

func TestSendDelivers(t *testing.T) {
	t.Parallel()
	s := NewSender(nil, Config{Host: "smtp.example.com", Username: "bot@example.com", Password: "pw", From: "bot@example.com"})
	var got *mail.Msg
	s.deliver = func(_ context.Context, _ *mail.Client, msg *mail.Msg) error {
		got = msg
		return nil
	}

	res, err := s.Send(context.Background(), OutboundEmail{To: []string{"a@example.com, b@example.com"}, Body: "hello"})
	require.NoError(t, err)
	assert.True(t, res.Delivered)
	assert.NotEmpty(t, res.MessageID)
	require.NotNil(t, got)
	assert.Equal(t, []string{"No Subject"}, got.GetGenHeader(mail.HeaderSubject))
	from := got.GetFromString()
	require.Len(t, from, 1)
	assert.Contains(t, from[0], "bot@example.com")
	assert.Len(t, got.GetToString(), 2)
}

func TestSendDeliveryError(t *testing.T) {
	t.Parallel()
	s := NewSender(nil, Config{Host: "smtp.example.com"})
	s.deliver = func(context.Context, *mail.Client, *mail.Msg) error {
		return errors.New("connection refused")
	}

	_, err := s.Send(context.Background(), OutboundEmail{To: []string{"a@example.com"}, Body: "hello", From: "me@example.com"})
	require.ErrorContains(t, err, "connection refused")
}

func TestNormalizeDefaults(t *testing.T) {
	t.Parallel()
	msg, err := NewSender(nil, Config{}).normalize(OutboundEmail{To: []string{"a@example.com"}, Body: "x"})
	require.NoError(t, err)
	assert.Equal(t, DefaultFrom, msg.From)
	assert.Equal(t, DefaultSubject, msg.Subject)
}
