package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-mail/mail/v2"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CampaignSentinel/internal/model"
)

func TestTelegramSend(t *testing.T) {
	var got map[string]string
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tg := NewTelegramNotifier("TOKEN", "100", "", zerolog.Nop())
	tg.APIBase = srv.URL

	require.NoError(t, tg.Send(context.Background(), &model.Notification{Content: "<b>hi</b>"}))
	assert.Equal(t, "/botTOKEN/sendMessage", path)
	assert.Equal(t, "100", got["chat_id"])
	assert.Equal(t, "HTML", got["parse_mode"])
	assert.Equal(t, "<b>hi</b>", got["text"])

	require.NoError(t, tg.Send(context.Background(), &model.Notification{Recipient: "200", Content: "x"}))
	assert.Equal(t, "200", got["chat_id"])
}

func TestTelegramSendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"ok":false}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	tg := NewTelegramNotifier("TOKEN", "100", "", zerolog.Nop())
	tg.APIBase = srv.URL

	err := tg.SendText(context.Background(), "x")
	var ext *model.ExternalServiceError
	require.ErrorAs(t, err, &ext)
	assert.Equal(t, "telegram", ext.Service)
}

func TestWebhookSend(t *testing.T) {
	var auth, event string
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		event = r.Header.Get("X-Sentinel-Event")
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	hook := NewWebhookSender(srv.URL, "secret", time.Second, zerolog.Nop())
	require.NoError(t, hook.Send(context.Background(), &model.Notification{Content: `{"event":"alert_raised"}`}))
	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, "alert", event)
	assert.JSONEq(t, `{"event":"alert_raised"}`, string(body))

	applied := testNow
	require.NoError(t, hook.NotifyBudgetChange(context.Background(), &model.BudgetAdjustmentLog{
		ID: "log-1", UnitID: "u1", BudgetType: model.BudgetDaily,
		OldBudget: 100, NewBudget: 120, PercentChange: 20, AppliedAt: &applied,
	}))
	assert.Equal(t, "budget_adjusted", event)
	var evt BudgetChangeEvent
	require.NoError(t, json.Unmarshal(body, &evt))
	assert.Equal(t, "log-1", evt.LogID)
	assert.InDelta(t, 120, evt.NewBudget, 1e-9)
}

func TestWebhookSendNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewWebhookSender(srv.URL, "", 0, zerolog.Nop()).Send(context.Background(), &model.Notification{Content: "{}"})
	var ext *model.ExternalServiceError
	require.ErrorAs(t, err, &ext)

	err = NewWebhookSender("", "", 0, zerolog.Nop()).Send(context.Background(), &model.Notification{Content: "{}"})
	var ve *model.ValidationError
	assert.ErrorAs(t, err, &ve)
}

type fakePublisher struct {
	msgs []*nats.Msg
	err  error
}

func (p *fakePublisher) PublishMsg(m *nats.Msg) error {
	p.msgs = append(p.msgs, m)
	return p.err
}

func TestNATSSend(t *testing.T) {
	pub := &fakePublisher{}
	s := NewNATSSender(pub, "", zerolog.Nop())

	require.NoError(t, s.Send(context.Background(), &model.Notification{ID: "n1", Content: `{"a":1}`}))
	require.NoError(t, s.Send(context.Background(), &model.Notification{ID: "n2", Recipient: "ops", Content: "{}"}))
	require.Len(t, pub.msgs, 2)
	assert.Equal(t, DefaultNATSSubject, pub.msgs[0].Subject)
	assert.Equal(t, "n1", pub.msgs[0].Header.Get(nats.MsgIdHdr))
	assert.Equal(t, `{"a":1}`, string(pub.msgs[0].Data))
	assert.Equal(t, DefaultNATSSubject+".ops", pub.msgs[1].Subject)

	pub.err = errors.New("no responders")
	var ext *model.ExternalServiceError
	assert.ErrorAs(t, s.Send(context.Background(), &model.Notification{ID: "n3"}), &ext)
	assert.NoError(t, s.Close())
}

type fakeDialer struct {
	sent []*mail.Message
	err  error
}

func (d *fakeDialer) DialAndSend(m ...*mail.Message) error {
	d.sent = append(d.sent, m...)
	return d.err
}

func TestEmailSend(t *testing.T) {
	d := &fakeDialer{}
	s := NewEmailSenderWithDialer(d, "sentinel@example.com", []string{"ops@example.com"}, zerolog.Nop())

	require.NoError(t, s.Send(context.Background(), &model.Notification{
		Recipient: "a@example.com, b@example.com", Subject: "Behind", Content: "<p>x</p>",
	}))
	require.Len(t, d.sent, 1)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, d.sent[0].GetHeader("To"))
	assert.Equal(t, []string{"Behind"}, d.sent[0].GetHeader("Subject"))

	require.NoError(t, s.Send(context.Background(), &model.Notification{Subject: "x"}))
	assert.Equal(t, []string{"ops@example.com"}, d.sent[1].GetHeader("To"))

	bare := NewEmailSenderWithDialer(d, "sentinel@example.com", nil, zerolog.Nop())
	var ve *model.ValidationError
	assert.ErrorAs(t, bare.Send(context.Background(), &model.Notification{}), &ve)

	d.err = errors.New("smtp down")
	var ext *model.ExternalServiceError
	assert.ErrorAs(t, s.Send(context.Background(), &model.Notification{Subject: "x"}), &ext)
}
