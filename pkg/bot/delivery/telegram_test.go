package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"
	"time"

	telegram "github.com/go-telegram/bot"
	"github.com/google/uuid"
	"github.com/smith3v/tg-med-reminder/pkg/db"
	"github.com/smith3v/tg-med-reminder/pkg/logger"
)

type recordedRequest struct {
	path        string
	contentType string
	body        []byte
}

type mockClient struct {
	requests []recordedRequest
	response string
	status   int
}

func newMockClient() *mockClient {
	return &mockClient{
		response: `{"ok":true,"result":{}}`,
		status:   http.StatusOK,
	}
}

func (m *mockClient) Do(req *http.Request) (*http.Response, error) {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	if err := req.Body.Close(); err != nil {
		return nil, fmt.Errorf("failed to close request body: %w", err)
	}
	m.requests = append(m.requests, recordedRequest{
		path:        req.URL.Path,
		contentType: req.Header.Get("Content-Type"),
		body:        body,
	})

	return &http.Response{
		StatusCode: m.status,
		Body:       io.NopCloser(strings.NewReader(m.response)),
		Header:     make(http.Header),
	}, nil
}

func (m *mockClient) lastField(t *testing.T, fieldName string) string {
	t.Helper()
	if len(m.requests) == 0 {
		t.Fatalf("expected at least one recorded request")
	}
	req := m.requests[len(m.requests)-1]

	mediaType, params, err := mime.ParseMediaType(req.contentType)
	if err != nil {
		t.Fatalf("failed to parse media type: %v", err)
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		t.Fatalf("unexpected media type: %s", mediaType)
	}

	reader := multipart.NewReader(bytes.NewReader(req.body), params["boundary"])
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("failed to read multipart part: %v", err)
		}
		if part.FormName() == fieldName {
			data, err := io.ReadAll(part)
			if err != nil {
				t.Fatalf("failed to read multipart field: %v", err)
			}
			return string(data)
		}
	}
	t.Fatalf("field %q not found in request", fieldName)
	return ""
}

func newTestTelegramBot(t *testing.T, client *mockClient) *telegram.Bot {
	t.Helper()
	b, err := telegram.New("test-token",
		telegram.WithSkipGetMe(),
		telegram.WithHTTPClient(time.Second, client),
	)
	if err != nil {
		t.Fatalf("failed to create test bot: %v", err)
	}
	return b
}

func TestDeliverSendsReminderWithTakenButton(t *testing.T) {
	logger.SetLogLevel(logger.ERROR)
	client := newMockClient()
	sender := NewTelegram(newTestTelegramBot(t, client))

	alarm := db.PendingAlarm{
		UserID:         42,
		MedicationID:   uuid.MustParse("3f2b8c1e-9d4a-4c1b-8e2f-6a7b9c0d1e2f"),
		MedicationName: "Ibuprofen",
		Dosage:         "400",
		DosageUnit:     "mg",
		ScheduleIndex:  0,
		SlotTime:       "08:00",
	}
	if err := sender.Deliver(context.Background(), alarm); err != nil {
		t.Fatalf("deliver failed: %v", err)
	}

	if got := client.lastField(t, "chat_id"); got != "42" {
		t.Fatalf("expected chat 42, got %q", got)
	}
	if got := client.lastField(t, "text"); got != "⏰ Time to take Ibuprofen: 400 mg" {
		t.Fatalf("unexpected text: %q", got)
	}
	markup := client.lastField(t, "reply_markup")
	if !strings.Contains(markup, "t:3f2b8c1e-9d4a-4c1b-8e2f-6a7b9c0d1e2f:0:08:00") {
		t.Fatalf("expected taken callback in markup, got %s", markup)
	}
	if !strings.HasSuffix(client.requests[0].path, "/sendMessage") {
		t.Fatalf("unexpected API path %s", client.requests[0].path)
	}
}

func TestDeliverReportsAPIError(t *testing.T) {
	client := newMockClient()
	client.status = http.StatusForbidden
	client.response = `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`
	sender := NewTelegram(newTestTelegramBot(t, client))

	err := sender.Deliver(context.Background(), db.PendingAlarm{
		UserID:         7,
		MedicationID:   uuid.New(),
		MedicationName: "Aspirin",
		SlotTime:       "09:00",
	})
	if err == nil {
		t.Fatal("expected error when Telegram rejects the message")
	}
}

func TestPromptExactPermission(t *testing.T) {
	client := newMockClient()
	sender := NewTelegram(newTestTelegramBot(t, client))

	if err := sender.PromptExactPermission(context.Background(), 99); err != nil {
		t.Fatalf("prompt failed: %v", err)
	}
	if got := client.lastField(t, "chat_id"); got != "99" {
		t.Fatalf("expected chat 99, got %q", got)
	}
	if markup := client.lastField(t, "reply_markup"); !strings.Contains(markup, "p:grant") {
		t.Fatalf("expected grant callback in markup, got %s", markup)
	}
}
