package provider

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ignite/newsletter-engine/internal/config"
	"github.com/ignite/newsletter-engine/internal/domain"
)

func testPostmark(t *testing.T, handler http.HandlerFunc) *Postmark {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p := NewPostmark(config.PostmarkConfig{
		ServerToken: "test-token",
		BaseURL:     srv.URL,
	}, "https://u.example")
	p.httpClient = srv.Client()
	return p
}

func testNewsletter() *domain.Newsletter {
	return &domain.Newsletter{
		ID:          "nl-1",
		Subject:     "August Update",
		FromEmail:   "news@acme.example",
		ReplyTo:     "hello@acme.example",
		HTMLContent: "<html><body><p>Hi {{ first_name }}</p></body></html>",
	}
}

func TestPostmarkSendMixedResults(t *testing.T) {
	p := testPostmark(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Postmark-Server-Token"); got != "test-token" {
			t.Errorf("token header = %q", got)
		}
		var messages []postmarkMessage
		if err := json.NewDecoder(r.Body).Decode(&messages); err != nil {
			t.Fatal(err)
		}
		if len(messages) != 2 {
			t.Fatalf("got %d messages, want 2", len(messages))
		}
		if !strings.Contains(messages[0].HtmlBody, "Hi Jane") {
			t.Errorf("body not personalized: %s", messages[0].HtmlBody)
		}
		if !strings.Contains(messages[0].HtmlBody, "Unsubscribe") {
			t.Error("compliance footer missing")
		}
		if messages[0].MessageStream != "broadcast" {
			t.Errorf("stream = %s", messages[0].MessageStream)
		}
		json.NewEncoder(w).Encode([]postmarkResponse{
			{ErrorCode: 0, MessageID: "pm-1", To: messages[0].To},
			{ErrorCode: 406, Message: "Inactive recipient", To: messages[1].To},
		})
	})

	result, err := p.Send(t.Context(), testNewsletter(), []Recipient{
		{DeliveryID: "d-1", Email: "jane@x.example", FirstName: "Jane"},
		{DeliveryID: "d-2", Email: "bounced@x.example"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Accepted != 1 || result.Failed != 1 {
		t.Errorf("accepted=%d failed=%d, want 1/1", result.Accepted, result.Failed)
	}
	if result.BatchSent {
		t.Error("postmark must not report the batch sent synchronously")
	}
	if result.Recipients[0].MessageID != "pm-1" || !result.Recipients[0].Accepted {
		t.Errorf("recipient 0 = %+v", result.Recipients[0])
	}
	if result.Recipients[1].Error != "Inactive recipient" {
		t.Errorf("recipient 1 error = %q", result.Recipients[1].Error)
	}
}

func TestPostmarkSendSplitsBatches(t *testing.T) {
	var batchSizes []int
	p := testPostmark(t, func(w http.ResponseWriter, r *http.Request) {
		var messages []postmarkMessage
		json.NewDecoder(r.Body).Decode(&messages)
		batchSizes = append(batchSizes, len(messages))
		responses := make([]postmarkResponse, len(messages))
		for i := range responses {
			responses[i] = postmarkResponse{MessageID: fmt.Sprintf("pm-%d", i)}
		}
		json.NewEncoder(w).Encode(responses)
	})

	recipients := make([]Recipient, postmarkBatchLimit+1)
	for i := range recipients {
		recipients[i] = Recipient{
			DeliveryID: fmt.Sprintf("d-%d", i),
			Email:      fmt.Sprintf("r%d@x.example", i),
		}
	}
	result, err := p.Send(t.Context(), testNewsletter(), recipients)
	if err != nil {
		t.Fatal(err)
	}
	if len(batchSizes) != 2 || batchSizes[0] != postmarkBatchLimit || batchSizes[1] != 1 {
		t.Errorf("batch sizes = %v, want [%d 1]", batchSizes, postmarkBatchLimit)
	}
	if result.Accepted != len(recipients) {
		t.Errorf("accepted = %d, want %d", result.Accepted, len(recipients))
	}
}

func TestPostmarkFailedBatchDoesNotAbortLaterBatches(t *testing.T) {
	var call int
	p := testPostmark(t, func(w http.ResponseWriter, r *http.Request) {
		call++
		var messages []postmarkMessage
		json.NewDecoder(r.Body).Decode(&messages)
		if call == 1 {
			// non-retryable API rejection
			w.WriteHeader(http.StatusUnprocessableEntity)
			fmt.Fprint(w, `{"ErrorCode":300,"Message":"Invalid batch"}`)
			return
		}
		responses := make([]postmarkResponse, len(messages))
		json.NewEncoder(w).Encode(responses)
	})

	recipients := make([]Recipient, postmarkBatchLimit+5)
	for i := range recipients {
		recipients[i] = Recipient{DeliveryID: fmt.Sprintf("d-%d", i), Email: fmt.Sprintf("r%d@x.example", i)}
	}
	result, err := p.Send(t.Context(), testNewsletter(), recipients)
	if err != nil {
		t.Fatal(err)
	}
	if result.Failed != postmarkBatchLimit || result.Accepted != 5 {
		t.Errorf("accepted=%d failed=%d, want 5/%d", result.Accepted, result.Failed, postmarkBatchLimit)
	}
	for _, rr := range result.Recipients[:postmarkBatchLimit] {
		if rr.Accepted || rr.Error == "" {
			t.Fatalf("first-batch recipient should carry the batch error: %+v", rr)
		}
	}
}

func TestPostmarkSendTest(t *testing.T) {
	p := testPostmark(t, func(w http.ResponseWriter, r *http.Request) {
		var messages []postmarkMessage
		json.NewDecoder(r.Body).Decode(&messages)
		if len(messages) != 1 {
			t.Fatalf("got %d messages, want 1", len(messages))
		}
		if !strings.HasPrefix(messages[0].Subject, "[TEST] ") {
			t.Errorf("subject = %q, want [TEST] prefix", messages[0].Subject)
		}
		json.NewEncoder(w).Encode([]postmarkResponse{{MessageID: "pm-test"}})
	})

	result, err := p.SendTest(t.Context(), testNewsletter(), Recipient{Email: "op@acme.example", FirstName: "Op"})
	if err != nil {
		t.Fatal(err)
	}
	if result.Accepted != 1 || result.Recipients[0].MessageID != "pm-test" {
		t.Errorf("result = %+v", result)
	}
}
