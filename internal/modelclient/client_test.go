package modelclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tutu-network/sentinel/internal/domain"
)

func TestInfer_UnconfiguredClient(t *testing.T) {
	c := New("")
	_, err := c.Infer(context.Background(), "hello", "")
	if err != domain.ErrNetwork {
		t.Errorf("err = %v, want ErrNetwork", err)
	}
}

func TestInfer_UnknownModel(t *testing.T) {
	c := New("http://unused.invalid")
	_, err := c.Infer(context.Background(), "hello", "gpt-nonexistent")
	if err != domain.ErrUnknownModel {
		t.Errorf("err = %v, want ErrUnknownModel", err)
	}
}

func TestInfer_Positive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req predictRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Text != "UCLA is great" {
			t.Errorf("text = %q, want %q", req.Text, "UCLA is great")
		}
		json.NewEncoder(w).Encode(predictResponse{
			Label:      "positive",
			Confidence: 0.91,
			ModelUsed:  "distilbert",
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	v, err := c.Infer(context.Background(), "UCLA is great", "distilbert")
	if err != nil {
		t.Fatalf("Infer() error = %v", err)
	}
	if v.Label != domain.LabelPositive {
		t.Errorf("label = %s, want positive", v.Label)
	}
	if v.Compound != 0.91 {
		t.Errorf("compound = %v, want 0.91", v.Compound)
	}
	if v.Source != domain.SourceModel {
		t.Errorf("source = %s, want model", v.Source)
	}
	if v.Model != "distilbert" {
		t.Errorf("model = %s, want distilbert", v.Model)
	}
}

func TestInfer_Negative(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(predictResponse{
			Label:      "negative",
			Confidence: 0.77,
			ModelUsed:  "roberta",
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	v, err := c.Infer(context.Background(), "this is bad", "roberta")
	if err != nil {
		t.Fatalf("Infer() error = %v", err)
	}
	if v.Label != domain.LabelNegative {
		t.Errorf("label = %s, want negative", v.Label)
	}
	if v.Compound != -0.77 {
		t.Errorf("compound = %v, want -0.77", v.Compound)
	}
}

func TestInfer_ServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.Infer(context.Background(), "hello", "")
	svcErr, ok := err.(*domain.ServiceError)
	if !ok {
		t.Fatalf("err = %v (%T), want *domain.ServiceError", err, err)
	}
	if svcErr.Status != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", svcErr.Status)
	}
}

func TestInfer_DecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.Infer(context.Background(), "hello", "")
	if !isWrapped(err, domain.ErrDecode) {
		t.Errorf("err = %v, want wrapped ErrDecode", err)
	}
}

func TestInfer_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		json.NewEncoder(w).Encode(predictResponse{Label: "neutral"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Infer(ctx, "hello", "")
	if err != domain.ErrTimeout {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
}

func TestInfer_UnknownLabelBecomesNeutral(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(predictResponse{Label: "mixed", Confidence: 0.5})
	}))
	defer srv.Close()

	c := New(srv.URL)
	v, err := c.Infer(context.Background(), "hello", "")
	if err != nil {
		t.Fatalf("Infer() error = %v", err)
	}
	if v.Label != domain.LabelNeutral || v.Compound != 0 {
		t.Errorf("v = %+v, want neutral/0", v)
	}
}

func isWrapped(err, target error) bool {
	for err != nil {
		if err == target {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
