//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ashureev/angel-console/internal/venture"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestWriteErrorBusyRestoresInput(t *testing.T) {
	h := NewHandler(Deps{})
	w := httptest.NewRecorder()

	h.writeError(w, &venture.SubmitError{Answer: "my answer", Err: venture.ErrBusy})

	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409, got %d", w.Code)
	}
	var body errorBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if body.RestoreInput == nil || *body.RestoreInput != "my answer" {
		t.Errorf("Expected restore_input, got %+v", body)
	}
}

func TestWriteErrorUnclassified(t *testing.T) {
	h := NewHandler(Deps{})
	w := httptest.NewRecorder()

	h.writeError(w, errors.New("disk on fire"))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", w.Code)
	}
}
